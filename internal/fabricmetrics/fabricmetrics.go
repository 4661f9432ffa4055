// Package fabricmetrics defines the Prometheus-style metrics exported by
// every role in the telemetry relay fabric, as a struct of per-sensor
// counters.
package fabricmetrics

import (
	"github.com/VictoriaMetrics/metrics"
	"github.com/sensorfab/relay/pkg/metricsx"
	"github.com/sensorfab/relay/pkg/sensor"
)

// Metrics holds every counter/histogram emitted by the fabric, scoped to its
// own metrics.Set so a process running multiple roles can still expose one
// combined /metrics endpoint.
type Metrics struct {
	set *metrics.Set

	framesTotal struct {
		ok        [sensor.NumSensors]*metrics.Counter
		locked    [sensor.NumSensors]*metrics.Counter
		short     [sensor.NumSensors]*metrics.Counter
		duplicate [sensor.NumSensors]*metrics.Counter
	}
	reconnectsTotal struct {
		producer   [sensor.NumSensors]*metrics.Counter
		relay      [sensor.NumSensors]*metrics.Counter
		ingest     [sensor.NumSensors]*metrics.Counter
		aggregator [sensor.NumSensors]*metrics.Counter
	}
	sameFrameResetsTotal [sensor.NumSensors]*metrics.Counter
	pollEventsTotal      [sensor.NumSensors]*metrics.Counter
	frameLatencySeconds  *metrics.Histogram
}

// New creates a Metrics instance registered in its own metrics.Set, labeled
// per sensor as "sensorfab_<name>{sensor=\"<id>\"}".
func New() *Metrics {
	m := &Metrics{set: metrics.NewSet()}
	for i := 0; i < sensor.NumSensors; i++ {
		id := sensor.ID(i).String()
		m.framesTotal.ok[i] = m.set.NewCounter(labeled("sensorfab_frames_total", id, "ok"))
		m.framesTotal.locked[i] = m.set.NewCounter(labeled("sensorfab_frames_total", id, "locked"))
		m.framesTotal.short[i] = m.set.NewCounter(labeled("sensorfab_frames_total", id, "short"))
		m.framesTotal.duplicate[i] = m.set.NewCounter(labeled("sensorfab_frames_total", id, "duplicate"))

		m.reconnectsTotal.producer[i] = m.set.NewCounter(labeledRole("sensorfab_reconnects_total", id, "producer"))
		m.reconnectsTotal.relay[i] = m.set.NewCounter(labeledRole("sensorfab_reconnects_total", id, "relay"))
		m.reconnectsTotal.ingest[i] = m.set.NewCounter(labeledRole("sensorfab_reconnects_total", id, "ingest"))
		m.reconnectsTotal.aggregator[i] = m.set.NewCounter(labeledRole("sensorfab_reconnects_total", id, "aggregator"))

		m.sameFrameResetsTotal[i] = m.set.NewCounter(metricsx.FormatName("sensorfab_same_frame_resets_total", "", "sensor", id))
		m.pollEventsTotal[i] = m.set.NewCounter(metricsx.FormatName("sensorfab_poll_events_total", "", "sensor", id))
	}
	m.frameLatencySeconds = m.set.NewHistogram("sensorfab_frame_latency_seconds")
	return m
}

func labeled(base, sensorName, result string) string {
	return metricsx.FormatName(base, "", "sensor", sensorName, "result", result)
}

func labeledRole(base, sensorName, role string) string {
	return metricsx.FormatName(base, "", "sensor", sensorName, "role", role)
}

// Set returns the underlying metrics.Set for WritePrometheus registration.
func (m *Metrics) Set() *metrics.Set { return m.set }

func (m *Metrics) FrameOK(id sensor.ID)        { m.framesTotal.ok[id].Inc() }
func (m *Metrics) FrameLocked(id sensor.ID)     { m.framesTotal.locked[id].Inc() }
func (m *Metrics) FrameShort(id sensor.ID)      { m.framesTotal.short[id].Inc() }
func (m *Metrics) FrameDuplicate(id sensor.ID)  { m.framesTotal.duplicate[id].Inc() }

func (m *Metrics) ReconnectProducer(id sensor.ID)   { m.reconnectsTotal.producer[id].Inc() }
func (m *Metrics) ReconnectRelay(id sensor.ID)       { m.reconnectsTotal.relay[id].Inc() }
func (m *Metrics) ReconnectIngest(id sensor.ID)      { m.reconnectsTotal.ingest[id].Inc() }
func (m *Metrics) ReconnectAggregator(id sensor.ID)  { m.reconnectsTotal.aggregator[id].Inc() }

func (m *Metrics) SameFrameReset(id sensor.ID) { m.sameFrameResetsTotal[id].Inc() }
func (m *Metrics) PollEvent(id sensor.ID)      { m.pollEventsTotal[id].Inc() }

// ObserveFrameLatency records the time in seconds from socket read to event
// publish on the ingest side.
func (m *Metrics) ObserveFrameLatency(seconds float64) { m.frameLatencySeconds.Update(seconds) }
