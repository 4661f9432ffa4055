package fabric

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sensorfab/relay/pkg/aggregator"
	"github.com/sensorfab/relay/pkg/sensor"
)

// synthDriver stands in for the native driver's event dispatch path
// (spec.md §4.D: "called from the native driver's event dispatch"), which
// has no equivalent in this fabric. It generates per-axis samples at the
// sensor's configured cadence and pushes them through the same Dispatcher
// entry point a real driver would use, so the aggregator pipeline has
// something to aggregate end-to-end in device mode.
type synthDriver struct {
	rng atomic.Uint64
}

func newSynthDriver(seed uint64) *synthDriver {
	d := &synthDriver{}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	d.rng.Store(seed)
	return d
}

// next returns the next xorshift64* value, grounded on the same generator
// shape as pkg/producer/rand.go.
func (d *synthDriver) next() uint64 {
	x := d.rng.Load()
	x ^= x >> 12
	x ^= x << 25
	x ^= x >> 27
	d.rng.Store(x)
	return x * 2685821657736338717
}

func (d *synthDriver) axis(m sensor.Meta) float64 {
	n := int64(m.AxisBound)
	if n <= 0 {
		n = 1
	}
	mag := float64(int64(d.next()%uint64(n))) * sensor.GravityConstant
	if d.next()%2 == 0 {
		return -mag
	}
	return mag
}

// run drives one sensor's synthetic axis events into disp until ctx is
// canceled.
func (d *synthDriver) run(ctx context.Context, m sensor.Meta, disp *aggregator.Dispatcher) {
	delay := m.MinDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	t := time.NewTicker(delay)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		switch m.Arity {
		case sensor.Scalar:
			disp.Dispatch(aggregator.Sample{Sensor: m.ID, Axis: aggregator.AxisScalar, Value: d.axis(m)})
		case sensor.Vec3:
			disp.Dispatch(aggregator.Sample{Sensor: m.ID, Axis: aggregator.AxisX, Value: d.axis(m)})
			disp.Dispatch(aggregator.Sample{Sensor: m.ID, Axis: aggregator.AxisY, Value: d.axis(m)})
			disp.Dispatch(aggregator.Sample{Sensor: m.ID, Axis: aggregator.AxisZ, Value: d.axis(m)})
		case sensor.Vec3Status:
			disp.Dispatch(aggregator.Sample{Sensor: m.ID, Axis: aggregator.AxisX, Value: d.axis(m)})
			disp.Dispatch(aggregator.Sample{Sensor: m.ID, Axis: aggregator.AxisY, Value: d.axis(m)})
			disp.Dispatch(aggregator.Sample{Sensor: m.ID, Axis: aggregator.AxisZ, Value: d.axis(m)})
			disp.Dispatch(aggregator.Sample{Sensor: m.ID, Axis: aggregator.AxisStatus, Value: float64(d.next() % 4)})
		case sensor.Vec4:
			disp.Dispatch(aggregator.Sample{Sensor: m.ID, Axis: aggregator.AxisX, Value: d.axis(m)})
			disp.Dispatch(aggregator.Sample{Sensor: m.ID, Axis: aggregator.AxisY, Value: d.axis(m)})
			disp.Dispatch(aggregator.Sample{Sensor: m.ID, Axis: aggregator.AxisZ, Value: d.axis(m)})
			disp.Dispatch(aggregator.Sample{Sensor: m.ID, Axis: aggregator.AxisW, Value: d.axis(m)})
		}
	}
}
