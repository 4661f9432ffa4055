// Package ingest implements the in-guest consumer's ten TCP servers, their
// batched-pipe fast path for Accelerometer/Gyroscope, and the poll()-driven
// event-harvesting interface exposed to the mobile OS sensor subsystem
// (spec.md §4.C).
package ingest

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensorfab/relay/internal/fabricmetrics"
	"github.com/sensorfab/relay/pkg/frame"
	"github.com/sensorfab/relay/pkg/netutil"
	"github.com/sensorfab/relay/pkg/sensor"
)

// pipeDrainTimeout is how long poll() waits for a batched-pipe frame before
// giving up for this cycle (spec.md §5).
const pipeDrainTimeout = time.Millisecond

// DefaultPollDelay is the default sleep between poll() invocations,
// overridable via poll_delay.conf / SENSORFAB_POLL_DELAY.
const DefaultPollDelay = time.Millisecond

// Server runs one sensor's ingest TCP server.
type Server struct {
	Meta    sensor.Meta
	Log     zerolog.Logger
	Metrics *fabricmetrics.Metrics

	connected atomic.Bool

	mu     sync.Mutex
	cached sensor.Reading // "shared_sensor_data[i]" — intentionally racy, see spec.md §5

	pipe chan frame.Frame // only used when Meta.Batched
}

// New returns a Server for the given sensor.
func New(m sensor.Meta, log zerolog.Logger, mx *fabricmetrics.Metrics) *Server {
	s := &Server{
		Meta:    m,
		Log:     log.With().Str("component", "ingest").Str("sensor", m.ID.String()).Logger(),
		Metrics: mx,
	}
	if m.Batched {
		s.pipe = make(chan frame.Frame, sensor.BatchCount*2)
	}
	return s
}

// Run binds the ingest listener and serves connections until ctx is
// canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := netutil.ListenReusable(ctx, fmt.Sprintf(":%d", s.Meta.ConsumerPort()))
	if err != nil {
		return fmt.Errorf("ingest %s: listen: %w", s.Meta.ID, err)
	}
	ln = netutil.LimitToOne(ln)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.Log.Info().Int("port", s.Meta.ConsumerPort()).Msg("ingest listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		s.HandleConn(ctx, conn)
	}
}

// HandleConn serves one accepted connection to completion. Exported so a
// caller that already owns a net.Conn — e.g. pkg/fabric wiring an
// Aggregator's output directly into this Server in device mode — can drive
// it without going through a real TCP listener.
//
// Batched sensors (Accelerometer/Gyroscope) mark connected as soon as a
// client is accepted, matching sensors_emu.c's batched accept loop; every
// other sensor only marks connected once serveConn has parsed and published
// its first frame (via publish), matching the non-batched accept loop —
// marking it on accept instead let poll() observe a stale/zero cached
// reading before any frame had actually arrived.
func (s *Server) HandleConn(ctx context.Context, conn net.Conn) {
	if s.Meta.Batched {
		s.connected.Store(true)
	}
	s.serveConn(ctx, conn)
	s.connected.Store(false)
}

// readSize is the number of bytes read per recv: one frame, or
// BatchCount frames concatenated for batched sensors.
func (s *Server) readSize() int {
	if s.Meta.Batched {
		return s.Meta.FrameSize * sensor.BatchCount
	}
	return s.Meta.FrameSize
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var tol frame.Tolerance
	buf := make([]byte, s.readSize())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := io.ReadFull(conn, buf)
		if err != nil {
			// Covers both clean EOF (n==0) and a short/partial read under
			// MSG_WAITALL semantics: either way, re-accept.
			if n != 0 {
				s.Metrics.FrameShort(s.Meta.ID)
			}
			s.Metrics.ReconnectIngest(s.Meta.ID)
			return
		}

		unit := frame.Frame(buf)
		if unit.Locked() {
			// Device locked / no data: dropped silently, does not count
			// toward the same-frame tolerance (invariant I4, I5, P5).
			s.Metrics.FrameLocked(s.Meta.ID)
			continue
		}

		if tol.Observe(unit) {
			s.Metrics.SameFrameReset(s.Meta.ID)
			return
		}

		s.Metrics.FrameOK(s.Meta.ID)

		if s.Meta.Batched {
			s.splitIntoPipe(unit)
			continue
		}

		r, err := frame.ParseReading(s.Meta, unit)
		if err != nil {
			s.Log.Debug().Err(err).Msg("parse frame")
			continue
		}
		s.publish(r)
	}
}

// splitIntoPipe pushes each of the batch's concatenated frames into the
// per-sensor pipe for poll() to drain one at a time. A full pipe (the
// consumer not keeping up) drops the oldest queued frame rather than
// blocking the hot recv loop.
func (s *Server) splitIntoPipe(batch frame.Frame) {
	fs := s.Meta.FrameSize
	for i := 0; i < sensor.BatchCount; i++ {
		f := append(frame.Frame(nil), batch[i*fs:(i+1)*fs]...)
		select {
		case s.pipe <- f:
		default:
			select {
			case <-s.pipe:
			default:
			}
			select {
			case s.pipe <- f:
			default:
			}
		}
	}
}

// publish stores r as the sensor's cached event and marks it connected,
// matching spec.md's "shared_sensor_data[i]" / "connected[i]=true" step.
func (s *Server) publish(r sensor.Reading) {
	s.mu.Lock()
	s.cached = r
	s.mu.Unlock()
	s.connected.Store(true)
}

// drainPipe attempts to pop one frame within timeout, returning ok=false if
// none arrived in time.
func (s *Server) drainPipe(timeout time.Duration) (frame.Frame, bool) {
	select {
	case f := <-s.pipe:
		return f, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Service aggregates all ten ingest servers and exposes the polled-event
// interface invoked by the host OS sensor subsystem.
type Service struct {
	servers   [sensor.NumSensors]*Server
	PollDelay time.Duration
	clock     monotonicClock
}

// NewService creates a Service wiring one Server per sensor.
func NewService(log zerolog.Logger, mx *fabricmetrics.Metrics, pollDelay time.Duration) *Service {
	svc := &Service{PollDelay: pollDelay}
	if svc.PollDelay <= 0 {
		svc.PollDelay = DefaultPollDelay
	}
	for i := 0; i < sensor.NumSensors; i++ {
		svc.servers[i] = New(sensor.Table[i], log, mx)
	}
	return svc
}

// Server returns the ingest server for the given sensor, for wiring into a
// supervisor's Run set.
func (svc *Service) Server(id sensor.ID) *Server { return svc.servers[id] }

// Poll implements the poll(events[], count) interface: sleeps PollDelay,
// captures one monotonic timestamp, and harvests pending events from every
// sensor per spec.md §4.C.
func (svc *Service) Poll(ctx context.Context) []sensor.Reading {
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(svc.PollDelay):
	}

	ts := svc.clock.Now()
	var events []sensor.Reading

	if accel := svc.servers[sensor.Accelerometer]; accel.connected.Load() {
		if f, ok := accel.drainPipe(pipeDrainTimeout); ok {
			if r, err := frame.ParseReading(accel.Meta, f); err == nil {
				r.Timestamp = ts
				events = append(events, r)
			}
		}
	}

	for i := 0; i < sensor.NumSensors; i++ {
		s := svc.servers[i]
		if s.Meta.Batched {
			continue // Accelerometer and Gyroscope use the pipe path above/below
		}
		if s.connected.Load() {
			s.mu.Lock()
			r := s.cached
			s.mu.Unlock()
			r.Timestamp = ts
			events = append(events, r)
			s.connected.Store(false) // one-shot: must be set again by the next recv (P7)
		}
	}

	if gyro := svc.servers[sensor.Gyroscope]; gyro.connected.Load() {
		if f, ok := gyro.drainPipe(pipeDrainTimeout); ok {
			if r, err := frame.ParseReading(gyro.Meta, f); err == nil {
				r.Timestamp = ts
				events = append(events, r)
			}
		}
	}

	return events
}
