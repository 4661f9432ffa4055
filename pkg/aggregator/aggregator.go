// Package aggregator implements the in-guest per-sensor driver bridge: a
// thread that coalesces per-axis samples pushed by the native driver's
// event dispatch into complete frames, and serves them to one accepted
// client at a time over TCP (spec.md §4.D).
package aggregator

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensorfab/relay/internal/fabricmetrics"
	"github.com/sensorfab/relay/pkg/frame"
	"github.com/sensorfab/relay/pkg/netutil"
	"github.com/sensorfab/relay/pkg/sensor"
)

// Axis names the field an axis sample updates.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
	AxisW
	AxisScalar
	AxisStatus
)

// Sample is one per-axis reading pushed by the driver-event path.
type Sample struct {
	Sensor sensor.ID
	Axis   Axis
	Value  float64
}

// Dispatcher is the single entry point the native driver's event dispatch
// calls through, reproducing the original sensors_emu.c's dispatch-table
// shape: every axis sample from every sensor funnels through one function
// before fanning out to the owning Aggregator's pipe. Tests use this to
// simulate driver events without real HAL plumbing.
type Dispatcher struct {
	mu   sync.RWMutex
	pipe [sensor.NumSensors]chan Sample

	// connected mirrors each sensor's "at most one client" state, read by
	// the driver-event path and written by the Aggregator's accept loop.
	// Intentionally racy (spec.md §5: "the data-race is intentional, speed
	// matters") — writes are atomic bools, not a mutex-guarded struct.
	connected [sensor.NumSensors]boolFlag
}

// NewDispatcher creates a Dispatcher with buffered (64 samples),
// never-closed pipes for every sensor (spec.md's "aggregator pipes created once at first
// sensor init, never closed").
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{}
	for i := range d.pipe {
		d.pipe[i] = make(chan Sample, 64)
	}
	return d
}

// Dispatch is called from the driver's event dispatch for each axis sample.
// If the sensor has no connected client, the sample is dropped: write
// errors (here, a full/unused pipe) are swallowed for speed, matching the
// original's "write errors are swallowed for speed" rule.
func (d *Dispatcher) Dispatch(s Sample) {
	if !d.connected[s.Sensor].Load() {
		return
	}
	select {
	case d.pipe[s.Sensor] <- s:
	default:
	}
}

func (d *Dispatcher) setConnected(id sensor.ID, v bool) {
	d.connected[id].Store(v)
}

// Aggregator owns one sensor's cached axis state, TCP listener, and pipe
// read loop.
type Aggregator struct {
	Meta       sensor.Meta
	Dispatcher *Dispatcher
	Log        zerolog.Logger
	Metrics    *fabricmetrics.Metrics

	mu    sync.Mutex
	cache [4]float64
	status int
}

// New returns an Aggregator for the given sensor, sharing d's pipes.
func New(m sensor.Meta, d *Dispatcher, log zerolog.Logger, mx *fabricmetrics.Metrics) *Aggregator {
	return &Aggregator{
		Meta:       m,
		Dispatcher: d,
		Log:        log.With().Str("component", "aggregator").Str("sensor", m.ID.String()).Logger(),
		Metrics:    mx,
	}
}

// Run binds the aggregator's ingress listener and, for each accepted
// client, drains axis samples from the pipe, updates the cached
// triplet/quad, and writes a new frame whenever it differs from the last
// one sent.
func (a *Aggregator) Run(ctx context.Context) error {
	ln, err := netutil.ListenReusable(ctx, fmt.Sprintf(":%d", a.Meta.ConsumerPort()))
	if err != nil {
		return fmt.Errorf("aggregator %s: listen: %w", a.Meta.ID, err)
	}
	ln = netutil.LimitToOne(ln)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		a.HandleConn(ctx, conn)
	}
}

// HandleConn marks the sensor connected for the duration of conn and drives
// serveConn over it. Exported so a caller that already owns a net.Conn —
// e.g. pkg/fabric pairing this Aggregator directly with an ingest.Server via
// net.Pipe in device mode — can drive it without a real TCP listener.
func (a *Aggregator) HandleConn(ctx context.Context, conn net.Conn) {
	a.Dispatcher.setConnected(a.Meta.ID, true)
	a.serveConn(ctx, conn)
	a.Dispatcher.setConnected(a.Meta.ID, false)
}

func (a *Aggregator) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var last frame.Frame
	pipe := a.Dispatcher.pipe[a.Meta.ID]

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-pipe:
			a.update(s)
		case <-time.After(time.Millisecond):
			// Poll cadence, mirroring poll(pipe_read, POLLIN) with a
			// 1ns-scale inter-iteration sleep in the original; a short
			// timed receive keeps this loop responsive to cancellation.
		}

		f, err := a.formatFrame()
		if err != nil {
			a.Log.Error().Err(err).Msg("format frame")
			return
		}
		if last != nil && last.Equal(f) {
			continue
		}
		if _, err := conn.Write(f); err != nil {
			a.Metrics.ReconnectAggregator(a.Meta.ID)
			return
		}
		last = f
		sleepMinDelay(a.Meta.MinDelay)
	}
}

func (a *Aggregator) update(s Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch s.Axis {
	case AxisX, AxisScalar:
		a.cache[0] = s.Value
	case AxisY:
		a.cache[1] = s.Value
	case AxisZ:
		a.cache[2] = s.Value
	case AxisW:
		a.cache[3] = s.Value
	case AxisStatus:
		a.status = sensor.ClampStatus(int(s.Value))
	}
}

func (a *Aggregator) formatFrame() (frame.Frame, error) {
	a.mu.Lock()
	x, y, z, w, status := a.cache[0], a.cache[1], a.cache[2], a.cache[3], a.status
	a.mu.Unlock()

	switch a.Meta.Arity {
	case sensor.Scalar:
		return frame.EncodeScalar(a.Meta.FrameSize, a.Meta.Precision, x)
	case sensor.Vec3:
		return frame.EncodeVec3(a.Meta.FrameSize, a.Meta.Precision, x, y, z)
	case sensor.Vec3Status:
		return frame.EncodeVec3Status(a.Meta.FrameSize, x, y, z, status)
	case sensor.Vec4:
		return frame.EncodeVec4(a.Meta.FrameSize, a.Meta.Precision, x, y, z, w)
	default:
		return nil, fmt.Errorf("aggregator: unhandled arity %v", a.Meta.Arity)
	}
}

func sleepMinDelay(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
