// Package relay implements the relay pair: a pull-client that bridges one
// sensor's producer stream to its forwarded local port, and a park-listener
// that keeps the forwarded port's mapping occupied (spec.md §4.B).
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensorfab/relay/internal/fabricmetrics"
	"github.com/sensorfab/relay/pkg/netutil"
	"github.com/sensorfab/relay/pkg/sensor"
)

// ReconnectDelay is the fixed sleep between reconnect attempts (spec.md §5).
const ReconnectDelay = time.Second

// Pair runs one sensor's pull-client and park-listener.
type Pair struct {
	Meta       sensor.Meta
	SourceAddr string // source IP; the conf file's port token is intentionally ignored, see DESIGN.md
	Log        zerolog.Logger
	Metrics    *fabricmetrics.Metrics
}

// New returns a Pair for the given sensor.
func New(m sensor.Meta, sourceAddr string, log zerolog.Logger, mx *fabricmetrics.Metrics) *Pair {
	return &Pair{
		Meta:       m,
		SourceAddr: sourceAddr,
		Log:        log.With().Str("component", "relay").Str("sensor", m.ID.String()).Logger(),
		Metrics:    mx,
	}
}

// RunPullClient pumps frames from the source producer to the local
// forwarded port until ctx is canceled, reconnecting indefinitely on any
// failure (spec.md §4.B, property P6).
func (p *Pair) RunPullClient(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := p.pumpOnce(ctx); err != nil {
			p.Metrics.ReconnectRelay(p.Meta.ID)
			p.Log.Debug().Err(err).Msg("pull-client failed, reconnecting")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(ReconnectDelay):
		}
	}
}

func (p *Pair) pumpOnce(ctx context.Context) error {
	source := fmt.Sprintf("%s:%d", p.SourceAddr, p.Meta.ProducerPort())
	var d net.Dialer
	src, err := d.DialContext(ctx, "tcp", source)
	if err != nil {
		return fmt.Errorf("dial source %s: %w", source, err)
	}
	defer src.Close()

	local := fmt.Sprintf("127.0.0.1:%d", p.Meta.ConsumerPort())
	dst, err := d.DialContext(ctx, "tcp", local)
	if err != nil {
		return fmt.Errorf("dial forwarded port %s: %w", local, err)
	}
	defer dst.Close()

	p.Log.Debug().Str("source", source).Str("local", local).Msg("relay connected")

	buf := make([]byte, p.Meta.FrameSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := io.ReadFull(src, buf)
		if err != nil {
			if n == 0 {
				return nil // clean EOF, not an error worth logging loudly
			}
			return fmt.Errorf("partial read (%d/%d): %w", n, len(buf), err)
		}
		if buf[0] == 0 {
			// Locked marker: drop without tearing down the pipeline.
			time.Sleep(time.Millisecond)
			continue
		}
		if _, err := dst.Write(buf); err != nil {
			return fmt.Errorf("write forwarded port: %w", err)
		}
		time.Sleep(time.Millisecond)
	}
}

// ParkListener binds the forwarded port, accepts exactly one client, then
// blocks until ctx is canceled. Its purpose is to keep the port-forwarding
// mapping valid; it never forwards data itself. EADDRINUSE on bind is
// expected (the mapping has already pre-claimed the port) and is treated as
// success rather than an error.
type ParkListener struct {
	Meta    sensor.Meta
	Log     zerolog.Logger
	Metrics *fabricmetrics.Metrics
}

// NewParkListener returns a ParkListener for the given sensor.
func NewParkListener(m sensor.Meta, log zerolog.Logger, mx *fabricmetrics.Metrics) *ParkListener {
	return &ParkListener{
		Meta:    m,
		Log:     log.With().Str("component", "park-listener").Str("sensor", m.ID.String()).Logger(),
		Metrics: mx,
	}
}

// Run binds and parks until ctx is canceled. A non-EADDRINUSE bind/listen
// error is fatal to this sensor's park-listener only.
func (l *ParkListener) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", l.Meta.ConsumerPort())
	ln, err := netutil.ListenReusable(ctx, addr)
	if err != nil {
		if isAddrInUse(err) {
			l.Log.Debug().Msg("port already claimed by forwarding mapping, continuing")
			<-ctx.Done()
			return nil
		}
		return fmt.Errorf("park-listener %s: listen: %w", l.Meta.ID, err)
	}
	defer ln.Close()

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
		l.Log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("park-listener accepted, parking forever")
		<-ctx.Done()
		conn.Close()
		return nil
	}
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
