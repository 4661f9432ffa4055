// Package producer implements the synthetic remote-server role: ten
// concurrent TCP servers generating randomized per-sensor readings at
// per-sensor cadences (spec.md §4.A).
package producer

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/sensorfab/relay/internal/fabricmetrics"
	"github.com/sensorfab/relay/pkg/frame"
	"github.com/sensorfab/relay/pkg/netutil"
	"github.com/sensorfab/relay/pkg/sensor"
)

// Server runs one sensor's synthetic generator: bind, accept, generate,
// suppress-identical, write, repeat.
type Server struct {
	Meta    sensor.Meta
	Log     zerolog.Logger
	Metrics *fabricmetrics.Metrics
}

// New returns a Server for the given sensor.
func New(m sensor.Meta, log zerolog.Logger, mx *fabricmetrics.Metrics) *Server {
	return &Server{Meta: m, Log: log.With().Str("component", "producer").Str("sensor", m.ID.String()).Logger(), Metrics: mx}
}

// Run binds the generator's listener and serves connections until ctx is
// canceled. Bind/listen failures are fatal to this sensor's server only.
func (s *Server) Run(ctx context.Context) error {
	ln, err := netutil.ListenReusable(ctx, fmt.Sprintf(":%d", s.Meta.ProducerPort()))
	if err != nil {
		return fmt.Errorf("producer %s: listen: %w", s.Meta.ID, err)
	}
	ln = netutil.LimitToOne(ln)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.Log.Info().Int("port", s.Meta.ProducerPort()).Msg("producer listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.Log.Debug().Err(err).Msg("accept failed, retrying")
			continue
		}
		s.serveConn(ctx, conn)
	}
}

// serveConn pumps generated frames to one accepted client until the write
// fails or ctx is canceled, then returns so the caller can re-accept.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	connID := xid.New()
	log := s.Log.With().Str("conn", connID.String()).Logger()
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("accepted connection")

	r := newConnRand()
	var last frame.Frame

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f, err := generate(s.Meta, r)
		if err != nil {
			log.Error().Err(err).Msg("generate frame")
			return
		}

		if last != nil && last.Equal(f) {
			// Identical to the previous frame sent on this connection:
			// suppressed, don't write, try again.
			continue
		}

		if _, err := conn.Write(f); err != nil {
			s.Metrics.ReconnectProducer(s.Meta.ID)
			log.Debug().Err(err).Msg("write failed, re-accepting")
			return
		}
		last = f

		sleepMinDelay(s.Meta.MinDelay)
	}
}

// generate produces one candidate frame per the sensor's formula (spec.md
// §4.A table).
func generate(m sensor.Meta, r *connRand) (frame.Frame, error) {
	switch m.ID {
	case sensor.Light, sensor.Proximity:
		v := float64(r.intn(m.AxisBound))
		return frame.EncodeScalar(m.FrameSize, m.Precision, v)
	case sensor.Orientation:
		x, y, z := axis(m, r), axis(m, r), axis(m, r)
		return frame.EncodeVec3Status(m.FrameSize, x, y, z, 3)
	case sensor.RotationVector:
		x, y, z, w := axis(m, r), axis(m, r), axis(m, r), axis(m, r)
		return frame.EncodeVec4(m.FrameSize, m.Precision, x, y, z, w)
	default:
		x, y, z := axis(m, r), axis(m, r), axis(m, r)
		return frame.EncodeVec3(m.FrameSize, m.Precision, x, y, z)
	}
}

// axis generates one signed, gravity-scaled axis value: (rand()%bound) *
// GravityConstant * sign.
func axis(m sensor.Meta, r *connRand) float64 {
	return float64(r.intn(m.AxisBound)) * sensor.GravityConstant * r.sign()
}
