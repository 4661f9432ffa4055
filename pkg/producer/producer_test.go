package producer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensorfab/relay/internal/fabricmetrics"
	"github.com/sensorfab/relay/pkg/frame"
	"github.com/sensorfab/relay/pkg/sensor"
)

func TestGenerateFrameSizes(t *testing.T) {
	r := newConnRand()
	for i := 0; i < sensor.NumSensors; i++ {
		m := sensor.Table[i]
		f, err := generate(m, r)
		if err != nil {
			t.Fatalf("%s: generate: %v", m.ID, err)
		}
		if len(f) != m.FrameSize {
			t.Errorf("%s: expected frame size %d, got %d", m.ID, m.FrameSize, len(f))
		}
	}
}

func TestGenerateLightRoundTrip(t *testing.T) {
	r := newConnRand()
	m := sensor.Table[sensor.Light]
	f, err := generate(m, r)
	if err != nil {
		t.Fatal(err)
	}
	v, err := frame.ParseScalar(f)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v < 0 || v >= float64(m.AxisBound) {
		t.Errorf("light value %v out of expected [0,%d) range", v, m.AxisBound)
	}
}

func TestServeConnWritesFrameAndReturnsOnClose(t *testing.T) {
	// serveConn must deliver a full frame to the client, then return (so
	// Run can re-accept) once ctx is canceled and the client side closed.
	client, serverConn := net.Pipe()
	defer client.Close()

	s := New(sensor.Table[sensor.Light], zerolog.Nop(), fabricmetrics.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.serveConn(ctx, serverConn)
		close(done)
	}()

	buf := make([]byte, sensor.Table[sensor.Light].FrameSize)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(client, buf); err != nil {
		t.Fatalf("read first frame: %v", err)
	}

	cancel()
	client.Close()
	<-done
}

func readFull(c net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := c.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
