package aggregator

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

func TestDispatchDropsWhenDisconnected(t *testing.T) {
	d := NewDispatcher()
	d.Dispatch(Sample{Sensor: sensor.Light, Axis: AxisScalar, Value: 42})
	select {
	case <-d.pipe[sensor.Light]:
		t.Fatal("expected sample to be dropped while disconnected")
	default:
	}
}

func TestDispatchDeliversWhenConnected(t *testing.T) {
	d := NewDispatcher()
	d.setConnected(sensor.Light, true)
	d.Dispatch(Sample{Sensor: sensor.Light, Axis: AxisScalar, Value: 137})

	select {
	case s := <-d.pipe[sensor.Light]:
		if s.Value != 137 {
			t.Errorf("expected value 137, got %v", s.Value)
		}
	default:
		t.Fatal("expected sample to be delivered")
	}
}

func TestAggregatorServeConnFormatsFrame(t *testing.T) {
	d := NewDispatcher()
	m := sensor.Table[sensor.Proximity]
	a := New(m, d, zerolog.Nop(), fabricmetrics.New())

	client, serverConn := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.setConnected(sensor.Proximity, true)
	d.Dispatch(Sample{Sensor: sensor.Proximity, Axis: AxisScalar, Value: 3})

	go a.serveConn(ctx, serverConn)

	buf := make([]byte, m.FrameSize)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(client, buf); err != nil {
		t.Fatalf("read frame: %v", err)
	}

	v, err := frame.ParseScalar(frame.Frame(buf))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v != 3 {
		t.Errorf("expected distance 3, got %v", v)
	}
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
