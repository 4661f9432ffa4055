package ingest

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

func newTestServer(id sensor.ID) *Server {
	return New(sensor.Table[id], zerolog.Nop(), fabricmetrics.New())
}

// TestLightRoundTrip exercises scenario 1: a single Light frame produces
// one event, then one-shot semantics suppress further events until the next
// frame arrives.
func TestLightRoundTrip(t *testing.T) {
	s := newTestServer(sensor.Light)
	client, serverConn := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.serveConn(ctx, serverConn)

	f, err := frame.EncodeScalar(sensor.Table[sensor.Light].FrameSize, "%f", 137.0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Write(f); err != nil {
		t.Fatal(err)
	}

	waitConnected(t, s)

	svc := NewService(zerolog.Nop(), fabricmetrics.New(), time.Millisecond)
	svc.servers[sensor.Light] = s

	events := pollNow(svc)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Values[0] != 137.0 {
		t.Errorf("expected light 137.0, got %v", events[0].Values[0])
	}

	// One-shot: a second poll with no new frame must return nothing.
	events = pollNow(svc)
	if len(events) != 0 {
		t.Fatalf("expected 0 events on second poll, got %d", len(events))
	}
}

// TestOrientationWithStatus exercises scenario 2.
func TestOrientationWithStatus(t *testing.T) {
	s := newTestServer(sensor.Orientation)
	client, serverConn := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.serveConn(ctx, serverConn)

	f, err := frame.EncodeVec3Status(sensor.Table[sensor.Orientation].FrameSize, 12.5, -7.25, 180.0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Write(f); err != nil {
		t.Fatal(err)
	}

	waitConnected(t, s)

	svc := NewService(zerolog.Nop(), fabricmetrics.New(), time.Millisecond)
	svc.servers[sensor.Orientation] = s

	events := pollNow(svc)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Values[0] != 12.5 || e.Values[1] != -7.25 || e.Values[2] != 180.0 || e.Status != 3 {
		t.Errorf("unexpected orientation event: %+v", e)
	}
}

// TestLockedFrameSkipped exercises scenario 4: an all-zero frame is dropped
// silently and does not advance the same-frame tolerance counter.
func TestLockedFrameSkipped(t *testing.T) {
	s := newTestServer(sensor.Proximity)
	client, serverConn := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.serveConn(ctx, serverConn)
		close(done)
	}()

	size := sensor.Table[sensor.Proximity].FrameSize
	locked := make([]byte, size)
	for i := 0; i < sensor.MaxSame+2; i++ {
		if _, err := client.Write(locked); err != nil {
			t.Fatal(err)
		}
	}

	if s.connected.Load() {
		t.Error("locked frames must not mark the sensor connected")
	}

	cancel()
	client.Close()
	<-done
}

// TestDuplicateAccelBatchTeardown exercises scenario 3: identical
// accelerometer batches 4 times in a row tear down the connection.
func TestDuplicateAccelBatchTeardown(t *testing.T) {
	s := newTestServer(sensor.Accelerometer)
	client, serverConn := net.Pipe()

	done := make(chan struct{})
	go func() {
		s.serveConn(context.Background(), serverConn)
		close(done)
	}()

	f, err := frame.EncodeVec3(sensor.Table[sensor.Accelerometer].FrameSize, "%.9f", 1.0, 2.0, 3.0)
	if err != nil {
		t.Fatal(err)
	}
	batch := make([]byte, 0, len(f)*sensor.BatchCount)
	for i := 0; i < sensor.BatchCount; i++ {
		batch = append(batch, f...)
	}

	writeErrCh := make(chan error, sensor.MaxSame+1)
	go func() {
		for i := 0; i < sensor.MaxSame+1; i++ {
			if _, err := client.Write(batch); err != nil {
				writeErrCh <- err
				return
			}
		}
		writeErrCh <- nil
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for connection teardown after 4 duplicate batches")
	}
	client.Close()
}

// TestPartialFrameReaccepts exercises scenario 5: a short write followed by
// close causes a read error and the connection is torn down.
func TestPartialFrameReaccepts(t *testing.T) {
	s := newTestServer(sensor.Light)
	client, serverConn := net.Pipe()

	done := make(chan struct{})
	go func() {
		s.serveConn(context.Background(), serverConn)
		close(done)
	}()

	partial := make([]byte, 73)
	for i := range partial {
		partial[i] = 'x'
	}
	go func() {
		client.Write(partial)
		client.Close()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for teardown on partial frame")
	}
}

// TestHandleConnDefersConnectedUntilFirstFrame exercises the non-batched
// accept path: connected must stay false between accept and the first
// successfully parsed frame, so a Poll() landing in that window doesn't
// emit a stale cached reading (P7).
func TestHandleConnDefersConnectedUntilFirstFrame(t *testing.T) {
	s := newTestServer(sensor.Light)
	client, serverConn := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.HandleConn(ctx, serverConn)

	time.Sleep(20 * time.Millisecond)
	if s.connected.Load() {
		t.Fatal("expected connected to stay false before any frame was read")
	}

	f, err := frame.EncodeScalar(sensor.Table[sensor.Light].FrameSize, "%f", 42.0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Write(f); err != nil {
		t.Fatal(err)
	}
	waitConnected(t, s)
}

// TestHandleConnMarksBatchedConnectedOnAccept exercises the batched path
// (Accelerometer/Gyroscope), which marks connected immediately on accept,
// matching sensors_emu.c's batched accept loop.
func TestHandleConnMarksBatchedConnectedOnAccept(t *testing.T) {
	s := newTestServer(sensor.Accelerometer)
	client, serverConn := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.HandleConn(ctx, serverConn)

	waitConnected(t, s)
}

func waitConnected(t *testing.T, s *Server) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.connected.Load() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for server to mark sensor connected")
}

// pollNow runs one svc.Poll cycle (sleeping svc.PollDelay) with a
// background context.
func pollNow(svc *Service) []sensor.Reading {
	ctx := context.Background()
	return svc.Poll(ctx)
}
