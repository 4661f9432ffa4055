package relay

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensorfab/relay/internal/fabricmetrics"
	"github.com/sensorfab/relay/pkg/sensor"
)

// TestPullClientReconnectsUntilSourceAvailable exercises P6: if the source
// is temporarily unreachable, the pull-client retries until success without
// terminating.
func TestPullClientReconnectsUntilSourceAvailable(t *testing.T) {
	m := sensor.Table[sensor.Light]

	// Reserve the forwarded local port so pumpOnce's second dial succeeds.
	localLn, err := net.Listen("tcp", localAddr(m))
	if err != nil {
		t.Fatalf("listen local: %v", err)
	}
	defer localLn.Close()
	go acceptAndDiscard(localLn)

	// No source listener yet: first attempts must fail and retry.
	p := New(m, "127.0.0.1", zerolog.Nop(), fabricmetrics.New())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.RunPullClient(ctx) }()

	// Start the source listener after a short delay to simulate a
	// temporarily unreachable producer.
	sourceReady := make(chan net.Listener, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		ln, err := net.Listen("tcp", sourceAddr(m))
		if err != nil {
			t.Errorf("listen source: %v", err)
			return
		}
		sourceReady <- ln
	}()

	var srcLn net.Listener
	select {
	case srcLn = <-sourceReady:
	case <-ctx.Done():
		t.Fatal("timed out waiting for source listener")
	}
	defer srcLn.Close()

	connected := make(chan struct{})
	go func() {
		conn, err := srcLn.Accept()
		if err == nil {
			conn.Close()
			close(connected)
		}
	}()

	select {
	case <-connected:
	case <-ctx.Done():
		t.Fatal("pull-client never connected to source")
	}

	cancel()
	<-done
}

func acceptAndDiscard(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}
}

func localAddr(m sensor.Meta) string {
	return "127.0.0.1:" + strconv.Itoa(m.ConsumerPort())
}

func sourceAddr(m sensor.Meta) string {
	return "127.0.0.1:" + strconv.Itoa(m.ProducerPort())
}
