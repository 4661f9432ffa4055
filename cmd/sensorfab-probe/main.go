// Command sensorfab-probe connects to one or more sensorfab producer or
// ingest ports and reports whether a well-formed frame is received within a
// timeout, grounded on cmd/r2-a2s-probe's concurrent-probe shape.
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/sensorfab/relay/pkg/frame"
	"github.com/sensorfab/relay/pkg/sensor"
)

var opt struct {
	Host    string
	Timeout time.Duration
	Ingest  bool
	Silent  bool
	Help    bool
}

func init() {
	pflag.StringVarP(&opt.Host, "host", "H", "127.0.0.1", "Host to probe")
	pflag.DurationVarP(&opt.Timeout, "timeout", "t", 3*time.Second, "Amount of time to wait for a frame")
	pflag.BoolVarP(&opt.Ingest, "ingest", "i", false, "Probe the ingest ports (5000..5009) instead of the producer ports (5010..5019)")
	pflag.BoolVarP(&opt.Silent, "silent", "s", false, "Don't print per-sensor results")
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if opt.Help {
		fmt.Printf("usage: %s [options]\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		os.Exit(2)
	}

	type result struct {
		id  sensor.ID
		err error
	}

	res := make([]result, sensor.NumSensors)
	var wg sync.WaitGroup
	for i := 0; i < sensor.NumSensors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := sensor.Table[i]
			port := m.ProducerPort()
			if opt.Ingest {
				port = m.ConsumerPort()
			}
			res[i] = result{m.ID, probe(opt.Host, port, m)}
		}(i)
	}
	wg.Wait()

	var fail bool
	for _, r := range res {
		if !opt.Silent {
			if r.err != nil {
				fmt.Fprintf(os.Stderr, "%s: error: %v\n", r.id, r.err)
			} else {
				fmt.Fprintf(os.Stderr, "%s: ok\n", r.id)
			}
		}
		if r.err != nil {
			fail = true
		}
	}
	if fail {
		os.Exit(1)
	}
}

func probe(host string, port int, m sensor.Meta) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("tcp", addr, opt.Timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(opt.Timeout))

	size := m.FrameSize
	if m.Batched {
		size *= sensor.BatchCount
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return fmt.Errorf("read frame: %w", err)
	}

	f := frame.Frame(buf)
	if m.Batched {
		f = f[:m.FrameSize]
	}
	if f.Locked() {
		return nil // locked/no-data is a valid, non-error state
	}
	if _, err := frame.ParseReading(m, f); err != nil {
		return fmt.Errorf("parse frame: %w", err)
	}
	return nil
}
