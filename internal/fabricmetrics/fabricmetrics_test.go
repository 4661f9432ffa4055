package fabricmetrics

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sensorfab/relay/pkg/sensor"
)

func TestCountersIncrementAndExport(t *testing.T) {
	m := New()
	m.FrameOK(sensor.Light)
	m.FrameOK(sensor.Light)
	m.FrameLocked(sensor.Light)
	m.ReconnectIngest(sensor.Proximity)
	m.SameFrameReset(sensor.Accelerometer)
	m.PollEvent(sensor.Gyroscope)
	m.ObserveFrameLatency(0.002)

	var b bytes.Buffer
	m.Set().WritePrometheus(&b)
	out := b.String()

	for _, want := range []string{
		`sensorfab_frames_total{sensor="light",result="ok"} 2`,
		`sensorfab_frames_total{sensor="light",result="locked"} 1`,
		`sensorfab_reconnects_total{sensor="proximity",role="ingest"} 1`,
		`sensorfab_same_frame_resets_total{sensor="accelerometer"} 1`,
		`sensorfab_poll_events_total{sensor="gyroscope"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected exported metrics to contain %q, got:\n%s", want, out)
		}
	}
}
