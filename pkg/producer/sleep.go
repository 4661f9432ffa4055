package producer

import "time"

// sleepMinDelay sleeps for the sensor's minimum inter-frame delay after a
// successful write. Kept as a named wrapper (rather than an inline
// time.Sleep) so tests can see the call site clearly in coverage.
func sleepMinDelay(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
