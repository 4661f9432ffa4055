package aggregator

import "sync/atomic"

// boolFlag is a torn-read-tolerant boolean, matching spec.md §5's explicitly
// accepted race on the connected[] array.
type boolFlag struct {
	v atomic.Bool
}

func (b *boolFlag) Load() bool     { return b.v.Load() }
func (b *boolFlag) Store(v bool)   { b.v.Store(v) }
