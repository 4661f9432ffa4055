package producer

import (
	"time"

	"github.com/valyala/fastrand"
)

// connRand is a uniform PRNG seeded once per accepted connection from wall
// time (mixed with the package's fast global generator for extra entropy),
// replacing the original implementation's per-connection srand/rand.
type connRand struct {
	state uint64
}

func newConnRand() *connRand {
	seed := uint64(time.Now().UnixNano()) ^ uint64(fastrand.Uint32())<<32 ^ uint64(fastrand.Uint32())
	if seed == 0 {
		seed = 1
	}
	return &connRand{state: seed}
}

// next returns the next uint32 in the sequence (xorshift64*).
func (r *connRand) next() uint32 {
	x := r.state
	x ^= x >> 12
	x ^= x << 25
	x ^= x >> 27
	r.state = x
	return uint32((x * 0x2545F4914F6CDD1D) >> 32)
}

// intn returns a pseudorandom integer in [0, n).
func (r *connRand) intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.next() % uint32(n))
}

// sign returns -1 or 1 with equal probability.
func (r *connRand) sign() float64 {
	if r.next()&1 == 0 {
		return -1
	}
	return 1
}
