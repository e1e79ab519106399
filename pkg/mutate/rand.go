// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutate

import (
	"math"
	"math/rand"
)

// randGen wraps rand.Rand with the biased helpers the mutators use.
// All randomness flows through it, which is what makes mutation output
// reproducible from a single seed.
type randGen struct {
	*rand.Rand
}

func newRandGen(rs rand.Source) *randGen {
	return &randGen{rand.New(rs)}
}

func (r *randGen) oneOf(n int) bool {
	return r.Intn(n) == 0
}

func (r *randGen) nOutOf(n, outOf int) bool {
	if n <= 0 || n >= outOf {
		panic("bad probability")
	}
	return r.Intn(outOf) < n
}

func (r *randGen) bin() bool {
	return r.Intn(2) == 0
}

// biasedRand returns a random int in [0..n), probability of n-1 is k times
// higher than probability of 0.
func (r *randGen) biasedRand(n, k int) int {
	nf, kf := float64(n), float64(k)
	rf := nf * (kf/2 + 1) * r.Float64()
	bf := (-1 + math.Sqrt(1+2*kf*rf/nf)) * nf / kf
	return int(bf)
}

// interestingInts are boundary and magic integers that parsers commonly
// compare against.
var interestingInts = []uint64{
	0, 1, 2, 7, 8, 15, 16, 31, 32, 63, 64, 100, 127, 128, 129, 255,
	256, 512, 1000, 1024, 4096, 0x7fff, 0x8000, 0xffff, 0x10000,
	0x7fffffff, 0x80000000, 0xffffffff, 0x100000000,
	0x7fffffffffffffff, 0x8000000000000000, 0xffffffffffffffff,
}

func (r *randGen) randInt() uint64 {
	v := interestingInts[r.Intn(len(interestingInts))]
	if r.oneOf(4) {
		v += uint64(r.Intn(5)) - 2
	}
	return v
}
