// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package mutate derives candidate inputs from corpus seeds using
// byte-level havoc strategies. The engine is stateless apart from its
// pseudo-random generator: the same rand seed and the same inputs
// produce byte-identical candidates, which is what makes crash replay
// possible.
package mutate

import (
	"fmt"
	"math/rand"
)

const (
	// DefaultMaxLen bounds candidate growth.
	DefaultMaxLen = 4096
	maxInc        = 35
)

type Engine struct {
	r      *randGen
	maxLen int
}

func NewEngine(rs rand.Source, maxLen int) *Engine {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Engine{
		r:      newRandGen(rs),
		maxLen: maxLen,
	}
}

// Mutate returns a new candidate derived from seed. The seed itself is
// never modified; candidates own their bytes. A random chain of
// strategies is applied: the chain continues until at least one strategy
// succeeded and a biased coin says stop.
func (eng *Engine) Mutate(seed []byte) []byte {
	data := make([]byte, len(seed), len(seed)+16)
	copy(data, seed)
	r := eng.r
	for stop := false; !stop; stop = stop && r.oneOf(3) {
		f := strategies[r.Intn(len(strategies))]
		data, stop = f(r, data, eng.maxLen)
	}
	if len(data) == 0 {
		// Harnesses accept empty buffers, but an empty candidate can
		// never make progress, so keep one byte.
		data = append(data, byte(r.Intn(256)))
	}
	return data
}

// Generate produces a fresh random candidate of the given size.
// Used for the initial seed set and for occasional from-scratch inputs.
func (eng *Engine) Generate(size int) []byte {
	if size <= 0 {
		size = 1
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(eng.r.Intn(256))
	}
	return data
}

// Splice crosses two seeds at random cut points. Used by the weighted
// scheduler for richer exploration.
func (eng *Engine) Splice(seedA, seedB []byte) []byte {
	r := eng.r
	if len(seedA) == 0 {
		return eng.Mutate(seedB)
	}
	if len(seedB) == 0 {
		return eng.Mutate(seedA)
	}
	cutA := r.Intn(len(seedA))
	cutB := r.Intn(len(seedB))
	data := make([]byte, 0, cutA+len(seedB)-cutB)
	data = append(data, seedA[:cutA]...)
	data = append(data, seedB[cutB:]...)
	if len(data) > eng.maxLen {
		data = data[:eng.maxLen]
	}
	if len(data) == 0 {
		data = append(data, seedA[0])
	}
	return data
}

// Each strategy returns the possibly reallocated data and whether it
// actually changed anything.
type strategy func(r *randGen, data []byte, maxLen int) ([]byte, bool)

var strategies = [...]strategy{
	// Flip a bit in a random byte.
	func(r *randGen, data []byte, maxLen int) ([]byte, bool) {
		if len(data) == 0 {
			return data, false
		}
		byt := r.Intn(len(data))
		bit := r.Intn(8)
		data[byt] ^= 1 << uint(bit)
		return data, true
	},
	// Increment or decrement a random byte.
	func(r *randGen, data []byte, maxLen int) ([]byte, bool) {
		if len(data) == 0 {
			return data, false
		}
		byt := r.Intn(len(data))
		if r.bin() {
			data[byt]++
		} else {
			data[byt]--
		}
		return data, true
	},
	// Insert a block of random bytes.
	func(r *randGen, data []byte, maxLen int) ([]byte, bool) {
		if len(data) == 0 || len(data) >= maxLen {
			return data, false
		}
		n := r.Intn(16) + 1
		if rem := maxLen - len(data); n > rem {
			n = rem
		}
		pos := r.Intn(len(data))
		data = append(data, make([]byte, n)...)
		copy(data[pos+n:], data[pos:])
		for i := 0; i < n; i++ {
			data[pos+i] = byte(r.Intn(256))
		}
		return data, true
	},
	// Remove a block of bytes.
	func(r *randGen, data []byte, maxLen int) ([]byte, bool) {
		if len(data) == 0 {
			return data, false
		}
		n := r.Intn(16) + 1
		if n > len(data) {
			n = len(data)
		}
		pos := 0
		if n < len(data) {
			pos = r.Intn(len(data) - n)
		}
		copy(data[pos:], data[pos+n:])
		return data[:len(data)-n], true
	},
	// Append a bunch of bytes.
	func(r *randGen, data []byte, maxLen int) ([]byte, bool) {
		if len(data) >= maxLen {
			return data, false
		}
		const max = 256
		n := max - r.biasedRand(max, 10)
		if rem := maxLen - len(data); n > rem {
			n = rem
		}
		for i := 0; i < n; i++ {
			data = append(data, byte(r.Intn(256)))
		}
		return data, true
	},
	// Duplicate a block.
	func(r *randGen, data []byte, maxLen int) ([]byte, bool) {
		if len(data) == 0 || len(data) >= maxLen {
			return data, false
		}
		n := r.Intn(16) + 1
		if n > len(data) {
			n = len(data)
		}
		if rem := maxLen - len(data); n > rem {
			n = rem
		}
		if n == 0 {
			return data, false
		}
		src := r.Intn(len(data) - n + 1)
		block := append([]byte{}, data[src:src+n]...)
		pos := r.Intn(len(data))
		data = append(data, make([]byte, n)...)
		copy(data[pos+n:], data[pos:])
		copy(data[pos:], block)
		return data, true
	},
	// Replace an int8/int16/int32/int64 at a random alignment.
	func(r *randGen, data []byte, maxLen int) ([]byte, bool) {
		width := 1 << uint(r.Intn(4))
		if len(data) < width {
			return data, false
		}
		i := r.Intn(len(data) - width + 1)
		storeInt(data[i:], r.Uint64(), width)
		return data, true
	},
	// Add/subtract a small delta from an int8/int16/int32/int64,
	// sometimes in the byte-swapped representation.
	func(r *randGen, data []byte, maxLen int) ([]byte, bool) {
		width := 1 << uint(r.Intn(4))
		if len(data) < width {
			return data, false
		}
		i := r.Intn(len(data) - width + 1)
		v := loadInt(data[i:], width)
		delta := r.Uint64()%(2*maxInc+1) - maxInc
		if delta == 0 {
			delta = 1
		}
		if r.oneOf(10) {
			v = swapInt(v, width)
			v += delta
			v = swapInt(v, width)
		} else {
			v += delta
		}
		storeInt(data[i:], v, width)
		return data, true
	},
	// Set an int8/int16/int32/int64 to an interesting value.
	func(r *randGen, data []byte, maxLen int) ([]byte, bool) {
		width := 1 << uint(r.Intn(4))
		if len(data) < width {
			return data, false
		}
		i := r.Intn(len(data) - width + 1)
		value := r.randInt()
		if r.oneOf(10) {
			value = swap64(value)
		}
		storeInt(data[i:], value, width)
		return data, true
	},
}

func swap16(v uint16) uint16 {
	return v<<8 | v>>8
}

func swap32(v uint32) uint32 {
	v = v<<16 | v>>16
	v = (v&0x00ff00ff)<<8 | (v&0xff00ff00)>>8
	return v
}

func swap64(v uint64) uint64 {
	v = v<<32 | v>>32
	v = (v&0x0000ffff0000ffff)<<16 | (v&0xffff0000ffff0000)>>16
	v = (v&0x00ff00ff00ff00ff)<<8 | (v&0xff00ff00ff00ff00)>>8
	return v
}

func swapInt(v uint64, size int) uint64 {
	switch size {
	case 1:
		return v
	case 2:
		return uint64(swap16(uint16(v)))
	case 4:
		return uint64(swap32(uint32(v)))
	case 8:
		return swap64(v)
	default:
		panic(fmt.Sprintf("swapInt: bad size %v", size))
	}
}

func loadInt(data []byte, size int) uint64 {
	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(data[i]) << (8 * uint(i))
	}
	return v
}

func storeInt(data []byte, v uint64, size int) {
	for i := 0; i < size; i++ {
		data[i] = byte(v >> (8 * uint(i)))
	}
}
