// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package cover implements the edge hit-counter map that instrumented
// targets write to during an execution. Each execution worker owns one
// Map; the map is reset before every run and its contents are folded
// into bucketed coverage signal afterwards.
package cover

import "github.com/peelfuzz/peelfuzz/pkg/hash"

// MapSize is the number of edge slots. Edge sites are reduced modulo
// MapSize, matching the fixed-size map of sanitizer-style coverage
// instrumentation.
const MapSize = 1 << 16

type Map struct {
	hits [MapSize]uint8
}

func NewMap() *Map {
	return &Map{}
}

// Hit bumps the counter of the given site with saturation.
// It is the instrumentation entry point and must stay cheap.
func (mp *Map) Hit(site uint32) {
	idx := site % MapSize
	if mp.hits[idx] != 0xff {
		mp.hits[idx]++
	}
}

func (mp *Map) Count(site uint32) uint8 {
	return mp.hits[site%MapSize]
}

func (mp *Map) Reset() {
	for i := range mp.hits {
		mp.hits[i] = 0
	}
}

// Signal folds the map into raw signal elements. Each element encodes
// the edge slot and the hit-count bucket, so a corpus input that hits a
// known edge in a new count class still yields new signal.
func (mp *Map) Signal() []uint32 {
	var raw []uint32
	for idx, count := range mp.hits {
		if count == 0 {
			continue
		}
		raw = append(raw, uint32(idx)<<3|uint32(bucket(count)))
	}
	return raw
}

// bucket maps a hit count to one of 8 count classes.
func bucket(count uint8) uint8 {
	switch {
	case count == 1:
		return 0
	case count == 2:
		return 1
	case count == 3:
		return 2
	case count < 8:
		return 3
	case count < 16:
		return 4
	case count < 32:
		return 5
	case count < 128:
		return 6
	default:
		return 7
	}
}

// Site derives a stable coverage site id from a label. Targets are
// expected to compute site ids once at init time, not per execution.
func Site(label string) uint32 {
	sig := hash.Hash([]byte(label))
	return uint32(sig.Truncate64() % MapSize)
}
