// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package cover

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/peelfuzz/peelfuzz/pkg/signal"
)

func TestHit(t *testing.T) {
	mp := NewMap()
	assert.Equal(t, uint8(0), mp.Count(10))
	mp.Hit(10)
	mp.Hit(10)
	assert.Equal(t, uint8(2), mp.Count(10))
	// Sites wrap modulo the map size.
	mp.Hit(10 + MapSize)
	assert.Equal(t, uint8(3), mp.Count(10))
}

func TestHitSaturates(t *testing.T) {
	mp := NewMap()
	for i := 0; i < 300; i++ {
		mp.Hit(1)
	}
	assert.Equal(t, uint8(0xff), mp.Count(1))
}

func TestReset(t *testing.T) {
	mp := NewMap()
	mp.Hit(1)
	mp.Hit(2)
	mp.Reset()
	assert.Empty(t, mp.Signal())
}

func TestSignalBuckets(t *testing.T) {
	mp := NewMap()
	mp.Hit(5)
	one := mp.Signal()
	assert.Len(t, one, 1)
	assert.Equal(t, uint32(5<<3|0), one[0])

	// A second hit moves the site to the next count class, which is
	// new signal relative to the single-hit run.
	mp.Hit(5)
	two := mp.Signal()
	assert.Len(t, two, 1)
	assert.Equal(t, uint32(5<<3|1), two[0])
	assert.Equal(t, 1, signal.FromRaw(one).Diff(signal.FromRaw(two)).Len())

	// Within one count class the signal is stable.
	for i := 0; i < 4; i++ {
		mp.Hit(7)
	}
	classed := signal.FromRaw(mp.Signal())
	mp.Hit(7) // 5 hits, still the 4..7 class
	assert.Nil(t, classed.Diff(signal.FromRaw(mp.Signal())))
}

func TestSiteStable(t *testing.T) {
	assert.Equal(t, Site("gate1"), Site("gate1"))
	assert.NotEqual(t, Site("gate1"), Site("gate2"))
	assert.Less(t, Site("gate1"), uint32(MapSize))
}
