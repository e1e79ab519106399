// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCounter(t *testing.T) {
	s := newSet(false)
	v := s.New("test counter", "desc")
	v.Add(2)
	v.Add(3)
	assert.Equal(t, 5, v.Val())
}

func TestDistribution(t *testing.T) {
	s := newSet(false)
	v := s.New("test distribution", "desc", Distribution{})
	assert.Equal(t, 0, v.Val())
	v.Add(10)
	v.Add(20)
	// Val reports the mean of the samples.
	assert.Equal(t, 15, v.Val())
}

func TestExternal(t *testing.T) {
	val := 42
	s := newSet(false)
	v := s.New("test external", "desc", func() int { return val })
	assert.Equal(t, 42, v.Val())
	val = 43
	assert.Equal(t, 43, v.Val())
	assert.Panics(t, func() { v.Add(1) })
}

func TestCollectLevels(t *testing.T) {
	s := newSet(false)
	s.New("all stat", "desc")
	s.New("console stat", "desc", Console)

	console := s.Collect(Console)
	assert.Len(t, console, 1)
	assert.Equal(t, "console stat", console[0].Name)
	assert.Len(t, s.Collect(All), 2)
}

func TestAverageValue(t *testing.T) {
	var av AverageValue[time.Duration]
	assert.Equal(t, time.Duration(0), av.Value())
	av.Save(2 * time.Second)
	av.Save(4 * time.Second)
	assert.Equal(t, 3*time.Second, av.Value())
}
