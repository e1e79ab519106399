// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peelfuzz/peelfuzz/pkg/corpus"
	"github.com/peelfuzz/peelfuzz/pkg/signal"
	"github.com/peelfuzz/peelfuzz/pkg/testutil"
)

func TestParseKind(t *testing.T) {
	for _, kind := range []Kind{Queue, Weighted} {
		parsed, err := ParseKind(kind.String())
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
	}
	_, err := ParseKind("random")
	assert.Error(t, err)
}

func testCorpus(t *testing.T, n int) *corpus.Corpus {
	c := corpus.NewCorpus(context.Background())
	for i := 0; i < n; i++ {
		c.Save(corpus.NewInput{
			Data:   []byte{byte(i)},
			Signal: signal.FromRaw([]uint32{uint32(i)}),
		})
	}
	require.Equal(t, n, c.Len())
	return c
}

func TestQueueFairness(t *testing.T) {
	const seeds = 7
	c := testCorpus(t, seeds)
	pol, err := New(Queue, c, 0)
	require.NoError(t, err)

	n := seeds*100 + 3
	counts := make(map[string]int)
	for i := 0; i < n; i++ {
		seed := pol.Next(context.Background())
		require.NotNil(t, seed)
		counts[seed.Sig]++
		pol.Report(seed, Feedback{})
	}
	// Every seed selected at least floor(N/K) times.
	for _, seed := range c.Seeds() {
		assert.GreaterOrEqual(t, counts[seed.Sig], n/seeds)
	}
}

func TestNextBlocksOnEmptyCorpus(t *testing.T) {
	c := corpus.NewCorpus(context.Background())
	for _, kind := range []Kind{Queue, Weighted} {
		pol, err := New(kind, c, 0)
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		start := time.Now()
		seed := pol.Next(ctx)
		cancel()
		assert.Nil(t, seed, "%v returned a seed from an empty corpus", kind)
		assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)
	}
}

func TestNextUnblocksOnSave(t *testing.T) {
	c := corpus.NewCorpus(context.Background())
	pol, err := New(Weighted, c, 0)
	require.NoError(t, err)
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Save(corpus.NewInput{Data: []byte("late"), Signal: signal.FromRaw([]uint32{1})})
	}()
	seed := pol.Next(context.Background())
	require.NotNil(t, seed)
	assert.Equal(t, []byte("late"), seed.Data)
}

func TestWeightedPrefersProductive(t *testing.T) {
	c := testCorpus(t, 2)
	pol, err := New(Weighted, c, int64(testutil.RandSource(t).Int63()))
	require.NoError(t, err)
	productive := c.SeedAt(0)
	other := c.SeedAt(1)

	// Make both seeds look equally used, then report new coverage only
	// for one of them.
	iters := testutil.IterCount()
	picks := make(map[*corpus.Seed]int)
	for i := 0; i < iters; i++ {
		seed := pol.Next(context.Background())
		require.NotNil(t, seed)
		picks[seed]++
		pol.Report(seed, Feedback{NewCoverage: seed == productive})
	}
	assert.Greater(t, picks[productive], picks[other])
}

func TestWeightedEnergy(t *testing.T) {
	c := corpus.NewCorpus(context.Background())
	small := c.Save(corpus.NewInput{
		Data:   []byte{1},
		Signal: signal.FromRaw([]uint32{1, 2, 3, 4}),
	})
	large := c.Save(corpus.NewInput{
		Data:   make([]byte, 1024),
		Signal: signal.FromRaw([]uint32{1, 2, 3, 4}),
	})
	// Same signal, but the smaller seed mutates more cheaply.
	assert.Greater(t, energy(small), energy(large))

	// Selection fatigue decays energy.
	before := energy(small)
	for i := 0; i < 100; i++ {
		small.NoteChosen()
	}
	assert.Less(t, energy(small), before)
}
