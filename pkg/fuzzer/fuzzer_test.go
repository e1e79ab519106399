// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peelfuzz/peelfuzz/pkg/corpus"
	"github.com/peelfuzz/peelfuzz/pkg/queue"
	"github.com/peelfuzz/peelfuzz/pkg/sched"
	"github.com/peelfuzz/peelfuzz/pkg/triage"
)

func newTestFuzzer(t *testing.T) (*Fuzzer, *corpus.Corpus) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	corp := corpus.NewCorpus(ctx)
	scheduler, err := sched.New(sched.Queue, corp, 0)
	require.NoError(t, err)
	store, err := triage.NewStore(triage.Config{CrashDir: t.TempDir()})
	require.NoError(t, err)
	f := NewFuzzer(ctx, &Config{
		Corpus:    corp,
		Scheduler: scheduler,
		Triage:    store,
	}, 0)
	return f, corp
}

func TestCandidates(t *testing.T) {
	f, corp := newTestFuzzer(t)

	f.AddCandidates([][]byte{[]byte("one"), []byte("two")})
	assert.False(t, f.CandidatesDone())

	// Candidates are served before generated inputs.
	req1 := f.Next()
	require.NotNil(t, req1)
	assert.Equal(t, []byte("one"), req1.Data)
	req1.Done(&queue.Result{Status: queue.Success, Cover: []uint32{1, 2}})

	req2 := f.Next()
	require.NotNil(t, req2)
	assert.Equal(t, []byte("two"), req2.Data)
	// Seeds enter the corpus even without new signal of their own.
	req2.Done(&queue.Result{Status: queue.Success, Cover: []uint32{1, 2}})

	assert.True(t, f.CandidatesDone())
	assert.Equal(t, 2, corp.Len())
	assert.Equal(t, 2, f.Cover.Stats().MaxSignal)
}

func TestGenFuzz(t *testing.T) {
	f, corp := newTestFuzzer(t)

	f.AddCandidates([][]byte{[]byte("seed input")})
	req := f.Next()
	require.NotNil(t, req)
	req.Done(&queue.Result{Status: queue.Success, Cover: []uint32{10}})
	require.Equal(t, 1, corp.Len())

	// With the corpus non-empty, Next produces mutated requests forever.
	for i := 0; i < 100; i++ {
		req := f.Next()
		require.NotNil(t, req)
		assert.NotEmpty(t, req.Data)
		assert.NotEmpty(t, req.SeedSig)
		req.Done(&queue.Result{Status: queue.Success, Cover: []uint32{10}})
	}
	// No new signal was reported, nothing got promoted.
	assert.Equal(t, 1, corp.Len())
}

func TestPromotion(t *testing.T) {
	f, corp := newTestFuzzer(t)

	f.AddCandidates([][]byte{[]byte("seed")})
	f.Next().Done(&queue.Result{Status: queue.Success, Cover: []uint32{10}})

	req := f.Next()
	require.NotNil(t, req)
	req.Done(&queue.Result{Status: queue.Success, Cover: []uint32{10, 20}})
	assert.Equal(t, 2, corp.Len())
	assert.Equal(t, 2, f.Cover.Stats().MaxSignal)

	// The same signal again is not new.
	req = f.Next()
	require.NotNil(t, req)
	req.Done(&queue.Result{Status: queue.Success, Cover: []uint32{20}})
	assert.Equal(t, 2, corp.Len())
}

func TestCrashNoted(t *testing.T) {
	f, _ := newTestFuzzer(t)

	f.AddCandidates([][]byte{[]byte("seed")})
	f.Next().Done(&queue.Result{Status: queue.Success, Cover: []uint32{10}})

	req := f.Next()
	require.NotNil(t, req)
	req.Done(&queue.Result{
		Status: queue.Crashed,
		Cover:  []uint32{10, 30},
		Fault:  &queue.Fault{Msg: "boom", Frames: []string{"target.fn f.go:1"}},
	})
	total, unique := f.Config.Triage.BugCount()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, unique)
	// Coverage observed on the way to the crash still counts.
	assert.Equal(t, 2, f.Cover.Stats().MaxSignal)
}

func TestCrashingSeed(t *testing.T) {
	f, corp := newTestFuzzer(t)

	f.AddCandidates([][]byte{[]byte("bad seed")})
	req := f.Next()
	require.NotNil(t, req)
	req.Done(&queue.Result{
		Status: queue.Crashed,
		Fault:  &queue.Fault{Msg: "seed boom"},
	})
	_, unique := f.Config.Triage.BugCount()
	assert.Equal(t, 1, unique)
	assert.Equal(t, 1, corp.Len())
	assert.True(t, f.CandidatesDone())
}
