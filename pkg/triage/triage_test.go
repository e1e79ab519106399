// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package triage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peelfuzz/peelfuzz/pkg/queue"
)

func crashResult(msg string, frames ...string) *queue.Result {
	return &queue.Result{
		Status: queue.Crashed,
		Fault: &queue.Fault{
			Msg:    msg,
			Frames: frames,
			Stack:  []byte("goroutine 1 [running]:\nexample.com/target.fn()\n"),
		},
	}
}

func newStore(t *testing.T, cfg Config) *Store {
	cfg.CrashDir = t.TempDir()
	st, err := NewStore(cfg)
	require.NoError(t, err)
	return st
}

func drain(st *Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st.Run(ctx)
}

func TestDedup(t *testing.T) {
	st := newStore(t, Config{})

	bug1, first := st.Note([]byte("input-one"), crashResult("boom", "target.fn pkg.go:10"))
	require.True(t, first)
	// Different input bytes, same fault location.
	bug2, first := st.Note([]byte("a completely different input"), crashResult("boom", "target.fn pkg.go:10"))
	assert.False(t, first)
	assert.Equal(t, bug1.Sig, bug2.Sig)
	// Same message, different location.
	_, first = st.Note([]byte("input-one"), crashResult("boom", "target.fn pkg.go:99"))
	assert.True(t, first)

	total, unique := st.BugCount()
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, unique)
}

func TestArtifacts(t *testing.T) {
	st := newStore(t, Config{})

	input := []byte{0xde, 0xad, 0xbe, 0xef}
	bug, first := st.Note(input, crashResult("index out of range", "target.parse parse.go:42"))
	require.True(t, first)
	_, first = st.Note(input, crashResult("index out of range", "target.parse parse.go:42"))
	require.False(t, first)
	drain(st)

	dir := filepath.Join(st.cfg.CrashDir, bug.Sig)
	desc, err := os.ReadFile(filepath.Join(dir, "description"))
	require.NoError(t, err)
	assert.Equal(t, "index out of range\n", string(desc))

	saved, err := st.LoadInput(bug.Sig)
	require.NoError(t, err)
	assert.Equal(t, input, saved)

	report, err := os.ReadFile(filepath.Join(dir, "report"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "index out of range")
	assert.Contains(t, string(report), "target.parse parse.go:42")
	assert.Contains(t, string(report), "goroutine 1 [running]:")

	count, err := os.ReadFile(filepath.Join(dir, "repro_count"))
	require.NoError(t, err)
	assert.Equal(t, "2\n", string(count))

	// Exactly one bug directory.
	entries, err := os.ReadDir(st.cfg.CrashDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHangsIgnoredByDefault(t *testing.T) {
	st := newStore(t, Config{})

	res := &queue.Result{
		Status: queue.Hanged,
		Fault:  &queue.Fault{Msg: "no progress after 1s"},
	}
	bug, first := st.Note([]byte("slow"), res)
	assert.Nil(t, bug)
	assert.False(t, first)
	drain(st)

	entries, err := os.ReadDir(st.cfg.CrashDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveHangs(t *testing.T) {
	st := newStore(t, Config{SaveHangs: true})

	res := &queue.Result{
		Status: queue.Hanged,
		Fault:  &queue.Fault{Msg: "no progress after 1s"},
	}
	bug, first := st.Note([]byte("slow"), res)
	require.True(t, first)
	assert.True(t, bug.Hang)
	drain(st)

	report, err := os.ReadFile(filepath.Join(st.cfg.CrashDir, bug.Sig, "report"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "HANG: no progress after 1s")
}

func TestBugsOrder(t *testing.T) {
	st := newStore(t, Config{})

	st.Note(nil, crashResult("first", "a f.go:1"))
	st.Note(nil, crashResult("second", "b f.go:2"))
	st.Note(nil, crashResult("third", "c f.go:3"))
	st.Note(nil, crashResult("second", "b f.go:2"))

	bugs := st.Bugs()
	require.Len(t, bugs, 3)
	assert.Equal(t, "first", bugs[0].Title)
	assert.Equal(t, "second", bugs[1].Title)
	assert.Equal(t, "third", bugs[2].Title)
	assert.Equal(t, 2, bugs[1].Count)
}

func TestEmptyCrashDir(t *testing.T) {
	_, err := NewStore(Config{})
	assert.Error(t, err)
}
