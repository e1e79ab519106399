// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package exec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peelfuzz/peelfuzz/pkg/cover"
	"github.com/peelfuzz/peelfuzz/pkg/harness"
	"github.com/peelfuzz/peelfuzz/pkg/queue"
)

func startPool(t *testing.T, h harness.Harness, timeout time.Duration) (*Pool, *queue.PlainQueue) {
	src := queue.Plain()
	pool := NewPool(1, Config{
		Harness: h,
		Timeout: timeout,
		Source:  src,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- pool.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return pool, src
}

func run(src *queue.PlainQueue, data []byte) *queue.Result {
	req := &queue.Request{Data: data}
	src.Submit(req)
	return req.Wait(context.Background())
}

func TestSuccess(t *testing.T) {
	site := cover.Site("exec_test/ok")
	h := harness.Bytes("ok", func(cov *cover.Map, data []byte) {
		cov.Hit(site)
	})
	pool, src := startPool(t, h, 0)

	res := run(src, []byte("hello"))
	assert.Equal(t, queue.Success, res.Status)
	assert.NotEmpty(t, res.Cover)
	assert.Equal(t, 1, pool.Executions())
}

func TestCrashContained(t *testing.T) {
	h := harness.Bytes("crasher", func(cov *cover.Map, data []byte) {
		if len(data) > 0 && data[0] == 0x7f {
			panic("boom")
		}
	})
	_, src := startPool(t, h, 0)

	res := run(src, []byte{0x7f})
	require.Equal(t, queue.Crashed, res.Status)
	require.NotNil(t, res.Fault)
	assert.Equal(t, "boom", res.Fault.Msg)
	assert.NotEmpty(t, res.Fault.Stack)

	// The worker must survive its target's crash.
	res = run(src, []byte{0x00})
	assert.Equal(t, queue.Success, res.Status)
}

func TestHangRecycles(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := harness.Bytes("hanger", func(cov *cover.Map, data []byte) {
		if len(data) > 0 && data[0] == 0xee {
			<-release
		}
	})
	const timeout = 50 * time.Millisecond
	pool, src := startPool(t, h, timeout)

	start := time.Now()
	res := run(src, []byte{0xee})
	require.Equal(t, queue.Hanged, res.Status)
	require.NotNil(t, res.Fault)
	assert.GreaterOrEqual(t, time.Since(start), timeout)

	// The slot was rebuilt, the worker keeps executing.
	res = run(src, []byte{0x00})
	assert.Equal(t, queue.Success, res.Status)
	assert.Equal(t, 1, pool.statRestarts.Val())
}

func TestExecTimeAccounting(t *testing.T) {
	h := harness.Bytes("slowish", func(cov *cover.Map, data []byte) {
		time.Sleep(2 * time.Millisecond)
	})
	pool, src := startPool(t, h, 0)

	for i := 0; i < 3; i++ {
		res := run(src, []byte{byte(i)})
		require.Equal(t, queue.Success, res.Status)
		assert.GreaterOrEqual(t, res.Duration, 2*time.Millisecond)
	}
	assert.GreaterOrEqual(t, pool.AvgExecTime(), 2*time.Millisecond)
	// The distribution stat tracks the mean in microseconds.
	assert.GreaterOrEqual(t, pool.statExecTime.Val(), 2000)
}

func TestCoverPerExecution(t *testing.T) {
	siteA := cover.Site("exec_test/a")
	siteB := cover.Site("exec_test/b")
	h := harness.Bytes("cov", func(cov *cover.Map, data []byte) {
		if len(data) > 0 && data[0] == 'a' {
			cov.Hit(siteA)
		} else {
			cov.Hit(siteB)
		}
	})
	_, src := startPool(t, h, 0)

	first := run(src, []byte("a")).Cover
	second := run(src, []byte("b")).Cover
	// The map is reset between executions, so the signals are disjoint.
	assert.NotEqual(t, first, second)
	assert.Len(t, first, 1)
	assert.Len(t, second, 1)
}

func TestTargetFrames(t *testing.T) {
	stack := []byte(`goroutine 7 [running]:
runtime/debug.Stack()
	/usr/local/go/src/runtime/debug/stack.go:26 +0x5e
github.com/peelfuzz/peelfuzz/pkg/exec.invoke.func1()
	/home/user/peelfuzz/pkg/exec/exec.go:208 +0x3c
panic({0x5b1a00?, 0x6791d0?})
	/usr/local/go/src/runtime/panic.go:792 +0x132
github.com/peelfuzz/peelfuzz/pkg/targets.parsePacket(0xc000104000, {0xc000018060, 0x28, 0x28})
	/home/user/peelfuzz/pkg/targets/packet.go:151 +0x9a1
github.com/peelfuzz/peelfuzz/pkg/targets.init.func2(0xc000104000, {0xc000018060?, 0x0?, 0x0?})
	/home/user/peelfuzz/pkg/targets/packet.go:300 +0x25
github.com/peelfuzz/peelfuzz/pkg/harness.(*bytesHarness).Invoke(...)
	/home/user/peelfuzz/pkg/harness/harness.go:85
github.com/peelfuzz/peelfuzz/pkg/exec.invoke(...)
	/home/user/peelfuzz/pkg/exec/exec.go:214
`)
	frames := targetFrames(stack)
	assert.Equal(t, []string{
		"github.com/peelfuzz/peelfuzz/pkg/targets.parsePacket packet.go:151",
		"github.com/peelfuzz/peelfuzz/pkg/targets.init.func2 packet.go:300",
	}, frames)
}

func TestTargetFramesCapped(t *testing.T) {
	var stack []byte
	for i := 0; i < 10; i++ {
		stack = append(stack, []byte("example.com/deep.recurse(0x1)\n\t/src/deep/deep.go:10 +0x10\n")...)
	}
	frames := targetFrames(stack)
	assert.Len(t, frames, maxFrames)
}
