// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package exec runs candidate executions on a fixed pool of long-lived
// workers. Every worker owns an isolated execution slot (a dedicated
// goroutine with a private coverage map): a target fault is trapped in
// the slot and reported as a result, never propagated; a hung slot is
// abandoned and rebuilt so the worker stays usable.
package exec

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/peelfuzz/peelfuzz/pkg/cover"
	"github.com/peelfuzz/peelfuzz/pkg/harness"
	"github.com/peelfuzz/peelfuzz/pkg/queue"
	"github.com/peelfuzz/peelfuzz/pkg/stat"
)

const DefaultTimeout = time.Second

type Config struct {
	Harness harness.Harness
	// Timeout bounds a single execution; 0 means DefaultTimeout.
	Timeout time.Duration
	// Source is polled by every worker independently.
	Source queue.Source
	Logf   func(level int, msg string, args ...interface{})
}

type Pool struct {
	cfg     Config
	count   int
	timeout time.Duration

	avgExecTime stat.AverageValue[time.Duration]

	statExecs    *stat.Val
	statExecTime *stat.Val
	statRestarts *stat.Val
}

// NewPool creates a pool of count workers (count 0 means a single
// worker). Workers are started by Run.
func NewPool(count int, cfg Config) *Pool {
	if count <= 0 {
		count = 1
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Pool{
		cfg:     cfg,
		count:   count,
		timeout: timeout,
		statExecs: stat.New("executions", "Total target executions",
			stat.Console, stat.Rate{}, stat.Prometheus("peelfuzz_exec_total")),
		statExecTime: stat.New("exec time", "Average execution time (us)",
			stat.Distribution{}, stat.Prometheus("peelfuzz_exec_time_us")),
		statRestarts: stat.New("worker restarts", "Execution slots rebuilt after a hang",
			stat.Simple, stat.Prometheus("peelfuzz_worker_restarts_total")),
	}
}

func (pool *Pool) Count() int {
	return pool.count
}

// Executions returns the number of target executions completed so far.
func (pool *Pool) Executions() int {
	return pool.statExecs.Val()
}

// AvgExecTime returns the running average duration of one execution.
func (pool *Pool) AvgExecTime() time.Duration {
	return pool.avgExecTime.Value()
}

// Run starts the workers and blocks until ctx is cancelled and all
// workers returned.
func (pool *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < pool.count; i++ {
		w := &worker{
			id:   i,
			pool: pool,
			slot: newSlot(pool.cfg.Harness),
		}
		g.Go(func() error {
			return w.loop(ctx)
		})
	}
	return g.Wait()
}

type worker struct {
	id   int
	pool *Pool
	slot *slot
}

func (w *worker) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		req := w.pool.cfg.Source.Next()
		if req == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Millisecond):
			}
			continue
		}
		res := w.execute(ctx, req)
		w.pool.statExecs.Add(1)
		w.pool.statExecTime.Add(int(res.Duration.Microseconds()))
		w.pool.avgExecTime.Save(res.Duration)
		req.Done(res)
	}
}

func (w *worker) execute(ctx context.Context, req *queue.Request) *queue.Result {
	start := time.Now()
	w.slot.in <- req.Data
	select {
	case ret := <-w.slot.out:
		res := &queue.Result{
			Status:   queue.Success,
			Cover:    w.slot.cov.Signal(),
			Duration: time.Since(start),
		}
		if ret.fault != nil {
			res.Status = queue.Crashed
			res.Fault = ret.fault
		}
		return res
	case <-time.After(w.pool.timeout):
		w.recycle()
		return &queue.Result{
			Status:   queue.Hanged,
			Duration: time.Since(start),
			Fault: &queue.Fault{
				Msg: fmt.Sprintf("no progress after %v", w.pool.timeout),
			},
		}
	case <-ctx.Done():
		// Give the in-flight execution a short grace period to finish,
		// then abandon it.
		select {
		case ret := <-w.slot.out:
			res := &queue.Result{
				Status:   queue.Success,
				Cover:    w.slot.cov.Signal(),
				Duration: time.Since(start),
			}
			if ret.fault != nil {
				res.Status = queue.Crashed
				res.Fault = ret.fault
			}
			return res
		case <-time.After(100 * time.Millisecond):
			w.recycle()
			return &queue.Result{Status: queue.ExecFailure, Err: ctx.Err()}
		}
	}
}

// recycle discards the (possibly still running) slot and builds a fresh
// one. The abandoned goroutine keeps its own coverage map, so the new
// slot starts clean.
func (w *worker) recycle() {
	w.pool.statRestarts.Add(1)
	if w.pool.cfg.Logf != nil {
		w.pool.cfg.Logf(1, "worker %v: recycling execution slot", w.id)
	}
	w.slot.abandon()
	w.slot = newSlot(w.pool.cfg.Harness)
}

// slot is the isolated execution context. Its goroutine is the only
// one touching cov until the result is delivered, so no locking is
// needed on the hot path.
type slot struct {
	cov  *cover.Map
	in   chan []byte
	out  chan slotReturn
	stop chan struct{}
}

type slotReturn struct {
	fault *queue.Fault
}

func newSlot(h harness.Harness) *slot {
	s := &slot{
		cov:  cover.NewMap(),
		in:   make(chan []byte),
		out:  make(chan slotReturn, 1),
		stop: make(chan struct{}),
	}
	go s.run(h)
	return s
}

func (s *slot) run(h harness.Harness) {
	for {
		var data []byte
		select {
		case data = <-s.in:
		case <-s.stop:
			return
		}
		fault := invoke(h, s.cov, data)
		select {
		case s.out <- slotReturn{fault: fault}:
		case <-s.stop:
			return
		}
	}
}

func (s *slot) abandon() {
	close(s.stop)
}

// invoke runs one execution and converts a target panic into a Fault.
func invoke(h harness.Harness, cov *cover.Map, data []byte) (fault *queue.Fault) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			fault = &queue.Fault{
				Msg:    fmt.Sprintf("%v", r),
				Frames: targetFrames(stack),
				Stack:  stack,
			}
		}
	}()
	cov.Reset()
	h.Invoke(cov, data)
	return nil
}
