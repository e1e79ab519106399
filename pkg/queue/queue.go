// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package queue defines the execution request/result plumbing between
// the orchestrator (producer of candidate inputs) and the worker pool
// (consumer). Results are delivered through Request.Done and awaited
// with Request.Wait.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/peelfuzz/peelfuzz/pkg/stat"
)

type Request struct {
	// Data is the candidate input. The buffer is owned by the request
	// and must not be retained by the harness past the call.
	Data []byte

	// SeedSig is the signature of the corpus seed this candidate was
	// derived from, or empty for generated inputs.
	SeedSig string

	// This stat will be incremented on request completion.
	Stat *stat.Val

	// The callback will be called on request completion in LIFO order.
	// If it returns false, all further processing stops.
	callback DoneCallback

	mu     sync.Mutex
	result *Result
	done   chan struct{}
}

type DoneCallback func(*Request, *Result) bool

func (r *Request) OnDone(cb DoneCallback) {
	oldCallback := r.callback
	r.callback = func(req *Request, res *Result) bool {
		r.callback = oldCallback
		if !cb(req, res) {
			return false
		}
		if oldCallback == nil {
			return true
		}
		return oldCallback(req, res)
	}
}

func (r *Request) Done(res *Result) {
	if r.callback != nil {
		if !r.callback(r, res) {
			return
		}
	}
	if r.Stat != nil {
		r.Stat.Add(1)
	}
	r.initChannel()
	r.result = res
	close(r.done)
}

// Wait blocks until the result is available or ctx is cancelled.
func (r *Request) Wait(ctx context.Context) *Result {
	r.initChannel()
	select {
	case <-ctx.Done():
		return &Result{Status: ExecFailure}
	case <-r.done:
		return r.result
	}
}

func (r *Request) initChannel() {
	r.mu.Lock()
	if r.done == nil {
		r.done = make(chan struct{})
	}
	r.mu.Unlock()
}

// Fault describes a trapped target failure, used for crash dedup.
type Fault struct {
	// Msg is the fault description (panic value or hang note).
	Msg string
	// Frames are the innermost target call frames, used to derive the
	// dedup key so the key depends on the fault location, not the input.
	Frames []string
	// Stack is the full captured stack trace for the artifact report.
	Stack []byte
}

type Result struct {
	Status Status
	// Cover is the raw signal observed during the execution.
	Cover []uint32
	// Fault is set for Crashed and Hanged results.
	Fault    *Fault
	Duration time.Duration
	Err      error // details in case of ExecFailure
}

func (r *Result) Crashed() bool {
	return r.Status == Crashed
}

type Status int

const (
	Success     Status = iota
	Crashed            // the target faulted during the execution
	Hanged             // the execution exceeded the timeout
	ExecFailure        // engine-internal failure, e.g. cancelled run
)

func (s Status) String() string {
	switch s {
	case Success:
		return "ok"
	case Crashed:
		return "crashed"
	case Hanged:
		return "hanged"
	case ExecFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Executor describes the interface wanted by the producers of requests.
// After a Request is submitted, it's expected that the consumer will
// eventually take it and report the execution result via Done().
type Executor interface {
	Submit(req *Request)
}

// Source describes the interface wanted by the consumers of requests.
type Source interface {
	Next() *Request
}

// PlainQueue is a straightforward thread-safe Request queue.
type PlainQueue struct {
	mu    sync.Mutex
	queue []*Request
	pos   int
}

func Plain() *PlainQueue {
	return &PlainQueue{}
}

func (pq *PlainQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.queue) - pq.pos
}

func (pq *PlainQueue) Submit(req *Request) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	// It doesn't make sense to compact the queue too often.
	const minSizeToCompact = 128
	if pq.pos > len(pq.queue)/2 && len(pq.queue) >= minSizeToCompact {
		copy(pq.queue, pq.queue[pq.pos:])
		for pq.pos > 0 {
			newLen := len(pq.queue) - 1
			pq.queue[newLen] = nil
			pq.queue = pq.queue[:newLen]
			pq.pos--
		}
	}
	pq.queue = append(pq.queue, req)
}

func (pq *PlainQueue) Next() *Request {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if pq.pos == len(pq.queue) {
		return nil
	}
	ret := pq.queue[pq.pos]
	pq.queue[pq.pos] = nil
	pq.pos++
	return ret
}

// Order combines several sources; earlier sources are polled first.
type orderImpl struct {
	sources []Source
}

func Order(sources ...Source) Source {
	return &orderImpl{sources: sources}
}

func (o *orderImpl) Next() *Request {
	for _, s := range o.sources {
		if req := s.Next(); req != nil {
			return req
		}
	}
	return nil
}

type callback struct {
	cb func() *Request
}

// Callback produces a source that calls the callback to serve every Next().
func Callback(cb func() *Request) Source {
	return &callback{cb}
}

func (cb *callback) Next() *Request {
	return cb.cb()
}

type alternate struct {
	base Source
	nth  int
	seq  atomic.Int64
}

// Alternate proxies base, but returns nil every nth Next() call.
func Alternate(base Source, nth int) Source {
	return &alternate{
		base: base,
		nth:  nth,
	}
}

func (a *alternate) Next() *Request {
	if a.seq.Add(1)%int64(a.nth) == 0 {
		return nil
	}
	return a.base.Next()
}
