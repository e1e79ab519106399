// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlainQueue(t *testing.T) {
	pq := Plain()

	req1, req2, req3 := &Request{}, &Request{}, &Request{}

	pq.Submit(req1)
	pq.Submit(req2)
	assert.Equal(t, 2, pq.Len())
	assert.Equal(t, req1, pq.Next())
	assert.Equal(t, req2, pq.Next())
	pq.Submit(req3)
	assert.Equal(t, req3, pq.Next())
	assert.Nil(t, pq.Next())
	assert.Equal(t, 0, pq.Len())
}

func TestPlainQueueCompaction(t *testing.T) {
	pq := Plain()
	reqs := make([]*Request, 512)
	for i := range reqs {
		reqs[i] = &Request{Data: []byte(fmt.Sprint(i))}
	}
	for _, req := range reqs[:256] {
		pq.Submit(req)
	}
	// Drain most of the queue and submit again to trigger compaction.
	for i := 0; i < 200; i++ {
		assert.Equal(t, reqs[i], pq.Next())
	}
	for _, req := range reqs[256:] {
		pq.Submit(req)
	}
	for i := 200; i < len(reqs); i++ {
		assert.Equal(t, reqs[i], pq.Next())
	}
	assert.Nil(t, pq.Next())
}

func TestRequestDoneWait(t *testing.T) {
	req := &Request{}
	go func() {
		req.Done(&Result{Status: Crashed})
	}()
	res := req.Wait(context.Background())
	assert.Equal(t, Crashed, res.Status)
	assert.True(t, res.Crashed())
}

func TestRequestWaitCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	req := &Request{}
	res := req.Wait(ctx)
	assert.Equal(t, ExecFailure, res.Status)
}

func TestOnDoneOrder(t *testing.T) {
	var order []int
	req := &Request{}
	req.OnDone(func(*Request, *Result) bool {
		order = append(order, 1)
		return true
	})
	req.OnDone(func(*Request, *Result) bool {
		order = append(order, 2)
		return true
	})
	req.Done(&Result{})
	// Callbacks run in LIFO order.
	assert.Equal(t, []int{2, 1}, order)
	assert.Equal(t, Success, req.Wait(context.Background()).Status)
}

func TestOnDoneStops(t *testing.T) {
	ran := false
	req := &Request{}
	req.OnDone(func(*Request, *Result) bool {
		ran = true
		return true
	})
	req.OnDone(func(*Request, *Result) bool {
		return false
	})
	req.Done(&Result{})
	assert.False(t, ran)
}

func TestOrder(t *testing.T) {
	first, second := Plain(), Plain()
	src := Order(first, second)

	req1, req2 := &Request{}, &Request{}
	second.Submit(req2)
	assert.Equal(t, req2, src.Next())

	first.Submit(req1)
	second.Submit(req2)
	assert.Equal(t, req1, src.Next())
	assert.Equal(t, req2, src.Next())
	assert.Nil(t, src.Next())
}

func TestCallback(t *testing.T) {
	req := &Request{}
	src := Callback(func() *Request { return req })
	assert.Equal(t, req, src.Next())
	assert.Equal(t, req, src.Next())
}

func TestAlternate(t *testing.T) {
	req := &Request{}
	src := Alternate(Callback(func() *Request { return req }), 3)
	var nils int
	for i := 0; i < 9; i++ {
		if src.Next() == nil {
			nils++
		}
	}
	assert.Equal(t, 3, nils)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "ok", Success.String())
	assert.Equal(t, "crashed", Crashed.String())
	assert.Equal(t, "hanged", Hanged.String())
	assert.Equal(t, "failure", ExecFailure.String())
}
