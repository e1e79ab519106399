// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package sched decides which corpus seed to mutate next. Two
// interchangeable policies are provided: a strict round-robin queue and
// an energy-weighted selection. Both are safe for concurrent Next()
// calls from all execution workers.
package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/peelfuzz/peelfuzz/pkg/corpus"
)

type Kind int

const (
	Queue Kind = iota
	Weighted
)

func (kind Kind) String() string {
	switch kind {
	case Queue:
		return "queue"
	case Weighted:
		return "weighted"
	default:
		return fmt.Sprintf("sched.Kind(%d)", int(kind))
	}
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case "queue":
		return Queue, nil
	case "weighted":
		return Weighted, nil
	default:
		return 0, fmt.Errorf("unknown scheduler kind %q (want queue or weighted)", s)
	}
}

// Feedback is the part of an execution result the scheduler cares about.
type Feedback struct {
	NewCoverage bool
	Crashed     bool
}

// Scheduler selects seeds for mutation. Next blocks while the corpus is
// momentarily empty rather than failing; it returns nil only when ctx is
// cancelled. Report feeds back the outcome of fuzzing the seed's
// mutants and must be called once per Next.
type Scheduler interface {
	Next(ctx context.Context) *corpus.Seed
	Report(seed *corpus.Seed, fb Feedback)
}

func New(kind Kind, corpus *corpus.Corpus, randSeed int64) (Scheduler, error) {
	switch kind {
	case Queue:
		return newQueuePolicy(corpus), nil
	case Weighted:
		return newWeightedPolicy(corpus, randSeed), nil
	default:
		return nil, fmt.Errorf("unknown scheduler kind %v", kind)
	}
}

// waitSeed blocks until the corpus is non-empty or ctx is cancelled.
// The engine refuses to start with an empty corpus, so in practice this
// only spins during the very first moments of a run.
func waitSeed(ctx context.Context, c *corpus.Corpus) bool {
	for c.Len() == 0 {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Millisecond):
		}
	}
	return true
}
