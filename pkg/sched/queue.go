// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package sched

import (
	"context"
	"sync/atomic"

	"github.com/peelfuzz/peelfuzz/pkg/corpus"
)

// queuePolicy is strict round-robin over all seeds in discovery order.
// A single shared cursor gives every seed a turn within one sweep of
// the corpus, which bounds starvation at O(corpus size) picks.
type queuePolicy struct {
	corpus *corpus.Corpus
	cursor atomic.Int64
}

func newQueuePolicy(c *corpus.Corpus) *queuePolicy {
	return &queuePolicy{corpus: c}
}

func (pol *queuePolicy) Next(ctx context.Context) *corpus.Seed {
	if !waitSeed(ctx, pol.corpus) {
		return nil
	}
	idx := pol.cursor.Add(1) - 1
	seed := pol.corpus.SeedAt(int(idx % int64(1<<31)))
	if seed != nil {
		seed.NoteChosen()
	}
	return seed
}

func (pol *queuePolicy) Report(seed *corpus.Seed, fb Feedback) {
	if fb.NewCoverage {
		seed.NoteProductive()
	}
}
