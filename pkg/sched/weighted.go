// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package sched

import (
	"context"
	"math/bits"
	"math/rand"
	"sort"
	"sync"

	"github.com/peelfuzz/peelfuzz/pkg/corpus"
)

// weightedPolicy selects seeds with probability proportional to an
// energy score. The cumulative-energy index is rebuilt lazily (when the
// corpus grew or enough reports accumulated), so Next and Report stay
// cheap under high execution throughput.
type weightedPolicy struct {
	corpus *corpus.Corpus

	mu            sync.Mutex
	rnd           *rand.Rand
	seeds         []*corpus.Seed // sorted by energy, descending
	acc           []int64        // cumulative energies over seeds
	sum           int64
	staleReports  int
	rebuildEveryN int
}

func newWeightedPolicy(c *corpus.Corpus, randSeed int64) *weightedPolicy {
	return &weightedPolicy{
		corpus:        c,
		rnd:           rand.New(rand.NewSource(randSeed)),
		rebuildEveryN: 64,
	}
}

// energy scores a seed by coverage contribution, recency of the last
// new-coverage discovery, inverse size and selection fatigue.
func energy(seed *corpus.Seed) int64 {
	base := int64(seed.Signal.Len())
	if base == 0 {
		base = 1
	}
	sizeDiv := int64(bits.Len(uint(seed.Size()))) + 1
	e := base * 64 / sizeDiv
	since := seed.PicksSinceProductive()
	switch {
	case since == 0: // productive on the last pick, or brand new
		e *= 8
	case since <= 2:
		e *= 4
	case since <= 8:
		e *= 2
	}
	e /= 1 + seed.TimesChosen()/32
	if e < 1 {
		e = 1
	}
	return e
}

func (pol *weightedPolicy) Next(ctx context.Context) *corpus.Seed {
	if !waitSeed(ctx, pol.corpus) {
		return nil
	}
	pol.mu.Lock()
	defer pol.mu.Unlock()
	if len(pol.seeds) != pol.corpus.Len() || pol.staleReports >= pol.rebuildEveryN {
		pol.rebuild()
	}
	if len(pol.seeds) == 0 {
		return nil
	}
	randVal := pol.rnd.Int63n(pol.sum + 1)
	idx := sort.Search(len(pol.acc), func(i int) bool {
		return pol.acc[i] >= randVal
	})
	seed := pol.tieBreak(idx)
	seed.NoteChosen()
	return seed
}

// tieBreak scans the run of equal-energy seeds around idx and prefers
// the least chosen one, so fresh seeds are not starved by older ones
// with the same score.
func (pol *weightedPolicy) tieBreak(idx int) *corpus.Seed {
	const window = 16
	e := pol.energyAt(idx)
	best := pol.seeds[idx]
	for i := idx + 1; i < len(pol.seeds) && i < idx+window; i++ {
		if pol.energyAt(i) != e {
			break
		}
		if pol.seeds[i].TimesChosen() < best.TimesChosen() {
			best = pol.seeds[i]
		}
	}
	return best
}

func (pol *weightedPolicy) energyAt(idx int) int64 {
	if idx == 0 {
		return pol.acc[0]
	}
	return pol.acc[idx] - pol.acc[idx-1]
}

func (pol *weightedPolicy) rebuild() {
	seeds := pol.corpus.Seeds()
	type scored struct {
		seed *corpus.Seed
		e    int64
	}
	scoredSeeds := make([]scored, len(seeds))
	for i, seed := range seeds {
		scoredSeeds[i] = scored{seed, energy(seed)}
	}
	sort.SliceStable(scoredSeeds, func(i, j int) bool {
		return scoredSeeds[i].e > scoredSeeds[j].e
	})
	pol.seeds = pol.seeds[:0]
	pol.acc = pol.acc[:0]
	pol.sum = 0
	for _, ss := range scoredSeeds {
		pol.sum += ss.e
		pol.seeds = append(pol.seeds, ss.seed)
		pol.acc = append(pol.acc, pol.sum)
	}
	pol.staleReports = 0
}

func (pol *weightedPolicy) Report(seed *corpus.Seed, fb Feedback) {
	if fb.NewCoverage {
		seed.NoteProductive()
	}
	pol.mu.Lock()
	pol.staleReports++
	pol.mu.Unlock()
}
