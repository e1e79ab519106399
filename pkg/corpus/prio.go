// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"math/rand"
	"sort"
)

// SeedList keeps a cumulative-priority index over all seeds so a seed
// can be chosen with probability proportional to its coverage
// contribution in O(log n).
type SeedList struct {
	seeds    []*Seed
	sumPrios int64
	accPrios []int64
}

func (sl *SeedList) chooseSeed(r *rand.Rand) *Seed {
	if len(sl.seeds) == 0 {
		return nil
	}
	randVal := r.Int63n(sl.sumPrios + 1)
	idx := sort.Search(len(sl.accPrios), func(i int) bool {
		return sl.accPrios[i] >= randVal
	})
	return sl.seeds[idx]
}

func (sl *SeedList) saveSeed(seed *Seed) {
	prio := int64(seed.Signal.Len())
	if prio == 0 {
		prio = 1
	}
	sl.sumPrios += prio
	sl.accPrios = append(sl.accPrios, sl.sumPrios)
	sl.seeds = append(sl.seeds, seed)
}

// ChooseSeed picks a random seed weighted by coverage contribution.
// Used to pick splice partners and as the weighted policy's base
// distribution.
func (corpus *Corpus) ChooseSeed(r *rand.Rand) *Seed {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	return corpus.chooseSeed(r)
}
