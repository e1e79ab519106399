// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/peelfuzz/peelfuzz/pkg/hash"
	"github.com/peelfuzz/peelfuzz/pkg/signal"
)

// Corpus represents the set of inputs that cover the target up to the
// currently reached frontiers. Seeds are only ever added, never removed;
// unproductive seeds are deprioritized by the scheduler instead.
type Corpus struct {
	ctx     context.Context
	mu      sync.RWMutex
	seeds   map[string]*Seed
	order   []*Seed       // insertion order, used by the round-robin policy
	signal  signal.Signal // total signal of all seeds
	updates chan<- NewSeedEvent
	SeedList
}

func NewCorpus(ctx context.Context) *Corpus {
	return NewMonitoredCorpus(ctx, nil)
}

func NewMonitoredCorpus(ctx context.Context, updates chan<- NewSeedEvent) *Corpus {
	return &Corpus{
		ctx:     ctx,
		seeds:   make(map[string]*Seed),
		updates: updates,
	}
}

// Seed input bytes and coverage metadata are immutable once stored;
// the scheduling counters are atomics so the Scheduler can update them
// without taking the corpus lock.
type Seed struct {
	Sig          string
	Data         []byte
	Signal       signal.Signal // coverage contribution at save time
	DiscoveredAt time.Time

	timesChosen    atomic.Int64
	lastProductive atomic.Int64 // value of timesChosen at the last pick that found new coverage
}

func (seed *Seed) Size() int {
	return len(seed.Data)
}

// NoteChosen records one scheduling pick and returns the new pick count.
func (seed *Seed) NoteChosen() int64 {
	return seed.timesChosen.Add(1)
}

func (seed *Seed) TimesChosen() int64 {
	return seed.timesChosen.Load()
}

// NoteProductive marks the last pick as having produced new coverage.
func (seed *Seed) NoteProductive() {
	seed.lastProductive.Store(seed.timesChosen.Load())
}

// PicksSinceProductive returns how many picks ago this seed last
// produced new coverage (its whole life if it never did).
func (seed *Seed) PicksSinceProductive() int64 {
	return seed.timesChosen.Load() - seed.lastProductive.Load()
}

type NewInput struct {
	Data   []byte
	Signal signal.Signal
}

type NewSeedEvent struct {
	Sig       string
	Exists    bool
	Data      []byte
	NewSignal signal.Signal
}

// Save promotes an input to a corpus seed. If a seed with the same
// bytes already exists, only its signal is extended.
func (corpus *Corpus) Save(inp NewInput) *Seed {
	sig := hash.String(inp.Data)

	corpus.mu.Lock()
	defer corpus.mu.Unlock()

	exists := false
	seed, ok := corpus.seeds[sig]
	if ok {
		exists = true
		newSignal := seed.Signal.Copy()
		newSignal.Merge(inp.Signal)
		seed.Signal = newSignal
	} else {
		data := append([]byte{}, inp.Data...)
		seed = &Seed{
			Sig:          sig,
			Data:         data,
			Signal:       inp.Signal.Copy(),
			DiscoveredAt: time.Now(),
		}
		corpus.seeds[sig] = seed
		corpus.order = append(corpus.order, seed)
		corpus.saveSeed(seed)
	}
	newSignal := corpus.signal.Diff(inp.Signal)
	corpus.signal.Merge(inp.Signal)
	if corpus.updates != nil {
		select {
		case <-corpus.ctx.Done():
		case corpus.updates <- NewSeedEvent{
			Sig:       sig,
			Exists:    exists,
			Data:      seed.Data,
			NewSignal: newSignal,
		}:
		}
	}
	return seed
}

func (corpus *Corpus) Signal() signal.Signal {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	return corpus.signal.Copy()
}

func (corpus *Corpus) Seeds() []*Seed {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	return append([]*Seed{}, corpus.order...)
}

func (corpus *Corpus) Seed(sig string) *Seed {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	return corpus.seeds[sig]
}

// SeedAt returns the idx-th seed in discovery order, wrapping around.
func (corpus *Corpus) SeedAt(idx int) *Seed {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	if len(corpus.order) == 0 {
		return nil
	}
	return corpus.order[idx%len(corpus.order)]
}

func (corpus *Corpus) Len() int {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	return len(corpus.order)
}

// Stats is a snapshot of the relevant current state figures.
type Stats struct {
	Seeds  int
	Signal int
}

func (corpus *Corpus) Stats() Stats {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	return Stats{
		Seeds:  len(corpus.seeds),
		Signal: len(corpus.signal),
	}
}
