// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzer ties the corpus, scheduler, mutation engine and triage
// store into a request source for the execution pool. Workers pull
// requests via Next, results flow back through the request callbacks.
package fuzzer

import (
	"context"
	"math/rand"
	"sync"

	"github.com/peelfuzz/peelfuzz/pkg/corpus"
	"github.com/peelfuzz/peelfuzz/pkg/mutate"
	"github.com/peelfuzz/peelfuzz/pkg/queue"
	"github.com/peelfuzz/peelfuzz/pkg/sched"
	"github.com/peelfuzz/peelfuzz/pkg/signal"
	"github.com/peelfuzz/peelfuzz/pkg/stat"
	"github.com/peelfuzz/peelfuzz/pkg/triage"
)

type Config struct {
	Corpus    *corpus.Corpus
	Scheduler sched.Scheduler
	Triage    *triage.Store
	Logf      func(level int, msg string, args ...interface{})
	// MaxInputLen bounds mutated inputs, defaults to 4096.
	MaxInputLen int
}

type Fuzzer struct {
	Config *Config
	Cover  *Cover

	ctx context.Context

	// The mutation engine carries the run's single deterministic random
	// stream, so every user goes through mu.
	mu  sync.Mutex
	rnd *rand.Rand
	eng *mutate.Engine

	candidateQueue *queue.PlainQueue
	source         queue.Source

	statExecFuzz   *stat.Val
	statExecSplice *stat.Val
	statExecGen    *stat.Val
	statExecSeed   *stat.Val
	statNewInputs  *stat.Val
	statCandidates *stat.Val
}

const defaultMaxInputLen = 4096

func NewFuzzer(ctx context.Context, cfg *Config, randSeed int64) *Fuzzer {
	if cfg.MaxInputLen == 0 {
		cfg.MaxInputLen = defaultMaxInputLen
	}
	f := &Fuzzer{
		Config: cfg,
		Cover:  newCover(),
		ctx:    ctx,
		rnd:    rand.New(rand.NewSource(randSeed)),
		eng:    mutate.NewEngine(rand.NewSource(randSeed+1), cfg.MaxInputLen),

		candidateQueue: queue.Plain(),

		statExecFuzz: stat.New("exec fuzz", "Executions of mutated inputs",
			stat.Rate{}),
		statExecSplice: stat.New("exec splice", "Executions of spliced inputs",
			stat.Rate{}),
		statExecGen: stat.New("exec gen", "Executions of freshly generated inputs",
			stat.Rate{}),
		statExecSeed: stat.New("exec seed", "Executions of corpus candidates",
			stat.Simple),
		statNewInputs: stat.New("new inputs", "Inputs promoted to the corpus",
			stat.Console, stat.Prometheus("peelfuzz_new_inputs_total")),
		statCandidates: stat.New("candidates", "Corpus candidates still to measure",
			stat.Simple),
	}
	stat.New("max signal", "Maximum coverage signal ever observed", stat.Console,
		stat.Prometheus("peelfuzz_max_signal"),
		func() int { return f.Cover.Stats().MaxSignal })
	// Candidates carry baseline coverage, they go first.
	f.source = queue.Order(
		f.candidateQueue,
		queue.Callback(f.genFuzz),
	)
	return f
}

// AddCandidates enqueues raw inputs to be executed once to measure their
// coverage before they enter the corpus. Initial seeds and inputs loaded
// from the corpus database arrive this way.
func (fuzzer *Fuzzer) AddCandidates(inputs [][]byte) {
	fuzzer.statCandidates.Add(len(inputs))
	for _, data := range inputs {
		req := &queue.Request{
			Data: data,
			Stat: fuzzer.statExecSeed,
		}
		req.OnDone(func(req *queue.Request, res *queue.Result) bool {
			return fuzzer.processCandidate(req, res)
		})
		fuzzer.candidateQueue.Submit(req)
	}
}

// CandidatesDone reports whether all enqueued candidates have been measured.
func (fuzzer *Fuzzer) CandidatesDone() bool {
	return fuzzer.statCandidates.Val() == 0
}

// Next implements queue.Source for the execution pool.
func (fuzzer *Fuzzer) Next() *queue.Request {
	return fuzzer.source.Next()
}

func (fuzzer *Fuzzer) genFuzz() *queue.Request {
	seed := fuzzer.Config.Scheduler.Next(fuzzer.ctx)
	if seed == nil {
		return nil
	}
	var data []byte
	var st *stat.Val

	fuzzer.mu.Lock()
	p := fuzzer.rnd.Float64()
	switch {
	case p < 0.80:
		data, st = fuzzer.eng.Mutate(seed.Data), fuzzer.statExecFuzz
	case p < 0.95:
		other := fuzzer.Config.Corpus.ChooseSeed(fuzzer.rnd)
		if other != nil && other != seed {
			data, st = fuzzer.eng.Splice(seed.Data, other.Data), fuzzer.statExecSplice
		} else {
			data, st = fuzzer.eng.Mutate(seed.Data), fuzzer.statExecFuzz
		}
	default:
		data, st = fuzzer.eng.Generate(len(seed.Data)), fuzzer.statExecGen
	}
	fuzzer.mu.Unlock()

	req := &queue.Request{
		Data:    data,
		SeedSig: seed.Sig,
		Stat:    st,
	}
	req.OnDone(func(req *queue.Request, res *queue.Result) bool {
		return fuzzer.processResult(seed, req, res)
	})
	return req
}

func (fuzzer *Fuzzer) processResult(seed *corpus.Seed, req *queue.Request, res *queue.Result) bool {
	fb := sched.Feedback{}
	switch res.Status {
	case queue.Crashed, queue.Hanged:
		fb.Crashed = res.Status == queue.Crashed
		if bug, first := fuzzer.Config.Triage.Note(req.Data, res); first {
			fuzzer.Logf(0, "new bug: %v (sig %v)", bug.Title, bug.Sig)
		}
	case queue.ExecFailure:
		fuzzer.Config.Scheduler.Report(seed, fb)
		return true
	}
	// Coverage from crashed executions is still real coverage, the
	// input reached the faulting path through it.
	if diff := fuzzer.Cover.addRawMaxSignal(res.Cover); !diff.Empty() {
		fb.NewCoverage = true
		fuzzer.statNewInputs.Add(1)
		fuzzer.Config.Corpus.Save(corpus.NewInput{
			Data:   req.Data,
			Signal: signal.FromRaw(res.Cover),
		})
		fuzzer.Logf(3, "new input, %v new signal", diff.Len())
	}
	fuzzer.Config.Scheduler.Report(seed, fb)
	return true
}

// processCandidate saves measured seeds into the corpus unconditionally.
// The starting corpus must not depend on which seed got executed first.
func (fuzzer *Fuzzer) processCandidate(req *queue.Request, res *queue.Result) bool {
	defer fuzzer.statCandidates.Add(-1)
	switch res.Status {
	case queue.Crashed, queue.Hanged:
		if bug, first := fuzzer.Config.Triage.Note(req.Data, res); first {
			fuzzer.Logf(0, "seed input crashes on its own: %v", bug.Title)
		}
	case queue.ExecFailure:
		return true
	}
	fuzzer.Cover.addRawMaxSignal(res.Cover)
	fuzzer.Config.Corpus.Save(corpus.NewInput{
		Data:   req.Data,
		Signal: signal.FromRaw(res.Cover),
	})
	return true
}

func (fuzzer *Fuzzer) Logf(level int, msg string, args ...interface{}) {
	if fuzzer.Config.Logf == nil {
		return
	}
	fuzzer.Config.Logf(level, msg, args...)
}
