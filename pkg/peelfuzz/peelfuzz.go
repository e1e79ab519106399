// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package peelfuzz is the public entry point of the fuzzing engine.
// Callers fill in a Config, hand it a context and get back a run
// summary once the context is cancelled or the budget is exhausted.
package peelfuzz

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/peelfuzz/peelfuzz/pkg/corpus"
	"github.com/peelfuzz/peelfuzz/pkg/db"
	"github.com/peelfuzz/peelfuzz/pkg/exec"
	"github.com/peelfuzz/peelfuzz/pkg/fuzzer"
	"github.com/peelfuzz/peelfuzz/pkg/harness"
	"github.com/peelfuzz/peelfuzz/pkg/log"
	"github.com/peelfuzz/peelfuzz/pkg/sched"
	"github.com/peelfuzz/peelfuzz/pkg/stat"
	"github.com/peelfuzz/peelfuzz/pkg/targets"
	"github.com/peelfuzz/peelfuzz/pkg/triage"
	"github.com/peelfuzz/peelfuzz/pkg/tui"
)

// Fatal startup errors. Per-execution faults are never errors, they
// are contained at the worker and recorded by triage.
var (
	ErrConfigInvalid   = errors.New("invalid configuration")
	ErrCorpusExhausted = errors.New("corpus exhausted: no initial seeds")
)

type Config struct {
	// Target names a registered target (see pkg/targets).
	// Harness, if set, takes precedence over Target.
	Target  string
	Harness harness.Harness

	Scheduler sched.Kind
	// Timeout bounds one target execution, 0 means 1s.
	Timeout time.Duration
	// CrashDir receives crash artifacts, empty means ./crashes.
	CrashDir string
	// SeedCount initial random seeds are generated at startup,
	// 0 means 8. Negative disables generation, then Seeds or
	// CorpusDB must supply the initial corpus.
	SeedCount int
	// Seeds are caller-supplied initial inputs.
	Seeds [][]byte
	// CoreCount execution workers run in parallel, 0 means 1.
	CoreCount int
	// CorpusDB, if set, persists the corpus across runs.
	CorpusDB string
	// RandSeed makes mutation reproducible, 0 means time-derived.
	RandSeed int64
	// SaveHangs persists artifacts for timed out inputs too.
	SaveHangs bool
	// TUI shows the live dashboard instead of periodic log lines.
	// Quitting the dashboard stops the run.
	TUI bool
	// MaxInputLen bounds mutated inputs, 0 means 4096.
	MaxInputLen int
	// MaxExecs and MaxDuration bound the campaign, 0 means unlimited.
	MaxExecs    int
	MaxDuration time.Duration

	Logf func(level int, msg string, args ...interface{})
}

// seedSizes are the size classes initial seeds are spread across,
// round robin with the remainder landing on the smaller sizes.
var seedSizes = [...]int{4, 16, 32, 64, 128}

func (cfg *Config) setDefaults() {
	if cfg.Timeout == 0 {
		cfg.Timeout = exec.DefaultTimeout
	}
	if cfg.CrashDir == "" {
		cfg.CrashDir = "./crashes"
	}
	if cfg.SeedCount == 0 {
		cfg.SeedCount = 8
	}
	if cfg.CoreCount == 0 {
		cfg.CoreCount = 1
	}
	if cfg.RandSeed == 0 {
		cfg.RandSeed = time.Now().UnixNano()
	}
	if cfg.Logf == nil {
		cfg.Logf = log.Logf
	}
}

func (cfg *Config) validate() error {
	if cfg.Harness == nil && cfg.Target == "" {
		return fmt.Errorf("%w: no target", ErrConfigInvalid)
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrConfigInvalid)
	}
	if cfg.CoreCount < 0 {
		return fmt.Errorf("%w: negative core count", ErrConfigInvalid)
	}
	if cfg.SeedCount < 0 && len(cfg.Seeds) == 0 && cfg.CorpusDB == "" {
		return ErrCorpusExhausted
	}
	return nil
}

// Summary is the final report of one campaign.
type Summary struct {
	RunID     string
	Target    string
	Scheduler string
	Workers   int
	Started   time.Time
	Duration  time.Duration
	Execs     int
	// AvgExecTime is the running average of one target execution.
	AvgExecTime time.Duration
	MaxSignal   int
	Seeds       int
	Crashes     int
	UniqueBugs  int
	Bugs        []triage.Bug
}

// Run executes one fuzzing campaign. It blocks until ctx is cancelled,
// the configured budget is exhausted or the dashboard user quits, then
// drains pending crash writes and returns the summary. Startup
// problems fail fast before any worker runs.
func Run(ctx context.Context, cfg Config) (*Summary, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	target := cfg.Harness
	if target == nil {
		var err error
		target, err = targets.Lookup(cfg.Target)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
		}
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var updates chan corpus.NewSeedEvent
	var corpusDB *db.DB
	if cfg.CorpusDB != "" {
		var err error
		corpusDB, err = db.Open(cfg.CorpusDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open corpus db: %w", err)
		}
		updates = make(chan corpus.NewSeedEvent, 64)
	}
	corp := corpus.NewMonitoredCorpus(runCtx, updates)

	scheduler, err := sched.New(cfg.Scheduler, corp, cfg.RandSeed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	store, err := triage.NewStore(triage.Config{
		CrashDir:  cfg.CrashDir,
		SaveHangs: cfg.SaveHangs,
		Logf:      cfg.Logf,
	})
	if err != nil {
		return nil, err
	}

	fz := fuzzer.NewFuzzer(runCtx, &fuzzer.Config{
		Corpus:      corp,
		Scheduler:   scheduler,
		Triage:      store,
		Logf:        cfg.Logf,
		MaxInputLen: cfg.MaxInputLen,
	}, cfg.RandSeed)

	candidates := initialSeeds(&cfg, corpusDB)
	if len(candidates) == 0 {
		return nil, ErrCorpusExhausted
	}
	fz.AddCandidates(candidates)

	pool := exec.NewPool(cfg.CoreCount, exec.Config{
		Harness: target,
		Timeout: cfg.Timeout,
		Source:  fz,
		Logf:    cfg.Logf,
	})

	summary := &Summary{
		RunID:     uuid.New().String(),
		Target:    target.Name(),
		Scheduler: cfg.Scheduler.String(),
		Workers:   pool.Count(),
		Started:   time.Now(),
	}
	cfg.Logf(0, "run %v: target %v, %v workers, %v scheduler, %v seeds",
		summary.RunID, summary.Target, summary.Workers, summary.Scheduler,
		len(candidates))

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return pool.Run(gctx)
	})
	g.Go(func() error {
		// Crash artifacts are written as faults are triaged, not at
		// the end of the campaign.
		return store.Run(gctx)
	})
	if cfg.MaxExecs > 0 || cfg.MaxDuration > 0 {
		g.Go(func() error {
			watchBudget(gctx, &cfg, pool, stop)
			return nil
		})
	}
	if corpusDB != nil {
		g.Go(func() error {
			persistCorpus(gctx, corpusDB, updates)
			return nil
		})
	}
	if cfg.TUI {
		g.Go(func() error {
			defer stop()
			return tui.Run(gctx, func() tui.Snapshot {
				return tui.Snapshot{
					Target:    summary.Target,
					Scheduler: summary.Scheduler,
					Workers:   summary.Workers,
					Started:   summary.Started,
					Metrics:   stat.Collect(stat.All),
					Bugs:      store.Bugs(),
					Log:       log.CachedLogOutput(),
				}
			})
		})
	} else {
		g.Go(func() error {
			heartbeat(gctx, cfg.Logf)
			return nil
		})
	}

	runErr := g.Wait()
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// Workers are stopped, drain triage so no observed crash is lost.
	triageCtx, cancelTriage := context.WithCancel(context.Background())
	cancelTriage()
	if err := store.Run(triageCtx); err != nil && runErr == nil {
		runErr = err
	}
	if corpusDB != nil {
		drainCorpus(corpusDB, updates)
		if err := corpusDB.Flush(); err != nil {
			cfg.Logf(0, "failed to flush corpus db: %v", err)
		}
	}

	summary.Duration = time.Since(summary.Started)
	summary.Execs = pool.Executions()
	summary.AvgExecTime = pool.AvgExecTime()
	summary.MaxSignal = fz.Cover.Stats().MaxSignal
	summary.Seeds = corp.Len()
	summary.Crashes, summary.UniqueBugs = store.BugCount()
	summary.Bugs = store.Bugs()
	return summary, runErr
}

// initialSeeds assembles the starting corpus: caller-supplied seeds,
// everything from the corpus db, then randomly generated seeds spread
// across the size classes.
func initialSeeds(cfg *Config, corpusDB *db.DB) [][]byte {
	var seeds [][]byte
	seeds = append(seeds, cfg.Seeds...)
	if corpusDB != nil {
		for _, rec := range corpusDB.Records {
			seeds = append(seeds, rec.Val)
		}
	}
	if cfg.SeedCount > 0 {
		rnd := rand.New(rand.NewSource(cfg.RandSeed))
		for i := 0; i < cfg.SeedCount; i++ {
			data := make([]byte, seedSizes[i%len(seedSizes)])
			rnd.Read(data)
			seeds = append(seeds, data)
		}
	}
	return seeds
}

// watchBudget cancels the run once the exec or wall-clock budget is
// exhausted.
func watchBudget(ctx context.Context, cfg *Config, pool *exec.Pool, stop func()) {
	start := time.Now()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if cfg.MaxExecs > 0 && pool.Executions() >= cfg.MaxExecs {
			stop()
			return
		}
		if cfg.MaxDuration > 0 && time.Since(start) >= cfg.MaxDuration {
			stop()
			return
		}
	}
}

// persistCorpus appends promoted seeds to the corpus db as they are
// discovered. Flushes are batched, the final flush happens in Run.
func persistCorpus(ctx context.Context, corpusDB *db.DB, updates <-chan corpus.NewSeedEvent) {
	unflushed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-updates:
			if ev.Exists {
				continue
			}
			corpusDB.Save(ev.Sig, ev.Data, 0)
			unflushed++
			if unflushed >= 100 {
				if err := corpusDB.Flush(); err == nil {
					unflushed = 0
				}
			}
		}
	}
}

// drainCorpus consumes whatever the workers managed to publish between
// the persist goroutine exiting and the pool stopping.
func drainCorpus(corpusDB *db.DB, updates <-chan corpus.NewSeedEvent) {
	for {
		select {
		case ev := <-updates:
			if !ev.Exists {
				corpusDB.Save(ev.Sig, ev.Data, 0)
			}
		default:
			return
		}
	}
}

// heartbeat logs a one line progress report every 10 seconds.
func heartbeat(ctx context.Context, logf func(level int, msg string, args ...interface{})) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var parts []string
		for _, ui := range stat.Collect(stat.Console) {
			parts = append(parts, fmt.Sprintf("%v=%v", ui.Name, ui.Value))
		}
		logf(0, "%v", strings.Join(parts, ", "))
	}
}
