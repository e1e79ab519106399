// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package triage deduplicates faults and persists crash artifacts.
// Two inputs that fault at the same location with the same message are
// the same bug, regardless of the input bytes that got them there.
package triage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/peelfuzz/peelfuzz/pkg/hash"
	"github.com/peelfuzz/peelfuzz/pkg/osutil"
	"github.com/peelfuzz/peelfuzz/pkg/queue"
	"github.com/peelfuzz/peelfuzz/pkg/stat"
)

type Config struct {
	// CrashDir is where per-bug artifact directories are created.
	CrashDir string
	// SaveHangs also persists artifacts for timed out inputs.
	// Off by default since hangs are usually scheduler noise rather
	// than distinct bugs.
	SaveHangs bool
	Logf      func(level int, msg string, args ...interface{})
}

// Bug is one deduplicated fault with its sighting counters.
type Bug struct {
	Sig       string
	Title     string
	Frames    []string
	Hang      bool
	Count     int
	InputLen  int
	FirstSeen time.Time
}

type Store struct {
	cfg   Config
	mu    sync.Mutex
	bugs  map[string]*Bug
	wake  chan struct{}
	queue []writeJob

	statCrashes *stat.Val
	statUnique  *stat.Val
	statHangs   *stat.Val
}

type writeJob struct {
	bug    *Bug
	input  []byte
	report []byte
	// first carries the full artifact set, otherwise only the
	// repro counter is refreshed.
	first bool
	count int
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.CrashDir == "" {
		return nil, fmt.Errorf("triage: empty crash dir")
	}
	if err := osutil.MkdirAll(cfg.CrashDir); err != nil {
		return nil, fmt.Errorf("triage: %w", err)
	}
	if err := osutil.IsWritable(cfg.CrashDir); err != nil {
		return nil, fmt.Errorf("triage: crash dir %q is not writable: %w", cfg.CrashDir, err)
	}
	if cfg.Logf == nil {
		cfg.Logf = func(level int, msg string, args ...interface{}) {}
	}
	st := &Store{
		cfg:  cfg,
		bugs: make(map[string]*Bug),
		wake: make(chan struct{}, 1),
		statCrashes: stat.New("crashes", "Total crashes observed",
			stat.Console, stat.Prometheus("peelfuzz_crashes_total")),
		statUnique: stat.New("unique crashes", "Deduplicated crash count",
			stat.Console, stat.Prometheus("peelfuzz_unique_crashes_total")),
		statHangs: stat.New("hangs", "Inputs that exceeded the execution timeout",
			stat.Simple),
	}
	return st, nil
}

// Note records a faulting execution. It returns the deduplicated bug
// and whether this was its first sighting. Artifact writes happen on
// the Run goroutine, Note itself never blocks on the filesystem.
func (st *Store) Note(data []byte, res *queue.Result) (*Bug, bool) {
	hang := res.Status == queue.Hanged
	if hang {
		st.statHangs.Add(1)
		if !st.cfg.SaveHangs {
			return nil, false
		}
	} else {
		st.statCrashes.Add(1)
	}
	sig := faultSig(res.Fault)

	st.mu.Lock()
	bug := st.bugs[sig]
	first := bug == nil
	if first {
		bug = &Bug{
			Sig:       sig,
			Title:     res.Fault.Msg,
			Frames:    res.Fault.Frames,
			Hang:      hang,
			InputLen:  len(data),
			FirstSeen: time.Now(),
		}
		st.bugs[sig] = bug
		st.statUnique.Add(1)
	}
	bug.Count++
	job := writeJob{
		bug:   bug,
		first: first,
		count: bug.Count,
	}
	if first {
		job.input = append([]byte(nil), data...)
		job.report = renderReport(res.Fault, hang)
	}
	st.queue = append(st.queue, job)
	st.mu.Unlock()

	select {
	case st.wake <- struct{}{}:
	default:
	}
	return bug, first
}

// Run services artifact writes until ctx is cancelled, then drains
// whatever is still queued so no observed crash is lost on shutdown.
func (st *Store) Run(ctx context.Context) error {
	for {
		select {
		case <-st.wake:
			st.flush()
		case <-ctx.Done():
			st.flush()
			return nil
		}
	}
}

func (st *Store) flush() {
	for {
		st.mu.Lock()
		if len(st.queue) == 0 {
			st.mu.Unlock()
			return
		}
		job := st.queue[0]
		st.queue = st.queue[1:]
		st.mu.Unlock()
		st.write(job)
	}
}

func (st *Store) write(job writeJob) {
	dir := filepath.Join(st.cfg.CrashDir, job.bug.Sig)
	if job.first {
		if err := osutil.MkdirAll(dir); err != nil {
			st.cfg.Logf(0, "failed to create bug dir %v: %v", dir, err)
			return
		}
		st.writeFile(filepath.Join(dir, "description"), []byte(job.bug.Title+"\n"))
		st.writeFile(filepath.Join(dir, "input"), job.input)
		st.writeFile(filepath.Join(dir, "report"), job.report)
	}
	st.writeFile(filepath.Join(dir, "repro_count"), []byte(fmt.Sprintf("%d\n", job.count)))
}

// writeFile retries once before giving up, transient errors on busy
// filesystems are common enough during long campaigns.
func (st *Store) writeFile(path string, data []byte) {
	err := osutil.WriteFileAtomic(path, data)
	if err != nil {
		err = osutil.WriteFileAtomic(path, data)
	}
	if err != nil {
		st.cfg.Logf(0, "failed to write crash artifact %v: %v", path, err)
	}
}

// Bugs returns all deduplicated bugs ordered by first sighting.
func (st *Store) Bugs() []Bug {
	st.mu.Lock()
	defer st.mu.Unlock()
	list := make([]Bug, 0, len(st.bugs))
	for _, bug := range st.bugs {
		list = append(list, *bug)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].FirstSeen.Before(list[j].FirstSeen)
	})
	return list
}

// BugCount returns (total sightings, unique bugs).
func (st *Store) BugCount() (int, int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	total := 0
	for _, bug := range st.bugs {
		total += bug.Count
	}
	return total, len(st.bugs)
}

// faultSig folds the fault message and call frames into a stable
// directory-name-safe identifier.
func faultSig(fault *queue.Fault) string {
	return hash.String([]byte(fault.Msg + "\n" + strings.Join(fault.Frames, "\n")))
}

func renderReport(fault *queue.Fault, hang bool) []byte {
	var b strings.Builder
	if hang {
		b.WriteString("HANG: ")
	}
	b.WriteString(fault.Msg)
	b.WriteByte('\n')
	for _, frame := range fault.Frames {
		b.WriteString("  ")
		b.WriteString(frame)
		b.WriteByte('\n')
	}
	if len(fault.Stack) != 0 {
		b.WriteByte('\n')
		b.Write(fault.Stack)
	}
	return []byte(b.String())
}

// LoadInput reads back the reproducer for a bug signature.
func (st *Store) LoadInput(sig string) ([]byte, error) {
	return os.ReadFile(filepath.Join(st.cfg.CrashDir, sig, "input"))
}
