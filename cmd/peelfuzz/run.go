// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/peelfuzz/peelfuzz/pkg/log"
	"github.com/peelfuzz/peelfuzz/pkg/peelfuzz"
	"github.com/peelfuzz/peelfuzz/pkg/sched"
)

// fileConfig mirrors the run flags for TOML config files. Flags that
// were set explicitly on the command line win over the file.
type fileConfig struct {
	Target      string `toml:"target"`
	Scheduler   string `toml:"scheduler"`
	TimeoutMs   int    `toml:"timeout_ms"`
	CrashDir    string `toml:"crash_dir"`
	SeedCount   int    `toml:"seed_count"`
	CoreCount   int    `toml:"core_count"`
	CorpusDB    string `toml:"corpus_db"`
	RandSeed    int64  `toml:"rand_seed"`
	SaveHangs   bool   `toml:"save_hangs"`
	TUI         bool   `toml:"tui"`
	MaxExecs    int    `toml:"max_execs"`
	MaxDuration string `toml:"max_duration"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a fuzzing campaign",
	RunE:  runRun,
}

func init() {
	flags := runCmd.Flags()
	flags.String("config", "", "TOML config file")
	flags.String("target", "", "registered target name")
	flags.String("scheduler", "weighted", "seed scheduler (queue|weighted)")
	flags.Int("timeout-ms", 0, "per-execution timeout in ms (0 = 1000)")
	flags.String("crash-dir", "", "crash artifact directory (empty = ./crashes)")
	flags.Int("seed-count", 0, "initial random seeds (0 = 8)")
	flags.Int("cores", 0, "parallel execution workers (0 = 1)")
	flags.String("corpus-db", "", "persist the corpus to this file")
	flags.Int64("rand-seed", 0, "mutation rand seed (0 = time-derived)")
	flags.Bool("save-hangs", false, "persist artifacts for hanging inputs too")
	flags.Bool("tui", false, "live terminal dashboard")
	flags.Int("max-execs", 0, "stop after this many executions (0 = unlimited)")
	flags.Duration("max-duration", 0, "stop after this long (0 = unlimited)")
}

func runRun(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	verbosity, _ := cmd.Root().PersistentFlags().GetInt("verbosity")
	log.SetVerbosity(verbosity)
	log.EnableLogCaching(1000, 1<<20)

	var file fileConfig
	if path, _ := flags.GetString("config"); path != "" {
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return fmt.Errorf("failed to parse config %v: %w", path, err)
		}
	}

	cfg := peelfuzz.Config{
		Target:    file.Target,
		Timeout:   time.Duration(file.TimeoutMs) * time.Millisecond,
		CrashDir:  file.CrashDir,
		SeedCount: file.SeedCount,
		CoreCount: file.CoreCount,
		CorpusDB:  file.CorpusDB,
		RandSeed:  file.RandSeed,
		SaveHangs: file.SaveHangs,
		TUI:       file.TUI,
		MaxExecs:  file.MaxExecs,
		Logf:      log.Logf,
	}
	schedName := file.Scheduler
	if file.MaxDuration != "" {
		d, err := time.ParseDuration(file.MaxDuration)
		if err != nil {
			return fmt.Errorf("bad max_duration in config: %w", err)
		}
		cfg.MaxDuration = d
	}

	if flags.Changed("target") {
		cfg.Target, _ = flags.GetString("target")
	}
	if flags.Changed("scheduler") || schedName == "" {
		schedName, _ = flags.GetString("scheduler")
	}
	if flags.Changed("timeout-ms") {
		ms, _ := flags.GetInt("timeout-ms")
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}
	if flags.Changed("crash-dir") {
		cfg.CrashDir, _ = flags.GetString("crash-dir")
	}
	if flags.Changed("seed-count") {
		cfg.SeedCount, _ = flags.GetInt("seed-count")
	}
	if flags.Changed("cores") {
		cfg.CoreCount, _ = flags.GetInt("cores")
	}
	if flags.Changed("corpus-db") {
		cfg.CorpusDB, _ = flags.GetString("corpus-db")
	}
	if flags.Changed("rand-seed") {
		cfg.RandSeed, _ = flags.GetInt64("rand-seed")
	}
	if flags.Changed("save-hangs") {
		cfg.SaveHangs, _ = flags.GetBool("save-hangs")
	}
	if flags.Changed("tui") {
		cfg.TUI, _ = flags.GetBool("tui")
	}
	if flags.Changed("max-execs") {
		cfg.MaxExecs, _ = flags.GetInt("max-execs")
	}
	if flags.Changed("max-duration") {
		cfg.MaxDuration, _ = flags.GetDuration("max-duration")
	}

	kind, err := sched.ParseKind(schedName)
	if err != nil {
		return err
	}
	cfg.Scheduler = kind

	if cfg.TUI {
		// The dashboard owns the terminal and shows the cached log
		// tail itself.
		log.SetVerbosity(-1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := peelfuzz.Run(ctx, cfg)
	if err != nil {
		return err
	}
	printSummary(summary)
	return nil
}

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	bugColor    = color.New(color.FgRed, color.Bold)
	okColor     = color.New(color.FgGreen)
)

func printSummary(summary *peelfuzz.Summary) {
	headerColor.Printf("run %v finished\n", summary.RunID)
	fmt.Printf("  target:     %v\n", summary.Target)
	fmt.Printf("  scheduler:  %v (%v workers)\n", summary.Scheduler, summary.Workers)
	fmt.Printf("  duration:   %v\n", summary.Duration.Round(time.Millisecond))
	fmt.Printf("  executions: %v (%v avg)\n", summary.Execs, summary.AvgExecTime.Round(time.Microsecond))
	fmt.Printf("  max signal: %v\n", summary.MaxSignal)
	fmt.Printf("  corpus:     %v seeds\n", summary.Seeds)
	if summary.UniqueBugs == 0 {
		okColor.Println("  no bugs found")
		return
	}
	bugColor.Printf("  %v bugs (%v crashes total)\n", summary.UniqueBugs, summary.Crashes)
	for _, bug := range summary.Bugs {
		fmt.Printf("    %4dx %v  %v\n", bug.Count, bug.Sig[:16], bug.Title)
	}
}
