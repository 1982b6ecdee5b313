package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/ironsheep/template-matcher/internal/config"
	"github.com/ironsheep/template-matcher/internal/imaging"
	"github.com/ironsheep/template-matcher/internal/logging"
	"github.com/ironsheep/template-matcher/internal/pipeline"
	"github.com/ironsheep/template-matcher/internal/store"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// Handle --version before flag parsing so it works with a broken config
	for _, arg := range args {
		switch arg {
		case "--version", "-v", "version":
			fmt.Printf("template-matcher %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return 0
		}
	}

	cfg, fs, err := config.Parse(args)
	if errors.Is(err, ff.ErrHelp) {
		fmt.Fprintln(os.Stderr, "template-matcher - find template images inside an archive of candidate images")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "Every flag can also be set as %s_<FLAG> in the environment.\n", config.EnvPrefix)
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)
	logger.Debug("starting", "version", Version, "built", BuildTime, "commit", GitCommit)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}

	templates, err := imaging.ListImages(cfg.TemplateDir)
	if err != nil {
		logger.Error("failed to list templates", "error", err)
		return 1
	}
	candidates, err := imaging.ListImages(cfg.CandidateDir)
	if err != nil {
		logger.Error("failed to list candidates", "error", err)
		return 1
	}
	logger.Info("loaded inputs",
		"templates", len(templates),
		"candidates", len(candidates),
		"workers", cfg.Workers)

	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if cfg.CacheDB != "" {
		db, err := store.Open(cfg.CacheDB)
		if err != nil {
			logger.Error("failed to open feature cache", "path", cfg.CacheDB, "error", err)
			return 1
		}
		defer db.Close()
		opts = append(opts, pipeline.WithFeatureStore(db))
	}

	runner, err := pipeline.NewRunner(cfg, opts...)
	if err != nil {
		logger.Error("failed to set up pipeline", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := runner.Run(ctx, templates, candidates)
	if err != nil {
		logger.Error("run failed", "error", err)
		return 1
	}

	for _, res := range report.AcceptedResults() {
		logger.Info("match",
			"template", res.TemplateID,
			"candidate", res.CandidateID,
			"inliers", res.InlierCount,
			"output", res.Output)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		logger.Debug("memory", "used_percent", fmt.Sprintf("%.1f", vm.UsedPercent))
	}
	return 0
}
