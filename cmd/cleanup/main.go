// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/netSkope/destlist-cleanup/internal/config"
	cleanuplog "github.com/netSkope/destlist-cleanup/internal/log"
	"github.com/netSkope/destlist-cleanup/internal/metrics"
	"github.com/netSkope/destlist-cleanup/internal/util"
	"go.uber.org/zap"
)

// command registers its flags on fs and returns the function that runs it
// once configuration is loaded.
type command struct {
	summary string
	setup   func(fs *flag.FlagSet) func(ctx context.Context, a *app) error
}

var commands = map[string]command{
	"interactive": {"Guided export, filter, cross-check, selection and deletion (default)", setupInteractive},
	"export":      {"Export a destination list to CSV", setupExport},
	"age-filter":  {"Keep entries created at least -days ago", setupAgeFilter},
	"crosscheck":  {"Add the last Defender observation to every entry", setupCrosscheck},
	"select":      {"Select cleanup candidates and write their ids", setupSelect},
	"delete":      {"Delete the ids in -file from a destination list", setupDelete},
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: cleanup [command] [flags]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", n, commands[n].summary)
	}
	fmt.Fprintf(os.Stderr, "\nRun 'cleanup <command> -h' for the flags of a command.\n")
}

func main() {
	name, args := "interactive", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", name)
		usage()
		os.Exit(2)
	}

	// Load configuration
	fs := flag.NewFlagSet("cleanup "+name, flag.ExitOnError)
	exec := cmd.setup(fs)
	cfg, err := config.LoadConfig(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := cleanuplog.NewLogger(cfg.LogDir, cfg.LogName, cfg.LogDebug, cfg.LogStdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	runID := cleanuplog.NewRunID()
	logger = cleanuplog.WithRun(logger, runID, name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	logger.Info("Starting destination list cleanup",
		zap.String("output_dir", cfg.OutputDir),
		zap.Bool("archive", cfg.ArchiveEnabled()))

	util.LoadAWSCredentials()
	if util.NeedsSecrets(cfg) {
		svc, err := util.NewSecretsClient(ctx, cfg.AWSRegion)
		if err == nil {
			err = util.ResolveCredentials(ctx, cfg, svc, logger)
		}
		if err != nil {
			fail(logger, stop, "Failed to resolve credentials", err)
		}
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics.New(), runID: runID}
	err = exec(ctx, a)

	if werr := a.metrics.WriteTextfile(cfg.MetricsTextfile); werr != nil {
		logger.Warn("Failed to write metrics", zap.Error(werr))
	}
	if err != nil {
		fail(logger, stop, "Command failed", err)
	}

	logger.Info("Destination list cleanup finished")
	stop()
	_ = logger.Sync()
}

func fail(logger *zap.Logger, stop context.CancelFunc, msg string, err error) {
	logger.Error(msg, zap.Error(err))
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	stop()
	_ = logger.Sync()
	os.Exit(1)
}
