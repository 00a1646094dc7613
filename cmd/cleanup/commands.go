// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/netSkope/destlist-cleanup/internal/config"
	"github.com/netSkope/destlist-cleanup/internal/defender"
	"github.com/netSkope/destlist-cleanup/internal/deletion"
	"github.com/netSkope/destlist-cleanup/internal/exporter"
	"github.com/netSkope/destlist-cleanup/internal/metrics"
	"github.com/netSkope/destlist-cleanup/internal/pipeline"
	"github.com/netSkope/destlist-cleanup/internal/prompt"
	"github.com/netSkope/destlist-cleanup/internal/records"
	"github.com/netSkope/destlist-cleanup/internal/s3"
	"github.com/netSkope/destlist-cleanup/internal/umbrella"
	"github.com/netSkope/destlist-cleanup/internal/workflow"
	"go.uber.org/zap"
)

// app carries what every command shares.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	runID   string

	archiver *s3.Archiver
}

func (a *app) umbrella() (*umbrella.Client, error) {
	if err := a.cfg.RequireUmbrella(); err != nil {
		return nil, err
	}
	return umbrella.NewClient(a.cfg, a.logger), nil
}

func (a *app) defender() (*defender.Client, error) {
	if err := a.cfg.RequireDefender(); err != nil {
		return nil, err
	}
	return defender.NewClient(a.cfg, a.logger), nil
}

func (a *app) runner() *pipeline.Runner {
	r := pipeline.NewRunner(a.logger, a.metrics)
	r.Concurrency = a.cfg.DefenderConcurrency
	return r
}

func (a *app) setupArchive(ctx context.Context) error {
	if !a.cfg.ArchiveEnabled() || a.archiver != nil {
		return nil
	}
	arch, err := s3.NewArchiver(ctx, a.cfg, a.runID, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create S3 archiver: %w", err)
	}
	a.archiver = arch
	return nil
}

// archive mirrors stage files when an archive bucket is configured.
func (a *app) archive(ctx context.Context, paths ...string) error {
	if err := a.setupArchive(ctx); err != nil || a.archiver == nil {
		return err
	}
	for _, p := range paths {
		if _, err := a.archiver.Archive(ctx, p); err != nil {
			a.logger.Warn("Failed to archive stage file", zap.String("path", p), zap.Error(err))
		}
	}
	return nil
}

func requireFlag(name, value string) error {
	if value == "" {
		return fmt.Errorf("-%s is required", name)
	}
	return nil
}

func requireDays(name string, days int) error {
	if days < 0 {
		return fmt.Errorf("-%s must be a non-negative number of days", name)
	}
	return nil
}

func flagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func setupInteractive(fs *flag.FlagSet) func(ctx context.Context, a *app) error {
	return func(ctx context.Context, a *app) error {
		w := &workflow.Workflow{
			Prompt:      prompt.New(os.Stdin, os.Stdout),
			Logger:      a.logger,
			Metrics:     a.metrics,
			Out:         os.Stdout,
			OutputDir:   a.cfg.OutputDir,
			Concurrency: a.cfg.DefenderConcurrency,
			Umbrella: func() (workflow.Umbrella, error) {
				return a.umbrella()
			},
			Telemetry: func() (pipeline.ObservationSource, error) {
				return a.defender()
			},
		}
		if err := a.setupArchive(ctx); err != nil {
			return err
		}
		if a.archiver != nil {
			w.Archiver = a.archiver
		}
		_, err := w.Run(ctx)
		return err
	}
}

func setupExport(fs *flag.FlagSet) func(ctx context.Context, a *app) error {
	listID := fs.String("list-id", "", "Destination list to export (default: choose interactively)")
	listName := fs.String("list-name", "", "Name used for the export file when -list-id is set")
	return func(ctx context.Context, a *app) error {
		client, err := a.umbrella()
		if err != nil {
			return err
		}
		exp := exporter.NewExporter(client, a.cfg.OutputDir, a.logger)

		var res exporter.ExportResult
		if *listID != "" {
			if err := client.Authenticate(ctx); err != nil {
				return fmt.Errorf("failed to authenticate with Umbrella: %w", err)
			}
			res, err = exp.ExportList(ctx, *listID, *listName)
		} else {
			res, err = exp.Export(ctx, prompt.New(os.Stdin, os.Stdout))
		}
		if err != nil {
			return err
		}
		return a.archive(ctx, res.Path)
	}
}

func setupAgeFilter(fs *flag.FlagSet) func(ctx context.Context, a *app) error {
	file := fs.String("file", "", "Destination CSV to filter")
	days := fs.Int("days", -1, "Minimum age in days")
	return func(ctx context.Context, a *app) error {
		if err := errors.Join(requireFlag("file", *file), requireDays("days", *days)); err != nil {
			return err
		}
		res, err := a.runner().AgeFilter(*file, *days)
		if err != nil {
			return err
		}
		return a.archive(ctx, res.Path)
	}
}

func setupCrosscheck(fs *flag.FlagSet) func(ctx context.Context, a *app) error {
	file := fs.String("file", "", "Destination CSV to enrich")
	days := fs.Int("days", -1, "Defender lookback in days")
	return func(ctx context.Context, a *app) error {
		if err := errors.Join(requireFlag("file", *file), requireDays("days", *days)); err != nil {
			return err
		}
		src, err := a.defender()
		if err != nil {
			return err
		}
		res, err := a.runner().Enrich(ctx, *file, *days, src)
		if err != nil {
			return err
		}
		if res.Path == *file {
			return nil
		}
		return a.archive(ctx, res.Path)
	}
}

func setupSelect(fs *flag.FlagSet) func(ctx context.Context, a *app) error {
	file := fs.String("file", "", "Destination CSV to select from")
	createdDays := fs.Int("created-days", -1, "Minimum age in days")
	defenderDays := fs.Int("defender-days", -1, "Minimum Defender inactivity in days (optional)")
	return func(ctx context.Context, a *app) error {
		if err := errors.Join(requireFlag("file", *file), requireDays("created-days", *createdDays)); err != nil {
			return err
		}
		var inactive *int
		if flagSet(fs, "defender-days") {
			if err := requireDays("defender-days", *defenderDays); err != nil {
				return err
			}
			inactive = defenderDays
		}
		res, err := a.runner().Select(*file, *createdDays, inactive)
		if err != nil {
			return err
		}
		return a.archive(ctx, res.CSVPath, res.IDsPath)
	}
}

func setupDelete(fs *flag.FlagSet) func(ctx context.Context, a *app) error {
	listID := fs.String("list-id", "", "Destination list to delete from")
	listName := fs.String("list-name", "", "Destination list name, for display")
	file := fs.String("file", "", "JSON file with the destination ids to delete")
	dryRun := fs.Bool("dry-run", false, "Authenticate and show the ids without deleting")
	yes := fs.Bool("yes", false, "Confirm a live deletion")
	return func(ctx context.Context, a *app) error {
		if err := errors.Join(requireFlag("list-id", *listID), requireFlag("file", *file)); err != nil {
			return err
		}
		if _, err := strconv.ParseInt(*listID, 10, 64); err != nil {
			return fmt.Errorf("-list-id must be an integer: %w", err)
		}
		ids, err := records.ReadIDs(*file)
		if err != nil {
			return err
		}
		client, err := a.umbrella()
		if err != nil {
			return err
		}

		req := deletion.Request{
			ListID:   *listID,
			ListName: *listName,
			IDs:      ids,
			IDsPath:  *file,
			DryRun:   *dryRun,
		}
		if !*dryRun && *yes {
			req.Confirmation = deletion.Confirm(req.ListID, req.IDs)
		}

		outcome, err := deletion.NewEngine(client, a.logger, a.metrics).Run(ctx, req)
		if err != nil {
			if errors.Is(err, deletion.ErrNotConfirmed) {
				return fmt.Errorf("%w: pass -yes to delete or -dry-run to preview", err)
			}
			return err
		}
		if lc, ok := outcome.(deletion.LiveCompleted); ok && lc.FailedPath != "" {
			return a.archive(ctx, lc.FailedPath)
		}
		return nil
	}
}
