// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package workflow runs the interactive cleanup: export, age filter,
// optional telemetry cross-check, candidate selection and deletion.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/netSkope/destlist-cleanup/internal/deletion"
	"github.com/netSkope/destlist-cleanup/internal/exporter"
	"github.com/netSkope/destlist-cleanup/internal/metrics"
	"github.com/netSkope/destlist-cleanup/internal/pipeline"
	"github.com/netSkope/destlist-cleanup/internal/prompt"
	"github.com/netSkope/destlist-cleanup/internal/records"
	"go.uber.org/zap"
)

// Prompter asks the operator questions. *prompt.Prompter implements it.
type Prompter interface {
	exporter.Chooser
	YesNo(question string) (bool, error)
	DeleteMode(question string) (prompt.DeleteMode, error)
	Int(question string) (int, error)
	NonNegativeInt(question string) (int, error)
	Text(question string) (string, error)
}

// Umbrella is the destination-list API used for export and deletion.
type Umbrella interface {
	exporter.ListSource
	deletion.Remover
}

// Archiver copies a stage file somewhere durable and returns its location.
type Archiver interface {
	Archive(ctx context.Context, localPath string) (string, error)
}

// Workflow holds everything an interactive run needs. Clients are built on
// first use so credentials are only required by the stages that need them.
type Workflow struct {
	Prompt  Prompter
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Out     io.Writer

	OutputDir   string
	Concurrency int

	Umbrella  func() (Umbrella, error)
	Telemetry func() (pipeline.ObservationSource, error)
	// Archiver is optional.
	Archiver Archiver

	// Now is read once per run; every stage shares that instant.
	Now func() time.Time
	// Sleep overrides the pause between delete batches.
	Sleep func(time.Duration)

	umbrella Umbrella
}

// Result summarises a run.
type Result struct {
	Source    string
	ListID    string
	ListName  string
	AgeFilter pipeline.AgeFilterResult
	Enrich    *pipeline.EnrichResult
	Selection pipeline.SelectResult
	Outcomes  []deletion.Outcome
	Archived  []string
}

func (w *Workflow) printf(format string, args ...any) {
	if w.Out != nil {
		fmt.Fprintf(w.Out, format, args...)
	}
}

func (w *Workflow) umbrellaClient() (Umbrella, error) {
	if w.umbrella != nil {
		return w.umbrella, nil
	}
	if w.Umbrella == nil {
		return nil, errors.New("umbrella client not configured")
	}
	u, err := w.Umbrella()
	if err != nil {
		return nil, err
	}
	w.umbrella = u
	return u, nil
}

// Run drives one interactive cleanup.
func (w *Workflow) Run(ctx context.Context) (*Result, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	runner := pipeline.NewRunner(w.Logger, w.Metrics)
	runner.Out = w.Out
	runner.Now = pipeline.FixedClock(now())
	if w.Concurrency > 0 {
		runner.Concurrency = w.Concurrency
	}

	res := &Result{}
	w.printf("\n=== Cisco Umbrella Cleanup Workflow ===\n\n")

	if err := w.chooseSource(ctx, res); err != nil {
		return res, err
	}
	if _, err := os.Stat(res.Source); err != nil {
		return res, fmt.Errorf("file does not exist: %s", res.Source)
	}
	w.printf("\n[INFO] Using Umbrella CSV: %s\n\n", res.Source)
	w.archive(ctx, res, res.Source)

	createdDays, err := w.Prompt.NonNegativeInt("Created AT LEAST how many days ago should entries be to be considered? ")
	if err != nil {
		return res, err
	}
	res.AgeFilter, err = runner.AgeFilter(res.Source, createdDays)
	if err != nil {
		return res, err
	}
	w.archive(ctx, res, res.AgeFilter.Path)

	selectInput := res.AgeFilter.Path
	var defenderDays *int
	crosscheck, err := w.Prompt.YesNo("Do you want to crosscheck the aged entries against Microsoft Defender?")
	if err != nil {
		return res, err
	}
	if crosscheck {
		days, err := w.Prompt.NonNegativeInt("How many days back should Defender be checked (e.g. 180)?: ")
		if err != nil {
			return res, err
		}
		defenderDays = &days

		if w.Telemetry == nil {
			return res, errors.New("telemetry source not configured")
		}
		src, err := w.Telemetry()
		if err != nil {
			return res, err
		}
		er, err := runner.Enrich(ctx, res.AgeFilter.Path, days, src)
		if err != nil {
			return res, err
		}
		res.Enrich = &er
		selectInput = er.Path
		if er.Path != res.AgeFilter.Path {
			w.archive(ctx, res, er.Path)
		}
	}

	w.printf("\n[INFO] Using CSV for cleanup selection: %s\n\n", selectInput)
	res.Selection, err = runner.Select(selectInput, createdDays, defenderDays)
	if err != nil {
		return res, err
	}
	w.printf("\n=== STAGE 4 COMPLETE ===\n")
	w.printf("Cleanup CSV:          %s\n", res.Selection.CSVPath)
	w.printf("Cleanup ID list:      %s\n\n", res.Selection.IDsPath)
	w.archive(ctx, res, res.Selection.CSVPath, res.Selection.IDsPath)

	if err := w.deleteStage(ctx, res, createdDays, defenderDays); err != nil {
		return res, err
	}

	w.printf("\n=== FULL WORKFLOW COMPLETE ===\n\n")
	w.Logger.Info("Workflow completed",
		zap.String("source", res.Source),
		zap.Int("candidates", res.Selection.Candidates),
		zap.Int("outcomes", len(res.Outcomes)),
		zap.Int("archived", len(res.Archived)))
	return res, nil
}

// chooseSource exports a list from Umbrella or takes an existing CSV along
// with the list it belongs to.
func (w *Workflow) chooseSource(ctx context.Context, res *Result) error {
	export, err := w.Prompt.YesNo("Do you want to export a destination list from Umbrella now?")
	if err != nil {
		return err
	}

	if export {
		u, err := w.umbrellaClient()
		if err != nil {
			return err
		}
		exp := exporter.NewExporter(u, w.OutputDir, w.Logger)
		exp.Out = w.Out
		er, err := exp.Export(ctx, w.Prompt)
		if err != nil {
			return err
		}
		res.Source, res.ListID, res.ListName = er.Path, er.ListID, er.ListName
		return nil
	}

	if res.Source, err = w.Prompt.Text("Enter path to an existing Umbrella destination CSV: "); err != nil {
		return err
	}
	id, err := w.Prompt.NonNegativeInt("Enter the Umbrella Destination List ID this CSV belongs to: ")
	if err != nil {
		return err
	}
	res.ListID = strconv.Itoa(id)
	res.ListName, err = w.Prompt.Text("Enter the Umbrella Destination List name: ")
	return err
}

func (w *Workflow) deleteStage(ctx context.Context, res *Result, createdDays int, defenderDays *int) error {
	ids, err := records.ReadIDs(res.Selection.IDsPath)
	if err != nil {
		return fmt.Errorf("cleanup ID file missing, cannot proceed to deletion: %w", err)
	}
	if len(ids) == 0 {
		w.printf("No destinations selected for deletion.\n")
		return nil
	}

	w.printf("\n")
	mode, err := w.Prompt.DeleteMode(deleteQuestion(res.ListName, len(ids), createdDays, defenderDays))
	if err != nil {
		return err
	}

	req := deletion.Request{
		ListID:   res.ListID,
		ListName: res.ListName,
		IDs:      ids,
		IDsPath:  res.Selection.IDsPath,
	}

	switch mode {
	case prompt.ModeSkip:
		w.printf("Deletion skipped.\n")
		return nil
	case prompt.ModeDryRun:
		req.DryRun = true
	case prompt.ModeLive:
		sure, err := w.Prompt.YesNo("Are you absolutely sure you want to delete these destinations?")
		if err != nil {
			return err
		}
		if !sure {
			w.printf("Deletion aborted.\n")
			return nil
		}
		req.Confirmation = deletion.Confirm(req.ListID, req.IDs)
	}

	outcome, err := w.runDeletion(ctx, res, req)
	if err != nil {
		return err
	}
	if _, ok := outcome.(deletion.DryRunCompleted); !ok {
		return nil
	}

	w.printf("\n")
	live, err := w.Prompt.YesNo("Dry run complete. Do you want to perform the LIVE deletion now?")
	if err != nil || !live {
		return err
	}
	sure, err := w.Prompt.YesNo("Are you absolutely sure?")
	if err != nil {
		return err
	}
	if !sure {
		w.printf("Live deletion aborted.\n")
		return nil
	}

	req.DryRun = false
	req.Confirmation = deletion.Confirm(req.ListID, req.IDs)
	_, err = w.runDeletion(ctx, res, req)
	return err
}

func (w *Workflow) runDeletion(ctx context.Context, res *Result, req deletion.Request) (deletion.Outcome, error) {
	u, err := w.umbrellaClient()
	if err != nil {
		return nil, err
	}

	engine := deletion.NewEngine(u, w.Logger, w.Metrics)
	engine.Out = w.Out
	if w.Sleep != nil {
		engine.Sleep = w.Sleep
	}

	outcome, err := engine.Run(ctx, req)
	if outcome != nil {
		res.Outcomes = append(res.Outcomes, outcome)
	}
	if err != nil {
		return outcome, err
	}
	if lc, ok := outcome.(deletion.LiveCompleted); ok && lc.FailedPath != "" {
		w.archive(ctx, res, lc.FailedPath)
	}
	return outcome, nil
}

func deleteQuestion(listName string, count, createdDays int, defenderDays *int) string {
	if defenderDays != nil {
		return fmt.Sprintf("Do you want to delete all items created at least %d days ago "+
			"and not seen in Defender for at least %d days "+
			"from the %q destination list?\n"+
			"In total this will delete %d destinations. I can also perform a dry run.",
			createdDays, *defenderDays, listName, count)
	}
	return fmt.Sprintf("Do you want to delete all items created at least %d days ago "+
		"from the %q destination list?\n"+
		"In total this will delete %d destinations. I can also perform a dry run.",
		createdDays, listName, count)
}

// archive mirrors stage files. Failures are logged and never stop the run.
func (w *Workflow) archive(ctx context.Context, res *Result, paths ...string) {
	if w.Archiver == nil {
		return
	}
	for _, p := range paths {
		loc, err := w.Archiver.Archive(ctx, p)
		if err != nil {
			w.Logger.Warn("Failed to archive stage file", zap.String("path", p), zap.Error(err))
			continue
		}
		res.Archived = append(res.Archived, loc)
	}
}
