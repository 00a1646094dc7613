// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package deletion removes destinations from a list in fixed-size batches.
package deletion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/netSkope/destlist-cleanup/internal/metrics"
	"github.com/netSkope/destlist-cleanup/internal/records"
	"go.uber.org/zap"
)

const (
	// BatchSize is the most ids the remove endpoint accepts per call.
	BatchSize = 100
	// BatchPause separates consecutive delete calls.
	BatchPause = 200 * time.Millisecond
	// FailedSuffix replaces the extension of the id file for the retry file.
	FailedSuffix = "_failed.json"
)

// ErrNotConfirmed is returned for a live request without a matching
// confirmation.
var ErrNotConfirmed = errors.New("live deletion was not confirmed")

// Remover is the remote side of a deletion run.
type Remover interface {
	Authenticate(ctx context.Context) error
	// RemoveDestinations deletes ids from the list in one request and returns
	// the HTTP status code.
	RemoveDestinations(ctx context.Context, listID string, ids []int64) (int, error)
}

// Confirmation records that an operator approved deleting a specific set of
// ids from a specific list. Only Confirm creates one.
type Confirmation struct {
	listID string
	ids    []int64
}

// Confirm is called once the operator has approved the live deletion of ids
// from listID. The ids are copied, so later changes to the slice are not
// covered.
func Confirm(listID string, ids []int64) *Confirmation {
	return &Confirmation{listID: listID, ids: slices.Clone(ids)}
}

func (c *Confirmation) covers(req Request) bool {
	return c != nil && c.listID == req.ListID && slices.Equal(c.ids, req.IDs)
}

// Request describes one deletion run. IDsPath locates the id file; the
// failure file is written next to it.
type Request struct {
	ListID       string
	ListName     string
	IDs          []int64
	IDsPath      string
	DryRun       bool
	Confirmation *Confirmation
}

// Engine drives a single deletion run.
type Engine struct {
	remover Remover
	logger  *zap.Logger
	metrics *metrics.Metrics

	// Out receives the operator-facing progress and summary.
	Out io.Writer
	// Sleep waits between consecutive batches.
	Sleep func(time.Duration)

	mu    sync.Mutex
	state State
}

// NewEngine creates an idle Engine.
func NewEngine(remover Remover, logger *zap.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		remover: remover,
		logger:  logger,
		metrics: m,
		Out:     os.Stdout,
		Sleep:   time.Sleep,
		state:   StateIdle,
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) printf(format string, args ...any) {
	if e.Out != nil {
		fmt.Fprintf(e.Out, format, args...)
	}
}

func (e *Engine) abort(reason string, err error) (Outcome, error) {
	e.setState(StateAborted)
	e.logger.Error("Deletion aborted", zap.String("reason", reason), zap.Error(err))
	return Aborted{Reason: reason, Err: err}, err
}

// Run executes req. Dry runs authenticate and report the ids without
// deleting anything. Live runs require a Confirmation covering req; batches
// are sent sequentially and never retried.
func (e *Engine) Run(ctx context.Context, req Request) (Outcome, error) {
	if st := e.State(); st != StateIdle {
		return nil, fmt.Errorf("deletion engine already used (state %s)", st)
	}

	e.printf("Loaded %d Umbrella destination IDs to delete\n", len(req.IDs))
	e.printf("List ID: %s\n", req.ListID)
	if req.ListName != "" {
		e.printf("List Name: %s\n", req.ListName)
	}

	if req.DryRun {
		e.printf("Deletion mode: DRY RUN\n")
		e.setState(StateDryRun)
	} else {
		e.printf("Deletion mode: LIVE DELETE\n")
		if !req.Confirmation.covers(req) {
			return e.abort("live deletion not confirmed", ErrNotConfirmed)
		}
		e.setState(StateLiveConfirmed)
	}

	if err := e.remover.Authenticate(ctx); err != nil {
		return e.abort("authentication failed", fmt.Errorf("failed to authenticate for deletion: %w", err))
	}

	if req.DryRun {
		e.printf("\n[DRY RUN] Would delete the following IDs:\n%v\n\nDry run complete.\n", req.IDs)
		e.logger.Info("Dry run completed",
			zap.String("list_id", req.ListID),
			zap.Int("ids", len(req.IDs)))
		e.setState(StateCompleted)
		return DryRunCompleted{IDs: append([]int64(nil), req.IDs...)}, nil
	}

	batches, err := Batches(req.IDs, BatchSize)
	if err != nil {
		return e.abort("invalid batch size", err)
	}

	e.setState(StateRunning)
	res := e.runBatches(ctx, req, batches)
	e.setState(StateCompleted)

	e.printf("\n=== Deletion Summary ===\n")
	e.printf("Successfully deleted: %d\n", res.Deleted)
	e.printf("Failed: %d\n", len(res.Failed))

	if len(res.Failed) > 0 {
		res.FailedPath = e.persistFailures(req.IDsPath, res.Failed)
	}

	e.logger.Info("Deletion completed",
		zap.String("list_id", req.ListID),
		zap.Int("batches", len(batches)),
		zap.Int("deleted", res.Deleted),
		zap.Int("failed", len(res.Failed)),
		zap.String("failed_path", res.FailedPath))

	return res, nil
}

func (e *Engine) runBatches(ctx context.Context, req Request, batches []Batch) LiveCompleted {
	var res LiveCompleted
	total := len(req.IDs)

	e.printf("\nStarting deletion of %d destinations...\n\n", total)
	for i, b := range batches {
		if i > 0 {
			e.Sleep(BatchPause)
		}

		status, err := e.remover.RemoveDestinations(ctx, req.ListID, b.IDs)
		switch {
		case err != nil:
			e.logger.Error("Delete batch failed",
				zap.Int("batch", b.Index),
				zap.Int("ids", len(b.IDs)),
				zap.Error(err))
			e.printf("[ERROR] Failed deleting batch %v: %v\n", b.IDs, err)
		case !Succeeded(status):
			e.logger.Error("Delete batch rejected",
				zap.Int("batch", b.Index),
				zap.Int("ids", len(b.IDs)),
				zap.Int("status", status))
			e.printf("[ERROR] Failed deleting batch %v: status %d\n", b.IDs, status)
		default:
			res.Deleted += len(b.IDs)
			e.metrics.RecordBatch(true, len(b.IDs))
			e.logger.Debug("Delete batch succeeded",
				zap.Int("batch", b.Index),
				zap.Int("ids", len(b.IDs)),
				zap.Int("status", status))
			e.printf("[%d/%d] Deleted batch of %d\n", res.Deleted, total, len(b.IDs))
			continue
		}
		res.Failed = append(res.Failed, b.IDs...)
		e.metrics.RecordBatch(false, len(b.IDs))
	}
	return res
}

// persistFailures writes failed ids for a later retry and returns the path,
// or "" if nothing could be written.
func (e *Engine) persistFailures(idsPath string, failed []int64) string {
	if idsPath == "" {
		e.logger.Warn("No id file path, failed ids not persisted", zap.Int("failed", len(failed)))
		return ""
	}
	path := records.SiblingPath(idsPath, FailedSuffix)
	if err := records.WriteIDs(path, failed); err != nil {
		e.logger.Error("Failed to persist failed ids",
			zap.String("path", path),
			zap.Error(err))
		return ""
	}
	e.printf("Failed deletions saved to: %s\n", path)
	return path
}

// Succeeded reports whether status counts a whole batch as deleted.
func Succeeded(status int) bool {
	switch status {
	case 200, 202, 204:
		return true
	}
	return false
}
