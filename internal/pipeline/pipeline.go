// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package pipeline implements the stages that turn an exported destination
// list into a reviewable deletion plan: age filtering, telemetry enrichment
// and candidate selection. Each stage reads one CSV and writes new files next
// to it; no stage modifies its input.
package pipeline

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/netSkope/destlist-cleanup/internal/metrics"
	"github.com/netSkope/destlist-cleanup/internal/records"
	"go.uber.org/zap"
)

// Stage names used in logs and metrics.
const (
	StageAgeFilter = "age_filter"
	StageEnrich    = "enrich"
	StageSelect    = "select"
)

// Output file suffixes.
const (
	EnrichedSuffix   = "_with_defender.csv"
	CandidatesSuffix = "_to_delete.csv"
	IDsSuffix        = "_to_delete_ids.json"
)

// AgeFilteredSuffix returns the suffix for an age-filtered file.
func AgeFilteredSuffix(days int) string {
	return fmt.Sprintf("_created_gte_%dd.csv", days)
}

// Runner carries the logger, operator output, clock and metrics shared by
// the stages.
type Runner struct {
	Logger  *zap.Logger
	Out     io.Writer
	Now     func() time.Time
	Metrics *metrics.Metrics

	// Concurrency bounds parallel telemetry lookups. Values below 2 run
	// lookups one at a time.
	Concurrency int
}

// NewRunner creates a Runner using the wall clock and stdout.
func NewRunner(logger *zap.Logger, m *metrics.Metrics) *Runner {
	return &Runner{
		Logger:      logger,
		Out:         os.Stdout,
		Now:         time.Now,
		Metrics:     m,
		Concurrency: 1,
	}
}

// FixedClock returns a clock that always reports t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// Cutoff returns now minus days, in UTC. Calendar arithmetic keeps very
// large day counts in the past instead of overflowing a time.Duration.
func Cutoff(now time.Time, days int) time.Time {
	return now.UTC().AddDate(0, 0, -days)
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Runner) printf(format string, args ...any) {
	if r.Out == nil {
		return
	}
	fmt.Fprintf(r.Out, format, args...)
}

func (r *Runner) readSet(stage, path string) (records.RecordSet, error) {
	rs, warnings, err := records.ReadCSV(path)
	if err != nil {
		return records.RecordSet{}, fmt.Errorf("%s: %w", stage, err)
	}
	for _, w := range warnings {
		r.logger().Warn("Repaired CSV row",
			zap.String("stage", stage),
			zap.String("file", path),
			zap.Int("row", w.Row),
			zap.String("detail", w.Message))
	}
	return rs, nil
}
