// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package pipeline

import (
	"fmt"
	"time"

	"github.com/netSkope/destlist-cleanup/internal/records"
	"github.com/netSkope/destlist-cleanup/internal/timestamp"
	"go.uber.org/zap"
)

// AgeFilterResult describes one age filter run.
type AgeFilterResult struct {
	Path      string
	Cutoff    time.Time
	Total     int
	Kept      int
	Discarded int
}

// CreatedBy reports whether rec was created at or before cutoff. A missing or
// unparseable createdAt counts as old enough.
func CreatedBy(rec records.Record, cutoff time.Time) bool {
	created, ok := timestamp.Parse(rec[records.FieldCreatedAt])
	return !ok || !created.After(cutoff)
}

// FilterByAge keeps the records created at or before cutoff and reports how
// many were discarded as too new.
func FilterByAge(rs records.RecordSet, cutoff time.Time) (records.RecordSet, int) {
	kept := make([]records.Record, 0, rs.Len())
	for _, rec := range rs.Records {
		if CreatedBy(rec, cutoff) {
			kept = append(kept, rec.Clone())
		}
	}
	return rs.WithRecords(kept), rs.Len() - len(kept)
}

// AgeFilter keeps the rows of the CSV at path that are at least days old and
// writes them next to it with an age suffix.
func (r *Runner) AgeFilter(path string, days int) (AgeFilterResult, error) {
	if days < 0 {
		return AgeFilterResult{}, fmt.Errorf("age filter: days must not be negative, got %d", days)
	}
	cutoff := Cutoff(r.now(), days)
	r.printf("\n[AGE FILTER] Using created-at cutoff: %s (>= %d days old)\n", timestamp.Format(cutoff), days)

	rs, err := r.readSet(StageAgeFilter, path)
	if err != nil {
		return AgeFilterResult{}, err
	}

	kept, discarded := FilterByAge(rs, cutoff)
	out := records.SiblingPath(path, AgeFilteredSuffix(days))
	if err := records.WriteCSV(out, kept); err != nil {
		return AgeFilterResult{}, fmt.Errorf("age filter: %w", err)
	}

	res := AgeFilterResult{
		Path:      out,
		Cutoff:    cutoff,
		Total:     rs.Len(),
		Kept:      kept.Len(),
		Discarded: discarded,
	}

	r.Metrics.SetStage(StageAgeFilter, "input", res.Total)
	r.Metrics.SetStage(StageAgeFilter, "kept", res.Kept)
	r.Metrics.SetStage(StageAgeFilter, "discarded", res.Discarded)
	r.logger().Info("Age filter completed",
		zap.String("input", path),
		zap.String("output", out),
		zap.Int("days", days),
		zap.Time("cutoff", cutoff),
		zap.Int("total", res.Total),
		zap.Int("kept", res.Kept),
		zap.Int("discarded", res.Discarded))

	r.printf("\n[AGE FILTER] Total rows: %d\n", res.Total)
	r.printf("[AGE FILTER] Kept (>= %d days): %d\n", days, res.Kept)
	r.printf("[AGE FILTER] Discarded as too new: %d\n", res.Discarded)
	r.printf("[AGE FILTER] Output written to: %s\n\n", out)

	return res, nil
}
