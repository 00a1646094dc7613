// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package pipeline

import (
	"fmt"
	"strconv"
	"time"

	"github.com/netSkope/destlist-cleanup/internal/records"
	"github.com/netSkope/destlist-cleanup/internal/timestamp"
	"go.uber.org/zap"
)

// Criteria selects deletion candidates. InactiveCutoff is nil when no
// telemetry cross-check was performed.
type Criteria struct {
	CreatedCutoff  time.Time
	InactiveCutoff *time.Time
}

// Selection is the result of applying Criteria to a record set.
type Selection struct {
	Total           int
	CreatedMatches  int
	InactiveMatches int
	Evaluated       bool
	Candidates      []records.Record
}

// InactiveSince reports whether rec has not been observed after cutoff. A
// blank or unparseable observedInDefender counts as never observed.
func InactiveSince(rec records.Record, cutoff time.Time) bool {
	seen, ok := timestamp.Parse(rec[records.FieldObserved])
	return !ok || !seen.After(cutoff)
}

// SelectCandidates returns the records that are old enough and, when an
// inactivity cutoff is given, not observed since it. Records that fail the
// age test are dropped before inactivity is evaluated.
func SelectCandidates(rs records.RecordSet, c Criteria) Selection {
	sel := Selection{
		Total:     rs.Len(),
		Evaluated: c.InactiveCutoff != nil,
	}
	for _, rec := range rs.Records {
		if !CreatedBy(rec, c.CreatedCutoff) {
			continue
		}
		sel.CreatedMatches++

		if c.InactiveCutoff != nil && !InactiveSince(rec, *c.InactiveCutoff) {
			continue
		}
		sel.InactiveMatches++
		sel.Candidates = append(sel.Candidates, rec)
	}
	return sel
}

// CandidateIDs converts the id field of each record to an integer, in order.
// Records with a blank or non-integer id are counted in skipped.
func CandidateIDs(recs []records.Record) (ids []int64, skipped int) {
	ids = make([]int64, 0, len(recs))
	for _, rec := range recs {
		raw := rec.Get(records.FieldID)
		if raw == "" {
			skipped++
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			skipped++
			continue
		}
		ids = append(ids, id)
	}
	return ids, skipped
}

// SelectResult describes one selection run.
type SelectResult struct {
	CSVPath         string
	IDsPath         string
	Total           int
	CreatedMatches  int
	InactiveMatches int
	Candidates      int
	IDs             []int64
	SkippedIDs      int
	Evaluated       bool
}

// Select writes the deletion candidates of the CSV at path and their ids.
// inactiveDays is nil when no telemetry cross-check was performed.
func (r *Runner) Select(path string, createdDays int, inactiveDays *int) (SelectResult, error) {
	if createdDays < 0 {
		return SelectResult{}, fmt.Errorf("select: created days must not be negative, got %d", createdDays)
	}
	if inactiveDays != nil && *inactiveDays < 0 {
		return SelectResult{}, fmt.Errorf("select: inactivity days must not be negative, got %d", *inactiveDays)
	}

	r.printf("\nLoaded CSV for cleanup selection: %s\n", path)
	rs, err := r.readSet(StageSelect, path)
	if err != nil {
		return SelectResult{}, err
	}

	now := r.now()
	crit := Criteria{CreatedCutoff: Cutoff(now, createdDays)}
	if inactiveDays != nil {
		c := Cutoff(now, *inactiveDays)
		crit.InactiveCutoff = &c
	}
	sel := SelectCandidates(rs, crit)

	csvPath := records.SiblingPath(path, CandidatesSuffix)
	idsPath := records.SiblingPath(path, IDsSuffix)

	if err := records.WriteCSV(csvPath, rs.WithRecords(sel.Candidates).Clean()); err != nil {
		return SelectResult{}, fmt.Errorf("select: %w", err)
	}
	ids, skipped := CandidateIDs(sel.Candidates)
	if err := records.WriteIDs(idsPath, ids); err != nil {
		return SelectResult{}, fmt.Errorf("select: %w", err)
	}

	res := SelectResult{
		CSVPath:         csvPath,
		IDsPath:         idsPath,
		Total:           sel.Total,
		CreatedMatches:  sel.CreatedMatches,
		InactiveMatches: sel.InactiveMatches,
		Candidates:      len(sel.Candidates),
		IDs:             ids,
		SkippedIDs:      skipped,
		Evaluated:       sel.Evaluated,
	}

	r.Metrics.SetStage(StageSelect, "input", res.Total)
	r.Metrics.SetStage(StageSelect, "created_matches", res.CreatedMatches)
	r.Metrics.SetStage(StageSelect, "candidates", res.Candidates)
	r.Metrics.SetStage(StageSelect, "skipped_ids", res.SkippedIDs)
	if skipped > 0 {
		r.logger().Warn("Candidates without a usable id were left out of the id list",
			zap.String("input", path),
			zap.Int("skipped", skipped))
	}
	r.logger().Info("Selection completed",
		zap.String("input", path),
		zap.String("csv", csvPath),
		zap.String("ids", idsPath),
		zap.Int("created_days", createdDays),
		zap.Bool("inactivity_evaluated", res.Evaluated),
		zap.Int("total", res.Total),
		zap.Int("created_matches", res.CreatedMatches),
		zap.Int("inactive_matches", res.InactiveMatches),
		zap.Int("candidates", res.Candidates))

	r.printSelection(res, createdDays, inactiveDays)
	return res, nil
}

func (r *Runner) printSelection(res SelectResult, createdDays int, inactiveDays *int) {
	r.printf("\nSummary (cleanup selection):\n")
	r.printf("  Total items in CSV: %d\n", res.Total)
	r.printf("  Created >= %d days ago: %d\n", createdDays, res.CreatedMatches)
	if inactiveDays != nil {
		r.printf("  Not seen in Defender >= %d days: %d\n", *inactiveDays, res.InactiveMatches)
	} else {
		r.printf("  Defender inactivity not evaluated (no crosscheck performed).\n")
	}
	r.printf("  Candidates matching criteria:     %d\n", res.Candidates)
	if res.SkippedIDs > 0 {
		r.printf("  Candidates without a usable id:   %d\n", res.SkippedIDs)
	}
	r.printf("\nExported cleanup candidate CSV -> %s\n", res.CSVPath)
	r.printf("Exported ID list for Umbrella deletion -> %s\n\n", res.IDsPath)
}
