// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package pipeline

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/netSkope/destlist-cleanup/internal/metrics"
	"github.com/netSkope/destlist-cleanup/internal/records"
	"github.com/netSkope/destlist-cleanup/internal/timestamp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ObservationSource answers "when was this destination last seen" against an
// endpoint telemetry backend.
type ObservationSource interface {
	Authenticate(ctx context.Context) error
	// LatestObservation returns the most recent observation of destination
	// within the last lookbackDays days. found is false when there is none.
	LatestObservation(ctx context.Context, destination string, lookbackDays int) (observed time.Time, found bool, err error)
}

// EnrichResult describes one enrichment run. Path is the input path when the
// input had no rows.
type EnrichResult struct {
	Path        string
	Total       int
	Observed    int
	NotObserved int
	Failed      int
	Skipped     int
}

type lookupOutcome struct {
	value  string
	result string
}

// Enrich looks up every destination of the CSV at path in the telemetry
// source and writes a copy with an observedInDefender column.
func (r *Runner) Enrich(ctx context.Context, path string, lookbackDays int, src ObservationSource) (EnrichResult, error) {
	if lookbackDays < 0 {
		return EnrichResult{}, fmt.Errorf("enrich: lookback days must not be negative, got %d", lookbackDays)
	}

	r.printf("\nLoaded file: %s\n", path)
	r.printf("Using Defender lookback: %d days\n", lookbackDays)

	rs, err := r.readSet(StageEnrich, path)
	if err != nil {
		return EnrichResult{}, err
	}
	rs = rs.WithColumn(records.FieldObserved)

	total := rs.Len()
	r.printf("\nTotal rows to check in Defender: %d\n", total)
	r.Metrics.SetStage(StageEnrich, "input", total)

	if total == 0 {
		r.printf("No rows to process. Skipping Defender crosscheck.\n")
		r.logger().Info("Enrichment skipped, no rows", zap.String("input", path))
		return EnrichResult{Path: path}, nil
	}

	if err := src.Authenticate(ctx); err != nil {
		return EnrichResult{}, fmt.Errorf("failed to authenticate with telemetry source: %w", err)
	}

	r.printf("\nBeginning Defender lookup...\n\n")

	outcomes, err := r.lookupAll(ctx, rs.Records, lookbackDays, src)
	if err != nil {
		return EnrichResult{}, err
	}

	res := EnrichResult{Total: total}
	enriched := make([]records.Record, total)
	for i, rec := range rs.Records {
		out := rec.Clone()
		out[records.FieldObserved] = outcomes[i].value
		enriched[i] = out

		switch outcomes[i].result {
		case metrics.LookupFound:
			res.Observed++
		case metrics.LookupNotFound:
			res.NotObserved++
		case metrics.LookupError:
			res.Failed++
		case metrics.LookupSkipped:
			res.Skipped++
		}
	}

	outPath := records.SiblingPath(path, EnrichedSuffix)
	if err := records.WriteCSV(outPath, rs.WithRecords(enriched)); err != nil {
		return EnrichResult{}, fmt.Errorf("enrich: %w", err)
	}
	res.Path = outPath

	r.Metrics.SetStage(StageEnrich, "observed", res.Observed)
	r.Metrics.SetStage(StageEnrich, "not_observed", res.NotObserved)
	r.Metrics.SetStage(StageEnrich, "failed", res.Failed)
	r.Metrics.SetStage(StageEnrich, "skipped", res.Skipped)
	r.logger().Info("Enrichment completed",
		zap.String("input", path),
		zap.String("output", outPath),
		zap.Int("lookback_days", lookbackDays),
		zap.Int("total", res.Total),
		zap.Int("observed", res.Observed),
		zap.Int("not_observed", res.NotObserved),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped))

	r.printf("\nDone! Enriched CSV written to:\n%s\n\n", outPath)
	return res, nil
}

// lookupAll returns one outcome per record, in input order.
func (r *Runner) lookupAll(ctx context.Context, recs []records.Record, days int, src ObservationSource) ([]lookupOutcome, error) {
	outcomes := make([]lookupOutcome, len(recs))
	prog := newProgress(r.Out, len(recs))

	if r.Concurrency < 2 {
		for i, rec := range recs {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("enrich interrupted: %w", err)
			}
			dest := rec.Get(records.FieldDestination)
			prog.step(dest)
			outcomes[i] = r.lookupOne(ctx, dest, days, src)
		}
		return outcomes, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Concurrency)
	for i, rec := range recs {
		i := i
		dest := rec.Get(records.FieldDestination)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("enrich interrupted: %w", err)
			}
			outcomes[i] = r.lookupOne(gctx, dest, days, src)
			prog.step(dest)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (r *Runner) lookupOne(ctx context.Context, dest string, days int, src ObservationSource) lookupOutcome {
	if dest == "" {
		r.Metrics.RecordLookup(metrics.LookupSkipped, 0)
		return lookupOutcome{result: metrics.LookupSkipped}
	}

	start := time.Now()
	observed, found, err := src.LatestObservation(ctx, dest, days)
	elapsed := time.Since(start).Seconds()

	switch {
	case err != nil:
		r.logger().Warn("Telemetry lookup failed",
			zap.String("destination", dest),
			zap.Error(err))
		r.Metrics.RecordLookup(metrics.LookupError, elapsed)
		return lookupOutcome{result: metrics.LookupError}
	case !found:
		r.Metrics.RecordLookup(metrics.LookupNotFound, elapsed)
		return lookupOutcome{result: metrics.LookupNotFound}
	default:
		r.Metrics.RecordLookup(metrics.LookupFound, elapsed)
		return lookupOutcome{value: timestamp.Format(observed), result: metrics.LookupFound}
	}
}

// progress prints "[i/N] destination - ETA: Ns" lines, estimating the
// remaining time from the average time per completed item. It measures wall
// time; Runner.Now may be pinned to the start of the run.
type progress struct {
	mu    sync.Mutex
	out   io.Writer
	total int
	done  int
	start time.Time
}

func newProgress(out io.Writer, total int) *progress {
	return &progress{out: out, total: total, start: time.Now()}
}

func (p *progress) step(dest string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	if p.out == nil {
		return
	}
	elapsed := time.Since(p.start).Seconds()
	avg := elapsed / float64(p.done)
	eta := int(math.Ceil(avg * float64(p.total-p.done)))
	fmt.Fprintf(p.out, "[%d/%d] %s - ETA: %ds\n", p.done, p.total, dest, eta)
}
