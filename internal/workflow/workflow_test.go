// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/netSkope/destlist-cleanup/internal/deletion"
	"github.com/netSkope/destlist-cleanup/internal/pipeline"
	"github.com/netSkope/destlist-cleanup/internal/prompt"
	"github.com/netSkope/destlist-cleanup/internal/records"
	"github.com/netSkope/destlist-cleanup/internal/timestamp"
	"github.com/netSkope/destlist-cleanup/internal/umbrella"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) string {
	return timestamp.Format(testNow.Add(-time.Duration(d) * 24 * time.Hour))
}

// scriptedPrompter answers questions in order from a fixed script.
type scriptedPrompter struct {
	answers []any
	asked   []string
}

func (s *scriptedPrompter) next(q string) (any, error) {
	s.asked = append(s.asked, q)
	if len(s.answers) == 0 {
		return nil, fmt.Errorf("unexpected question %q: %w", q, prompt.ErrNoInput)
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

func (s *scriptedPrompter) YesNo(q string) (bool, error) {
	a, err := s.next(q)
	if err != nil {
		return false, err
	}
	return a.(bool), nil
}

func (s *scriptedPrompter) DeleteMode(q string) (prompt.DeleteMode, error) {
	a, err := s.next(q)
	if err != nil {
		return prompt.ModeSkip, err
	}
	return a.(prompt.DeleteMode), nil
}

func (s *scriptedPrompter) Int(q string) (int, error) {
	a, err := s.next(q)
	if err != nil {
		return 0, err
	}
	return a.(int), nil
}

func (s *scriptedPrompter) NonNegativeInt(q string) (int, error) { return s.Int(q) }

func (s *scriptedPrompter) Text(q string) (string, error) {
	a, err := s.next(q)
	if err != nil {
		return "", err
	}
	return a.(string), nil
}

func (s *scriptedPrompter) Choose(title string, options []string, q string) (int, error) { return s.Int(q) }

type fakeUmbrella struct {
	lists   []umbrella.DestinationList
	dests   map[string][]umbrella.Destination
	removed [][]int64
	authErr error
}

func (f *fakeUmbrella) Authenticate(ctx context.Context) error { return f.authErr }

func (f *fakeUmbrella) ListDestinationLists(ctx context.Context) ([]umbrella.DestinationList, error) {
	return f.lists, nil
}

func (f *fakeUmbrella) ListDestinations(ctx context.Context, listID string) ([]umbrella.Destination, error) {
	return f.dests[listID], nil
}

func (f *fakeUmbrella) RemoveDestinations(ctx context.Context, listID string, ids []int64) (int, error) {
	f.removed = append(f.removed, append([]int64(nil), ids...))
	return http.StatusOK, nil
}

type fakeTelemetry struct {
	seen map[string]time.Time
}

func (f *fakeTelemetry) Authenticate(ctx context.Context) error { return nil }

func (f *fakeTelemetry) LatestObservation(ctx context.Context, dest string, days int) (time.Time, bool, error) {
	t, ok := f.seen[dest]
	return t, ok, nil
}

type fakeArchiver struct {
	fail bool
	keys []string
}

func (f *fakeArchiver) Archive(ctx context.Context, p string) (string, error) {
	if f.fail {
		return "", errors.New("bucket unavailable")
	}
	key := "run/" + filepath.Base(p)
	f.keys = append(f.keys, key)
	return key, nil
}

func writeInventory(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "Block_List_destinations.csv")
	rs := records.New([]records.Record{
		{"id": "101", "destination": "old-unused.example", "createdAt": daysAgo(400)},
		{"id": "102", "destination": "old-busy.example", "createdAt": daysAgo(400)},
		{"id": "103", "destination": "new.example", "createdAt": daysAgo(10)},
	})
	require.NoError(t, records.WriteCSV(p, rs))
	return p
}

func newWorkflow(t *testing.T, p Prompter, u *fakeUmbrella) *Workflow {
	return &Workflow{
		Prompt:    p,
		Logger:    zaptest.NewLogger(t),
		Out:       &bytes.Buffer{},
		OutputDir: t.TempDir(),
		Umbrella:  func() (Umbrella, error) { return u, nil },
		Telemetry: func() (pipeline.ObservationSource, error) {
			return &fakeTelemetry{seen: map[string]time.Time{
				"old-busy.example": testNow.Add(-5 * 24 * time.Hour),
			}}, nil
		},
		Now:   pipeline.FixedClock(testNow),
		Sleep: func(time.Duration) {},
	}
}

func TestRunDryRunThenLive(t *testing.T) {
	src := writeInventory(t)
	p := &scriptedPrompter{answers: []any{
		false, src, 7, "Block List", // existing CSV
		365,            // created days
		true, 30,       // cross-check
		prompt.ModeDryRun,
		true, true, // go live, confirm
	}}
	u := &fakeUmbrella{}
	arch := &fakeArchiver{}
	w := newWorkflow(t, p, u)
	w.Archiver = arch

	res, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "7", res.ListID)
	assert.Equal(t, 2, res.AgeFilter.Kept)
	require.NotNil(t, res.Enrich)
	assert.Equal(t, 1, res.Enrich.Observed)
	assert.Equal(t, []int64{101}, res.Selection.IDs)

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, deletion.DryRunCompleted{IDs: []int64{101}}, res.Outcomes[0])
	assert.Equal(t, deletion.LiveCompleted{Deleted: 1}, res.Outcomes[1])
	assert.Equal(t, [][]int64{{101}}, u.removed)

	assert.Equal(t, []string{
		"run/Block_List_destinations.csv",
		"run/Block_List_destinations_created_gte_365d.csv",
		"run/Block_List_destinations_created_gte_365d_with_defender.csv",
		"run/Block_List_destinations_created_gte_365d_with_defender_to_delete.csv",
		"run/Block_List_destinations_created_gte_365d_with_defender_to_delete_ids.json",
	}, res.Archived)
	assert.Contains(t, p.asked[7], "not seen in Defender for at least 30 days")
}

func TestRunExportAndSkip(t *testing.T) {
	u := &fakeUmbrella{
		lists: []umbrella.DestinationList{{ID: json.Number("17"), Name: "Block List"}},
		dests: map[string][]umbrella.Destination{"17": {
			{"id": json.Number("1"), "destination": "a.example", "createdAt": json.Number("1600000000")},
		}},
	}
	p := &scriptedPrompter{answers: []any{
		true, 0, // export, choose first list
		30,
		false, // no cross-check
		prompt.ModeSkip,
	}}
	w := newWorkflow(t, p, u)

	res, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "17", res.ListID)
	assert.Equal(t, "Block List", res.ListName)
	assert.Equal(t, filepath.Join(w.OutputDir, "Block_List_destinations.csv"), res.Source)
	assert.Nil(t, res.Enrich)
	assert.False(t, res.Selection.Evaluated)
	assert.Equal(t, []int64{1}, res.Selection.IDs)
	assert.Empty(t, res.Outcomes)
	assert.Empty(t, u.removed)
	assert.NotContains(t, p.asked[len(p.asked)-1], "Defender")
}

func TestRunLiveAborted(t *testing.T) {
	src := writeInventory(t)
	p := &scriptedPrompter{answers: []any{
		false, src, 7, "Block List",
		365,
		false,
		prompt.ModeLive,
		false, // not sure
	}}
	u := &fakeUmbrella{}
	w := newWorkflow(t, p, u)
	w.Archiver = &fakeArchiver{fail: true}

	res, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{101, 102}, res.Selection.IDs)
	assert.Empty(t, res.Outcomes)
	assert.Empty(t, u.removed)
	assert.Empty(t, res.Archived)
}

func TestRunLiveConfirmed(t *testing.T) {
	src := writeInventory(t)
	p := &scriptedPrompter{answers: []any{
		false, src, 7, "Block List",
		365,
		false,
		prompt.ModeLive,
		true,
	}}
	u := &fakeUmbrella{}
	w := newWorkflow(t, p, u)

	res, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, deletion.LiveCompleted{Deleted: 2}, res.Outcomes[0])
	assert.Equal(t, [][]int64{{101, 102}}, u.removed)
}

func TestRunErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		p := &scriptedPrompter{answers: []any{false, "/does/not/exist.csv", 7, "x"}}
		_, err := newWorkflow(t, p, &fakeUmbrella{}).Run(context.Background())
		assert.ErrorContains(t, err, "file does not exist")
	})

	t.Run("telemetry unavailable", func(t *testing.T) {
		src := writeInventory(t)
		p := &scriptedPrompter{answers: []any{false, src, 7, "x", 365, true, 30}}
		w := newWorkflow(t, p, &fakeUmbrella{})
		w.Telemetry = func() (pipeline.ObservationSource, error) {
			return nil, errors.New("missing Defender credentials")
		}
		_, err := w.Run(context.Background())
		assert.ErrorContains(t, err, "missing Defender credentials")
	})

	t.Run("deletion auth failure", func(t *testing.T) {
		src := writeInventory(t)
		p := &scriptedPrompter{answers: []any{false, src, 7, "x", 365, false, prompt.ModeDryRun}}
		u := &fakeUmbrella{authErr: errors.New("401")}
		res, err := newWorkflow(t, p, u).Run(context.Background())
		require.Error(t, err)
		require.Len(t, res.Outcomes, 1)
		_, aborted := res.Outcomes[0].(deletion.Aborted)
		assert.True(t, aborted)
	})

	t.Run("input exhausted", func(t *testing.T) {
		p := &scriptedPrompter{}
		_, err := newWorkflow(t, p, &fakeUmbrella{}).Run(context.Background())
		assert.ErrorIs(t, err, prompt.ErrNoInput)
	})
}
