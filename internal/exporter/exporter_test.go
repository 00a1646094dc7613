// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/netSkope/destlist-cleanup/internal/records"
	"github.com/netSkope/destlist-cleanup/internal/umbrella"
	"go.uber.org/zap/zaptest"
)

type mockSource struct {
	authErr   error
	lists     []umbrella.DestinationList
	dests     map[string][]umbrella.Destination
	requested []string
}

func (m *mockSource) Authenticate(ctx context.Context) error { return m.authErr }

func (m *mockSource) ListDestinationLists(ctx context.Context) ([]umbrella.DestinationList, error) {
	return m.lists, nil
}

func (m *mockSource) ListDestinations(ctx context.Context, listID string) ([]umbrella.Destination, error) {
	m.requested = append(m.requested, listID)
	return m.dests[listID], nil
}

type mockChooser struct {
	index   int
	err     error
	options []string
}

func (m *mockChooser) Choose(title string, options []string, question string) (int, error) {
	m.options = options
	return m.index, m.err
}

func sampleDestinations() []umbrella.Destination {
	return []umbrella.Destination{
		{
			"id":          json.Number("101"),
			"destination": "  bad.example ",
			"type":        "domain",
			"comment":     "line one\nline\ttwo\r\n",
			"createdAt":   json.Number("1700000000"),
			"modifiedAt":  "2024-01-02T03:04:05Z",
		},
		{
			"id":          json.Number("102"),
			"destination": "10.0.0.1",
			"type":        "ipv4",
			"comment":     nil,
			"createdAt":   "2023-05-06 07:08:09",
			"isGlobal":    false,
		},
	}
}

func TestNormalize(t *testing.T) {
	rs := Normalize(sampleDestinations())

	wantCols := []string{"id", "destination", "type", "comment", "createdAt", "isGlobal", "modifiedAt"}
	if len(rs.Columns) != len(wantCols) {
		t.Fatalf("Columns = %v, want %v", rs.Columns, wantCols)
	}
	for i := range wantCols {
		if rs.Columns[i] != wantCols[i] {
			t.Errorf("Columns[%d] = %q, want %q", i, rs.Columns[i], wantCols[i])
		}
	}

	tests := []struct {
		row   int
		field string
		want  string
	}{
		{0, "id", "101"},
		{0, "destination", "bad.example"},
		{0, "comment", `line one\nline\ttwo\n`},
		{0, "createdAt", "2023-11-14 22:13:20"},
		{0, "modifiedAt", "2024-01-02 03:04:05"},
		{0, "isGlobal", ""},
		{1, "comment", ""},
		{1, "createdAt", "2023-05-06 07:08:09"},
		{1, "modifiedAt", ""},
		{1, "isGlobal", "false"},
	}
	for _, tt := range tests {
		if got := rs.Records[tt.row][tt.field]; got != tt.want {
			t.Errorf("row %d %s = %q, want %q", tt.row, tt.field, got, tt.want)
		}
	}
}

func TestNormalizeUnparseableTimestamp(t *testing.T) {
	rs := Normalize([]umbrella.Destination{{"id": json.Number("1"), "createdAt": "last tuesday"}})
	if got := rs.Records[0]["createdAt"]; got != "" {
		t.Errorf("createdAt = %q, want empty", got)
	}
}

func TestCleanComment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  plain  ", "plain"},
		{"a\tb", `a\tb`},
		{"a\r\nb", `a\nb`},
		{"trailing\n", `trailing\n`},
		{"café", "café"},
	}
	for _, tt := range tests {
		if got := CleanComment(tt.in); got != tt.want {
			t.Errorf("CleanComment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"Block List", "1", "Block_List_destinations.csv"},
		{"  Legacy / Old (2019) ", "1", "Legacy__Old_2019_destinations.csv"},
		{"snake_case", "1", "snake_case_destinations.csv"},
		{"Zürich", "1", "Zürich_destinations.csv"},
		{"***", "42", "list_42_destinations.csv"},
	}
	for _, tt := range tests {
		if got := FileName(tt.name, tt.id); got != tt.want {
			t.Errorf("FileName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestExport(t *testing.T) {
	src := &mockSource{
		lists: []umbrella.DestinationList{
			{ID: json.Number("17"), Name: "Block List"},
			{ID: json.Number("18"), Name: "Allow List"},
		},
		dests: map[string][]umbrella.Destination{"17": sampleDestinations()},
	}
	chooser := &mockChooser{index: 0}
	dir := t.TempDir()

	exp := NewExporter(src, dir, zaptest.NewLogger(t))
	exp.Out = &bytes.Buffer{}

	res, err := exp.Export(context.Background(), chooser)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	if res.ListID != "17" || res.ListName != "Block List" || res.Count != 2 {
		t.Errorf("Export() = %+v", res)
	}
	if want := filepath.Join(dir, "Block_List_destinations.csv"); res.Path != want {
		t.Errorf("Path = %q, want %q", res.Path, want)
	}
	if len(chooser.options) != 2 || chooser.options[1] != "Allow List  (ID: 18)" {
		t.Errorf("options = %v", chooser.options)
	}

	rs, _, err := records.ReadCSV(res.Path)
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if rs.Len() != 2 || rs.Records[0]["destination"] != "bad.example" {
		t.Errorf("unexpected export contents: %+v", rs.Records)
	}
}

func TestExportEmptyList(t *testing.T) {
	src := &mockSource{dests: map[string][]umbrella.Destination{}}
	exp := NewExporter(src, t.TempDir(), zaptest.NewLogger(t))
	exp.Out = &bytes.Buffer{}

	res, err := exp.ExportList(context.Background(), "9", "Empty")
	if err != nil {
		t.Fatalf("ExportList() error = %v", err)
	}
	rs, _, err := records.ReadCSV(res.Path)
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if rs.Len() != 0 || len(rs.Columns) != len(records.PreferredOrder) {
		t.Errorf("empty export = %+v, want header only", rs)
	}
}

func TestExportErrors(t *testing.T) {
	t.Run("auth failure", func(t *testing.T) {
		exp := NewExporter(&mockSource{authErr: errors.New("401")}, t.TempDir(), zaptest.NewLogger(t))
		exp.Out = &bytes.Buffer{}
		if _, err := exp.Export(context.Background(), &mockChooser{}); err == nil {
			t.Error("Export() expected error")
		}
	})

	t.Run("no lists", func(t *testing.T) {
		exp := NewExporter(&mockSource{}, t.TempDir(), zaptest.NewLogger(t))
		exp.Out = &bytes.Buffer{}
		if _, err := exp.Export(context.Background(), &mockChooser{}); !errors.Is(err, ErrListNotSelected) {
			t.Errorf("Export() error = %v, want ErrListNotSelected", err)
		}
	})

	t.Run("chooser aborted", func(t *testing.T) {
		src := &mockSource{lists: []umbrella.DestinationList{{ID: json.Number("1"), Name: "A"}}}
		exp := NewExporter(src, t.TempDir(), zaptest.NewLogger(t))
		exp.Out = &bytes.Buffer{}
		_, err := exp.Export(context.Background(), &mockChooser{err: errors.New("no input")})
		if !errors.Is(err, ErrListNotSelected) {
			t.Errorf("Export() error = %v, want ErrListNotSelected", err)
		}
		if len(src.requested) != 0 {
			t.Errorf("destinations fetched after aborted choice: %v", src.requested)
		}
	})
}
