// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/netSkope/destlist-cleanup/internal/records"
	"github.com/netSkope/destlist-cleanup/internal/timestamp"
	"github.com/netSkope/destlist-cleanup/internal/umbrella"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// ErrListNotSelected is returned when no destination list could be chosen.
var ErrListNotSelected = errors.New("no destination list selected")

// FileSuffix ends every export file name.
const FileSuffix = "_destinations.csv"

// Exporter writes destination lists to CSV.
type Exporter struct {
	source ListSource
	logger *zap.Logger
	outDir string

	// Out receives operator-facing output.
	Out io.Writer
}

// NewExporter creates an exporter writing into outDir.
func NewExporter(source ListSource, outDir string, logger *zap.Logger) *Exporter {
	return &Exporter{
		source: source,
		logger: logger,
		outDir: outDir,
		Out:    os.Stdout,
	}
}

func (e *Exporter) printf(format string, args ...any) {
	if e.Out != nil {
		fmt.Fprintf(e.Out, format, args...)
	}
}

// Export lets the operator pick a destination list and exports it.
func (e *Exporter) Export(ctx context.Context, chooser Chooser) (ExportResult, error) {
	if err := e.source.Authenticate(ctx); err != nil {
		return ExportResult{}, fmt.Errorf("failed to authenticate with Umbrella: %w", err)
	}

	lists, err := e.source.ListDestinationLists(ctx)
	if err != nil {
		return ExportResult{}, err
	}
	if len(lists) == 0 {
		e.printf("No destination lists found.\n")
		return ExportResult{}, ErrListNotSelected
	}

	options := make([]string, len(lists))
	for i, l := range lists {
		options[i] = fmt.Sprintf("%s  (ID: %s)", l.Name, l.ID)
	}
	idx, err := chooser.Choose("Cisco Umbrella Destination Lists", options, "Enter the number of the destination list to export: ")
	if err != nil {
		return ExportResult{}, fmt.Errorf("%w: %v", ErrListNotSelected, err)
	}

	chosen := lists[idx]
	e.printf("\nSelected list: %s (ID: %s)\n\n", chosen.Name, chosen.ID)
	return e.ExportList(ctx, chosen.ID.String(), chosen.Name)
}

// ExportList fetches every destination of a list and writes it to
// <outDir>/<safe name>_destinations.csv.
func (e *Exporter) ExportList(ctx context.Context, listID, listName string) (ExportResult, error) {
	dests, err := e.source.ListDestinations(ctx, listID)
	if err != nil {
		return ExportResult{}, err
	}

	rs := Normalize(dests)
	if rs.Len() == 0 {
		e.printf("No destinations to export.\n")
	}

	path, err := filepath.Abs(filepath.Join(e.outDir, FileName(listName, listID)))
	if err != nil {
		return ExportResult{}, fmt.Errorf("failed to resolve export path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ExportResult{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := records.WriteCSV(path, rs); err != nil {
		return ExportResult{}, fmt.Errorf("failed to write export: %w", err)
	}

	e.logger.Info("Exported destination list",
		zap.String("list_id", listID),
		zap.String("list_name", listName),
		zap.Int("destinations", rs.Len()),
		zap.Strings("columns", rs.Columns),
		zap.String("path", path))
	e.printf("Exported %d destinations to %s\n\n", rs.Len(), path)

	return ExportResult{
		Path:     path,
		ListID:   listID,
		ListName: listName,
		Count:    rs.Len(),
	}, nil
}

// FileName derives the export file name from a list name, keeping letters,
// digits, spaces and underscores and turning spaces into underscores. Names
// with nothing left fall back to the list id.
func FileName(listName, listID string) string {
	var sb strings.Builder
	for _, r := range listName {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' {
			sb.WriteRune(r)
		}
	}
	safe := strings.ReplaceAll(strings.TrimSpace(sb.String()), " ", "_")
	if safe == "" {
		safe = "list_" + listID
	}
	return safe + FileSuffix
}

// Normalize turns raw destinations into a record set: every record gets
// every column, timestamps are rendered in the fixed layout and comments are
// flattened onto one line.
func Normalize(dests []umbrella.Destination) records.RecordSet {
	recs := make([]records.Record, 0, len(dests))
	for _, d := range dests {
		rec := make(records.Record, len(d))
		for k, v := range d {
			rec[k] = normalizeField(k, v)
		}
		recs = append(recs, rec)
	}

	rs := records.New(recs)
	for _, rec := range rs.Records {
		for _, c := range rs.Columns {
			if _, ok := rec[c]; !ok {
				rec[c] = ""
			}
		}
	}
	return rs
}

func normalizeField(key string, v any) string {
	switch key {
	case records.FieldComment:
		return CleanComment(render(v))
	case records.FieldCreatedAt, records.FieldModifiedAt:
		t, ok := timestamp.ParseExport(render(v))
		return timestamp.FormatOrEmpty(t, ok)
	case records.FieldID:
		return render(v)
	default:
		return strings.TrimSpace(render(v))
	}
}

// CleanComment escapes tabs and newlines as literal \t and \n, drops
// carriage returns and trims the result.
func CleanComment(s string) string {
	s = norm.NFC.String(s)
	s = strings.NewReplacer("\t", `\t`, "\n", `\n`, "\r", "").Replace(s)
	return strings.TrimSpace(s)
}

// render converts a decoded JSON value to its CSV text.
func render(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
