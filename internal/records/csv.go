// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package records

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrNoHeader is returned when a CSV file has no header row.
var ErrNoHeader = errors.New("csv has no header row")

// Warning describes a row that was read with a repaired column count.
type Warning struct {
	Row     int
	Message string
}

// ReadCSV loads a record set from path. A leading UTF-8 BOM is stripped.
// Rows with too few columns are padded and rows with too many are truncated;
// each repair is reported as a Warning.
func ReadCSV(path string) (RecordSet, []Warning, error) {
	f, err := os.Open(path)
	if err != nil {
		return RecordSet{}, nil, fmt.Errorf("failed to open CSV: %w", err)
	}
	defer f.Close()

	return decodeCSV(transform.NewReader(f, unicode.UTF8BOM.NewDecoder()))
}

func decodeCSV(r io.Reader) (RecordSet, []Warning, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return RecordSet{}, nil, ErrNoHeader
		}
		return RecordSet{}, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}

	var (
		recs     []Record
		warnings []Warning
		rowNum   = 1
	)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNum++
		if err != nil {
			return RecordSet{}, warnings, fmt.Errorf("failed to read CSV row %d: %w", rowNum, err)
		}

		switch {
		case len(row) < len(header):
			warnings = append(warnings, Warning{Row: rowNum,
				Message: fmt.Sprintf("row has %d columns, expected %d; padding", len(row), len(header))})
			padded := make([]string, len(header))
			copy(padded, row)
			row = padded
		case len(row) > len(header):
			warnings = append(warnings, Warning{Row: rowNum,
				Message: fmt.Sprintf("row has %d columns, expected %d; truncating", len(row), len(header))})
			row = row[:len(header)]
		}

		rec := make(Record, len(header))
		for i, h := range header {
			rec[h] = row[i]
		}
		recs = append(recs, rec)
	}

	return RecordSet{Columns: header, Records: recs}, warnings, nil
}

// WriteCSV writes rs to path as UTF-8 with a BOM, every field quoted, CRLF
// line endings and a header row. Every record gets every column.
func WriteCSV(path string, rs RecordSet) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close CSV: %w", cerr)
		}
	}()

	bw := bufio.NewWriter(f)
	tw := transform.NewWriter(bw, unicode.UTF8BOM.NewEncoder())
	if err := EncodeCSV(tw, rs); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// EncodeCSV writes the header and records of rs with every field quoted.
// encoding/csv only quotes fields that need it, so quoting is done here.
func EncodeCSV(w io.Writer, rs RecordSet) error {
	if err := writeQuotedRow(w, rs.Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	fields := make([]string, len(rs.Columns))
	for i, rec := range rs.Records {
		for j, c := range rs.Columns {
			fields[j] = rec[c]
		}
		if err := writeQuotedRow(w, fields); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i+1, err)
		}
	}
	return nil
}

func writeQuotedRow(w io.Writer, fields []string) error {
	var sb strings.Builder
	for i, f := range fields {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('"')
		sb.WriteString(strings.ReplaceAll(f, `"`, `""`))
		sb.WriteByte('"')
	}
	sb.WriteString("\r\n")
	_, err := io.WriteString(w, sb.String())
	return err
}
