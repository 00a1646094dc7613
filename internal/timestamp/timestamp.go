// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package timestamp normalizes the timestamp representations found in
// destination exports and telemetry results into UTC instants.
package timestamp

import (
	"strconv"
	"strings"
	"time"
)

// Layout is the canonical rendering used in every CSV the tool writes.
const Layout = "2006-01-02 15:04:05"

// isoLayouts are tried in order by the ISO attempt. Zone-naive layouts come
// last and are interpreted as UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// attempt is one parser in an ordered chain. It reports whether it
// recognized the input.
type attempt func(v string) (time.Time, bool)

var (
	parseChain  = []attempt{isoAttempt, fixedAttempt}
	exportChain = []attempt{epochAttempt, isoAttempt, fixedAttempt}
)

// Parse converts raw into a UTC instant. The second return value is false
// when the input is blank or matches no known format.
func Parse(raw string) (time.Time, bool) {
	return run(parseChain, raw)
}

// ParseExport is Parse with integer epoch seconds recognized first, which is
// how the destination list API reports createdAt and modifiedAt.
func ParseExport(raw string) (time.Time, bool) {
	return run(exportChain, raw)
}

// Format renders t in the canonical layout, in UTC.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// FormatOrEmpty renders t when ok, otherwise the empty string.
func FormatOrEmpty(t time.Time, ok bool) string {
	if !ok {
		return ""
	}
	return Format(t)
}

func run(chain []attempt, raw string) (time.Time, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return time.Time{}, false
	}
	for _, try := range chain {
		if t, ok := try(v); ok {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func isoAttempt(v string) (time.Time, bool) {
	if !strings.Contains(v, "T") {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		// time.Parse returns UTC for layouts without a zone.
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func fixedAttempt(v string) (time.Time, bool) {
	t, err := time.Parse(Layout, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func epochAttempt(v string) (time.Time, bool) {
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}
