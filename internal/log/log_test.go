// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewLogger_File(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	logger, err := NewLogger(dir, "cleanup", false, false)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	runID := NewRunID()
	WithRun(logger, runID, "select").Info("Selection completed")
	WithRun(logger, runID, "select").Debug("not written at info level")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "cleanup.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), data)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["lv"] != "IN" {
		t.Errorf("lv = %v, want IN", entry["lv"])
	}
	if entry["run_id"] != runID {
		t.Errorf("run_id = %v, want %s", entry["run_id"], runID)
	}
	if entry["cmd"] != "select" {
		t.Errorf("cmd = %v, want select", entry["cmd"])
	}
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if a == b {
		t.Error("NewRunID() returned the same id twice")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("NewRunID() = %q is not a UUID: %v", a, err)
	}
}

func TestLogFilePath(t *testing.T) {
	if got := LogFilePath("", "x"); got != "/tmp/x.log" {
		t.Errorf("LogFilePath() = %q, want /tmp/x.log", got)
	}
	if got := LogFilePath("/var/log", "cleanup"); got != "/var/log/cleanup.log" {
		t.Errorf("LogFilePath() = %q", got)
	}
}
