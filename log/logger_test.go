package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, m)
	}
	return entries
}

func TestLogger_RunContextFields(t *testing.T) {
	var buf bytes.Buffer
	scanID := 42
	logger := NewLogger().WithOutput(&buf).WithRun(RunContext{
		RunStart: "abc",
		ScanID:   &scanID,
		FlowRun:  "end-of-run-42",
	})

	logger.Info("exporting", map[string]any{"strategy": "xanes_step"})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e["run_start"] != "abc" {
		t.Errorf("expected run_start=abc, got %v", e["run_start"])
	}
	if e["scan_id"] != float64(42) {
		t.Errorf("expected scan_id=42, got %v", e["scan_id"])
	}
	if e["flow_run"] != "end-of-run-42" {
		t.Errorf("expected flow_run, got %v", e["flow_run"])
	}
	if e["level"] != "info" {
		t.Errorf("expected level=info, got %v", e["level"])
	}
	fields, ok := e["fields"].(map[string]any)
	if !ok || fields["strategy"] != "xanes_step" {
		t.Errorf("expected fields.strategy, got %v", e["fields"])
	}
}

func TestLogger_OmitsEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger().WithOutput(&buf).WithRun(RunContext{RunStart: "abc"})
	logger.Warn("no scan id yet", nil)

	e := decodeLines(t, &buf)[0]
	if _, ok := e["scan_id"]; ok {
		t.Error("scan_id should be omitted when unknown")
	}
	if _, ok := e["flow_run"]; ok {
		t.Error("flow_run should be omitted when empty")
	}
}

func TestLogger_Named(t *testing.T) {
	var buf bytes.Buffer
	NewLogger().WithOutput(&buf).Named("logscan").Error("failed", nil)

	e := decodeLines(t, &buf)[0]
	if e["component"] != "logscan" {
		t.Errorf("expected component=logscan, got %v", e["component"])
	}
}

func TestNewLoggerWithLevel(t *testing.T) {
	logger, err := NewLoggerWithLevel("warn")
	if err != nil {
		t.Fatalf("NewLoggerWithLevel: %v", err)
	}
	var buf bytes.Buffer
	l := logger.WithOutput(&buf).Named("cli")
	l.Info("dropped", nil)
	l.Warn("kept", nil)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["message"] != "kept" {
		t.Errorf("expected only the warn entry, got %v", entries)
	}

	if _, err := NewLoggerWithLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestLogger_Sugar(t *testing.T) {
	var buf bytes.Buffer
	NewLogger().WithOutput(&buf).Named("cli").Sugar().Infof("batch finished: %d runs", 3)

	e := decodeLines(t, &buf)[0]
	if e["message"] != "batch finished: 3 runs" {
		t.Errorf("unexpected message %v", e["message"])
	}
	if e["component"] != "cli" {
		t.Errorf("expected component=cli, got %v", e["component"])
	}
}
