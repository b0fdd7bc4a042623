package logscan

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nsls2/srx-export/proposal"
	"github.com/nsls2/srx-export/types"
)

func setup(t *testing.T) (*Appender, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "2026-2", "pass-316224")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	return NewAppender(proposal.NewResolver(root), nil), filepath.Join(dir, "logfilepass-316224.txt")
}

func run(scanID int, uid string) *types.RunRecord {
	return &types.RunRecord{Start: types.StartDoc{
		UID:         uid,
		ScanID:      scanID,
		Cycle:       "2026-2",
		DataSession: "pass-316224",
	}}
}

func readLog(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestAppend_UnknownScan(t *testing.T) {
	a, path := setup(t)

	if err := a.Append(t.Context(), run(42, "abc")); err != nil {
		t.Fatalf("append: %v", err)
	}

	lines := readLog(t, path)
	if len(lines) != 1 || lines[0] != "42\tabc\tunknown scan" {
		t.Errorf("unexpected log %q", lines)
	}
}

func TestAppend_Idempotent(t *testing.T) {
	a, path := setup(t)
	rec := run(42, "abc")

	for range 3 {
		if err := a.Append(t.Context(), rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if lines := readLog(t, path); len(lines) != 1 {
		t.Errorf("expected 1 line, got %d: %q", len(lines), lines)
	}
}

func TestAppend_ConcurrentSameScan(t *testing.T) {
	a, path := setup(t)
	other := NewAppender(a.resolver, nil)

	var wg sync.WaitGroup
	for i := range 16 {
		app := a
		if i%2 == 1 {
			app = other
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.Append(t.Context(), run(7, "same")); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	if lines := readLog(t, path); len(lines) != 1 {
		t.Errorf("expected exactly 1 line, got %d: %q", len(lines), lines)
	}
}

func TestAppend_DuplicateMatchIsNumeric(t *testing.T) {
	a, path := setup(t)
	seed := "not-a-number\tjunk\n1420\tother\tXAS_STEP\n 142\tpadded\tcount\n"
	if err := os.WriteFile(path, []byte(seed), 0o664); err != nil {
		t.Fatal(err)
	}

	if err := a.Append(t.Context(), run(14, "fourteen")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := a.Append(t.Context(), run(142, "dup")); err != nil {
		t.Fatalf("append: %v", err)
	}

	lines := readLog(t, path)
	if len(lines) != 4 || lines[3] != "14\tfourteen\tunknown scan" {
		t.Errorf("unexpected log %q", lines)
	}
}

func TestAppend_MissingDirectoryIsNotAnError(t *testing.T) {
	a := NewAppender(proposal.NewResolver(filepath.Join(t.TempDir(), "absent")), nil)

	outcome, err := a.Export(t.Context(), run(1, "x"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if outcome.Status != types.OutcomeSkipped {
		t.Errorf("expected skipped, got %s", outcome.Status)
	}
}

func TestFormatLine(t *testing.T) {
	tests := []struct {
		name  string
		start types.StartDoc
		want  string
	}{
		{
			name:  "custom plan with input",
			start: types.StartDoc{ScanID: 5, UID: "u", Scan: &types.ScanInfo{Type: "XRF_FLY", ScanInput: []float64{0, 10.5, 11, 1}}},
			want:  "5\tu\tXRF_FLY\t[0, 10.5, 11, 1]",
		},
		{
			name:  "custom plan without input",
			start: types.StartDoc{ScanID: 5, UID: "u", Scan: &types.ScanInfo{Type: "PEAKUP"}},
			want:  "5\tu\tPEAKUP",
		},
		{
			name:  "scan document without type falls back to plan name",
			start: types.StartDoc{ScanID: 5, UID: "u", Scan: &types.ScanInfo{SampleName: "s"}, PlanName: "count"},
			want:  "5\tu\tcount",
		},
		{
			name:  "unknown scan type",
			start: types.StartDoc{ScanID: 42, UID: "abc", Scan: &types.ScanInfo{Type: "unknown"}},
			want:  "42\tabc\tunknown scan",
		},
		{
			name:  "unknown scan type with plan name",
			start: types.StartDoc{ScanID: 42, UID: "abc", Scan: &types.ScanInfo{Type: "UNKNOWN"}, PlanName: "count"},
			want:  "42\tabc\tcount",
		},
		{
			name:  "plan name",
			start: types.StartDoc{ScanID: 5, UID: "u", PlanName: "rel_scan"},
			want:  "5\tu\trel_scan",
		},
		{
			name:  "unknown",
			start: types.StartDoc{ScanID: 5, UID: "u"},
			want:  "5\tu\tunknown scan",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatLine(&tt.start); got != tt.want {
				t.Errorf("FormatLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	content := "1\ta\tXRF_FLY\t[1, 2]\ngarbage\n2\tb\tunknown scan\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Input != "[1, 2]" || entries[1].Type != "unknown scan" {
		t.Errorf("unexpected entries %+v", entries)
	}

	if _, err := Read(filepath.Join(t.TempDir(), "none.txt")); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
