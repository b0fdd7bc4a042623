package runtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nsls2/srx-export/lode"
	"github.com/nsls2/srx-export/metrics"
	"github.com/nsls2/srx-export/types"
)

func testSummary() *BatchSummary {
	id := 42
	return &BatchSummary{
		Results: []*Result{
			{
				RunStart: "abc-123",
				ScanID:   &id,
				FlowRun:  "end-of-run-42-deadbeef",
				ScanKind: types.ScanStepXAS,
				Outcomes: []types.ExportOutcome{types.Succeeded("xanes_step", "/p/scan_42_xanes.txt")},
				Manifest: &lode.Manifest{Files: []lode.ArchivedFile{{Name: "scan_42_xanes.txt"}}},
				Duration: 1500 * time.Millisecond,
			},
			{
				RunStart: "missing",
				Err:      types.NewExportError(types.ErrNotFound, "resolve", errors.New(`run "missing"`)),
			},
		},
		Succeeded: 1,
		Failed:    1,
	}
}

func TestBuildReport(t *testing.T) {
	snap := metrics.Snapshot{RunsStarted: 2}
	report := BuildReport(testSummary(), &snap)

	if report.Version != types.Version || report.Succeeded != 1 || report.Failed != 1 {
		t.Errorf("unexpected report header %+v", report)
	}
	if len(report.Runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(report.Runs))
	}

	ok := report.Runs[0]
	if ok.ScanKind != "XAS_STEP" || ok.Archived != 1 || ok.DurationMs != 1500 || ok.Error != "" {
		t.Errorf("unexpected run report %+v", ok)
	}

	failed := report.Runs[1]
	if failed.Error != `NotFound: resolve: run record not found: run "missing"` {
		t.Errorf("error = %q", failed.Error)
	}
	if failed.Outcomes == nil || failed.ScanKind != "unknown" {
		t.Errorf("unexpected failed run report %+v", failed)
	}
}

func TestWriteReport(t *testing.T) {
	report := BuildReport(testSummary(), nil)

	path := filepath.Join(t.TempDir(), "report.json")
	if err := WriteReport(report, path); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if _, ok := decoded["metrics"]; ok {
		t.Error("nil metrics should be omitted")
	}
	runs := decoded["runs"].([]any)
	first := runs[0].(map[string]any)
	if first["flow_run"] != "end-of-run-42-deadbeef" || first["scan_id"] != float64(42) {
		t.Errorf("unexpected run %v", first)
	}

	if err := WriteReport(report, ""); err == nil {
		t.Error("empty path should fail")
	}
}

func TestWriteReportTo(t *testing.T) {
	var buf bytes.Buffer
	if err := writeReportTo(BuildReport(&BatchSummary{}, nil), &buf); err != nil {
		t.Fatalf("writeReportTo: %v", err)
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte("}\n")) {
		t.Errorf("report should end with a newline: %q", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"runs": []`)) {
		t.Errorf("empty batch should render an empty runs array: %s", buf.String())
	}
}
