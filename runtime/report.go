package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nsls2/srx-export/metrics"
	"github.com/nsls2/srx-export/types"
)

// Report is the structured JSON report written by --report.
type Report struct {
	Version   string            `json:"version"`
	Runs      []RunReport       `json:"runs"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Metrics   *metrics.Snapshot `json:"metrics,omitempty"`
}

// RunReport describes one run in a Report.
type RunReport struct {
	RunStart   string                `json:"run_start"`
	ScanID     *int                  `json:"scan_id,omitempty"`
	FlowRun    string                `json:"flow_run,omitempty"`
	ScanKind   string                `json:"scan_kind"`
	Outcomes   []types.ExportOutcome `json:"outcomes"`
	Archived   int                   `json:"archived_files"`
	Error      string                `json:"error,omitempty"`
	DurationMs int64                 `json:"duration_ms"`
}

// BuildReport composes a Report from a batch summary and a metrics snapshot.
func BuildReport(summary *BatchSummary, snap *metrics.Snapshot) *Report {
	report := &Report{
		Version:   types.Version,
		Runs:      make([]RunReport, 0, len(summary.Results)),
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		Metrics:   snap,
	}
	for _, r := range summary.Results {
		rr := RunReport{
			RunStart:   r.RunStart,
			ScanID:     r.ScanID,
			FlowRun:    r.FlowRun,
			ScanKind:   r.ScanKind.String(),
			Outcomes:   r.Outcomes,
			DurationMs: r.Duration.Milliseconds(),
		}
		if rr.Outcomes == nil {
			rr.Outcomes = []types.ExportOutcome{}
		}
		if r.Manifest != nil {
			rr.Archived = len(r.Manifest.Files)
		}
		if r.Err != nil {
			rr.Error = types.Describe(r.Err)
		}
		report.Runs = append(report.Runs, rr)
	}
	return report
}

// WriteReport writes the report as JSON to path. "-" writes to stderr.
func WriteReport(report *Report, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}
	if path == "-" {
		if err := writeReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

func writeReportTo(report *Report, w io.Writer) error {
	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func marshalReport(report *Report) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}
