// Package runtime composes the end-of-run workflow.
//
// A Workflow runs the export strategies for one run, wrapped by a Notifier
// that reports exactly one success or failure per run. Batch and Worker
// drive many runs concurrently; each run is processed start to finish by
// one goroutine.
package runtime

import (
	"context"
	"time"

	"github.com/nsls2/srx-export/export"
	"github.com/nsls2/srx-export/lode"
	"github.com/nsls2/srx-export/log"
	"github.com/nsls2/srx-export/metrics"
	"github.com/nsls2/srx-export/types"
)

// Archiver mirrors a run's outputs to long-term storage.
type Archiver interface {
	Archive(ctx context.Context, rec *types.RunRecord, outcomes []types.ExportOutcome) (*lode.Manifest, error)
}

// WorkflowConfig configures a Workflow.
type WorkflowConfig struct {
	// Notifier wraps every run (required).
	Notifier *Notifier
	// Strategies run in order. A strategy error ends the run.
	// The production order is XAS dispatch, HDF5 invoker, run log.
	Strategies []export.Strategy
	// Archive is optional. Archive failures are logged and counted, never
	// fatal.
	Archive Archiver
	// Collector records strategy outcomes. May be nil.
	Collector *metrics.Collector
}

// Result is the outcome of one workflow invocation.
type Result struct {
	RunStart string
	ScanID   *int
	FlowRun  string
	ScanKind types.ScanKind
	Outcomes []types.ExportOutcome
	Manifest *lode.Manifest
	Duration time.Duration
	Err      error
}

// Succeeded reports whether the run completed without error.
func (r *Result) Succeeded() bool {
	return r.Err == nil
}

// Workflow is the end-of-run workflow for one stop document.
type Workflow struct {
	config WorkflowConfig
}

// NewWorkflow creates a Workflow.
func NewWorkflow(cfg WorkflowConfig) *Workflow {
	return &Workflow{config: cfg}
}

// Run executes the workflow for stop and returns the pipeline error.
func (w *Workflow) Run(ctx context.Context, stop *types.StopDoc) error {
	return w.Execute(ctx, stop).Err
}

// Execute executes the workflow for stop and returns the full result.
func (w *Workflow) Execute(ctx context.Context, stop *types.StopDoc) *Result {
	start := time.Now()
	result := &Result{RunStart: stop.RunStart}

	result.Err = w.config.Notifier.Execute(ctx, stop, func(ctx context.Context, run *Run) error {
		id := run.Record.Start.ScanID
		result.ScanID = &id
		result.FlowRun = run.FlowRun
		return w.pipeline(ctx, run, result)
	})
	result.Duration = time.Since(start)
	return result
}

func (w *Workflow) pipeline(ctx context.Context, run *Run, result *Result) error {
	rec := run.Record
	logger := run.Logger

	result.ScanKind = types.Classify(rec)
	logger.Info("starting end-of-run export", map[string]any{
		"scan_type": types.ScanType(rec),
		"scan_kind": result.ScanKind.String(),
	})

	for _, s := range w.config.Strategies {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome, err := s.Export(ctx, rec)
		if outcome.Strategy == "" {
			outcome.Strategy = s.Name()
		}
		result.Outcomes = append(result.Outcomes, outcome)
		w.config.Collector.RecordOutcome(outcome.Strategy, string(outcome.Status), len(outcome.Files))
		logOutcome(logger, outcome)
		if err != nil {
			return err
		}
	}

	w.archive(ctx, run, result)

	logger.Info("Complete", map[string]any{"outcomes": len(result.Outcomes)})
	return nil
}

func (w *Workflow) archive(ctx context.Context, run *Run, result *Result) {
	if w.config.Archive == nil {
		return
	}
	m, err := w.config.Archive.Archive(ctx, run.Record, result.Outcomes)
	result.Manifest = m
	if err != nil {
		w.config.Collector.IncArchiveWriteFailure()
		run.Logger.Warn("archive write failed", map[string]any{"error": err.Error()})
		return
	}
	w.config.Collector.IncArchiveWriteSuccess()
	run.Logger.Info("archived export outputs", map[string]any{"files": len(m.Files)})
}

func logOutcome(logger *log.Logger, o types.ExportOutcome) {
	fields := map[string]any{
		"strategy": o.Strategy,
		"status":   string(o.Status),
	}
	if len(o.Files) > 0 {
		fields["files"] = o.Files
	}
	switch o.Status {
	case types.OutcomeSkipped:
		fields["reason"] = o.Reason
		logger.Info("export skipped", fields)
	case types.OutcomeFailed:
		if o.Err != nil {
			fields["error"] = types.Describe(o.Err)
		}
		logger.Error("export failed", fields)
	default:
		logger.Info("export succeeded", fields)
	}
}
