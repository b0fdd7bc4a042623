package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/justapithecus/lode/lode"

	"github.com/nsls2/srx-export/export"
	"github.com/nsls2/srx-export/hdf5"
	srxlode "github.com/nsls2/srx-export/lode"
	"github.com/nsls2/srx-export/logscan"
	"github.com/nsls2/srx-export/metrics"
	"github.com/nsls2/srx-export/proposal"
	"github.com/nsls2/srx-export/record"
	"github.com/nsls2/srx-export/types"
)

type countingMaker struct{ calls atomic.Int32 }

func (m *countingMaker) MakeHDF(context.Context, hdf5.Request) error {
	m.calls.Add(1)
	return nil
}

type testEnv struct {
	dir      string
	sender   *recordingAdapter
	maker    *countingMaker
	c        *metrics.Collector
	workflow *Workflow
	archive  *srxlode.Archive
}

func newTestEnv(t *testing.T, records ...*types.RunRecord) *testEnv {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "2026-2", "pass-316224")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	resolver := proposal.NewResolver(root)

	archive, err := srxlode.NewArchiveWithFactory(srxlode.Config{}, lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("archive: %v", err)
	}

	env := &testEnv{
		dir:     dir,
		sender:  &recordingAdapter{},
		maker:   &countingMaker{},
		c:       metrics.NewCollector(nil),
		archive: archive,
	}
	notifier := NewNotifier(NotifierConfig{
		Store:     record.NewMemoryStore(records...),
		Sender:    env.sender,
		Collector: env.c,
	})
	env.workflow = NewWorkflow(WorkflowConfig{
		Notifier: notifier,
		Strategies: []export.Strategy{
			export.NewXASExporter(resolver, nil),
			hdf5.NewInvoker(env.maker, resolver),
			logscan.NewAppender(resolver, nil),
		},
		Archive:   archive,
		Collector: env.c,
	})
	return env
}

func sessionStart(uid string, scanID int) types.StartDoc {
	return types.StartDoc{
		UID:         uid,
		ScanID:      scanID,
		BeamlineID:  "SRX",
		Cycle:       "2026-2",
		DataSession: "pass-316224",
	}
}

func TestWorkflow_UnknownScanScenario(t *testing.T) {
	start := sessionStart("abc", 42)
	start.Scan = &types.ScanInfo{Type: "unknown"}
	env := newTestEnv(t, &types.RunRecord{Start: start})

	result := env.workflow.Execute(t.Context(), successStop("abc"))
	if result.Err != nil {
		t.Fatalf("run failed: %v", result.Err)
	}
	if result.ScanKind != types.ScanUnknown {
		t.Errorf("ScanKind = %v, want unknown", result.ScanKind)
	}

	if len(result.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %+v", result.Outcomes)
	}
	for _, o := range result.Outcomes[:2] {
		if o.Status != types.OutcomeSkipped {
			t.Errorf("%s: status = %s, want skipped", o.Strategy, o.Status)
		}
	}
	if env.maker.calls.Load() != 0 {
		t.Error("external exporter must not run for unknown scans")
	}

	data, err := os.ReadFile(filepath.Join(env.dir, "logfilepass-316224.txt"))
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	if string(data) != "42\tabc\tunknown scan\n" {
		t.Errorf("run log = %q", data)
	}

	msgs := env.sender.messages()
	if len(msgs) != 1 || msgs[0].Event.Kind != types.NotifySuccess {
		t.Fatalf("expected one success notification, got %+v", msgs)
	}

	entries, _ := os.ReadDir(env.dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "scan_") {
			t.Errorf("unexpected export file %s", e.Name())
		}
	}
}

func TestWorkflow_MissingDetectorFailsOnce(t *testing.T) {
	rec := &types.RunRecord{
		Start: sessionStart("abc-123", 42),
		Streams: map[string]*types.Stream{
			"primary": {Data: map[string]*types.Array{
				"energy_energy": types.NewArray(7100, 7110),
			}},
		},
	}
	rec.Start.Scan = &types.ScanInfo{Type: types.ScanTypeStepXAS}
	env := newTestEnv(t, rec)

	err := env.workflow.Run(t.Context(), successStop("abc-123"))
	if !errors.Is(err, types.ErrMissingDetector) {
		t.Fatalf("expected ErrMissingDetector, got %v", err)
	}

	msgs := env.sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(msgs))
	}
	for _, want := range []string{"abc-123", "42", "MissingDetector"} {
		if !strings.Contains(msgs[0].Text, want) {
			t.Errorf("failure text %q missing %q", msgs[0].Text, want)
		}
	}
	if env.maker.calls.Load() != 0 {
		t.Error("later strategies must not run after a failure")
	}
	if s := env.c.Snapshot(); s.Outcomes["xanes_step/failed"] != 1 {
		t.Errorf("unexpected outcomes %v", s.Outcomes)
	}
}

func TestWorkflow_StepExportArchived(t *testing.T) {
	rec := &types.RunRecord{
		Start: sessionStart("step-uid", 7),
		Streams: map[string]*types.Stream{
			"primary": {
				Data: map[string]*types.Array{
					"energy_energy": types.NewArray(7100, 7110),
					"energy_bragg":  types.NewArray(16.1, 16.0),
					"energy_c2_x":   types.NewArray(0.5, 0.5),
					"sclr1_mca2":    types.NewArray(1, 2),
					"sclr1_mca3":    types.NewArray(3, 4),
					"sclr1_mca4":    types.NewArray(5, 6),
				},
				ObjectKeys: map[string][]string{"sclr1": {"sclr1_mca2", "sclr1_mca3", "sclr1_mca4"}},
			},
		},
	}
	rec.Start.Detectors = []string{"sclr1"}
	rec.Start.Scan = &types.ScanInfo{Type: types.ScanTypeStepXAS}
	env := newTestEnv(t, rec)

	result := env.workflow.Execute(t.Context(), successStop("step-uid"))
	if result.Err != nil {
		t.Fatalf("run failed: %v", result.Err)
	}
	if _, err := os.Stat(filepath.Join(env.dir, "scan_7_xanes.txt")); err != nil {
		t.Fatalf("export file missing: %v", err)
	}
	if result.Manifest == nil || len(result.Manifest.Files) != 2 {
		t.Fatalf("expected export file and run log archived, got %+v", result.Manifest)
	}
	if s := env.c.Snapshot(); s.ArchiveWriteSuccess != 1 || s.Outcomes["xanes_step/success"] != 1 {
		t.Errorf("unexpected metrics %+v", s)
	}

	manifest, err := srxlode.LatestManifest(t.Context(), env.archive.Dataset(), srxlode.Filter{ScanID: 7})
	if err != nil {
		t.Fatalf("LatestManifest: %v", err)
	}
	if manifest["run_start"] != "step-uid" {
		t.Errorf("unexpected manifest %v", manifest)
	}
}

type failingArchive struct{}

func (failingArchive) Archive(context.Context, *types.RunRecord, []types.ExportOutcome) (*srxlode.Manifest, error) {
	return nil, errors.New("SlowDown")
}

func TestWorkflow_ArchiveFailureNotFatal(t *testing.T) {
	c := metrics.NewCollector(nil)
	sender := &recordingAdapter{}
	w := NewWorkflow(WorkflowConfig{
		Notifier: NewNotifier(NotifierConfig{
			Store:  record.NewMemoryStore(basicRecord("u", 1)),
			Sender: sender,
		}),
		Archive:   failingArchive{},
		Collector: c,
	})

	if err := w.Run(t.Context(), successStop("u")); err != nil {
		t.Fatalf("archive failure must not fail the run: %v", err)
	}
	if c.Snapshot().ArchiveWriteFailure != 1 {
		t.Error("archive failure not counted")
	}
	if msgs := sender.messages(); len(msgs) != 1 || msgs[0].Event.Kind != types.NotifySuccess {
		t.Errorf("expected one success notification, got %+v", msgs)
	}
}

func TestBatch_ErrorsDoNotCancelSiblings(t *testing.T) {
	var records []*types.RunRecord
	var stops []*types.StopDoc
	for i := range 6 {
		uid := "run-" + string(rune('a'+i))
		records = append(records, &types.RunRecord{Start: sessionStart(uid, 100+i)})
		stops = append(stops, successStop(uid))
	}
	stops = append(stops, successStop("missing"))
	env := newTestEnv(t, records...)

	summary := env.workflow.Batch(t.Context(), stops, 3)
	if summary.Succeeded != 6 || summary.Failed != 1 {
		t.Fatalf("succeeded=%d failed=%d", summary.Succeeded, summary.Failed)
	}
	if summary.Results[6].RunStart != "missing" || !errors.Is(summary.Results[6].Err, types.ErrNotFound) {
		t.Errorf("results out of order or wrong error: %+v", summary.Results[6])
	}
	if len(env.sender.messages()) != 7 {
		t.Errorf("expected one notification per run, got %d", len(env.sender.messages()))
	}

	entries, err := logscan.Read(filepath.Join(env.dir, "logfilepass-316224.txt"))
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	if len(entries) != 6 {
		t.Errorf("expected 6 distinct log entries, got %d", len(entries))
	}
}

func TestWorker_RunsScheduledStops(t *testing.T) {
	env := newTestEnv(t,
		&types.RunRecord{Start: sessionStart("w1", 1)},
		&types.RunRecord{Start: sessionStart("w2", 2)},
	)
	wk := NewWorker(env.workflow, 2, true)

	ctx := t.Context()
	for _, uid := range []string{"w1", "w2", "w1"} {
		if err := wk.Handle(ctx, successStop(uid)); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	results := wk.Wait()
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	entries, err := logscan.Read(filepath.Join(env.dir, "logfilepass-316224.txt"))
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("re-running w1 must not duplicate its log line, got %d entries", len(entries))
	}
}

func TestWorker_RejectsAfterCancel(t *testing.T) {
	env := newTestEnv(t)
	wk := NewWorker(env.workflow, 1, false)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := wk.Handle(ctx, successStop("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if got := wk.Wait(); len(got) != 0 {
		t.Errorf("expected no results, got %d", len(got))
	}
}
