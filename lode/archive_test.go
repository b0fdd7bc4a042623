package lode

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/nsls2/srx-export/types"
)

func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

// failingStore wraps a store and fails every Put under a files/ prefix.
type failingStore struct {
	lode.Store
	putErr error
}

func (s *failingStore) Put(ctx context.Context, path string, r io.Reader) error {
	if strings.Contains(path, "/files/") {
		return s.putErr
	}
	return s.Store.Put(ctx, path, r)
}

func testRecord() *types.RunRecord {
	return &types.RunRecord{
		Start: types.StartDoc{
			UID:         "abc-123",
			ScanID:      42,
			BeamlineID:  "SRX",
			Cycle:       "2026-2",
			DataSession: "pass-316224",
			Scan:        &types.ScanInfo{Type: "XAS_STEP"},
		},
	}
}

func writeOutput(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newTestArchive(t *testing.T, store lode.Store) *Archive {
	t.Helper()
	a, err := NewArchiveWithFactory(Config{}, sharedFactory(store))
	if err != nil {
		t.Fatalf("NewArchiveWithFactory failed: %v", err)
	}
	a.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestArchive_CopiesFilesAndWritesManifest(t *testing.T) {
	store := lode.NewMemory()
	a := newTestArchive(t, store)

	path := writeOutput(t, "scan_42_xanes.txt", "# Column.1: energy_energy\n7100\n")
	outcomes := []types.ExportOutcome{
		types.Succeeded("xanes_step", path),
		types.Skipped("xrf_hdf5", "scan_type=XAS_STEP not handled"),
	}

	m, err := a.Archive(t.Context(), testRecord(), outcomes)
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	wantKey := "datasets/srx_exports/partitions/beamline=SRX/cycle=2026-2/data_session=pass-316224/scan_id=42/files/scan_42_xanes.txt"
	if len(m.Files) != 1 || m.Files[0].Path != wantKey {
		t.Fatalf("unexpected archived files %+v", m.Files)
	}
	if m.Files[0].Strategy != "xanes_step" || m.Files[0].Size != 31 {
		t.Errorf("unexpected archived file %+v", m.Files[0])
	}

	rc, err := store.Get(t.Context(), wantKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer func() { _ = rc.Close() }()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read archived file: %v", err)
	}
	if string(body) != "# Column.1: energy_energy\n7100\n" {
		t.Errorf("archived body = %q", body)
	}

	record, err := LatestManifest(t.Context(), a.Dataset(), Filter{RunStart: "abc-123"})
	if err != nil {
		t.Fatalf("LatestManifest failed: %v", err)
	}
	if record["scan_type"] != "XAS_STEP" || record["data_session"] != "pass-316224" {
		t.Errorf("unexpected manifest %v", record)
	}
	if record["archived_at"] != "2026-10-19T12:00:00Z" {
		t.Errorf("archived_at = %v", record["archived_at"])
	}
	outs, ok := record["outcomes"].([]any)
	if !ok || len(outs) != 2 {
		t.Fatalf("outcomes = %v", record["outcomes"])
	}
}

func TestArchive_FailureStillWritesManifest(t *testing.T) {
	store := lode.NewMemory()
	failing := &failingStore{Store: store, putErr: errors.New("SlowDown: please reduce request rate")}
	a := newTestArchive(t, failing)

	path := writeOutput(t, "scan_42_primary.txt", "x")
	missing := filepath.Join(t.TempDir(), "gone.txt")
	outcomes := []types.ExportOutcome{
		types.Failed("xanes_fly", types.MissingDetector("xanes_fly", "xs"), path, missing),
	}

	m, err := a.Archive(t.Context(), testRecord(), outcomes)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrThrottled) {
		t.Errorf("expected ErrThrottled in %v", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for the missing file in %v", err)
	}
	if len(m.Files) != 0 {
		t.Errorf("no file should be listed, got %+v", m.Files)
	}

	record, err := LatestManifest(t.Context(), a.Dataset(), Filter{ScanID: 42})
	if err != nil {
		t.Fatalf("LatestManifest failed: %v", err)
	}
	outs := record["outcomes"].([]any)
	entry := outs[0].(map[string]any)
	if entry["error"] != `MissingDetector: xanes_fly: detector missing from run data: detector "xs"` {
		t.Errorf("outcome error = %v", entry["error"])
	}
}

func TestArchive_FactoryError(t *testing.T) {
	factory := func() (lode.Store, error) { return nil, errors.New("dial tcp: connection refused") }
	a, err := NewArchiveWithFactory(Config{Dataset: "srx"}, factory)
	if err != nil {
		// Dataset construction may already call the factory.
		if !errors.Is(err, ErrNetwork) {
			t.Fatalf("expected ErrNetwork, got %v", err)
		}
		return
	}
	path := writeOutput(t, "scan_1_xanes.txt", "x")
	if _, err := a.Archive(t.Context(), testRecord(), []types.ExportOutcome{types.Succeeded("xanes_step", path)}); !errors.Is(err, ErrNetwork) {
		t.Errorf("expected ErrNetwork, got %v", err)
	}
}

func TestArchive_EmptyPartitionValues(t *testing.T) {
	a := newTestArchive(t, lode.NewMemory())
	rec := &types.RunRecord{Start: types.StartDoc{UID: "u", ScanID: 7}}

	m, err := a.Archive(t.Context(), rec, nil)
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if m.Beamline != "unknown" || m.Cycle != "unknown" || m.DataSession != "unknown" {
		t.Errorf("unexpected partitions %+v", m)
	}
	if m.ScanType != "unknown" {
		t.Errorf("ScanType = %q, want unknown", m.ScanType)
	}
}

func TestLatestManifest(t *testing.T) {
	a := newTestArchive(t, lode.NewMemory())
	ctx := t.Context()

	for i, session := range []string{"pass-1", "pass-10"} {
		rec := testRecord()
		rec.Start.UID = "uid-" + session
		rec.Start.ScanID = 100 + i
		rec.Start.DataSession = session
		if _, err := a.Archive(ctx, rec, nil); err != nil {
			t.Fatalf("Archive failed: %v", err)
		}
	}

	record, err := LatestManifest(ctx, a.Dataset(), Filter{DataSession: "pass-1"})
	if err != nil {
		t.Fatalf("LatestManifest failed: %v", err)
	}
	if record["run_start"] != "uid-pass-1" {
		t.Errorf("data_session=pass-1 matched %v", record["run_start"])
	}

	record, err = LatestManifest(ctx, a.Dataset(), Filter{})
	if err != nil {
		t.Fatalf("LatestManifest failed: %v", err)
	}
	if record["run_start"] != "uid-pass-10" {
		t.Errorf("latest = %v, want uid-pass-10", record["run_start"])
	}

	if _, err := LatestManifest(ctx, a.Dataset(), Filter{RunStart: "nope"}); !errors.Is(err, ErrNoManifestFound) {
		t.Errorf("expected ErrNoManifestFound, got %v", err)
	}
}

func TestNewManifestDatasetFS(t *testing.T) {
	ds, err := NewManifestDataset("srx_exports", lode.NewFSFactory(t.TempDir()))
	if err != nil {
		t.Fatalf("NewManifestDataset failed: %v", err)
	}
	if ds.ID() != "srx_exports" {
		t.Errorf("Dataset ID = %q, want srx_exports", ds.ID())
	}
}

func TestS3Config_Validate(t *testing.T) {
	if err := (&S3Config{}).Validate(); err == nil {
		t.Error("empty bucket should fail")
	}
	if err := (&S3Config{Bucket: "srx-exports", Region: "us-east-1"}).Validate(); err != nil {
		t.Errorf("valid config failed: %v", err)
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		path, bucket, prefix string
	}{
		{"srx-exports", "srx-exports", ""},
		{"srx-exports/prod", "srx-exports", "prod"},
		{"srx-exports/a/b/c", "srx-exports", "a/b/c"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			bucket, prefix := ParseS3Path(tt.path)
			if bucket != tt.bucket || prefix != tt.prefix {
				t.Errorf("ParseS3Path(%q) = %q, %q", tt.path, bucket, prefix)
			}
		})
	}
}

func TestMatchesPartitionValue(t *testing.T) {
	path := "datasets/srx/partitions/beamline=SRX/cycle=2026-2/data_session=pass-10/seg.jsonl"
	if matchesPartitionValue(path, "data_session", "pass-1") {
		t.Error("pass-1 must not match pass-10")
	}
	if !matchesPartitionValue(path, "data_session", "pass-10") {
		t.Error("pass-10 should match")
	}
}
