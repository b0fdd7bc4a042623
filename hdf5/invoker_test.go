package hdf5

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/nsls2/srx-export/proposal"
	"github.com/nsls2/srx-export/types"
)

type fakeMaker struct {
	calls []Request
	files []string
	err   error
}

func (f *fakeMaker) MakeHDF(_ context.Context, req Request) error {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return f.err
	}
	for _, name := range f.files {
		if err := os.WriteFile(filepath.Join(req.WorkingDir, name), []byte("h5"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func xrfRecord(scanType string, scanInput ...float64) *types.RunRecord {
	return &types.RunRecord{Start: types.StartDoc{
		UID:         "xrf-uid",
		ScanID:      1234,
		Cycle:       "2026-2",
		DataSession: "pass-316224",
		Proposal:    types.Proposal{Title: "SRX Beamline Commissioning 2026"},
		Scan:        &types.ScanInfo{Type: scanType, ScanInput: scanInput},
	}}
}

func commissioningDir(t *testing.T) (*proposal.Resolver, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "commissioning", "pass-316224")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	return proposal.NewResolver(root), dir
}

func TestInvoker_GatesScanTypes(t *testing.T) {
	tests := []struct {
		name      string
		rec       *types.RunRecord
		wantCalls int
		status    types.OutcomeStatus
	}{
		{"xrf step", xrfRecord(types.ScanTypeStepXRF), 1, types.OutcomeSuccess},
		{"xrf fly map", xrfRecord(types.ScanTypeFlyXRF, 0, 10, 11, 0, 10, 11, 0.1), 1, types.OutcomeSuccess},
		{"xrf fly alignment", xrfRecord(types.ScanTypeFlyXRF, 0, 10, 101, 0, 0, 1, 0.1), 0, types.OutcomeSkipped},
		{"xas step", xrfRecord(types.ScanTypeStepXAS), 0, types.OutcomeSkipped},
		{"no scan document", &types.RunRecord{}, 0, types.OutcomeSkipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := commissioningDir(t)
			maker := &fakeMaker{}
			inv := NewInvoker(maker, r)

			outcome, err := inv.Export(t.Context(), tt.rec)
			if err != nil {
				t.Fatalf("export: %v", err)
			}
			if len(maker.calls) != tt.wantCalls {
				t.Errorf("expected %d maker calls, got %d", tt.wantCalls, len(maker.calls))
			}
			if outcome.Status != tt.status {
				t.Errorf("expected %s, got %s", tt.status, outcome.Status)
			}
		})
	}
}

func TestInvoker_RequestAndPermissions(t *testing.T) {
	r, dir := commissioningDir(t)
	maker := &fakeMaker{files: []string{"autorun_scan2D_1234.h5", "autorun_scan2D_1234_roi.h5", "autorun_scan2D_999.h5"}}

	outcome, err := NewInvoker(maker, r).Export(t.Context(), xrfRecord(types.ScanTypeStepXRF))
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	want := Request{ScanID: 1234, WorkingDir: dir, Prefix: "autorun_scan2D_", Catalog: "srx"}
	if maker.calls[0] != want {
		t.Errorf("request = %+v, want %+v", maker.calls[0], want)
	}
	if len(outcome.Files) != 2 {
		t.Fatalf("expected 2 matched files, got %v", outcome.Files)
	}
	for _, f := range outcome.Files {
		info, err := os.Stat(f)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm()&0o020 == 0 {
			t.Errorf("%s is not group writable: %v", f, info.Mode())
		}
		if info.Mode().Perm()&0o007 != 0 {
			t.Errorf("%s keeps world bits: %v", f, info.Mode())
		}
	}

	info, err := os.Stat(filepath.Join(dir, "autorun_scan2D_999.h5"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o020 != 0 {
		t.Error("unrelated scan file was modified")
	}
}

func TestInvoker_ExternalToolFailure(t *testing.T) {
	r, _ := commissioningDir(t)
	maker := &fakeMaker{err: errors.New("pyxrf exploded")}

	outcome, err := NewInvoker(maker, r).Export(t.Context(), xrfRecord(types.ScanTypeStepXRF))
	if !errors.Is(err, types.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
	if outcome.Status != types.OutcomeFailed {
		t.Errorf("expected failed, got %s", outcome.Status)
	}
	if len(maker.calls) != 1 {
		t.Errorf("expected no retries, got %d calls", len(maker.calls))
	}
}

func TestInvoker_DirectoryMissing(t *testing.T) {
	maker := &fakeMaker{}
	inv := NewInvoker(maker, proposal.NewResolver(filepath.Join(t.TempDir(), "absent")))

	_, err := inv.Export(t.Context(), xrfRecord(types.ScanTypeStepXRF))
	if !errors.Is(err, types.ErrDirectoryMissing) {
		t.Fatalf("expected ErrDirectoryMissing, got %v", err)
	}
	if len(maker.calls) != 0 {
		t.Error("maker must not run without a working directory")
	}
}

func TestGroupWritable(t *testing.T) {
	tests := []struct {
		in, want fs.FileMode
	}{
		{0o644, 0o660},
		{0o600, 0o620},
		{0o777, 0o770},
		{0o664, 0o660},
	}
	for _, tt := range tests {
		if got := GroupWritable(tt.in); got != tt.want {
			t.Errorf("GroupWritable(%o) = %o, want %o", tt.in, got, tt.want)
		}
	}
}
