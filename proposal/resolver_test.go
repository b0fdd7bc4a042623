package proposal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nsls2/srx-export/types"
)

func TestResolver_Dir(t *testing.T) {
	r := NewResolver("/data/proposals")

	tests := []struct {
		name  string
		start types.StartDoc
		want  string
	}{
		{
			name: "user proposal",
			start: types.StartDoc{
				Cycle:       "2026-2",
				DataSession: "pass-316224",
				Proposal:    types.Proposal{Type: "General User", Title: "Iron speciation in soils"},
			},
			want: "/data/proposals/2026-2/pass-316224",
		},
		{
			name: "commissioning by type",
			start: types.StartDoc{
				Cycle:       "2026-2",
				DataSession: "pass-300001",
				Proposal:    types.Proposal{Type: "Beamline Commissioning (beamline staff only)"},
			},
			want: "/data/proposals/commissioning/pass-300001",
		},
		{
			name: "commissioning by title",
			start: types.StartDoc{
				Cycle:       "2026-2",
				DataSession: "pass-300002",
				Proposal:    types.Proposal{Type: "Staff", Title: "SRX Beamline Commissioning 2026"},
			},
			want: "/data/proposals/commissioning/pass-300002",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Dir(&tt.start); got != tt.want {
				t.Errorf("Dir() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolver_DefaultRoot(t *testing.T) {
	if r := NewResolver(""); r.Root != DefaultRoot {
		t.Errorf("expected default root, got %q", r.Root)
	}
}

func TestResolver_LogFile(t *testing.T) {
	r := NewResolver("/p")
	start := types.StartDoc{Cycle: "2026-1", DataSession: "pass-1"}
	if got := r.LogFile(&start); got != "/p/2026-1/pass-1/logfilepass-1.txt" {
		t.Errorf("unexpected log file path %q", got)
	}
}

func TestResolver_RequireDir(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(root)
	start := types.StartDoc{Cycle: "2026-1", DataSession: "pass-1"}

	if _, err := r.RequireDir("xanes_step", &start); !errors.Is(err, types.ErrDirectoryMissing) {
		t.Fatalf("expected ErrDirectoryMissing, got %v", err)
	}

	if err := os.MkdirAll(filepath.Join(root, "2026-1", "pass-1"), 0o755); err != nil {
		t.Fatal(err)
	}
	dir, err := r.RequireDir("xanes_step", &start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Exists(dir) {
		t.Errorf("expected %s to exist", dir)
	}
}
