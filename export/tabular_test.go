package export

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestEncode_StepFormat(t *testing.T) {
	spec := &Spec{
		Header: []HeaderLine{{Value: "XDI/1.0 MX/2.0"}, {Label: "uid", Value: "abc"}},
		Columns: []Column{
			{Name: "a", Values: []float64{1, 2.5}},
			{Name: "b", Values: []float64{1234567, 0.000123456}},
		},
	}

	var buf bytes.Buffer
	if err := Encode(bufio.NewWriter(&buf), spec, StepFormat); err != nil {
		t.Fatalf("encode: %v", err)
	}

	want := "# XDI/1.0 MX/2.0\n" +
		"# uid: abc\n" +
		"# Column.1: a\n" +
		"# Column.2: b\n" +
		"# a\tb\n" +
		"       1\t1.23457e+06\n" +
		"     2.5\t0.000123456\n"
	if buf.String() != want {
		t.Errorf("unexpected output:\n%q\nwant:\n%q", buf.String(), want)
	}
}

func TestEncode_FlyFormat(t *testing.T) {
	spec := &Spec{
		Columns: []Column{
			{Name: "energy", Values: []float64{7100.12345}},
			{Name: "ch_sum", Values: []float64{3}},
		},
	}

	var buf bytes.Buffer
	if err := Encode(bufio.NewWriter(&buf), spec, FlyFormat); err != nil {
		t.Fatalf("encode: %v", err)
	}

	want := "# Column 01: energy\n" +
		"# Column 02: ch_sum\n" +
		"# \n" +
		"# energy ch_sum\n" +
		"7100.123 3.000\n"
	if buf.String() != want {
		t.Errorf("unexpected output:\n%q\nwant:\n%q", buf.String(), want)
	}
}

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"no columns", Spec{}, true},
		{"ragged", Spec{Columns: []Column{{Name: "a", Values: []float64{1}}, {Name: "b"}}}, true},
		{"aligned", Spec{Columns: []Column{{Name: "a", Values: []float64{1}}, {Name: "b", Values: []float64{2}}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.spec.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteFile_LeavesNothingOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	if err := WriteFile(path, &Spec{}, StepFormat); err == nil {
		t.Fatal("expected error for empty spec")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty directory, found %d entries", len(entries))
	}
}

func TestWriteFile_ReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	spec := &Spec{Columns: []Column{{Name: "a", Values: []float64{1}}}}
	if err := WriteFile(path, spec, StepFormat); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "# Column.1: a\n# a\n       1\n" {
		t.Errorf("unexpected content %q", data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp file left behind: %d entries", len(entries))
	}
}
