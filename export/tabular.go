// Package export turns run records into XDI-style text files.
//
// Strategies build a Spec (header + aligned columns) fully in memory and hand
// it to WriteFile, which serializes it through a temp file and an atomic
// rename so a failed export never leaves a truncated file behind.
package export

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nsls2/srx-export/iox"
	"github.com/nsls2/srx-export/types"
)

// Strategy exports one run record. Implementations gate on the scan type
// themselves and return a Skipped outcome (with a nil error) for runs they
// do not handle.
type Strategy interface {
	Name() string
	Export(ctx context.Context, rec *types.RunRecord) (types.ExportOutcome, error)
}

// HeaderLine is one label/value header entry. A line without a label
// renders its value verbatim, so a zero HeaderLine is a bare "# " line.
type HeaderLine struct {
	Label string
	Value string
}

// Column is a named column of the tabular body.
type Column struct {
	Name   string
	Values []float64
}

// Spec is a fully assembled export: header lines followed by row-aligned
// columns. Column labels ("Column N: name") are generated from Columns, so
// the header always lists exactly the body's columns in body order.
type Spec struct {
	Header  []HeaderLine
	Columns []Column
}

// Rows returns the number of body rows.
func (s *Spec) Rows() int {
	if len(s.Columns) == 0 {
		return 0
	}
	return len(s.Columns[0].Values)
}

// Names returns the column names in body order.
func (s *Spec) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Validate checks the column invariants.
func (s *Spec) Validate() error {
	if len(s.Columns) == 0 {
		return errors.New("export spec has no columns")
	}
	n := s.Rows()
	for _, c := range s.Columns {
		if len(c.Values) != n {
			return fmt.Errorf("column %q has %d rows, want %d", c.Name, len(c.Values), n)
		}
	}
	return nil
}

// Format controls how a Spec is serialized.
type Format struct {
	// ColumnLabel renders the header line announcing column i (1-based).
	ColumnLabel func(i int, name string) string
	// Trailer lines are written between the column labels and the name row.
	Trailer []HeaderLine
	// Separator joins names and values within a row.
	Separator string
	// Value renders one numeric cell.
	Value func(v float64) string
}

// StepFormat is the step-scan layout: tab-separated, 6 significant digits.
var StepFormat = Format{
	ColumnLabel: func(i int, name string) string { return fmt.Sprintf("Column.%d: %s", i, name) },
	Separator:   "\t",
	Value:       func(v float64) string { return fmt.Sprintf("%8.6g", v) },
}

// FlyFormat is the fly-scan layout: space-separated, 3 decimals.
var FlyFormat = Format{
	ColumnLabel: func(i int, name string) string { return fmt.Sprintf("Column %02d: %s", i, name) },
	Trailer:     []HeaderLine{{}},
	Separator:   " ",
	Value:       func(v float64) string { return fmt.Sprintf("%.3f", v) },
}

func (h HeaderLine) String() string {
	if h.Label == "" {
		return "# " + h.Value
	}
	return "# " + h.Label + ": " + h.Value
}

// Encode writes spec to w in the given format.
func Encode(w *bufio.Writer, spec *Spec, f Format) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	for _, h := range spec.Header {
		w.WriteString(h.String())
		w.WriteByte('\n')
	}
	for i, c := range spec.Columns {
		w.WriteString("# " + f.ColumnLabel(i+1, c.Name))
		w.WriteByte('\n')
	}
	for _, h := range f.Trailer {
		w.WriteString(h.String())
		w.WriteByte('\n')
	}

	w.WriteString("# " + strings.Join(spec.Names(), f.Separator))
	w.WriteByte('\n')

	cells := make([]string, len(spec.Columns))
	for row := range spec.Rows() {
		for i, c := range spec.Columns {
			cells[i] = f.Value(c.Values[row])
		}
		w.WriteString(strings.Join(cells, f.Separator))
		w.WriteByte('\n')
	}
	return w.Flush()
}

// WriteFile serializes spec to path. The file is written next to its final
// location and renamed into place once complete.
func WriteFile(path string, spec *Spec, f Format) (err error) {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("export %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := Encode(bufio.NewWriter(tmp), spec, f); err != nil {
		iox.DiscardClose(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := iox.SyncClose(tmp); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o664); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
