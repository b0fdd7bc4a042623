// Package types defines the core domain types for the end-of-run export
// pipeline: run records, scan classification, export outcomes and
// notification events.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"slices"
	"sort"
)

// RunRecord is an immutable view of one completed scan.
// Records are produced by the acquisition system and are read-only here.
type RunRecord struct {
	// Start is the run start document (metadata).
	Start StartDoc `msgpack:"start" json:"start"`
	// Stop is the run stop document. Nil when the record store has none.
	Stop *StopDoc `msgpack:"stop,omitempty" json:"stop,omitempty"`
	// Streams maps stream name ("primary", "baseline", ...) to its data.
	Streams map[string]*Stream `msgpack:"streams" json:"streams"`
}

// StartDoc is the run start metadata.
type StartDoc struct {
	UID         string   `msgpack:"uid" json:"uid"`
	ScanID      int      `msgpack:"scan_id" json:"scan_id"`
	Time        float64  `msgpack:"time" json:"time"`
	BeamlineID  string   `msgpack:"beamline_id" json:"beamline_id"`
	Cycle       string   `msgpack:"cycle" json:"cycle"`
	DataSession string   `msgpack:"data_session" json:"data_session"`
	Proposal    Proposal `msgpack:"proposal" json:"proposal"`
	Detectors   []string `msgpack:"detectors" json:"detectors"`
	PlanName    string   `msgpack:"plan_name,omitempty" json:"plan_name,omitempty"`
	// Scan is the structured scan sub-document. Only custom beamline plans
	// write it; count/rel_scan style plans leave it nil.
	Scan *ScanInfo `msgpack:"scan,omitempty" json:"scan,omitempty"`
}

// Proposal identifies the user proposal a run belongs to.
type Proposal struct {
	Type       string `msgpack:"type" json:"type"`
	Title      string `msgpack:"title" json:"title"`
	ProposalID string `msgpack:"proposal_id,omitempty" json:"proposal_id,omitempty"`
}

// ScanInfo is the structured scan sub-document of a start document.
type ScanInfo struct {
	Type string `msgpack:"type" json:"type"`
	// ScanInput is the plan's positional input. For 2-D fly scans:
	// [start x, stop x, points x, start y, stop y, points y, dwell].
	ScanInput  []float64 `msgpack:"scan_input,omitempty" json:"scan_input,omitempty"`
	ROI        []int     `msgpack:"ROI,omitempty" json:"ROI,omitempty"`
	ROINum     int       `msgpack:"roi_num,omitempty" json:"roi_num,omitempty"`
	ROINames   []string  `msgpack:"roi_names,omitempty" json:"roi_names,omitempty"`
	Harmonic   int       `msgpack:"harmonic,omitempty" json:"harmonic,omitempty"`
	SampleName string    `msgpack:"sample_name,omitempty" json:"sample_name,omitempty"`
}

// StopDoc is the run stop document.
type StopDoc struct {
	RunStart   string         `msgpack:"run_start" json:"run_start"`
	ExitStatus string         `msgpack:"exit_status" json:"exit_status"`
	Reason     string         `msgpack:"reason,omitempty" json:"reason,omitempty"`
	NumEvents  map[string]int `msgpack:"num_events,omitempty" json:"num_events,omitempty"`
}

// ExitStatusSuccess is the stop document exit status of a clean run.
const ExitStatusSuccess = "success"

// Failed reports whether the acquisition itself ended unsuccessfully.
func (s *StopDoc) Failed() bool {
	return s != nil && s.ExitStatus != "" && s.ExitStatus != ExitStatusSuccess
}

// HasDetector reports whether name is in the start document's detector list.
func (d *StartDoc) HasDetector(name string) bool {
	return slices.Contains(d.Detectors, name)
}

// Stream is a named table of row-aligned measurement columns.
type Stream struct {
	// Keys is the column order as recorded by the acquisition system.
	Keys []string `msgpack:"keys" json:"keys"`
	// Data holds the column arrays keyed by column name.
	Data map[string]*Array `msgpack:"data" json:"data"`
	// ObjectKeys maps a logical detector name to its physical channel keys
	// (the first event descriptor's object_keys).
	ObjectKeys map[string][]string `msgpack:"object_keys,omitempty" json:"object_keys,omitempty"`
}

// ColumnKeys returns the stream's column names. Falls back to the sorted
// data keys when no explicit order was recorded.
func (s *Stream) ColumnKeys() []string {
	if len(s.Keys) > 0 {
		return s.Keys
	}
	keys := make([]string, 0, len(s.Data))
	for k := range s.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether the stream carries column key.
func (s *Stream) Has(key string) bool {
	_, ok := s.Data[key]
	return ok
}

// Read returns the array stored under key.
func (s *Stream) Read(key string) (*Array, error) {
	arr, ok := s.Data[key]
	if !ok || arr == nil {
		return nil, fmt.Errorf("column %q: %w", key, ErrColumnNotFound)
	}
	return arr, nil
}

// Channels returns the descriptor channel keys of a detector and whether
// the detector has a descriptor entry at all.
func (s *Stream) Channels(detector string) ([]string, bool) {
	keys, ok := s.ObjectKeys[detector]
	return keys, ok
}

// Array is a 1-D or row-major 2-D float64 array.
// Width == 0 marks a 1-D array; otherwise Data holds len(Data)/Width rows.
type Array struct {
	Data  []float64 `msgpack:"data" json:"data"`
	Width int       `msgpack:"width,omitempty" json:"width,omitempty"`
}

// Len returns the number of rows.
func (a *Array) Len() int {
	if a.Width > 0 {
		return len(a.Data) / a.Width
	}
	return len(a.Data)
}

// At returns the i-th value of a 1-D array.
func (a *Array) At(i int) float64 {
	return a.Data[i]
}

// Row returns row i of a 2-D array. A 1-D array yields a single-value row.
func (a *Array) Row(i int) []float64 {
	if a.Width == 0 {
		return a.Data[i : i+1]
	}
	return a.Data[i*a.Width : (i+1)*a.Width]
}

// SumRange sums row i over columns [lo, hi), clamped to the row bounds.
func (a *Array) SumRange(i, lo, hi int) float64 {
	row := a.Row(i)
	lo = max(lo, 0)
	hi = min(hi, len(row))
	var sum float64
	for j := lo; j < hi; j++ {
		sum += row[j]
	}
	return sum
}

// NewArray returns a 1-D array.
func NewArray(values ...float64) *Array {
	return &Array{Data: values}
}

// NewMatrix returns a 2-D array from equal-length rows.
func NewMatrix(rows [][]float64) *Array {
	if len(rows) == 0 {
		return &Array{}
	}
	width := len(rows[0])
	data := make([]float64, 0, width*len(rows))
	for _, r := range rows {
		data = append(data, r...)
	}
	return &Array{Data: data, Width: width}
}
