package export

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nsls2/srx-export/log"
	"github.com/nsls2/srx-export/proposal"
	"github.com/nsls2/srx-export/types"
)

// StepStrategyName is the outcome name of the step-scan exporter.
const StepStrategyName = "xanes_step"

// Detector and stream names used by the step exporter.
const (
	scalerDetector       = "sclr1"
	fluorescenceDetector = "xs"
	primaryStream        = "primary"
	baselineStream       = "baseline"
	ringCurrentKey       = "ring_current"
)

var (
	stepBaseColumns   = []string{"energy_energy", "energy_bragg", "energy_c2_x"}
	scalerNamedSet    = []string{"sclr_im", "sclr_i0", "sclr_it"}
	scalerChannelSet  = []string{"sclr1_mca3", "sclr1_mca2", "sclr1_mca4"}
	scalerNamedMarker = "sclr_i0"
)

// StepExporter writes an energy step scan to scan_{scan_id}_xanes.txt.
type StepExporter struct {
	resolver *proposal.Resolver
	logger   *log.Logger
	// location renders Scan.start.ctime. Defaults to time.Local.
	location *time.Location
}

// NewStepExporter creates a step-scan exporter.
func NewStepExporter(resolver *proposal.Resolver, logger *log.Logger) *StepExporter {
	if logger == nil {
		logger = log.NewNop()
	}
	return &StepExporter{resolver: resolver, logger: logger.Named(StepStrategyName), location: time.Local}
}

// Name implements Strategy.
func (e *StepExporter) Name() string { return StepStrategyName }

// Export implements Strategy.
func (e *StepExporter) Export(ctx context.Context, rec *types.RunRecord) (types.ExportOutcome, error) {
	if kind := types.Classify(rec); kind != types.ScanStepXAS {
		e.logger.Info("incorrect document type, not running exporter", map[string]any{
			"scan_type": types.ScanType(rec),
		})
		return types.Skipped(StepStrategyName, "scan_type="+types.ScanType(rec)), nil
	}

	spec, err := e.Build(rec)
	if err != nil {
		return types.Failed(StepStrategyName, err), err
	}
	if err := ctx.Err(); err != nil {
		return types.Failed(StepStrategyName, err), err
	}

	dir, err := e.resolver.RequireDir(StepStrategyName, &rec.Start)
	if err != nil {
		return types.Failed(StepStrategyName, err), err
	}
	path := filepath.Join(dir, fmt.Sprintf("scan_%d_xanes.txt", rec.Start.ScanID))
	if err := WriteFile(path, spec, StepFormat); err != nil {
		return types.Failed(StepStrategyName, err), err
	}

	e.logger.Info("wrote step-scan export", map[string]any{
		"path":    path,
		"rows":    spec.Rows(),
		"columns": len(spec.Columns),
	})
	return types.Succeeded(StepStrategyName, path), nil
}

// Build assembles the export without touching the filesystem.
func (e *StepExporter) Build(rec *types.RunRecord) (*Spec, error) {
	primary := rec.Streams[primaryStream]
	if primary == nil {
		return nil, types.NewExportError(types.ErrColumnNotFound, StepStrategyName,
			fmt.Errorf("run %s has no %s stream", rec.Start.UID, primaryStream))
	}

	spec := &Spec{Header: e.header(rec, primary)}

	for _, key := range stepBaseColumns {
		arr, err := primary.Read(key)
		if err != nil {
			e.logger.Warn("column not in the scan", map[string]any{"column": key})
			continue
		}
		spec.Columns = append(spec.Columns, Column{Name: key, Values: arr.Data})
	}

	scalers, err := e.scalerColumns(rec, primary)
	if err != nil {
		return nil, err
	}
	spec.Columns = append(spec.Columns, scalers...)

	if len(spec.Columns) == 0 {
		return nil, types.NewExportError(types.ErrColumnNotFound, StepStrategyName,
			fmt.Errorf("no base columns in %s stream", primaryStream))
	}
	rows := len(spec.Columns[0].Values)
	for i, c := range spec.Columns {
		if len(c.Values) < rows {
			return nil, fmt.Errorf("%s: column %q has %d rows, want %d", StepStrategyName, c.Name, len(c.Values), rows)
		}
		spec.Columns[i].Values = c.Values[:rows]
	}

	if rec.Start.HasDetector(fluorescenceDetector) {
		derived, err := e.fluorescenceSeries(rec, primary)
		if err != nil {
			return nil, err
		}
		cols, err := alignSeries(derived, rows)
		if err != nil {
			return nil, err
		}
		spec.Columns = append(spec.Columns, cols...)
	}

	return spec, nil
}

func (e *StepExporter) header(rec *types.RunRecord, primary *types.Stream) []HeaderLine {
	start := &rec.Start
	h := []HeaderLine{
		{Value: "XDI/1.0 MX/2.0"},
		{Label: "Beamline.name", Value: start.BeamlineID},
		{Label: "Facility.name", Value: "NSLS-II"},
	}
	if current, ok := ringCurrent(rec, primary); ok {
		// No space after the colon.
		h = append(h, HeaderLine{Value: "Facility.ring_current:" + formatFloat(current)})
	} else {
		e.logger.Warn("ring current not recorded", nil)
	}
	h = append(h,
		HeaderLine{Label: "Scan.start.uid", Value: start.UID},
		HeaderLine{Label: "Scan.start.time", Value: formatFloat(start.Time)},
		HeaderLine{Label: "Scan.start.ctime", Value: ctime(start.Time, e.location)},
		HeaderLine{Label: "Mono.name", Value: "Si 111"},
		HeaderLine{Label: "uid", Value: start.UID},
		HeaderLine{Label: "sample.name", Value: sampleName(start)},
	)
	return h
}

// scalerColumns returns the three ion-chamber columns.
func (e *StepExporter) scalerColumns(rec *types.RunRecord, primary *types.Stream) ([]Column, error) {
	if !rec.Start.HasDetector(scalerDetector) {
		return nil, types.MissingDetector(StepStrategyName, scalerDetector)
	}
	channels, ok := primary.Channels(scalerDetector)
	if !ok {
		return nil, types.MissingDetector(StepStrategyName, scalerDetector)
	}

	keys := scalerChannelSet
	if slices.Contains(channels, scalerNamedMarker) {
		keys = scalerNamedSet
	}

	cols := make([]Column, 0, len(keys))
	for _, key := range keys {
		arr, err := primary.Read(key)
		if err != nil {
			return nil, types.NewExportError(types.ErrMissingDetector, StepStrategyName,
				fmt.Errorf("detector %q: %w", scalerDetector, err))
		}
		cols = append(cols, Column{Name: key, Values: arr.Data})
	}
	return cols, nil
}

// fluorescenceSeries sums the xs ROI channels per selected ROI.
func (e *StepExporter) fluorescenceSeries(rec *types.RunRecord, primary *types.Stream) ([]series, error) {
	channels, ok := primary.Channels(fluorescenceDetector)
	if !ok {
		return nil, types.MissingDetector(StepStrategyName, fluorescenceDetector)
	}

	rois := []int{1}
	if s := rec.Start.Scan; s != nil && len(s.ROI) > 0 {
		rois = s.ROI
	}

	out := make([]series, 0, len(rois))
	for _, roi := range rois {
		marker := fmt.Sprintf("mcaroi%02d", roi)
		var keys []string
		for _, ch := range channels {
			if strings.Contains(ch, marker) && strings.Contains(ch, "total_rbv") {
				keys = append(keys, ch)
			}
		}
		e.logger.Debug("fluorescence ROI channels", map[string]any{"roi": roi, "channels": keys})
		if len(keys) == 0 {
			return nil, types.NewExportError(types.ErrMissingDetector, StepStrategyName,
				fmt.Errorf("detector %q has no channel for ROI %d", fluorescenceDetector, roi))
		}

		var sum []float64
		for _, key := range keys {
			arr, err := primary.Read(key)
			if err != nil {
				return nil, types.NewExportError(types.ErrMissingDetector, StepStrategyName,
					fmt.Errorf("detector %q: %w", fluorescenceDetector, err))
			}
			if sum == nil {
				sum = make([]float64, arr.Len())
			}
			for i := range min(len(sum), arr.Len()) {
				sum[i] += arr.SumRange(i, 0, len(arr.Row(i)))
			}
		}
		out = append(out, series{name: fmt.Sprintf("If-%02d", roi), base: 1, values: sum})
	}
	return out, nil
}

// series is a derived column whose first value sits at index base.
type series struct {
	name   string
	base   int
	values []float64
}

func (s series) at(i int) (float64, bool) {
	j := i - s.base
	if j < 0 || j >= len(s.values) {
		return 0, false
	}
	return s.values[j], true
}

// alignSeries joins derived series onto rows body rows. Row i reads index
// i; on the first miss every later lookup, for all series, reads i+1
// instead. A miss after that shift is an error.
func alignSeries(derived []series, rows int) ([]Column, error) {
	cols := make([]Column, len(derived))
	for j, s := range derived {
		cols[j] = Column{Name: s.name, Values: make([]float64, rows)}
	}

	offset := 0
	for i := range rows {
		for j, s := range derived {
			v, ok := s.at(i + offset)
			if !ok && offset == 0 {
				offset = 1
				v, ok = s.at(i + offset)
			}
			if !ok {
				return nil, types.NewExportError(types.ErrColumnNotFound, StepStrategyName,
					fmt.Errorf("%s has no value for row %d", s.name, i))
			}
			cols[j].Values[i] = v
		}
	}
	return cols, nil
}

// ringCurrent returns the first ring current sample of the primary stream,
// falling back to the baseline stream.
func ringCurrent(rec *types.RunRecord, primary *types.Stream) (float64, bool) {
	for _, s := range []*types.Stream{primary, rec.Streams[baselineStream]} {
		if s == nil {
			continue
		}
		if arr, err := s.Read(ringCurrentKey); err == nil && arr.Len() > 0 {
			return arr.At(0), true
		}
	}
	return 0, false
}

func sampleName(start *types.StartDoc) string {
	if start.Scan == nil {
		return ""
	}
	return start.Scan.SampleName
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ctime renders an epoch timestamp like C's ctime(3), without the newline.
func ctime(epoch float64, loc *time.Location) string {
	sec := int64(epoch)
	nsec := int64((epoch - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).In(loc).Format(time.ANSIC)
}
