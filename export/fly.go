package export

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nsls2/srx-export/log"
	"github.com/nsls2/srx-export/proposal"
	"github.com/nsls2/srx-export/types"
)

// FlyStrategyName is the outcome name of the fly-scan exporter.
const FlyStrategyName = "xanes_fly"

const (
	energyIndexKey = "energy"
	channelSumKey  = "ch_sum"
)

// ROI is a parsed fluorescence region of interest.
type ROI struct {
	Name   string
	Number int
	Symbol string
	Z      int
	Family LineFamily
	Energy float64
	Window BinWindow
}

// FlyExporter writes each data stream of an energy fly scan to
// scan_{scan_id}_{stream}.txt.
type FlyExporter struct {
	resolver *proposal.Resolver
	logger   *log.Logger
	location *time.Location
}

// NewFlyExporter creates a fly-scan exporter.
func NewFlyExporter(resolver *proposal.Resolver, logger *log.Logger) *FlyExporter {
	if logger == nil {
		logger = log.NewNop()
	}
	return &FlyExporter{resolver: resolver, logger: logger.Named(FlyStrategyName), location: time.Local}
}

// Name implements Strategy.
func (e *FlyExporter) Name() string { return FlyStrategyName }

// Export implements Strategy. Streams are exported independently: a failed
// stream does not stop its siblings, and the outcome lists every file that
// was written even when it reports failure.
func (e *FlyExporter) Export(ctx context.Context, rec *types.RunRecord) (types.ExportOutcome, error) {
	if kind := types.Classify(rec); kind != types.ScanFlyXAS {
		return types.Skipped(FlyStrategyName, "scan_type="+types.ScanType(rec)), nil
	}

	roi, skip, err := ParseROI(rec.Start.Scan)
	if err != nil {
		return types.Failed(FlyStrategyName, err), err
	}
	if skip != "" {
		e.logger.Info("line identification failed", map[string]any{"reason": skip})
		return types.Skipped(FlyStrategyName, skip), nil
	}

	current, err := baselineRingCurrent(rec)
	if err != nil {
		return types.Failed(FlyStrategyName, err), err
	}

	dir, err := e.resolver.RequireDir(FlyStrategyName, &rec.Start)
	if err != nil {
		return types.Failed(FlyStrategyName, err), err
	}

	header := e.header(rec, roi, current)

	var (
		files []string
		errs  []error
	)
	for _, name := range DataStreams(rec) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		spec, err := BuildFlyStream(rec.Streams[name], header, roi.Window)
		if err != nil {
			e.logger.Error("stream export failed", map[string]any{"stream": name, "error": err.Error()})
			errs = append(errs, fmt.Errorf("stream %s: %w", name, err))
			continue
		}

		path := filepath.Join(dir, fmt.Sprintf("scan_%d_%s.txt", rec.Start.ScanID, name))
		if err := WriteFile(path, spec, FlyFormat); err != nil {
			e.logger.Error("stream export failed", map[string]any{"stream": name, "error": err.Error()})
			errs = append(errs, fmt.Errorf("stream %s: %w", name, err))
			continue
		}
		e.logger.Info("wrote fly-scan stream", map[string]any{"stream": name, "path": path, "rows": spec.Rows()})
		files = append(files, path)
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		return types.Failed(FlyStrategyName, err, files...), err
	}
	return types.Succeeded(FlyStrategyName, files...), nil
}

// ParseROI resolves the selected ROI of a fly scan. A non-empty skip reason
// means the ROI is well formed but has no usable emission line.
func ParseROI(scan *types.ScanInfo) (roi ROI, skip string, err error) {
	invalid := func(format string, args ...any) error {
		return types.NewExportError(types.ErrInvalidROI, FlyStrategyName, fmt.Errorf(format, args...))
	}

	if scan == nil {
		return ROI{}, "", invalid("no scan document")
	}
	if scan.ROINum < 1 || scan.ROINum > len(scan.ROINames) {
		return ROI{}, "", invalid("roi_num %d out of range for %d roi_names", scan.ROINum, len(scan.ROINames))
	}

	roi.Number = scan.ROINum
	roi.Name = scan.ROINames[scan.ROINum-1]
	parts := strings.Split(roi.Name, "_")
	if len(parts) != 2 {
		return ROI{}, "", invalid("roi name %q is not {element}_{line}", roi.Name)
	}
	roi.Symbol = parts[0]

	z, ok := AtomicNumber(roi.Symbol)
	if !ok {
		return ROI{}, "", invalid("unknown element %q", roi.Symbol)
	}
	roi.Z = z

	family, ok := ParseLineFamily(parts[1])
	if !ok {
		return ROI{}, fmt.Sprintf("unrecognized emission line %q", parts[1]), nil
	}
	roi.Family = family

	energy, ok := LineEnergy(z, family)
	if !ok {
		return ROI{}, fmt.Sprintf("no tabulated %s energy for %s", family, roi.Symbol), nil
	}
	roi.Energy = energy
	roi.Window = NewBinWindow(energy)
	return roi, "", nil
}

// DataStreams lists the exportable streams of a fly scan in sorted order:
// everything except the baseline and monitor streams.
func DataStreams(rec *types.RunRecord) []string {
	var names []string
	for name := range rec.Streams {
		if name == baselineStream || strings.Contains(name, "monitor") {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// BuildFlyStream assembles one stream's export. header is copied, so the
// same preamble can be shared by every stream of a run.
func BuildFlyStream(stream *types.Stream, header []HeaderLine, win BinWindow) (*Spec, error) {
	if stream == nil {
		return nil, errors.New("stream has no data")
	}

	var keys, channels []string
	for _, k := range stream.ColumnKeys() {
		switch {
		case strings.Contains(k, "time"):
		case strings.Contains(k, "channel"):
			channels = append(channels, k)
		default:
			keys = append(keys, k)
		}
	}

	index, err := stream.Read(energyIndexKey)
	if err != nil || !slices.Contains(keys, energyIndexKey) {
		return nil, fmt.Errorf("no %s index: %w", energyIndexKey, types.ErrColumnNotFound)
	}
	rows := index.Len()

	spec := &Spec{
		Header:  slices.Clone(header),
		Columns: []Column{{Name: energyIndexKey, Values: index.Data}},
	}

	for _, k := range keys {
		if k == energyIndexKey {
			continue
		}
		arr, err := stream.Read(k)
		if err != nil {
			return nil, err
		}
		if arr.Len() != rows {
			return nil, fmt.Errorf("column %q has %d rows, want %d", k, arr.Len(), rows)
		}
		spec.Columns = append(spec.Columns, Column{Name: k, Values: arr.Data})
	}

	total := make([]float64, rows)
	for _, k := range channels {
		arr, err := stream.Read(k)
		if err != nil {
			return nil, err
		}
		if arr.Width == 0 {
			return nil, fmt.Errorf("channel %q is not a spectrum array", k)
		}
		if arr.Len() != rows {
			return nil, fmt.Errorf("channel %q has %d rows, want %d", k, arr.Len(), rows)
		}
		sums := make([]float64, rows)
		for i := range rows {
			sums[i] = arr.SumRange(i, win.Min, win.Max)
			total[i] += sums[i]
		}
		spec.Columns = append(spec.Columns, Column{Name: lastSegment(k), Values: sums})
	}
	spec.Columns = append(spec.Columns, Column{Name: channelSumKey, Values: total})

	return spec, nil
}

func (e *FlyExporter) header(rec *types.RunRecord, roi ROI, current float64) []HeaderLine {
	start := &rec.Start
	harmonic := 0
	if start.Scan != nil {
		harmonic = start.Scan.Harmonic
	}
	return []HeaderLine{
		{Value: "XDI/1.0 MX/2.0"},
		{Label: "Beamline.name", Value: start.BeamlineID},
		{Label: "Facility.name", Value: "NSLS-II"},
		{Label: "Facility.ring_current", Value: strconv.FormatFloat(math.Round(current), 'f', 1, 64)},
		{Label: "IVU.harmonic", Value: strconv.Itoa(harmonic)},
		{Label: "Mono.name", Value: "Si 111"},
		{Label: "Scan.start.uid", Value: start.UID},
		{Label: "Scan.start.scanid", Value: strconv.Itoa(start.ScanID)},
		{Label: "Scan.start.time", Value: formatFloat(start.Time)},
		{Label: "Scan.start.ctime", Value: ctime(start.Time, e.location)},
		{Label: "Scan.ROI.name", Value: roi.Name},
		{Label: "Scan.ROI.number", Value: strconv.Itoa(roi.Number)},
		{Label: "Scan.ROI.range", Value: fmt.Sprintf("[%d:%d]", roi.Window.Min, roi.Window.Max)},
		{},
	}
}

func baselineRingCurrent(rec *types.RunRecord) (float64, error) {
	baseline := rec.Streams[baselineStream]
	if baseline == nil {
		return 0, types.NewExportError(types.ErrColumnNotFound, FlyStrategyName,
			fmt.Errorf("run %s has no %s stream", rec.Start.UID, baselineStream))
	}
	arr, err := baseline.Read(ringCurrentKey)
	if err != nil {
		return 0, types.NewExportError(types.ErrColumnNotFound, FlyStrategyName, err)
	}
	if arr.Len() == 0 {
		return 0, types.NewExportError(types.ErrColumnNotFound, FlyStrategyName,
			fmt.Errorf("%s %s is empty", baselineStream, ringCurrentKey))
	}
	return arr.At(0), nil
}

func lastSegment(key string) string {
	if i := strings.LastIndex(key, "_"); i >= 0 {
		return key[i+1:]
	}
	return key
}
