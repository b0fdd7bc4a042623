// Package hdf5 hands 2-D fluorescence map scans to an external HDF5 maker
// and fixes up the permissions of the files it produces.
package hdf5

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nsls2/srx-export/log"
	"github.com/nsls2/srx-export/proposal"
	"github.com/nsls2/srx-export/types"
)

// StrategyName is the outcome name of the HDF5 invoker.
const StrategyName = "xrf_hdf5"

// Defaults for Request fields.
const (
	DefaultPrefix  = "autorun_scan2D_"
	DefaultCatalog = types.CatalogName
)

// numPointsYIndex is the position of the y point count in an XRF fly
// scan's scan_input: [start x, stop x, points x, start y, stop y, points y, dwell].
const numPointsYIndex = 5

// Request is one HDF5 conversion request.
type Request struct {
	ScanID     int
	WorkingDir string
	Prefix     string
	Catalog    string
}

// Maker produces HDF5 files for a scan in the request's working directory.
type Maker interface {
	MakeHDF(ctx context.Context, req Request) error
}

// Invoker gates XRF map scans and delegates them to a Maker.
type Invoker struct {
	maker    Maker
	resolver *proposal.Resolver
	prefix   string
	catalog  string
	logger   *log.Logger
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithPrefix sets the output file prefix.
func WithPrefix(prefix string) Option {
	return func(i *Invoker) {
		if prefix != "" {
			i.prefix = prefix
		}
	}
}

// WithCatalog sets the catalog name passed to the maker.
func WithCatalog(catalog string) Option {
	return func(i *Invoker) {
		if catalog != "" {
			i.catalog = catalog
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(i *Invoker) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewInvoker creates an invoker.
func NewInvoker(maker Maker, resolver *proposal.Resolver, opts ...Option) *Invoker {
	i := &Invoker{
		maker:    maker,
		resolver: resolver,
		prefix:   DefaultPrefix,
		catalog:  DefaultCatalog,
		logger:   log.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.Named(StrategyName)
	return i
}

// Name returns the outcome name.
func (i *Invoker) Name() string { return StrategyName }

// Export runs the maker for XRF_FLY and XRF_STEP scans. Single-line fly
// scans (one y point) are alignment scans and are skipped.
func (i *Invoker) Export(ctx context.Context, rec *types.RunRecord) (types.ExportOutcome, error) {
	kind := types.Classify(rec)
	if !kind.IsXRF() {
		i.logger.Info("incorrect document type, not running make_hdf", map[string]any{
			"scan_type": types.ScanType(rec),
		})
		return types.Skipped(StrategyName, "scan_type="+types.ScanType(rec)), nil
	}
	if kind == types.ScanFlyXRF && isAlignmentScan(rec.Start.Scan) {
		i.logger.Info("likely an alignment scan, not running make_hdf", nil)
		return types.Skipped(StrategyName, "alignment scan"), nil
	}

	dir, err := i.resolver.RequireDir(StrategyName, &rec.Start)
	if err != nil {
		return types.Failed(StrategyName, err), err
	}

	req := Request{ScanID: rec.Start.ScanID, WorkingDir: dir, Prefix: i.prefix, Catalog: i.catalog}
	i.logger.Info("running make_hdf", map[string]any{"wd": dir, "prefix": i.prefix})

	if err := i.maker.MakeHDF(ctx, req); err != nil {
		err = types.NewExportError(types.ErrExternalTool, StrategyName, err)
		return types.Failed(StrategyName, err), err
	}

	files, err := FixPermissions(dir, i.prefix, rec.Start.ScanID)
	if err != nil {
		err = fmt.Errorf("%s: %w", StrategyName, err)
		return types.Failed(StrategyName, err, files...), err
	}
	i.logger.Info("make_hdf finished", map[string]any{"files": files})
	return types.Succeeded(StrategyName, files...), nil
}

func isAlignmentScan(scan *types.ScanInfo) bool {
	return scan != nil && len(scan.ScanInput) > numPointsYIndex && scan.ScanInput[numPointsYIndex] == 1
}

// FixPermissions grants group write on every {prefix}{scan_id}*.h5 file in
// dir and removes all world access. It returns the matched files.
func FixPermissions(dir, prefix string, scanID int) ([]string, error) {
	pattern := filepath.Join(dir, fmt.Sprintf("%s%d*.h5", prefix, scanID))
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			return files, fmt.Errorf("stat %s: %w", f, err)
		}
		if err := os.Chmod(f, GroupWritable(info.Mode())); err != nil {
			return files, fmt.Errorf("chmod %s: %w", f, err)
		}
	}
	return files, nil
}

// GroupWritable returns mode with group write added and world bits cleared.
func GroupWritable(mode fs.FileMode) fs.FileMode {
	return (mode.Perm() | 0o020) &^ 0o007
}

var _ Maker = (*CommandMaker)(nil)
