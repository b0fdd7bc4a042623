// Package lode mirrors export outputs into Lode storage.
//
// Every archived run produces two things: the output files themselves,
// copied verbatim under a Hive-partitioned files/ prefix, and one manifest
// record written to a Dataset partitioned by beamline/cycle/data_session.
// The local proposal directory stays the source of truth; the archive is a
// best-effort copy.
package lode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/nsls2/srx-export/iox"
	"github.com/nsls2/srx-export/types"
)

// DefaultDataset is the Lode dataset ID used for export manifests.
const DefaultDataset = "srx_exports"

// RecordKindManifest tags manifest records in the dataset.
const RecordKindManifest = "export_manifest"

// unknownPartition replaces empty partition values.
const unknownPartition = "unknown"

// ErrNoManifestFound is returned when no manifest matches a lookup.
var ErrNoManifestFound = errors.New("no export manifest found")

// Config holds archive configuration.
type Config struct {
	// Dataset is the Lode dataset ID (DefaultDataset when empty).
	Dataset string
}

// ArchivedFile describes one output file copied into the store.
type ArchivedFile struct {
	Strategy string `json:"strategy"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// Manifest summarises one archived run.
type Manifest struct {
	RunStart    string
	ScanID      int
	ScanType    string
	Beamline    string
	Cycle       string
	DataSession string
	Files       []ArchivedFile
	Outcomes    []types.ExportOutcome
	ArchivedAt  time.Time
}

// Archive writes export outputs and manifests to a Lode store.
type Archive struct {
	dataset      lode.Dataset
	config       Config
	storeFactory lode.StoreFactory

	storeOnce sync.Once
	store     lode.Store
	storeErr  error

	now func() time.Time
}

// NewArchive creates an archive with filesystem storage rooted at root.
func NewArchive(cfg Config, root string) (*Archive, error) {
	return NewArchiveWithFactory(cfg, lode.NewFSFactory(root))
}

// NewArchiveWithFactory creates an archive with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewArchiveWithFactory(cfg Config, factory lode.StoreFactory) (*Archive, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	ds, err := NewManifestDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return &Archive{
		dataset:      ds,
		config:       cfg,
		storeFactory: factory,
		now:          time.Now,
	}, nil
}

// NewManifestDataset opens the manifest Dataset. Readers and the archive
// share the same layout and codec.
func NewManifestDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout("beamline", "cycle", "data_session"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// Dataset returns the manifest Dataset.
func (a *Archive) Dataset() lode.Dataset {
	return a.dataset
}

// Archive copies every file listed in outcomes into the store and writes a
// manifest record for the run. A file that fails to copy is left out of the
// manifest; the manifest is still written. All failures are joined into the
// returned error.
func (a *Archive) Archive(ctx context.Context, rec *types.RunRecord, outcomes []types.ExportOutcome) (*Manifest, error) {
	start := &rec.Start
	m := &Manifest{
		RunStart:    start.UID,
		ScanID:      start.ScanID,
		ScanType:    types.ScanType(rec),
		Beamline:    partition(start.BeamlineID),
		Cycle:       partition(start.Cycle),
		DataSession: partition(start.DataSession),
		Outcomes:    outcomes,
		ArchivedAt:  a.now().UTC(),
	}

	var errs []error
	for _, o := range outcomes {
		for _, path := range o.Files {
			if err := ctx.Err(); err != nil {
				return m, err
			}
			f, err := a.putFile(ctx, m, path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			f.Strategy = o.Strategy
			m.Files = append(m.Files, f)
		}
	}

	if _, err := a.dataset.Write(ctx, []any{toManifestRecord(m, a.config)}, lode.Metadata{}); err != nil {
		errs = append(errs, WrapWriteError(err, a.config.Dataset+"/manifest"))
	}
	return m, errors.Join(errs...)
}

// putFile streams one local file into the store.
func (a *Archive) putFile(ctx context.Context, m *Manifest, path string) (ArchivedFile, error) {
	store, err := a.getOrCreateStore()
	if err != nil {
		return ArchivedFile{}, WrapInitError(err, a.config.Dataset)
	}

	src, err := os.Open(path)
	if err != nil {
		return ArchivedFile{}, WrapReadError(err, path)
	}
	defer iox.DiscardClose(src)

	info, err := src.Stat()
	if err != nil {
		return ArchivedFile{}, WrapReadError(err, path)
	}

	name := filepath.Base(path)
	key := a.filePath(m, name)
	if err := store.Put(ctx, key, src); err != nil {
		return ArchivedFile{}, WrapWriteError(err, key)
	}
	return ArchivedFile{Name: name, Path: key, Size: info.Size()}, nil
}

// getOrCreateStore lazily initializes the Store from the factory.
func (a *Archive) getOrCreateStore() (lode.Store, error) {
	a.storeOnce.Do(func() {
		a.store, a.storeErr = a.storeFactory()
	})
	return a.store, a.storeErr
}

// filePath computes the Hive-partitioned key of an archived file.
// Format: datasets/<dataset>/partitions/beamline=<b>/cycle=<c>/data_session=<d>/scan_id=<n>/files/<name>
func (a *Archive) filePath(m *Manifest, name string) string {
	return fmt.Sprintf("datasets/%s/partitions/beamline=%s/cycle=%s/data_session=%s/scan_id=%d/files/%s",
		a.config.Dataset,
		m.Beamline,
		m.Cycle,
		m.DataSession,
		m.ScanID,
		name,
	)
}

func partition(v string) string {
	if v == "" {
		return unknownPartition
	}
	return v
}

// toManifestRecord flattens a manifest into the map form the JSONL codec
// and the Hive layout expect. Partition keys must be top-level fields.
func toManifestRecord(m *Manifest, cfg Config) map[string]any {
	files := make([]map[string]any, 0, len(m.Files))
	for _, f := range m.Files {
		files = append(files, map[string]any{
			"strategy": f.Strategy,
			"name":     f.Name,
			"path":     f.Path,
			"size":     f.Size,
		})
	}
	outcomes := make([]map[string]any, 0, len(m.Outcomes))
	for _, o := range m.Outcomes {
		entry := map[string]any{
			"strategy": o.Strategy,
			"status":   string(o.Status),
		}
		if o.Reason != "" {
			entry["reason"] = o.Reason
		}
		if o.Err != nil {
			entry["error"] = types.Describe(o.Err)
		}
		outcomes = append(outcomes, entry)
	}

	return map[string]any{
		"record_kind":  RecordKindManifest,
		"dataset":      cfg.Dataset,
		"beamline":     m.Beamline,
		"cycle":        m.Cycle,
		"data_session": m.DataSession,
		"run_start":    m.RunStart,
		"scan_id":      m.ScanID,
		"scan_type":    m.ScanType,
		"files":        files,
		"outcomes":     outcomes,
		"archived_at":  m.ArchivedAt.Format(time.RFC3339Nano),
		"version":      types.Version,
	}
}
