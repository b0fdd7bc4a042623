package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nsls2/srx-export/types"
)

// Document file extensions, in lookup order.
const (
	ExtMsgpack = ".msgpack"
	ExtJSON    = ".json"
)

// FileStore reads run documents from a directory. Each run is one file
// named <uid>.msgpack or <uid>.json holding a types.RunRecord.
//
// Lookups by scan id go through an index of (scan_id -> uid) that is
// rebuilt whenever a scan id is not found, so documents written after
// startup are picked up.
type FileStore struct {
	root string

	mu    sync.Mutex
	index map[int]indexEntry
}

type indexEntry struct {
	uid  string
	time float64
}

// startHeader decodes only the fields needed for indexing.
type startHeader struct {
	Start struct {
		UID    string  `msgpack:"uid" json:"uid"`
		ScanID int     `msgpack:"scan_id" json:"scan_id"`
		Time   float64 `msgpack:"time" json:"time"`
	} `msgpack:"start" json:"start"`
}

// NewFileStore creates a store rooted at dir. The directory must exist.
func NewFileStore(dir string) (*FileStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("record store: %s is not a directory", dir)
	}
	return &FileStore{root: dir, index: make(map[int]indexEntry)}, nil
}

// Resolve implements Store.
func (s *FileStore) Resolve(ctx context.Context, id string) (*types.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return nil, notFound(id)
	}

	rec, err := s.load(id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	scanID, ok := parseScanID(id)
	if !ok {
		return nil, err
	}
	uid, found, ierr := s.lookupScanID(scanID)
	if ierr != nil {
		return nil, ierr
	}
	if !found {
		return nil, notFound(id)
	}
	return s.load(uid)
}

// Put writes rec as msgpack under its uid. Intended for seeding stores.
func (s *FileStore) Put(rec *types.RunRecord) error {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("record store: encode %s: %w", rec.Start.UID, err)
	}
	path := filepath.Join(s.root, rec.Start.UID+ExtMsgpack)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("record store: write %s: %w", path, err)
	}

	s.mu.Lock()
	s.indexLocked(rec.Start.ScanID, rec.Start.UID, rec.Start.Time)
	s.mu.Unlock()
	return nil
}

// load decodes the document for uid.
func (s *FileStore) load(uid string) (*types.RunRecord, error) {
	for _, ext := range []string{ExtMsgpack, ExtJSON} {
		path := filepath.Join(s.root, uid+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("record store: read %s: %w", path, err)
		}

		var rec types.RunRecord
		if err := decode(ext, data, &rec); err != nil {
			return nil, fmt.Errorf("record store: decode %s: %w", path, err)
		}
		if rec.Streams == nil {
			rec.Streams = map[string]*types.Stream{}
		}
		return &rec, nil
	}
	return nil, notFound(uid)
}

// lookupScanID finds the newest uid for scanID, rebuilding the index on a miss.
func (s *FileStore) lookupScanID(scanID int) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.index[scanID]; ok {
		return e.uid, true, nil
	}
	if err := s.rebuildLocked(); err != nil {
		return "", false, err
	}
	e, ok := s.index[scanID]
	return e.uid, ok, nil
}

func (s *FileStore) rebuildLocked() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("record store: list %s: %w", s.root, err)
	}
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ExtMsgpack && ext != ExtJSON) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, entry.Name()))
		if err != nil {
			continue
		}
		var hdr startHeader
		if err := decode(ext, data, &hdr); err != nil || hdr.Start.UID == "" {
			continue
		}
		s.indexLocked(hdr.Start.ScanID, hdr.Start.UID, hdr.Start.Time)
	}
	return nil
}

// indexLocked records uid for scanID unless a newer run already holds it.
// Scan ids are not unique across retried acquisitions; the latest wins.
func (s *FileStore) indexLocked(scanID int, uid string, t float64) {
	if cur, ok := s.index[scanID]; ok && cur.time > t {
		return
	}
	s.index[scanID] = indexEntry{uid: uid, time: t}
}

func decode(ext string, data []byte, v any) error {
	if ext == ExtJSON {
		return json.Unmarshal(data, v)
	}
	return msgpack.Unmarshal(data, v)
}

// Verify FileStore implements Store.
var _ Store = (*FileStore)(nil)
