// Package record resolves run identifiers to read-only run records.
//
// A Store is constructed once at process start and shared by all workers.
// Implementations must be safe for concurrent Resolve calls.
package record

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/nsls2/srx-export/types"
)

// Store resolves a run identifier to a run record.
type Store interface {
	// Resolve returns the record for id, which is either a run start uid
	// or a decimal scan id. Returns an error wrapping types.ErrNotFound
	// when no record matches.
	Resolve(ctx context.Context, id string) (*types.RunRecord, error)
}

// notFound wraps types.ErrNotFound with the requested id.
func notFound(id string) error {
	return types.NewExportError(types.ErrNotFound, "resolve", fmt.Errorf("run %q", id))
}

// parseScanID reports whether id looks like a scan id rather than a uid.
func parseScanID(id string) (int, bool) {
	n, err := strconv.Atoi(id)
	return n, err == nil
}

// MemoryStore is an in-process Store, used by tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*types.RunRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(records ...*types.RunRecord) *MemoryStore {
	s := &MemoryStore{records: make(map[string]*types.RunRecord)}
	for _, r := range records {
		s.Put(r)
	}
	return s
}

// Put stores rec under its start uid, replacing any previous record.
func (s *MemoryStore) Put(rec *types.RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Start.UID] = rec
}

// Resolve implements Store.
func (s *MemoryStore) Resolve(ctx context.Context, id string) (*types.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.records[id]; ok {
		return rec, nil
	}
	if scanID, ok := parseScanID(id); ok {
		var latest *types.RunRecord
		for _, rec := range s.records {
			if rec.Start.ScanID == scanID && (latest == nil || rec.Start.Time > latest.Start.Time) {
				latest = rec
			}
		}
		if latest != nil {
			return latest, nil
		}
	}
	return nil, notFound(id)
}

// Verify MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
