package lode

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// Filter narrows a manifest lookup. Empty fields match anything.
type Filter struct {
	RunStart    string
	ScanID      int // 0 matches any scan
	DataSession string
}

// LatestManifest finds the most recent manifest record matching f.
// Returns the raw record map or ErrNoManifestFound.
func LatestManifest(ctx context.Context, ds lode.Dataset, f Filter) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}

	// Snapshots are ordered by creation time; walk latest first.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "data_session", f.DataSession) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}

		// Path filtering is a coarse pre-filter; record fields decide.
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindManifest {
				continue
			}
			if f.RunStart != "" && toString(record["run_start"]) != f.RunStart {
				continue
			}
			if f.ScanID != 0 && toInt(record["scan_id"]) != f.ScanID {
				continue
			}
			return record, nil
		}
	}
	return nil, ErrNoManifestFound
}

// snapshotMatchesFilter checks if a snapshot's file paths carry the given
// partition key=value segment.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks for an exact key=value path segment, so
// data_session=pass-1 does not match data_session=pass-10.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for part := range strings.SplitSeq(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// toInt accepts the numeric forms a JSON round trip can produce.
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}
