// Package proposal maps run metadata to the proposal directory where
// exported files and the per-proposal run log live.
package proposal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nsls2/srx-export/types"
)

// DefaultRoot is the beamline's proposal data root.
const DefaultRoot = "/nsls2/data/srx/proposals"

// commissioning markers, matched case-insensitively as substrings.
const (
	commissioningType  = "beamline commissioning (beamline staff only)"
	commissioningTitle = "srx beamline commissioning"
)

// Resolver computes proposal directories. It never touches the filesystem;
// callers check existence with Exists.
type Resolver struct {
	Root string
}

// NewResolver creates a resolver rooted at root (DefaultRoot when empty).
func NewResolver(root string) *Resolver {
	if root == "" {
		root = DefaultRoot
	}
	return &Resolver{Root: root}
}

// IsCommissioning reports whether the run belongs to a beamline
// commissioning proposal. Either the proposal type or its title may carry
// the marker depending on how the proposal was registered.
func IsCommissioning(start *types.StartDoc) bool {
	return strings.Contains(strings.ToLower(start.Proposal.Type), commissioningType) ||
		strings.Contains(strings.ToLower(start.Proposal.Title), commissioningTitle)
}

// Dir returns the proposal directory for a run:
//
//	{root}/commissioning/{data_session}   commissioning proposals
//	{root}/{cycle}/{data_session}         everything else
func (r *Resolver) Dir(start *types.StartDoc) string {
	if IsCommissioning(start) {
		return filepath.Join(r.Root, "commissioning", start.DataSession)
	}
	return filepath.Join(r.Root, start.Cycle, start.DataSession)
}

// LogFile returns the per-proposal run log path.
func (r *Resolver) LogFile(start *types.StartDoc) string {
	return filepath.Join(r.Dir(start), fmt.Sprintf("logfile%s.txt", start.DataSession))
}

// Exists reports whether dir exists and is a directory.
func Exists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// RequireDir returns the proposal directory, or a DirectoryMissing error
// classified for op when it does not exist.
func (r *Resolver) RequireDir(op string, start *types.StartDoc) (string, error) {
	dir := r.Dir(start)
	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return dir, nil
	case err == nil:
		return "", types.NewExportError(types.ErrDirectoryMissing, op, fmt.Errorf("%s is not a directory", dir))
	case errors.Is(err, os.ErrNotExist):
		return "", types.NewExportError(types.ErrDirectoryMissing, op, fmt.Errorf("%s: check cycle and proposal id in the start document", dir))
	default:
		return "", types.NewExportError(types.ErrDirectoryMissing, op, err)
	}
}
