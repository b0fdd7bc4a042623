package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for export failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrNotFound indicates the run record does not exist in the store.
	ErrNotFound = errors.New("run record not found")

	// ErrMissingDetector indicates a detector declared in the start document
	// is absent from the recorded data.
	ErrMissingDetector = errors.New("detector missing from run data")

	// ErrDirectoryMissing indicates the proposal output directory does not exist.
	ErrDirectoryMissing = errors.New("output directory does not exist")

	// ErrExternalTool indicates the external HDF5 exporter failed.
	ErrExternalTool = errors.New("external exporter failed")

	// ErrNotificationDelivery indicates a notification could not be delivered.
	ErrNotificationDelivery = errors.New("notification delivery failed")

	// ErrInvalidROI indicates the scan's ROI selection cannot be parsed.
	ErrInvalidROI = errors.New("invalid ROI selection")

	// ErrColumnNotFound indicates a stream has no column of the requested name.
	ErrColumnNotFound = errors.New("column not found")
)

// kindNames are the short names used in operator-facing failure text.
var kindNames = []struct {
	kind error
	name string
}{
	{ErrNotFound, "NotFound"},
	{ErrMissingDetector, "MissingDetector"},
	{ErrDirectoryMissing, "DirectoryMissing"},
	{ErrExternalTool, "ExternalToolFailure"},
	{ErrNotificationDelivery, "NotificationDeliveryFailure"},
	{ErrInvalidROI, "InvalidROI"},
	{ErrColumnNotFound, "ColumnNotFound"},
}

// ExportError wraps an underlying error with a failure kind.
// It preserves the original error in the chain for inspection via errors.As.
type ExportError struct {
	// Kind is the sentinel error for classification (e.g., ErrMissingDetector).
	Kind error
	// Op is the operation that failed (e.g., "xanes_step", "make_hdf").
	Op string
	// Err is the underlying error. May be nil when Kind says it all.
	Err error
}

func (e *ExportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *ExportError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *ExportError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewExportError creates a classified export error.
func NewExportError(kind error, op string, err error) *ExportError {
	return &ExportError{Kind: kind, Op: op, Err: err}
}

// MissingDetector returns a classified error for a detector declared in the
// run metadata but absent from the data.
func MissingDetector(op, detector string) error {
	return NewExportError(ErrMissingDetector, op, fmt.Errorf("detector %q", detector))
}

// KindName returns the short kind name of err ("MissingDetector", ...),
// or "Error" when err carries no known kind.
func KindName(err error) string {
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return "Error"
}

// Describe renders err as a one-line "Kind: message" description suitable
// for notification text.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	msg, _, _ := strings.Cut(err.Error(), "\n")
	return KindName(err) + ": " + msg
}
