package types

// NotificationKind distinguishes the messages sent per run.
type NotificationKind string

const (
	// NotifySuccess is sent when the export pipeline returned normally.
	NotifySuccess NotificationKind = "success"
	// NotifyFailure is sent when the export pipeline returned an error.
	NotifyFailure NotificationKind = "failure"
	// NotifyAcquisitionFailed is sent, independently of the pipeline
	// outcome, when the acquisition run itself did not exit cleanly.
	NotifyAcquisitionFailed NotificationKind = "acquisition_failed"
)

// NotificationEvent describes one notification about a run.
type NotificationEvent struct {
	ID       string           `json:"id"`
	Kind     NotificationKind `json:"kind"`
	RunStart string           `json:"run_start"`
	// ScanID is nil when the run record could not be resolved.
	ScanID    *int   `json:"scan_id,omitempty"`
	FlowRun   string `json:"flow_run"`
	Text      string `json:"text"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"` // RFC 3339
}
