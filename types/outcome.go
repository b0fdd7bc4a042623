package types

// OutcomeStatus is the result category of one export strategy invocation.
type OutcomeStatus string

const (
	// OutcomeSuccess indicates the strategy wrote its output.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeSkipped indicates the run is not eligible for the strategy.
	// Skipped is not a failure and never triggers a failure notification.
	OutcomeSkipped OutcomeStatus = "skipped"
	// OutcomeFailed indicates the strategy failed.
	OutcomeFailed OutcomeStatus = "failed"
)

// ExportOutcome describes one strategy invocation.
type ExportOutcome struct {
	// Strategy is the exporter name (e.g. "xanes_step").
	Strategy string `json:"strategy"`
	// Status is the outcome category.
	Status OutcomeStatus `json:"status"`
	// Reason explains a skip.
	Reason string `json:"reason,omitempty"`
	// Files lists the output files written, in write order.
	Files []string `json:"files,omitempty"`
	// Err is the failure cause for OutcomeFailed.
	Err error `json:"-"`
}

// Succeeded returns a success outcome listing the files written.
func Succeeded(strategy string, files ...string) ExportOutcome {
	return ExportOutcome{Strategy: strategy, Status: OutcomeSuccess, Files: files}
}

// Skipped returns a skip outcome with the given reason.
func Skipped(strategy, reason string) ExportOutcome {
	return ExportOutcome{Strategy: strategy, Status: OutcomeSkipped, Reason: reason}
}

// Failed returns a failure outcome. Files already written are kept.
func Failed(strategy string, err error, files ...string) ExportOutcome {
	return ExportOutcome{Strategy: strategy, Status: OutcomeFailed, Err: err, Files: files}
}
