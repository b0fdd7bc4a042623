package runtime

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nsls2/srx-export/adapter"
	"github.com/nsls2/srx-export/log"
	"github.com/nsls2/srx-export/metrics"
	"github.com/nsls2/srx-export/record"
	"github.com/nsls2/srx-export/types"
)

// DefaultSendTimeout bounds one notification delivery.
const DefaultSendTimeout = 30 * time.Second

// Run is the per-invocation context handed to a Pipeline.
type Run struct {
	// Record is the resolved run record.
	Record *types.RunRecord
	// Stop is the stop document that triggered the run.
	Stop *types.StopDoc
	// FlowRun is the human-readable name of this invocation.
	FlowRun string
	// Logger carries the run identity.
	Logger *log.Logger
}

// Pipeline is the export work wrapped by a Notifier.
type Pipeline func(ctx context.Context, run *Run) error

// NotifierConfig configures a Notifier.
type NotifierConfig struct {
	// Store resolves run records by run start uid.
	Store record.Store
	// Sender delivers notifications. Nil discards them.
	Sender adapter.Adapter
	// Channel is the destination of success and failure messages.
	// Empty uses the adapter default.
	Channel string
	// AlertChannel is the destination of acquisition alerts.
	// Empty falls back to Channel.
	AlertChannel string
	// SendTimeout bounds each delivery (DefaultSendTimeout when zero).
	SendTimeout time.Duration
	// Logger is the base logger. Nil discards logs.
	Logger *log.Logger
	// Collector records run and notification metrics. May be nil.
	Collector *metrics.Collector
}

// Notifier wraps a Pipeline and guarantees exactly one success or failure
// notification per Execute call.
type Notifier struct {
	config NotifierConfig
	logger *log.Logger

	now   func() time.Time
	newID func() string
}

// NewNotifier creates a Notifier.
func NewNotifier(cfg NotifierConfig) *Notifier {
	if cfg.Sender == nil {
		cfg.Sender = adapter.Nop{}
	}
	if cfg.AlertChannel == "" {
		cfg.AlertChannel = cfg.Channel
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Notifier{
		config: cfg,
		logger: logger.Named("notifier"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Execute resolves the run named by stop, sends the acquisition alert when
// the acquisition did not exit cleanly, runs pipeline and sends one success
// or one failure notification. The pipeline error is returned unchanged.
// A record that cannot be resolved fails the run without calling pipeline.
func (n *Notifier) Execute(ctx context.Context, stop *types.StopDoc, pipeline Pipeline) error {
	start := n.now()
	n.config.Collector.IncRunStarted()

	rec, err := n.config.Store.Resolve(ctx, stop.RunStart)

	var scanID *int
	if err == nil {
		id := rec.Start.ScanID
		scanID = &id
	}
	flowRun := FlowRunName(scanID, n.newID())
	logger := n.logger.WithRun(log.RunContext{RunStart: stop.RunStart, ScanID: scanID, FlowRun: flowRun})

	id := runIdentity{runStart: stop.RunStart, scanID: scanID, flowRun: flowRun}

	if stop.Failed() {
		n.config.Collector.IncAcquisitionFailed()
		logger.Warn("acquisition did not exit cleanly", map[string]any{
			"exit_status": stop.ExitStatus,
			"reason":      stop.Reason,
		})
		n.send(ctx, logger, n.config.AlertChannel, n.event(id, types.NotifyAcquisitionFailed, acquisitionText(id, stop), ""))
	}

	if err != nil {
		logger.Error("failed to resolve run record", map[string]any{"error": err.Error()})
	} else {
		err = pipeline(ctx, &Run{Record: rec, Stop: stop, FlowRun: flowRun, Logger: logger})
	}

	if err == nil {
		n.send(ctx, logger, n.config.Channel, n.event(id, types.NotifySuccess, successText(id), ""))
	} else {
		desc := types.Describe(err)
		logger.Error("export failed", map[string]any{"error": desc})
		n.send(ctx, logger, n.config.Channel, n.event(id, types.NotifyFailure, failureText(id, desc), desc))
	}

	n.config.Collector.RunFinished(err, types.KindName(err), n.now().Sub(start))
	return err
}

// send delivers one notification. Delivery runs on a context detached from
// ctx cancellation so a cancelled run still reports its failure.
func (n *Notifier) send(ctx context.Context, logger *log.Logger, channel string, event *types.NotificationEvent) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.config.SendTimeout)
	defer cancel()

	err := n.config.Sender.Send(sendCtx, &adapter.Message{Text: event.Text, Channel: channel, Event: event})
	n.config.Collector.RecordNotification(string(event.Kind), err)
	if err != nil {
		err = types.NewExportError(types.ErrNotificationDelivery, "notify", err)
		logger.Error("notification delivery failed", map[string]any{
			"kind":  string(event.Kind),
			"error": err.Error(),
		})
		return
	}
	logger.Debug("notification sent", map[string]any{"kind": string(event.Kind)})
}

func (n *Notifier) event(id runIdentity, kind types.NotificationKind, text, errText string) *types.NotificationEvent {
	return &types.NotificationEvent{
		ID:        n.newID(),
		Kind:      kind,
		RunStart:  id.runStart,
		ScanID:    id.scanID,
		FlowRun:   id.flowRun,
		Text:      text,
		Error:     errText,
		Timestamp: n.now().UTC().Format(time.RFC3339),
	}
}

type runIdentity struct {
	runStart string
	scanID   *int
	flowRun  string
}

func (id runIdentity) scan() string {
	if id.scanID == nil {
		return "unknown"
	}
	return strconv.Itoa(*id.scanID)
}

// FlowRunName builds the invocation name "end-of-run-{scan_id}-{suffix}"
// from the first eight characters of uid.
func FlowRunName(scanID *int, uid string) string {
	scan := "unknown"
	if scanID != nil {
		scan = strconv.Itoa(*scanID)
	}
	if len(uid) > 8 {
		uid = uid[:8]
	}
	return "end-of-run-" + scan + "-" + uid
}

func successText(id runIdentity) string {
	return fmt.Sprintf("Export succeeded for run_start: %s (scan_id %s, flow run %s)",
		id.runStart, id.scan(), id.flowRun)
}

func failureText(id runIdentity, desc string) string {
	return fmt.Sprintf("@srx-support Export failed for run_start: %s (scan_id %s, flow run %s): %s",
		id.runStart, id.scan(), id.flowRun, desc)
}

func acquisitionText(id runIdentity, stop *types.StopDoc) string {
	text := fmt.Sprintf("@srx-support Acquisition failed for run_start: %s (scan_id %s): exit_status=%s",
		id.runStart, id.scan(), stop.ExitStatus)
	if stop.Reason != "" {
		text += " reason=" + stop.Reason
	}
	return text
}
