package export

import (
	"context"
	"fmt"
	"time"

	"github.com/nsls2/srx-export/log"
	"github.com/nsls2/srx-export/proposal"
	"github.com/nsls2/srx-export/types"
)

// XASStrategyName is the outcome name of the XAS dispatcher.
const XASStrategyName = "xanes"

// XASExporter routes a record to the step or fly exporter by scan type.
type XASExporter struct {
	step   Strategy
	fly    Strategy
	logger *log.Logger
}

// NewXASExporter creates the dispatcher with the default step and fly
// exporters.
func NewXASExporter(resolver *proposal.Resolver, logger *log.Logger) *XASExporter {
	if logger == nil {
		logger = log.NewNop()
	}
	return &XASExporter{
		step:   NewStepExporter(resolver, logger),
		fly:    NewFlyExporter(resolver, logger),
		logger: logger.Named(XASStrategyName),
	}
}

// WithLocation sets the zone Scan.start.ctime is rendered in. A nil loc
// keeps time.Local.
func (x *XASExporter) WithLocation(loc *time.Location) *XASExporter {
	if loc == nil {
		return x
	}
	if s, ok := x.step.(*StepExporter); ok {
		s.location = loc
	}
	if f, ok := x.fly.(*FlyExporter); ok {
		f.location = loc
	}
	return x
}

// Dispatch returns the strategy for kind, or nil when no XAS exporter
// applies.
func (x *XASExporter) Dispatch(kind types.ScanKind) Strategy {
	switch kind {
	case types.ScanStepXAS:
		return x.step
	case types.ScanFlyXAS:
		return x.fly
	default:
		return nil
	}
}

// Name implements Strategy.
func (x *XASExporter) Name() string { return XASStrategyName }

// Export implements Strategy.
func (x *XASExporter) Export(ctx context.Context, rec *types.RunRecord) (types.ExportOutcome, error) {
	x.logger.Info("start writing file with xanes exporter", nil)

	strategy := x.Dispatch(types.Classify(rec))
	if strategy == nil {
		reason := fmt.Sprintf("xanes exporter for scan_type=%s not available", types.ScanType(rec))
		x.logger.Info(reason, nil)
		return types.Skipped(XASStrategyName, reason), nil
	}

	x.logger.Info("starting exporter", map[string]any{"strategy": strategy.Name()})
	outcome, err := strategy.Export(ctx, rec)
	if err != nil {
		return outcome, err
	}
	x.logger.Info("finished exporter", map[string]any{"strategy": strategy.Name(), "status": string(outcome.Status)})
	return outcome, nil
}

var (
	_ Strategy = (*XASExporter)(nil)
	_ Strategy = (*StepExporter)(nil)
	_ Strategy = (*FlyExporter)(nil)
)
