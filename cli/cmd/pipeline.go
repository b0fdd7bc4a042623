package cmd

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nsls2/srx-export/adapter"
	"github.com/nsls2/srx-export/adapter/redis"
	"github.com/nsls2/srx-export/adapter/webhook"
	"github.com/nsls2/srx-export/cli/config"
	"github.com/nsls2/srx-export/export"
	"github.com/nsls2/srx-export/hdf5"
	"github.com/nsls2/srx-export/lode"
	"github.com/nsls2/srx-export/log"
	"github.com/nsls2/srx-export/logscan"
	"github.com/nsls2/srx-export/metrics"
	"github.com/nsls2/srx-export/proposal"
	"github.com/nsls2/srx-export/record"
	"github.com/nsls2/srx-export/runtime"
)

// pipeline is the wired end-of-run workflow plus the resources it owns.
type pipeline struct {
	workflow  *runtime.Workflow
	collector *metrics.Collector
	logger    *log.Logger
	sender    adapter.Adapter
}

// Close releases the notification adapter.
func (p *pipeline) Close() error {
	return p.sender.Close()
}

// buildPipeline wires the workflow from a validated config.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *log.Logger, collector *metrics.Collector) (*pipeline, error) {
	if cfg.Records.Path == "" {
		return nil, errors.New("records path is required (--records or records.path)")
	}
	store, err := record.NewFileStore(cfg.Records.Path)
	if err != nil {
		return nil, err
	}

	var loc *time.Location
	if cfg.Proposals.Timezone != "" {
		if loc, err = time.LoadLocation(cfg.Proposals.Timezone); err != nil {
			return nil, fmt.Errorf("proposals.timezone: %w", err)
		}
	}
	resolver := proposal.NewResolver(cfg.Proposals.Root)

	archive, err := buildArchive(ctx, cfg.Archive)
	if err != nil {
		return nil, err
	}

	sender, err := buildSender(cfg.Notify)
	if err != nil {
		return nil, err
	}

	notifier := runtime.NewNotifier(runtime.NotifierConfig{
		Store:        store,
		Sender:       sender,
		Channel:      cfg.Notify.Channel,
		AlertChannel: cfg.Notify.AlertChannel,
		Logger:       logger,
		Collector:    collector,
	})

	workflow := runtime.NewWorkflow(runtime.WorkflowConfig{
		Notifier: notifier,
		Strategies: []export.Strategy{
			export.NewXASExporter(resolver, logger).WithLocation(loc),
			hdf5.NewInvoker(buildMaker(cfg.HDF5), resolver,
				hdf5.WithPrefix(cfg.HDF5.Prefix),
				hdf5.WithCatalog(cfg.HDF5.Catalog),
				hdf5.WithLogger(logger),
			),
			logscan.NewAppender(resolver, logger),
		},
		Archive:   archive,
		Collector: collector,
	})

	return &pipeline{workflow: workflow, collector: collector, logger: logger, sender: sender}, nil
}

// buildSender creates the notification adapter named by notify.type.
func buildSender(cfg config.NotifyConfig) (adapter.Adapter, error) {
	switch cfg.Type {
	case "", "none":
		return adapter.Nop{}, nil
	case "webhook":
		wc := webhook.Config{
			URL:      cfg.URL,
			Channel:  cfg.Channel,
			Username: cfg.Username,
			Headers:  cfg.Headers,
			Timeout:  cfg.Timeout.Duration,
			Retries:  webhook.DefaultRetries,
		}
		if cfg.Retries != nil {
			wc.Retries = *cfg.Retries
		}
		return webhook.New(wc)
	case "redis":
		rc := redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: redis.DefaultRetries,
		}
		if cfg.Retries != nil {
			rc.Retries = *cfg.Retries
		}
		return redis.New(rc)
	default:
		return nil, fmt.Errorf("unknown notification adapter: %s", cfg.Type)
	}
}

// buildMaker creates the external HDF5 command runner.
func buildMaker(cfg config.HDF5Config) *hdf5.CommandMaker {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = defaultHDF5Timeout
	}
	m := hdf5.NewCommandMaker(cfg.Command, timeout)
	for k, v := range cfg.Env {
		m.Env = append(m.Env, k+"="+v)
	}
	slices.Sort(m.Env)
	return m
}

// buildArchive opens the configured archive. A nil Archiver disables
// archiving.
func buildArchive(ctx context.Context, cfg config.ArchiveConfig) (runtime.Archiver, error) {
	lc := lode.Config{Dataset: cfg.Dataset}
	switch cfg.Backend {
	case "":
		return nil, nil
	case "fs":
		a, err := lode.NewArchive(lc, cfg.Path)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "s3":
		a, err := lode.NewS3Archive(ctx, lc, s3Config(cfg))
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown archive backend: %s (must be fs or s3)", cfg.Backend)
	}
}

func s3Config(cfg config.ArchiveConfig) lode.S3Config {
	bucket, prefix := lode.ParseS3Path(cfg.Path)
	return lode.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       cfg.Region,
		Endpoint:     cfg.Endpoint,
		UsePathStyle: cfg.S3PathStyle,
	}
}

// newLogger creates the CLI logger at the configured level.
func newLogger(cfg *config.Config) (*log.Logger, error) {
	logger, err := log.NewLoggerWithLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	return logger, nil
}
