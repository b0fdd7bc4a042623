package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents an srx-export.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	Records   RecordsConfig   `yaml:"records"`
	Proposals ProposalsConfig `yaml:"proposals"`
	Notify    NotifyConfig    `yaml:"notify"`
	HDF5      HDF5Config      `yaml:"hdf5"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Worker    WorkerConfig    `yaml:"worker"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// RecordsConfig locates the run-record store.
type RecordsConfig struct {
	// Path is the directory of run documents.
	Path string `yaml:"path"`
}

// ProposalsConfig locates proposal directories.
type ProposalsConfig struct {
	// Root is the proposals root (default /nsls2/data/srx/proposals).
	Root string `yaml:"root"`
	// Timezone renders Scan.start.ctime (default: local time).
	Timezone string `yaml:"timezone"`
}

// NotifyConfig selects and configures the notification adapter.
type NotifyConfig struct {
	// Type is "webhook", "redis" or "none".
	Type         string            `yaml:"type"`
	URL          string            `yaml:"url"`
	Channel      string            `yaml:"channel,omitempty"`
	AlertChannel string            `yaml:"alert_channel,omitempty"`
	Username     string            `yaml:"username,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	Timeout      Duration          `yaml:"timeout,omitempty"`
	Retries      *int              `yaml:"retries,omitempty"`
}

// HDF5Config configures the external HDF5 maker.
type HDF5Config struct {
	// Command is the argv template; placeholders {scan_id}, {wd},
	// {prefix} and {catalog} are expanded per run.
	Command []string          `yaml:"command,omitempty"`
	Prefix  string            `yaml:"prefix,omitempty"`
	Catalog string            `yaml:"catalog,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// ArchiveConfig configures the optional output archive.
type ArchiveConfig struct {
	// Backend is "fs", "s3" or empty to disable archiving.
	Backend     string `yaml:"backend"`
	Dataset     string `yaml:"dataset"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// WorkerConfig configures the stop-document worker.
type WorkerConfig struct {
	RedisURL string `yaml:"redis_url"`
	Channel  string `yaml:"channel"`
	Parallel int    `yaml:"parallel"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate checks enumerated values. Missing values are left to defaults.
func (c *Config) Validate() error {
	var errs []error
	switch c.Notify.Type {
	case "", "none", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("notify.type: unknown adapter %q (want webhook, redis or none)", c.Notify.Type))
	}
	if (c.Notify.Type == "webhook" || c.Notify.Type == "redis") && c.Notify.URL == "" {
		errs = append(errs, fmt.Errorf("notify.url is required for %s", c.Notify.Type))
	}
	if c.Notify.Retries != nil && *c.Notify.Retries < 0 {
		errs = append(errs, errors.New("notify.retries must be >= 0"))
	}
	switch c.Archive.Backend {
	case "", "fs", "s3":
	default:
		errs = append(errs, fmt.Errorf("archive.backend: unknown backend %q (want fs or s3)", c.Archive.Backend))
	}
	if c.Archive.Backend != "" && c.Archive.Path == "" {
		errs = append(errs, errors.New("archive.path is required when archive.backend is set"))
	}
	if c.Worker.Parallel < 0 {
		errs = append(errs, errors.New("worker.parallel must be >= 0"))
	}
	if c.Proposals.Timezone != "" {
		if _, err := time.LoadLocation(c.Proposals.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("proposals.timezone: %w", err))
		}
	}
	return errors.Join(errs...)
}
