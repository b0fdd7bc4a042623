// Package cmd provides CLI commands for the srx-export binary.
package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/nsls2/srx-export/cli/config"
)

// Exit codes.
const (
	exitSuccess = 0
	exitFailure = 1
)

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}
)

// ConfigFlag locates srx-export.yaml. It is an app-level flag.
var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to config file",
	Value:   config.DefaultPath,
	EnvVars: []string{"SRX_EXPORT_CONFIG"},
}

// ReadOnlyFlags returns the shared flags for all read-only commands.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{FormatFlag, NoColorFlag}
}

// pipelineFlags are the flags of commands that execute the export pipeline.
// Every one of them overrides the matching config value when set.
func pipelineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "records", Usage: "Directory of run documents (records.path)"},
		&cli.StringFlag{Name: "proposals-root", Usage: "Proposal directories root (proposals.root)"},
		&cli.StringFlag{Name: "timezone", Usage: "Zone for Scan.start.ctime (proposals.timezone)"},
		&cli.StringFlag{Name: "notify", Usage: "Notification adapter: webhook, redis or none (notify.type)"},
		&cli.StringFlag{Name: "notify-url", Usage: "Webhook or Redis URL (notify.url)"},
		&cli.StringFlag{Name: "channel", Usage: "Notification channel (notify.channel)"},
		&cli.StringFlag{Name: "alert-channel", Usage: "Acquisition alert channel (notify.alert_channel)"},
		&cli.StringSliceFlag{Name: "hdf5-command", Usage: "HDF5 maker argv, one flag per word (hdf5.command)"},
		&cli.DurationFlag{Name: "hdf5-timeout", Usage: "Limit on one HDF5 maker invocation (hdf5.timeout)"},
		&cli.StringFlag{Name: "archive-backend", Usage: "Archive backend: fs or s3, empty disables (archive.backend)"},
		&cli.StringFlag{Name: "archive-path", Usage: "Archive path (fs: directory, s3: bucket/prefix) (archive.path)"},
		&cli.StringFlag{Name: "archive-s3-region", Usage: "AWS region for the s3 backend (archive.region)"},
		&cli.IntFlag{Name: "parallel", Usage: "Runs exported concurrently (worker.parallel)"},
		&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error (log.level)"},
	}
}

// applyOverrides copies set flags over the loaded config.
func applyOverrides(c *cli.Context, cfg *config.Config) {
	setString(c, "records", &cfg.Records.Path)
	setString(c, "proposals-root", &cfg.Proposals.Root)
	setString(c, "timezone", &cfg.Proposals.Timezone)
	setString(c, "notify", &cfg.Notify.Type)
	setString(c, "notify-url", &cfg.Notify.URL)
	setString(c, "channel", &cfg.Notify.Channel)
	setString(c, "alert-channel", &cfg.Notify.AlertChannel)
	if c.IsSet("hdf5-command") {
		cfg.HDF5.Command = c.StringSlice("hdf5-command")
	}
	setString(c, "archive-backend", &cfg.Archive.Backend)
	setString(c, "archive-path", &cfg.Archive.Path)
	setString(c, "archive-s3-region", &cfg.Archive.Region)
	if c.IsSet("parallel") {
		cfg.Worker.Parallel = c.Int("parallel")
	}
	setString(c, "log-level", &cfg.Log.Level)
	setString(c, "redis-url", &cfg.Worker.RedisURL)
	setString(c, "stop-channel", &cfg.Worker.Channel)
	setString(c, "metrics-addr", &cfg.Metrics.Addr)
	if c.IsSet("hdf5-timeout") {
		cfg.HDF5.Timeout = config.Duration{Duration: c.Duration("hdf5-timeout")}
	}
}

func setString(c *cli.Context, name string, dst *string) {
	if c.IsSet(name) {
		*dst = c.String(name)
	}
}

// loadConfig reads the config named by --config and applies flag overrides.
// A missing file is only an error when --config was given explicitly.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadOptional(c.String("config"), c.IsSet("config"))
	if err != nil {
		return nil, err
	}
	applyOverrides(c, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultHDF5Timeout bounds one external HDF5 invocation when unset.
const defaultHDF5Timeout = 30 * time.Minute
