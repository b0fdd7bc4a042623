package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/nsls2/srx-export/cli/config"
	"github.com/nsls2/srx-export/cli/render"
	"github.com/nsls2/srx-export/lode"
)

// ArchiveCommand returns the archive command, which shows the latest export
// manifest recorded for a run.
func ArchiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "archive",
		Usage: "Show the latest archived export manifest",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{Name: "archive-backend", Usage: "Archive backend: fs or s3 (archive.backend)"},
			&cli.StringFlag{Name: "archive-path", Usage: "Archive path (fs: directory, s3: bucket/prefix) (archive.path)"},
			&cli.StringFlag{Name: "archive-s3-region", Usage: "AWS region for the s3 backend (archive.region)"},
			&cli.StringFlag{Name: "run-start", Usage: "Filter by run uid"},
			&cli.IntFlag{Name: "scan-id", Usage: "Filter by scan id"},
			&cli.StringFlag{Name: "data-session", Usage: "Filter by data session"},
		),
		Action: archiveAction,
	}
}

func archiveAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	filter := lode.Filter{
		RunStart:    c.String("run-start"),
		ScanID:      c.Int("scan-id"),
		DataSession: c.String("data-session"),
	}
	manifest, err := latestManifest(c.Context, cfg.Archive, filter)
	if err != nil {
		if errors.Is(err, lode.ErrNoManifestFound) {
			return cli.Exit("no matching manifest", exitFailure)
		}
		return cli.Exit(err.Error(), exitFailure)
	}

	r.Heading("Export manifest")
	return r.Render(manifest)
}

// latestManifest opens the manifest dataset of the configured archive and
// returns the newest record matching f.
func latestManifest(ctx context.Context, cfg config.ArchiveConfig, f lode.Filter) (map[string]any, error) {
	if cfg.Backend == "" {
		return nil, errors.New("archive is not configured (--archive-backend or archive.backend)")
	}
	a, err := buildArchive(ctx, cfg)
	if err != nil {
		return nil, err
	}
	archive, ok := a.(*lode.Archive)
	if !ok {
		return nil, fmt.Errorf("archive backend %s has no manifest dataset", cfg.Backend)
	}
	return lode.LatestManifest(ctx, archive.Dataset(), f)
}
