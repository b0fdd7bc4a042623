package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/nsls2/srx-export/cli/render"
	"github.com/nsls2/srx-export/logscan"
	"github.com/nsls2/srx-export/proposal"
	"github.com/nsls2/srx-export/types"
)

// LogscanCommand returns the logscan command, which lists a proposal's run
// log.
func LogscanCommand() *cli.Command {
	return &cli.Command{
		Name:      "logscan",
		Usage:     "List the run log of a proposal",
		ArgsUsage: "[LOGFILE]",
		Description: "Reads LOGFILE, or the run log of --cycle/--data-session under the\n" +
			"proposals root.",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{Name: "proposals-root", Usage: "Proposal directories root (proposals.root)"},
			&cli.StringFlag{Name: "cycle", Usage: "Proposal cycle, e.g. 2026-2"},
			&cli.StringFlag{Name: "data-session", Usage: "Data session, e.g. pass-316224"},
			&cli.BoolFlag{Name: "commissioning", Usage: "Use the commissioning directory"},
			&cli.IntFlag{Name: "scan-id", Usage: "Only show this scan id"},
		),
		Action: logscanAction,
	}
}

func logscanAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	path := c.Args().First()
	if path == "" {
		cfg, err := loadConfig(c)
		if err != nil {
			return cli.Exit(err.Error(), exitFailure)
		}
		if path, err = runLogPath(cfg.Proposals.Root, c.String("cycle"), c.String("data-session"), c.Bool("commissioning")); err != nil {
			return cli.Exit(err.Error(), exitFailure)
		}
	}

	entries, err := logscan.Read(path)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return cli.Exit(fmt.Sprintf("run log not found: %s", path), exitFailure)
		}
		return err
	}
	if c.IsSet("scan-id") {
		entries = filterEntries(entries, c.Int("scan-id"))
	}
	if entries == nil {
		entries = []logscan.Entry{}
	}

	r.Heading(path)
	return r.Render(entries)
}

// runLogPath resolves the run log of a data session.
func runLogPath(root, cycle, session string, commissioning bool) (string, error) {
	if session == "" {
		return "", errors.New("logscan requires LOGFILE or --data-session")
	}
	start := &types.StartDoc{Cycle: cycle, DataSession: session}
	if commissioning {
		start.Proposal.Type = "Beamline Commissioning (beamline staff only)"
	} else if cycle == "" {
		return "", errors.New("--cycle is required unless --commissioning is set")
	}
	return proposal.NewResolver(root).LogFile(start), nil
}

func filterEntries(entries []logscan.Entry, scanID int) []logscan.Entry {
	var out []logscan.Entry
	for _, e := range entries {
		if e.ScanID == scanID {
			out = append(out, e)
		}
	}
	return out
}
