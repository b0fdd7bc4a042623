package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/nsls2/srx-export/adapter/redis"
	"github.com/nsls2/srx-export/cli/render"
	"github.com/nsls2/srx-export/iox"
	"github.com/nsls2/srx-export/metrics"
	"github.com/nsls2/srx-export/runtime"
	"github.com/nsls2/srx-export/types"
)

// ExportCommand returns the export command: the end-of-run pipeline for
// one or more runs.
func ExportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Run the end-of-run export pipeline for the given runs",
		ArgsUsage: "[RUN_ID...]",
		Description: "RUN_ID is a run uid or a scan id. Stop documents may also be read\n" +
			"from --stop-file (one JSON document per line). The command exits 1\n" +
			"when any run failed.",
		Flags: append(append(ReadOnlyFlags(), pipelineFlags()...),
			&cli.StringFlag{
				Name:  "stop-file",
				Usage: "File of JSON stop documents, one per line ('-' for stdin)",
			},
			&cli.StringFlag{
				Name:  "exit-status",
				Usage: "Acquisition exit status assumed for RUN_ID arguments",
				Value: types.ExitStatusSuccess,
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON run report to this path ('-' for stderr)",
			},
		),
		Action: exportAction,
	}
}

// runRow is one table row of export output.
type runRow struct {
	RunStart string `json:"run_start"`
	ScanID   string `json:"scan_id"`
	Kind     string `json:"scan_kind"`
	Status   string `json:"status"`
	Files    int    `json:"files"`
	Archived int    `json:"archived"`
	Duration string `json:"duration"`
	Error    string `json:"error"`
}

func exportAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	stops, err := collectStops(c.Args().Slice(), c.String("exit-status"), c.String("stop-file"), os.Stdin)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	if len(stops) == 0 {
		return cli.Exit("export requires at least one RUN_ID or --stop-file", exitFailure)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(nil)
	p, err := buildPipeline(ctx, cfg, logger, collector)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer iox.DiscardClose(p)

	parallel := cfg.Worker.Parallel
	if parallel <= 0 {
		parallel = runtime.DefaultParallel
	}
	summary := p.workflow.Batch(ctx, stops, parallel)
	logger.Sugar().Infof("batch finished: %d runs, %d succeeded, %d failed",
		len(stops), summary.Succeeded, summary.Failed)

	snap := collector.Snapshot()
	report := runtime.BuildReport(summary, &snap)
	if path := c.String("report"); path != "" {
		if err := runtime.WriteReport(report, path); err != nil {
			logger.Error("failed to write report", map[string]any{"path": path, "error": err.Error()})
		}
	}

	if r.Format() == render.FormatTable {
		r.Heading(fmt.Sprintf("%d succeeded, %d failed", summary.Succeeded, summary.Failed))
		err = r.Render(reportRows(report))
	} else {
		err = r.Render(report)
	}
	if err != nil {
		return err
	}

	if summary.Failed > 0 {
		return cli.Exit("", exitFailure)
	}
	return nil
}

// collectStops builds stop documents from RUN_ID arguments and the stop file.
func collectStops(args []string, exitStatus, stopFile string, stdin io.Reader) ([]*types.StopDoc, error) {
	stops := make([]*types.StopDoc, 0, len(args))
	for _, id := range args {
		stops = append(stops, &types.StopDoc{RunStart: id, ExitStatus: exitStatus})
	}
	if stopFile == "" {
		return stops, nil
	}

	var in io.Reader = stdin
	if stopFile != "-" {
		f, err := os.Open(stopFile)
		if err != nil {
			return nil, fmt.Errorf("stop file: %w", err)
		}
		defer iox.DiscardClose(f)
		in = f
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		stop, err := redis.DecodeStop([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", stopFile, line, err)
		}
		stops = append(stops, stop)
	}
	return stops, sc.Err()
}

func reportRows(report *runtime.Report) []runRow {
	rows := make([]runRow, 0, len(report.Runs))
	for _, run := range report.Runs {
		row := runRow{
			RunStart: run.RunStart,
			ScanID:   "unknown",
			Kind:     run.ScanKind,
			Status:   "success",
			Archived: run.Archived,
			Duration: (time.Duration(run.DurationMs) * time.Millisecond).String(),
			Error:    run.Error,
		}
		if run.ScanID != nil {
			row.ScanID = strconv.Itoa(*run.ScanID)
		}
		if run.Error != "" {
			row.Status = "failed"
		}
		for _, o := range run.Outcomes {
			row.Files += len(o.Files)
		}
		rows = append(rows, row)
	}
	return rows
}
