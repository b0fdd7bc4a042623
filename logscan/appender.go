// Package logscan maintains the per-proposal run log: one tab-separated
// line per scan, appended at most once per scan id.
package logscan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nsls2/srx-export/iox"
	"github.com/nsls2/srx-export/log"
	"github.com/nsls2/srx-export/proposal"
	"github.com/nsls2/srx-export/types"
)

// StrategyName is the outcome name of the run log appender.
const StrategyName = "logscan"

// UnknownScan is the type column for runs with neither a scan type nor a
// plan name.
const UnknownScan = "unknown scan"

// Appender appends runs to the proposal's run log.
//
// The read-then-append sequence runs under a per-path mutex and an exclusive
// flock(2) on the log file, so concurrent appends from this process and from
// other processes sharing the filesystem never duplicate a scan id.
type Appender struct {
	resolver *proposal.Resolver
	logger   *log.Logger

	mu    sync.Mutex
	paths map[string]*sync.Mutex
}

// NewAppender creates an appender.
func NewAppender(resolver *proposal.Resolver, logger *log.Logger) *Appender {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Appender{
		resolver: resolver,
		logger:   logger.Named(StrategyName),
		paths:    make(map[string]*sync.Mutex),
	}
}

// Append records rec in its proposal's run log. A missing proposal
// directory is logged and is not an error.
func (a *Appender) Append(ctx context.Context, rec *types.RunRecord) error {
	_, err := a.append(ctx, rec)
	return err
}

// Name returns the outcome name.
func (a *Appender) Name() string { return StrategyName }

// Export adapts Append to the workflow's outcome reporting.
func (a *Appender) Export(ctx context.Context, rec *types.RunRecord) (types.ExportOutcome, error) {
	path, err := a.append(ctx, rec)
	switch {
	case err != nil:
		return types.Failed(StrategyName, err), err
	case path == "":
		return types.Skipped(StrategyName, "proposal directory missing"), nil
	default:
		return types.Succeeded(StrategyName, path), nil
	}
}

func (a *Appender) append(ctx context.Context, rec *types.RunRecord) (string, error) {
	dir := a.resolver.Dir(&rec.Start)
	if !proposal.Exists(dir) {
		a.logger.Info("incorrect path, check cycle and proposal id in document; not running the logger", map[string]any{
			"dir": dir,
		})
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := a.resolver.LogFile(&rec.Start)
	mu := a.pathLock(path)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o664)
	if err != nil {
		return "", fmt.Errorf("open run log: %w", err)
	}
	defer iox.DiscardClose(f)

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return "", fmt.Errorf("lock run log: %w", err)
	}
	defer func() { _ = unix.Flock(int(f.Fd()), unix.LOCK_UN) }()

	found, err := a.contains(f, rec.Start.ScanID)
	if err != nil {
		return "", fmt.Errorf("read run log: %w", err)
	}
	if found {
		a.logger.Debug("scan already logged", map[string]any{"scan_id": rec.Start.ScanID})
		return path, nil
	}

	if _, err := io.WriteString(f, FormatLine(&rec.Start)+"\n"); err != nil {
		return "", fmt.Errorf("append run log: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("sync run log: %w", err)
	}
	a.logger.Info("added scan to the logs", map[string]any{"scan_id": rec.Start.ScanID, "path": path})
	return path, nil
}

func (a *Appender) pathLock(path string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	mu, ok := a.paths[path]
	if !ok {
		mu = &sync.Mutex{}
		a.paths[path] = mu
	}
	return mu
}

// contains scans r for a line whose first field is scanID. Lines whose first
// field is not an integer are skipped.
func (a *Appender) contains(r io.ReadSeeker, scanID int) (bool, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		field, _, _ := strings.Cut(text, "\t")
		id, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			a.logger.Warn("skipping malformed run log line", map[string]any{"line": line})
			continue
		}
		if id == scanID {
			return true, nil
		}
	}
	return false, sc.Err()
}

// FormatLine renders the run log line for a run, without the newline:
//
//	scan_id \t uid \t scan.type [\t scan.scan_input]   custom plans
//	scan_id \t uid \t plan_name                        other plans
//	scan_id \t uid \t unknown scan                     neither recorded
//
// A scan document whose type is empty or "unknown" counts as no scan type.
func FormatLine(start *types.StartDoc) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(start.ScanID))
	b.WriteByte('\t')
	b.WriteString(start.UID)

	switch {
	case hasScanType(start.Scan):
		b.WriteByte('\t')
		b.WriteString(start.Scan.Type)
		if start.Scan.ScanInput != nil {
			b.WriteByte('\t')
			b.WriteString(formatList(start.Scan.ScanInput))
		}
	case start.PlanName != "":
		b.WriteByte('\t')
		b.WriteString(start.PlanName)
	default:
		b.WriteByte('\t')
		b.WriteString(UnknownScan)
	}
	return b.String()
}

func hasScanType(scan *types.ScanInfo) bool {
	if scan == nil {
		return false
	}
	t := strings.TrimSpace(scan.Type)
	return t != "" && !strings.EqualFold(t, "unknown")
}

// formatList renders values as "[a, b, c]".
func formatList(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Entry is one parsed run log line.
type Entry struct {
	ScanID int    `json:"scan_id"`
	UID    string `json:"uid"`
	Type   string `json:"type,omitempty"`
	Input  string `json:"scan_input,omitempty"`
}

// Read parses the run log at path. Malformed lines are skipped.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, types.NewExportError(types.ErrNotFound, StrategyName, err)
		}
		return nil, err
	}
	defer iox.DiscardClose(f)

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		fields := strings.Split(strings.TrimRight(sc.Text(), "\r\n"), "\t")
		if len(fields) < 2 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}
		e := Entry{ScanID: id, UID: fields[1]}
		if len(fields) > 2 {
			e.Type = fields[2]
		}
		if len(fields) > 3 {
			e.Input = fields[3]
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}
