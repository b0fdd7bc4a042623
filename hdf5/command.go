package hdf5

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DefaultArgs is the argv template of the stock HDF5 maker command.
// Placeholders are replaced per request; see CommandMaker.
var DefaultArgs = []string{
	"srx-make-hdf",
	"--scan-id", "{scan_id}",
	"--wd", "{wd}",
	"--prefix", "{prefix}",
	"--catalog", "{catalog}",
}

// CommandResult is the result of one external tool invocation.
type CommandResult struct {
	// ExitCode is the process exit code.
	ExitCode int
	// Stderr is the captured stderr output.
	Stderr []byte
}

// CommandMaker runs an external command to produce the HDF5 files.
//
// Args is an argv template; the placeholders {scan_id}, {wd}, {prefix} and
// {catalog} are substituted from the request. The request is also written
// to the process stdin as JSON and exported as SRX_EXPORT_* environment
// variables, so wrapper scripts can use whichever is convenient.
type CommandMaker struct {
	// Args is the argv template. Args[0] is the executable.
	Args []string
	// Timeout bounds one invocation. Zero means no limit beyond ctx.
	Timeout time.Duration
	// Env holds extra KEY=VALUE entries appended to the inherited environment.
	Env []string
}

// NewCommandMaker creates a maker for argv (DefaultArgs when empty).
func NewCommandMaker(args []string, timeout time.Duration) *CommandMaker {
	if len(args) == 0 {
		args = DefaultArgs
	}
	return &CommandMaker{Args: args, Timeout: timeout}
}

// commandInput is the JSON structure written to the tool's stdin.
type commandInput struct {
	ScanID     int    `json:"scan_id"`
	WorkingDir string `json:"wd"`
	Prefix     string `json:"prefix"`
	Catalog    string `json:"catalog_name"`
}

// MakeHDF implements Maker. A non-zero exit is reported as an error that
// carries the tail of stderr.
func (m *CommandMaker) MakeHDF(ctx context.Context, req Request) error {
	res, err := m.Run(ctx, req)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s exited with code %d: %s", m.Args[0], res.ExitCode, stderrTail(res.Stderr))
	}
	return nil
}

// Run executes the command and returns its exit status.
// Errors are returned only when the process could not be run at all.
func (m *CommandMaker) Run(ctx context.Context, req Request) (*CommandResult, error) {
	if len(m.Args) == 0 {
		return nil, errors.New("hdf5 command not configured")
	}
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}

	argv := expandArgs(m.Args, req)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = req.WorkingDir
	cmd.Env = deduplicateEnv(append(os.Environ(), m.requestEnv(req)...))

	input, err := json.Marshal(commandInput{
		ScanID:     req.ScanID,
		WorkingDir: req.WorkingDir,
		Prefix:     req.Prefix,
		Catalog:    req.Catalog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	cmd.Stdin = bytes.NewReader(input)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err = cmd.Run()
	result := &CommandResult{Stderr: stderr.Bytes()}
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("failed to run %s: %w", argv[0], err)
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		result.ExitCode = status.ExitStatus()
	} else {
		result.ExitCode = -1
	}
	if ctx.Err() != nil {
		return result, fmt.Errorf("%s: %w", argv[0], ctx.Err())
	}
	return result, nil
}

func (m *CommandMaker) requestEnv(req Request) []string {
	env := []string{
		"SRX_EXPORT_SCAN_ID=" + strconv.Itoa(req.ScanID),
		"SRX_EXPORT_WD=" + req.WorkingDir,
		"SRX_EXPORT_PREFIX=" + req.Prefix,
		"SRX_EXPORT_CATALOG=" + req.Catalog,
	}
	return append(env, m.Env...)
}

func expandArgs(args []string, req Request) []string {
	r := strings.NewReplacer(
		"{scan_id}", strconv.Itoa(req.ScanID),
		"{wd}", req.WorkingDir,
		"{prefix}", req.Prefix,
		"{catalog}", req.Catalog,
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

// stderrTail returns the last non-empty line of stderr.
func stderrTail(stderr []byte) string {
	lines := strings.Split(strings.TrimSpace(string(stderr)), "\n")
	if tail := strings.TrimSpace(lines[len(lines)-1]); tail != "" {
		return tail
	}
	return "no stderr output"
}

// deduplicateEnv keeps the last occurrence of each env var key, so the
// request variables win over inherited duplicates from os.Environ().
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}
