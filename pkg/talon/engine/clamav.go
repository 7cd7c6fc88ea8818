package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/talonsec/talon/pkg/talon/types"
)

// Default external scanner invocation.
const (
	DefaultCommand = "clamscan"

	// defaultScanTimeout bounds one external scan call. Archive bombs
	// aside, a single file should never take this long.
	defaultScanTimeout = 5 * time.Minute
)

// clamscan exit codes: 0 clean, 1 virus found, 2 error.
const (
	exitClean    = 0
	exitInfected = 1
)

// ErrCommandNotFound is returned by NewClamAV when the scanner binary
// cannot be located.
var ErrCommandNotFound = errors.New("scanner command not found")

// ClamAV shells out to a ClamAV-compatible command line scanner
// (clamscan or clamdscan). The value is immutable after construction
// and safe for concurrent use from any number of workers.
type ClamAV struct {
	command string
	args    []string
	timeout time.Duration
}

// ClamAVOption customizes the external scanner invocation.
type ClamAVOption func(*ClamAV)

// WithArgs appends extra arguments to every invocation.
func WithArgs(args ...string) ClamAVOption {
	return func(c *ClamAV) {
		c.args = append(c.args, args...)
	}
}

// WithTimeout bounds a single scan call.
func WithTimeout(d time.Duration) ClamAVOption {
	return func(c *ClamAV) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClamAV builds an engine around the given command (DefaultCommand
// when empty). The binary is resolved once up front so a missing
// scanner is a setup failure, not a per-file one.
func NewClamAV(command string, opts ...ClamAVOption) (*ClamAV, error) {
	if command == "" {
		command = DefaultCommand
	}
	resolved, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, command)
	}

	c := &ClamAV{
		command: resolved,
		args:    []string{"--no-summary", "--stdout"},
		timeout: defaultScanTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name implements Engine.
func (c *ClamAV) Name() string { return c.command }

// Scan implements Engine. The scanner's exit code carries the verdict:
// 0 clean, 1 infected, anything else a scan failure. The threat name is
// parsed from the "path: Name FOUND" output line.
func (c *ClamAV) Scan(ctx context.Context, path string) (types.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := append(append([]string(nil), c.args...), path)
	cmd := exec.CommandContext(ctx, c.command, args...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return types.Verdict{State: types.Clean}, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		// The process could not be started at all.
		return types.Verdict{}, fmt.Errorf("running %s: %w", c.command, err)
	}

	switch exitErr.ExitCode() {
	case exitInfected:
		return types.Verdict{
			State:  types.Infected,
			Threat: parseThreat(out.String(), path),
		}, nil
	default:
		detail := firstLine(out.String())
		if detail == "" {
			detail = exitErr.String()
		}
		if ctx.Err() != nil {
			detail = "scan timed out"
		}
		return types.Verdict{State: types.Failed, Detail: detail}, nil
	}
}

// parseThreat extracts the threat name from clamscan output of the form
// "path: Threat-Name FOUND". Falls back to "unknown" when the output
// does not match.
func parseThreat(out, path string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasSuffix(line, " FOUND") {
			continue
		}
		line = strings.TrimSuffix(line, " FOUND")
		if rest, ok := strings.CutPrefix(line, path+": "); ok {
			return rest
		}
		// clamdscan may report a canonicalized path; take whatever
		// follows the last ": " separator.
		if idx := strings.LastIndex(line, ": "); idx >= 0 {
			return line[idx+2:]
		}
	}
	return "unknown"
}

// firstLine returns the first non-empty line of s.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
