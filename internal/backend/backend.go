// Package backend hands emitted DFG text to a scheduler and reads back the
// port assignment it produces.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"dsac/internal/diag"
)

// Scheduler maps the textual DFGs of one region onto accelerator resources.
type Scheduler interface {
	Schedule(ctx context.Context, name, text string) (*Assignment, error)
}

// Options configures how the scheduler binary is invoked.
type Options struct {
	// SchedulerPath optionally overrides the ss_sched binary. When empty the
	// backend looks it up on PATH.
	SchedulerPath string
	// ConfigLib is the hardware description handed to the scheduler
	// (SBCONFIG).
	ConfigLib string
	// WorkDir receives the .dfg file. When empty a temporary directory is
	// used.
	WorkDir string
	// KeepTemps preserves the temporary directory on disk for debugging.
	KeepTemps bool
	// Timeout bounds one scheduler run; zero means no limit.
	Timeout time.Duration
	// Stderr receives the scheduler's diagnostics. Nil discards them.
	Stderr io.Writer
	Logger *zap.Logger
}

// Subprocess runs the external scheduler once per region.
type Subprocess struct {
	opts Options
}

// NewSubprocess returns a scheduler backed by the ss_sched binary.
func NewSubprocess(opts Options) *Subprocess {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Subprocess{opts: opts}
}

// Schedule writes text to <WorkDir>/<name>, runs the scheduler on it, and
// parses the assignment appended to the file.
func (s *Subprocess) Schedule(ctx context.Context, name, text string) (*Assignment, error) {
	if s.opts.ConfigLib == "" {
		return nil, fmt.Errorf("backend: no hardware configuration (set SBCONFIG): %w", diag.ErrConfig)
	}
	bin, err := resolveBinary(s.opts.SchedulerPath, "ss_sched")
	if err != nil {
		return nil, fmt.Errorf("backend: resolve ss_sched: %v: %w", err, diag.ErrConfig)
	}

	dir := s.opts.WorkDir
	if dir == "" {
		tempDir, err := os.MkdirTemp("", "dsac-sched-*")
		if err != nil {
			return nil, fmt.Errorf("backend: create temp dir: %w", err)
		}
		if !s.opts.KeepTemps {
			defer os.RemoveAll(tempDir)
		}
		dir = tempDir
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("backend: create work dir: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return nil, fmt.Errorf("backend: write %s: %w", name, err)
	}
	if err := s.run(ctx, bin, path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backend: read scheduled %s: %w", name, err)
	}
	asg, err := ParseAssignment(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("backend: %s: %w", name, err)
	}
	asg.Text = string(data)
	return asg, nil
}

func (s *Subprocess) run(ctx context.Context, bin, path string) error {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	args := []string{"--dummy", "-v", s.opts.ConfigLib, path, "-e", "0"}
	cmdline := bin + " " + strings.Join(args, " ")
	s.opts.Logger.Debug("running scheduler", zap.String("cmd", cmdline))

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = filepath.Dir(path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if s.opts.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, s.opts.Stderr)
	}
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("backend: not scheduled, try another DFG: %q failed: %v: %s: %w", cmdline, err, msg, diag.ErrExternalTool)
		}
		return fmt.Errorf("backend: not scheduled, try another DFG: %q failed: %v: %w", cmdline, err, diag.ErrExternalTool)
	}
	return nil
}

func resolveBinary(explicit, fallback string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}
	path, err := exec.LookPath(fallback)
	if err != nil {
		return "", err
	}
	return path, nil
}
