// Package slicer runs an external command-line slicing engine against a
// scratch copy of a model file and reports the outcome as slice state.
package slicer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/YelzhanWeb/printforge/internal/adapter/logger"
	"github.com/YelzhanWeb/printforge/internal/domain"
	"github.com/YelzhanWeb/printforge/internal/gcode"
	"github.com/YelzhanWeb/printforge/internal/metrics"
)

var (
	ErrEngineTimeout = errors.New("slicing engine timed out")
	ErrEngineFailed  = errors.New("slicing engine failed")
	ErrEngineMissing = errors.New("slicing engine not found")
	ErrNoOutput      = errors.New("slicing engine produced no output")
)

const maxDiagnostic = 4096

// EngineError carries the engine's diagnostic output alongside the cause.
type EngineError struct {
	Engine string
	Err    error
	Output string
}

func (e *EngineError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: %v", filepath.Base(e.Engine), e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", filepath.Base(e.Engine), e.Err, e.Output)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

var sliceable = map[string]bool{
	"stl": true,
	"3mf": true,
}

// Sliceable reports whether files with this extension can be sliced.
func Sliceable(ext string) bool {
	return sliceable[normalizeExt(ext)]
}

type Config struct {
	// EnginePath is the slicer executable. Empty means slicing is done by hand.
	EnginePath  string
	ProfilePath string
	Timeout     time.Duration
	TempDir     string
	WindowBytes int
}

// Result is the outcome of one slicing attempt. Failures are reported in
// Status and Err, never as a Go error from Slice.
type Result struct {
	Status   domain.SliceStatus
	Gcode    []byte
	Stats    domain.GcodeStats
	Err      error
	Duration time.Duration
}

type Orchestrator struct {
	cfg    Config
	logger logger.Logger
}

func New(cfg Config, lgr logger.Logger) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.WindowBytes <= 0 {
		cfg.WindowBytes = gcode.DefaultWindow
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &Orchestrator{cfg: cfg, logger: lgr}
}

// Configured reports whether an engine is available to this deployment.
func (o *Orchestrator) Configured() bool {
	return o.cfg.EnginePath != ""
}

// Slice attempts to produce a toolpath for data. Non-sliceable formats are
// unsupported and an unconfigured engine leaves the order pending; neither
// spawns a process.
func (o *Orchestrator) Slice(ctx context.Context, data []byte, ext string) Result {
	ext = normalizeExt(ext)
	if !Sliceable(ext) {
		return Result{Status: domain.SliceUnsupported}
	}
	if !o.Configured() {
		return Result{Status: domain.SlicePending}
	}

	start := time.Now()
	out, err := o.run(ctx, data, ext)
	took := time.Since(start)

	if err != nil {
		metrics.SliceAttempt(string(domain.SliceError), took)
		o.logger.Error("slice_failed", "Slicing engine failed", "", map[string]interface{}{
			"ext":         ext,
			"duration_ms": took.Milliseconds(),
		}, err)
		return Result{Status: domain.SliceError, Err: err, Duration: took}
	}

	stats := gcode.ParseStats(gcode.Window(out, o.cfg.WindowBytes))
	metrics.SliceAttempt(string(domain.SliceDone), took)
	o.logger.Debug("slice_completed", "Slicing engine finished", "", map[string]interface{}{
		"ext":         ext,
		"gcode_bytes": len(out),
		"duration_ms": took.Milliseconds(),
	})
	return Result{Status: domain.SliceDone, Gcode: out, Stats: stats, Duration: took}
}

func (o *Orchestrator) run(ctx context.Context, data []byte, ext string) ([]byte, error) {
	dir, err := os.MkdirTemp(o.cfg.TempDir, "slice-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			o.logger.Error("scratch_cleanup_failed", "Failed to remove slicing scratch dir", "", map[string]interface{}{"dir": dir}, err)
		}
	}()

	name := uuid.NewString()
	input := filepath.Join(dir, name+"."+ext)
	output := filepath.Join(dir, name+".gcode")

	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, fmt.Errorf("writing scratch input: %w", err)
	}

	// A running slice is not cancelled with the caller; only the timeout stops it.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, o.cfg.EnginePath, o.args(input, output)...)
	cmd.Dir = dir
	cmd.WaitDelay = 2 * time.Second

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err = cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, &EngineError{Engine: o.cfg.EnginePath, Err: ErrEngineTimeout, Output: diagnostic(combined.Bytes())}
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
			return nil, &EngineError{Engine: o.cfg.EnginePath, Err: ErrEngineMissing}
		}
		return nil, &EngineError{
			Engine: o.cfg.EnginePath,
			Err:    fmt.Errorf("%w: %v", ErrEngineFailed, err),
			Output: diagnostic(combined.Bytes()),
		}
	}

	gcodeBytes, err := os.ReadFile(output)
	if err != nil || len(gcodeBytes) == 0 {
		return nil, &EngineError{Engine: o.cfg.EnginePath, Err: ErrNoOutput, Output: diagnostic(combined.Bytes())}
	}
	return gcodeBytes, nil
}

func (o *Orchestrator) args(input, output string) []string {
	var args []string
	if o.cfg.ProfilePath != "" {
		args = append(args, "--load", o.cfg.ProfilePath)
	}
	return append(args, "--export-gcode", "--output", output, input)
}

func diagnostic(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxDiagnostic {
		s = s[len(s)-maxDiagnostic:]
	}
	return s
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
