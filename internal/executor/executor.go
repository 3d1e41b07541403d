// Package executor runs a single task archive and packages its output.
//
// A task is a zip archive containing an entry-point program. Execute expands
// the archive into a fresh directory named after the task, starts the program
// with that directory as its working directory, captures stdout and stderr to
// stdout.txt and stderr.txt, and zips those two files into the result archive.
//
// Execute never panics and never returns a bare error. Every failure is
// reported through Result.Err so that the caller can log it and move on to the
// next task. The work area is removed on every path.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/tasknet/internal/archive"
	"github.com/dreamware/tasknet/internal/protocol"
	"github.com/dreamware/tasknet/internal/taskstore"
)

// Output file names inside the result archive.
const (
	StdoutFile = "stdout.txt"
	StderrFile = "stderr.txt"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultWorkDir    = "work"
	DefaultEntryPoint = "main.py"
)

// DefaultCommand is the interpreter the entry point is handed to.
var DefaultCommand = []string{"python3"}

var (
	// ErrNoCommand is returned when the configured command is empty.
	ErrNoCommand = errors.New("executor command is empty")
	// ErrBadTaskName is returned for names that would not yield a task
	// directory of their own inside the work area.
	ErrBadTaskName = errors.New("task name has no usable base")
)

// Config describes how tasks are run.
type Config struct {
	// WorkDir holds the per-task working directories.
	WorkDir string
	// Command is the program and leading arguments; the entry point is
	// appended as the final argument.
	Command []string
	// EntryPoint is the path of the program inside the expanded archive.
	EntryPoint string
}

// Executor runs tasks one at a time according to its Config.
type Executor struct {
	cfg Config
	log *zap.Logger
}

// Result is the outcome of one Execute call.
type Result struct {
	TaskName string
	// Archive is the zipped stdout.txt and stderr.txt. Nil when Err is set.
	Archive  []byte
	ExitCode int
	Duration time.Duration
	Err      error
}

// OK reports whether a result archive was produced. A non-zero exit code
// from the task's program is still OK.
func (r Result) OK() bool {
	return r.Err == nil
}

// New returns an Executor, filling empty Config fields with defaults.
func New(cfg Config, logger *zap.Logger) *Executor {
	if cfg.WorkDir == "" {
		cfg.WorkDir = DefaultWorkDir
	}
	if len(cfg.Command) == 0 {
		cfg.Command = DefaultCommand
	}
	if cfg.EntryPoint == "" {
		cfg.EntryPoint = DefaultEntryPoint
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Executor{cfg: cfg, log: logger}
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Execute decodes the base64 task archive, runs it and packages the output.
// ctx bounds the program's run time; cancelling it kills the program.
func (e *Executor) Execute(ctx context.Context, name, encoded string) Result {
	start := time.Now()
	res := Result{TaskName: name, ExitCode: -1}

	if err := taskstore.ValidateName(name); err != nil {
		res.Err = err
		return res
	}

	base := strings.TrimSuffix(name, taskstore.TaskExt)
	if base == "" || strings.HasPrefix(base, ".") {
		res.Err = fmt.Errorf("%w: %q", ErrBadTaskName, name)
		return res
	}
	taskDir := filepath.Join(e.cfg.WorkDir, base)
	archivePath := filepath.Join(e.cfg.WorkDir, base+taskstore.TaskExt)
	defer e.cleanup(taskDir, archivePath)

	archiveData, exitCode, err := e.run(ctx, encoded, taskDir, archivePath)
	res.Archive = archiveData
	res.ExitCode = exitCode
	res.Err = err
	res.Duration = time.Since(start)
	if err != nil {
		res.Archive = nil
	}
	return res
}

func (e *Executor) run(ctx context.Context, encoded, taskDir, archivePath string) ([]byte, int, error) {
	data, err := protocol.DecodePayload(encoded)
	if err != nil {
		return nil, -1, fmt.Errorf("decode task: %w", err)
	}
	if err := os.MkdirAll(e.cfg.WorkDir, 0o755); err != nil {
		return nil, -1, fmt.Errorf("create work dir: %w", err)
	}
	// A leftover directory from an interrupted run must not leak into this one.
	if err := os.RemoveAll(taskDir); err != nil {
		return nil, -1, fmt.Errorf("reset task dir: %w", err)
	}
	if err := os.WriteFile(archivePath, data, 0o644); err != nil {
		return nil, -1, fmt.Errorf("persist task: %w", err)
	}
	if err := archive.Extract(data, taskDir); err != nil {
		return nil, -1, fmt.Errorf("expand task: %w", err)
	}

	stdoutPath := filepath.Join(taskDir, StdoutFile)
	stderrPath := filepath.Join(taskDir, StderrFile)
	exitCode, err := e.runProgram(ctx, taskDir, stdoutPath, stderrPath)
	if err != nil {
		return nil, exitCode, err
	}

	out, err := archive.Pack([]archive.Entry{
		{Path: stdoutPath, Name: StdoutFile},
		{Path: stderrPath, Name: StderrFile},
	})
	if err != nil {
		return nil, exitCode, fmt.Errorf("package output: %w", err)
	}
	return out, exitCode, nil
}

// runProgram starts the entry point and waits for it. A program that starts
// and exits non-zero is not an error; the exit code is returned instead.
func (e *Executor) runProgram(ctx context.Context, dir, stdoutPath, stderrPath string) (int, error) {
	if len(e.cfg.Command) == 0 || e.cfg.Command[0] == "" {
		return -1, ErrNoCommand
	}
	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return -1, err
	}
	defer stdout.Close()
	stderr, err := os.Create(stderrPath)
	if err != nil {
		return -1, err
	}
	defer stderr.Close()

	args := append(append([]string{}, e.cfg.Command[1:]...), e.cfg.EntryPoint)
	cmd := exec.CommandContext(ctx, e.cfg.Command[0], args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	e.log.Debug("starting task program",
		zap.String("dir", dir),
		zap.Strings("argv", append([]string{e.cfg.Command[0]}, args...)))

	err = cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case ctx.Err() != nil:
		return -1, fmt.Errorf("run task: %w", ctx.Err())
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return -1, fmt.Errorf("run task: %w", err)
	}
}

func (e *Executor) cleanup(paths ...string) {
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			e.log.Warn("cleanup failed", zap.String("path", p), zap.Error(err))
		}
	}
}
