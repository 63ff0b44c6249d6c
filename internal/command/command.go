package command

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"strings"

	"github.com/farbot/farbot/internal/logging"
)

// ExternalCommand describes a single invocation of an external program.
// Values are built per call and never reused after execution.
type ExternalCommand struct {
	Program string
	Args    []string
	Dir     string
	Env     map[string]string
	// Chroot, when set, runs Program inside the given root via the chroot wrapper.
	Chroot string
	Stdin  io.Reader
}

func (c ExternalCommand) String() string {
	parts := append([]string{c.Program}, c.Args...)
	if c.Chroot != "" {
		parts = append([]string{"chroot", c.Chroot}, parts...)
	}
	return strings.Join(parts, " ")
}

// Result is the outcome of a command that exited zero.
type Result struct {
	ExitCode int
	Stdout   string
}

// CommandError reports a nonzero exit, or a failure to spawn the program at all
// (ExitCode -1 with Err set).
type CommandError struct {
	Program  string
	Args     []string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command %s could not be run: %v", e.Program, e.Err)
	}
	return fmt.Sprintf("command %s returned with exit code %d", e.Program, e.ExitCode)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// RootEnv is the environment every command starts from.
func RootEnv() map[string]string {
	return map[string]string{
		"USER":             "root",
		"GROUP":            "wheel",
		"HOME":             "/root",
		"LOGNAME":          "root",
		"PATH":             "/sbin:/bin:/usr/sbin:/usr/bin:/usr/games:/usr/local/sbin:/usr/local/bin:/root/bin",
		"FTP_PASSIVE_MODE": "YES",
	}
}

// Runner executes ExternalCommands to completion. It never retries.
type Runner struct {
	Tools  Tools
	Env    map[string]string
	Logger *slog.Logger
}

func NewRunner(tools Tools, logger *slog.Logger) *Runner {
	return &Runner{
		Tools:  tools.WithDefaults(),
		Env:    RootEnv(),
		Logger: logger,
	}
}

// Run executes cmd, writing both stdout and stderr to log.
func (r *Runner) Run(cmd ExternalCommand, log io.Writer) (Result, error) {
	return r.exec(cmd, log, false)
}

// Output executes cmd and returns its stdout; stderr still goes to log.
func (r *Runner) Output(cmd ExternalCommand, log io.Writer) (string, error) {
	result, err := r.exec(cmd, log, true)
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}

func (r *Runner) exec(cmd ExternalCommand, log io.Writer, capture bool) (Result, error) {
	if log == nil {
		log = io.Discard
	}

	argv := r.argv(cmd)
	proc := exec.Command(argv[0], argv[1:]...)
	proc.Dir = cmd.Dir
	proc.Env = r.environ(cmd.Env)
	proc.Stdin = cmd.Stdin
	proc.Stderr = log

	var stdout strings.Builder
	if capture {
		proc.Stdout = &stdout
	} else {
		proc.Stdout = log
	}

	logger := r.logger().With("program", cmd.Program)
	logger.Debug("running command", "argv", strings.Join(argv, " "), "dir", cmd.Dir)

	if err := proc.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.Debug("command failed", "exit_code", exitErr.ExitCode())
			return Result{ExitCode: exitErr.ExitCode()}, &CommandError{
				Program:  cmd.Program,
				Args:     cmd.Args,
				ExitCode: exitErr.ExitCode(),
			}
		}
		logger.Debug("command could not be started", "error", err)
		return Result{ExitCode: -1}, &CommandError{
			Program:  cmd.Program,
			Args:     cmd.Args,
			ExitCode: -1,
			Err:      err,
		}
	}

	return Result{ExitCode: 0, Stdout: stdout.String()}, nil
}

func (r *Runner) argv(cmd ExternalCommand) []string {
	argv := make([]string, 0, len(cmd.Args)+3)
	if cmd.Chroot != "" {
		chroot := r.Tools.Chroot
		if chroot == "" {
			chroot = DefaultTools().Chroot
		}
		argv = append(argv, chroot, cmd.Chroot)
	}
	argv = append(argv, cmd.Program)
	return append(argv, cmd.Args...)
}

func (r *Runner) environ(extra map[string]string) []string {
	base := r.Env
	if base == nil {
		base = RootEnv()
	}
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return FormatOptions(merged)
}

func (r *Runner) logger() *slog.Logger {
	return logging.Ensure(r.Logger)
}

// FormatOptions renders a KEY=VALUE list sorted by key.
func FormatOptions(options map[string]string) []string {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+options[k])
	}
	return out
}
