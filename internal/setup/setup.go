// Package setup holds the host-level facts farbot depends on: where its
// configuration lives and whether the external tools it drives are usable.
//
// Like a collection of scripts, this package logs through a package-level
// logger set once by the CLI.
package setup

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/farbot/farbot/internal/command"
)

var ConfigDir = "/usr/local/etc"
var DefaultConfigPath = ConfigDir + "/farbot.yaml"

var packageLogger = slog.Default()

// SetLogger configures the package logger used for setup checks.
func SetLogger(logger *slog.Logger) {
	if logger == nil {
		packageLogger = slog.Default()
		return
	}
	packageLogger = logger
}

func getLogger() *slog.Logger {
	if packageLogger != nil {
		return packageLogger
	}
	return slog.Default()
}

// ToolError lists the tools that are missing or not executable.
type ToolError struct {
	Tools map[string]error
}

func (e *ToolError) Error() string {
	names := make([]string, 0, len(e.Tools))
	for name := range e.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	msg := "unusable tools:"
	for _, name := range names {
		msg += fmt.Sprintf(" %s (%v)", name, e.Tools[name])
	}
	return msg
}

// Verify checks that every configured tool exists and is executable by the
// current user.
func Verify(tools command.Tools) error {
	failed := map[string]error{}
	for name, path := range tools.WithDefaults().Named() {
		if err := unix.Access(path, unix.X_OK); err != nil {
			getLogger().Debug("tool check failed", "tool", name, "path", path, "error", err)
			failed[name] = fmt.Errorf("%s: %w", path, err)
		}
	}
	if len(failed) > 0 {
		return &ToolError{Tools: failed}
	}
	getLogger().Debug("all tools present")
	return nil
}

// ErrNotRoot is returned by RequireRoot for unprivileged users.
var ErrNotRoot = errors.New("farbot must run as root to mount file systems and chroot")

// RequireRoot fails unless the effective user is root.
func RequireRoot() error {
	if unix.Geteuid() != 0 {
		return ErrNotRoot
	}
	return nil
}
