// Package runner drives whole builds: it walks the configured releases and
// installations, runs each one's stages in order, and always releases the
// mounts and logs it acquired along the way.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/farbot/farbot/internal/config"
	"github.com/farbot/farbot/internal/executor"
	"github.com/farbot/farbot/internal/logging"
	"github.com/farbot/farbot/internal/metrics"
	"github.com/farbot/farbot/internal/resource"
	"github.com/farbot/farbot/internal/stage"
	"github.com/farbot/farbot/internal/templates"
)

type Kind string

const (
	KindRelease    Kind = "release"
	KindPackage    Kind = "packages"
	KindNetInstall Kind = "install"
)

// Error is what a runner returns when a unit fails. It names the unit and the
// log holding the tool output.
type Error struct {
	Kind    Kind
	Unit    string
	LogPath string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindRelease:
		return fmt.Sprintf("Build of release %s failed: %v\nMore details may be found in %s", e.Unit, e.Err, e.LogPath)
	case KindPackage:
		return fmt.Sprintf("Package build for release %s failed: %v\nFor more information, refer to the package build log %q", e.Unit, e.Err, e.LogPath)
	default:
		return fmt.Sprintf("Installation build %s failed: %v\nFor more information, refer to the installation build log %q", e.Unit, e.Err, e.LogPath)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InstallConfigWriter serializes the install.cfg of one installation.
type InstallConfigWriter interface {
	Write(w io.Writer, install config.Installation) error
}

// Env is shared by all runners of one invocation.
type Env struct {
	Config  *config.Config
	Exec    resource.Executor
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	RunID   string
	// OpenLog opens build logs; OpenBuildLog when nil.
	OpenLog func(path string) (*BuildLog, error)
}

// NewEnv returns an Env with a fresh run id.
func NewEnv(cfg *config.Config, exec resource.Executor, logger *slog.Logger, m *metrics.Metrics) Env {
	return Env{
		Config:  cfg,
		Exec:    exec,
		Logger:  logger,
		Metrics: m,
		RunID:   uuid.NewString(),
	}
}

func (e Env) logger() *slog.Logger {
	logger := logging.Ensure(e.Logger)
	if e.RunID != "" {
		logger = logger.With("run_id", e.RunID)
	}
	return logger
}

func (e Env) openLog(path string) (*BuildLog, error) {
	if e.OpenLog != nil {
		return e.OpenLog(path)
	}
	return OpenBuildLog(path)
}

// stageEnv points the stages at a build log.
func (e Env) stageEnv(log *BuildLog) stage.Env {
	return stage.Env{
		Exec:      e.Exec,
		Tools:     e.Config.Tools,
		Log:       log,
		Logger:    log.Logger,
		Templates: templates.Source{Dir: e.Config.Releases.Templates},
	}
}

// unit wraps fn so its duration and outcome are recorded under stageName.
func (e Env) unit(kind Kind, stageName, description, logPath string, fn func(ctx context.Context) error) executor.Unit {
	return executor.Unit{
		Context: executor.UnitContext{Description: description, LogPath: logPath},
		Run: func(ctx context.Context) error {
			started := time.Now()
			err := fn(ctx)
			e.Metrics.ObserveStage(string(kind), stageName, started, err)
			return err
		},
	}
}

// finish is deferred by every per-unit body. It turns a panic into an error,
// runs cleanup regardless, and wraps whatever went wrong.
func finish(errp *error, kind Kind, unit, logPath string, cleanup func() error) {
	if p := recover(); p != nil {
		*errp = fmt.Errorf("unhandled panic: %v", p)
	}
	if cleanup != nil {
		*errp = errors.Join(*errp, cleanup())
	}
	if *errp != nil {
		var runnerErr *Error
		if !errors.As(*errp, &runnerErr) {
			*errp = &Error{Kind: kind, Unit: unit, LogPath: logPath, Err: *errp}
		}
	}
}

// RunAll builds releases, then packages, then the net-install tree.
func RunAll(ctx context.Context, env Env) error {
	if err := (&ReleaseBuildRunner{Env: env}).Run(ctx); err != nil {
		return err
	}
	if err := (&PackageBuildRunner{Env: env}).Run(ctx); err != nil {
		return err
	}
	return (&NetInstallAssemblerRunner{Env: env}).Run(ctx)
}
