// Package stage implements the individual steps of a release build: source
// fetches, make invocations, chroot population, package builds and the
// assembly of net-install trees.
package stage

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/farbot/farbot/internal/command"
	"github.com/farbot/farbot/internal/logging"
	"github.com/farbot/farbot/internal/resource"
	"github.com/farbot/farbot/internal/templates"
)

// Layout of a FreeBSD release tree, relative to its release root or chroot.
const (
	ReleaseCDPath     = "R/cdrom/disc1"
	GenericKernelPath = "R/stage/kernels/GENERIC"
	PackagePath       = "usr/ports/packages"
	ReleaseMakeDir    = "/usr/src/release"
	PortsRoot         = "/usr/ports"
	NewversPath       = "src/sys/conf/newvers.sh"
	ResolvConf        = "etc/resolv.conf"
)

// Stage names used in errors and metrics.
const (
	StageFetch      = "fetch"
	StageCompile    = "compile"
	StagePopulate   = "chroot-populate"
	StagePackage    = "package-build"
	StageImageCopy  = "copy-from-image"
	StageImage      = "image-assemble"
	StageRelease    = "release-assemble"
	StageNetInstall = "net-install-assemble"
)

// Env carries what every stage needs: a way to run commands, the tool paths,
// and the build log both as a raw sink and as a narrative logger.
type Env struct {
	Exec      resource.Executor
	Tools     command.Tools
	Log       io.Writer
	Logger    *slog.Logger
	Templates templates.Source
}

func (e Env) logger() *slog.Logger {
	return logging.Ensure(e.Logger)
}

func (e Env) log() io.Writer {
	if e.Log == nil {
		return io.Discard
	}
	return e.Log
}

// Error adds stage context to a lower-level failure.
type Error struct {
	Stage   string
	Subject string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Subject, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(stage, subject string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Stage: stage, Subject: subject, Err: err}
}

// ParseError reports release metadata that could not be understood.
type ParseError struct {
	Source string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse %s: %s", e.Source, e.Detail)
}
