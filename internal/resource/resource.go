// Package resource manages OS resources that must be released in mirror order:
// md(4) devices attached to backing files and filesystem mounts.
package resource

import (
	"fmt"
	"io"
	"sync"

	"github.com/farbot/farbot/internal/command"
)

// State is the monotonic lifecycle of a handle.
type State int

const (
	Unattached State = iota
	Attached
	Detached
)

func (s State) String() string {
	switch s {
	case Unattached:
		return "unattached"
	case Attached:
		return "attached"
	case Detached:
		return "detached"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Executor is the subset of command.Runner that handles need.
type Executor interface {
	Run(cmd command.ExternalCommand, log io.Writer) (command.Result, error)
	Output(cmd command.ExternalCommand, log io.Writer) (string, error)
}

// StateError is returned when an operation is invalid for the handle's state.
type StateError struct {
	Resource string
	Op       string
	State    State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s %s: handle is %s", e.Op, e.Resource, e.State)
}

// AttachError wraps a failed mdconfig invocation.
type AttachError struct {
	File string
	Op   string
	Err  error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("%s md device for %s: %v", e.Op, e.File, e.Err)
}

func (e *AttachError) Unwrap() error {
	return e.Err
}

// MountError wraps a failed mount or umount invocation.
type MountError struct {
	Mountpoint string
	Op         string
	Err        error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Mountpoint, e.Err)
}

func (e *MountError) Unwrap() error {
	return e.Err
}

// ParseError is returned when mdconfig prints no usable device name.
type ParseError struct {
	File   string
	Output string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse md device name for %s from %q", e.File, e.Output)
}

// mountMu serializes every mount and umount in the process. Overlapping
// mount operations against md devices race inside the kernel.
var mountMu sync.Mutex
