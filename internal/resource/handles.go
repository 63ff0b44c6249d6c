package resource

import (
	"errors"
	"io"
	"path"
	"strings"

	"github.com/farbot/farbot/internal/command"
)

// AttachHandle binds a backing file to an md(4) device via mdconfig.
type AttachHandle struct {
	File string

	exec  Executor
	tools command.Tools
	state State
	md    string
}

func NewAttachHandle(exec Executor, tools command.Tools, file string) *AttachHandle {
	return &AttachHandle{File: file, exec: exec, tools: tools}
}

func (h *AttachHandle) State() State { return h.state }

// Device returns the md unit name (e.g. "md0") while attached.
func (h *AttachHandle) Device() string { return h.md }

func (h *AttachHandle) Attach(log io.Writer) error {
	if h.state != Unattached {
		return &StateError{Resource: h.File, Op: "attach", State: h.state}
	}

	out, err := h.exec.Output(h.tools.MDAttach(h.File), log)
	if err != nil {
		return &AttachError{File: h.File, Op: "attach", Err: err}
	}

	md := strings.TrimRight(out, "\r\n")
	if md == "" || strings.ContainsAny(md, " \t\n/") {
		return &AttachError{File: h.File, Op: "attach", Err: &ParseError{File: h.File, Output: out}}
	}

	h.md = md
	h.state = Attached
	return nil
}

func (h *AttachHandle) Detach(log io.Writer) error {
	if h.state != Attached {
		return &StateError{Resource: h.File, Op: "detach", State: h.state}
	}

	if _, err := h.exec.Run(h.tools.MDDetach(h.md), log); err != nil {
		return &AttachError{File: h.File, Op: "detach", Err: err}
	}

	h.md = ""
	h.state = Detached
	return nil
}

// MountHandle mounts Device on Mountpoint. Every mount and umount holds the
// process-wide mount lock until the command exits.
type MountHandle struct {
	Device     string
	Mountpoint string
	FSType     string

	exec  Executor
	tools command.Tools
	state State
}

func NewMountHandle(exec Executor, tools command.Tools, device, mountpoint, fstype string) *MountHandle {
	return &MountHandle{
		Device:     device,
		Mountpoint: mountpoint,
		FSType:     fstype,
		exec:       exec,
		tools:      tools,
	}
}

func (h *MountHandle) State() State { return h.state }

func (h *MountHandle) Mounted() bool { return h.state == Attached }

func (h *MountHandle) Mount(log io.Writer) error {
	if h.state != Unattached {
		return &StateError{Resource: h.Mountpoint, Op: "mount", State: h.state}
	}

	mountMu.Lock()
	_, err := h.exec.Run(h.tools.MountFS(h.Device, h.Mountpoint, h.FSType), log)
	mountMu.Unlock()

	if err != nil {
		return &MountError{Mountpoint: h.Mountpoint, Op: "mount", Err: err}
	}
	h.state = Attached
	return nil
}

func (h *MountHandle) Umount(log io.Writer) error {
	if h.state != Attached {
		return &StateError{Resource: h.Mountpoint, Op: "umount", State: h.state}
	}

	mountMu.Lock()
	_, err := h.exec.Run(h.tools.UmountFS(h.Mountpoint), log)
	mountMu.Unlock()

	if err != nil {
		return &MountError{Mountpoint: h.Mountpoint, Op: "umount", Err: err}
	}
	h.state = Detached
	return nil
}

// DeviceMount attaches a backing file and mounts the resulting device.
// Release happens in exactly the reverse order.
type DeviceMount struct {
	attach *AttachHandle
	mount  *MountHandle
}

func NewDeviceMount(exec Executor, tools command.Tools, file, mountpoint, fstype string) *DeviceMount {
	return &DeviceMount{
		attach: NewAttachHandle(exec, tools, file),
		mount:  NewMountHandle(exec, tools, "", mountpoint, fstype),
	}
}

func (d *DeviceMount) Mountpoint() string { return d.mount.Mountpoint }

func (d *DeviceMount) Device() string { return d.mount.Device }

func (d *DeviceMount) Mounted() bool { return d.mount.Mounted() }

// Attached reports whether the backing device is still attached, which can
// be true while unmounted if a detach failed.
func (d *DeviceMount) Attached() bool { return d.attach.State() == Attached }

// Mount attaches then mounts. If the mount fails the device is detached again.
func (d *DeviceMount) Mount(log io.Writer) error {
	if err := d.attach.Attach(log); err != nil {
		return err
	}

	d.mount.Device = path.Join("/dev", d.attach.Device())
	if err := d.mount.Mount(log); err != nil {
		if detachErr := d.attach.Detach(log); detachErr != nil {
			return errors.Join(err, detachErr)
		}
		return err
	}
	return nil
}

// Umount unmounts then detaches. The device stays attached if umount fails.
// A device left attached by a failed detach is only detached.
func (d *DeviceMount) Umount(log io.Writer) error {
	if d.Attached() && !d.Mounted() {
		return d.attach.Detach(log)
	}
	if err := d.mount.Umount(log); err != nil {
		return err
	}
	return d.attach.Detach(log)
}
