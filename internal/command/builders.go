package command

import "io"

// MakeCommand runs `make -C dir targets... KEY=VALUE...`, optionally inside chroot.
func (t Tools) MakeCommand(dir string, targets []string, options map[string]string, chroot string) ExternalCommand {
	args := append([]string{"-C", dir}, targets...)
	args = append(args, FormatOptions(options)...)
	return ExternalCommand{Program: t.Make, Args: args, Chroot: chroot}
}

// CVSCheckout checks module out at tag into dest.
func (t Tools) CVSCheckout(root, tag, dest, module string) ExternalCommand {
	return ExternalCommand{
		Program: t.CVS,
		Args:    []string{"-R", "-d", root, "checkout", "-r", tag, "-d", dest, module},
	}
}

// CVSPrint writes a single repository file at tag to stdout.
func (t Tools) CVSPrint(root, tag, path string) ExternalCommand {
	return ExternalCommand{
		Program: t.CVS,
		Args:    []string{"-R", "-d", root, "co", "-p", "-r", tag, path},
	}
}

func (t Tools) MountFS(device, mountpoint, fstype string) ExternalCommand {
	args := []string{device, mountpoint}
	if fstype != "" {
		args = append([]string{"-t", fstype}, args...)
	}
	return ExternalCommand{Program: t.Mount, Args: args}
}

func (t Tools) UmountFS(mountpoint string) ExternalCommand {
	return ExternalCommand{Program: t.Umount, Args: []string{mountpoint}}
}

func (t Tools) MDAttach(file string) ExternalCommand {
	return ExternalCommand{Program: t.MDConfig, Args: []string{"-a", "-t", "vnode", "-f", file}}
}

func (t Tools) MDDetach(unit string) ExternalCommand {
	return ExternalCommand{Program: t.MDConfig, Args: []string{"-d", "-u", unit}}
}

// ChflagsClear recursively removes all file flags under path.
func (t Tools) ChflagsClear(path string) ExternalCommand {
	return ExternalCommand{Program: t.Chflags, Args: []string{"-R", "0", path}}
}

// TarExtract extracts a gzipped archive read from stdin into target.
func (t Tools) TarExtract(target string, stdin io.Reader) ExternalCommand {
	return ExternalCommand{
		Program: t.Tar,
		Args:    []string{"--unlink", "-xpvzf", "-", "-C", target},
		Stdin:   stdin,
	}
}

func (t Tools) PortsnapFetch() ExternalCommand {
	return ExternalCommand{Program: t.Portsnap, Args: []string{"fetch"}}
}

func (t Tools) PortsnapExtract(dest string) ExternalCommand {
	return ExternalCommand{Program: t.Portsnap, Args: []string{"-p", dest, "extract"}}
}
