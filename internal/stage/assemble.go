package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/farbot/farbot/internal/cdrom"
	"github.com/farbot/farbot/internal/fsutil"
	"github.com/farbot/farbot/internal/resource"
	"github.com/farbot/farbot/internal/templates"
)

// InstallAssembler builds the per-installation boot directory: an mfsroot
// carrying install.cfg, the kernel, and boot.conf.
type InstallAssembler struct {
	Name          string
	Description   string
	ReleaseRoot   string
	InstallConfig string
}

func (a InstallAssembler) bootRoot() string {
	return filepath.Join(a.ReleaseRoot, ReleaseCDPath, "boot")
}

// kernelDir prefers the disc's boot/kernel and falls back to the GENERIC
// kernel staged by the release build.
func (a InstallAssembler) kernelDir() string {
	kernel := filepath.Join(a.bootRoot(), "kernel")
	if fsutil.Exists(filepath.Join(kernel, "kernel")) {
		return kernel
	}
	return filepath.Join(a.ReleaseRoot, GenericKernelPath)
}

func (a InstallAssembler) Build(ctx context.Context, env Env, destdir string) error {
	if err := a.build(ctx, env, destdir); err != nil {
		return wrap(StageImage, a.Name, err)
	}
	return nil
}

func (a InstallAssembler) build(ctx context.Context, env Env, destdir string) error {
	logger := env.logger().With("installation", a.Name)

	if err := os.MkdirAll(destdir, 0o755); err != nil {
		return err
	}

	mfsroot := filepath.Join(destdir, "mfsroot")
	compressed := filepath.Join(a.bootRoot(), "mfsroot.gz")
	logger.Info("Decompressing mfsroot", "from", compressed, "to", mfsroot)
	if err := gunzip(compressed, mfsroot); err != nil {
		return err
	}

	mountpoint := filepath.Join(destdir, "mnt")
	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return err
	}

	logger.Info("Mounting mfsroot", "image", mfsroot, "mountpoint", mountpoint)
	mfs := resource.NewDeviceMount(env.Exec, env.Tools, mfsroot, mountpoint, "")
	if err := mfs.Mount(env.log()); err != nil {
		return err
	}

	logger.Info("Copying install configuration", "from", a.InstallConfig, "mountpoint", mountpoint)
	copyErr := fsutil.CopyFile(a.InstallConfig, filepath.Join(mountpoint, "install.cfg"))
	if umountErr := mfs.Umount(env.log()); umountErr != nil {
		return errors.Join(copyErr, umountErr)
	}
	if copyErr != nil {
		return copyErr
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	kernel := a.kernelDir()
	logger.Info("Copying kernel", "from", kernel, "to", destdir)
	if err := fsutil.CopyTree(kernel, filepath.Join(destdir, "kernel")); err != nil {
		return err
	}

	logger.Info("Writing boot.conf", "dir", destdir)
	return env.Templates.RenderTo(templates.BootConf, filepath.Join(destdir, "boot.conf"), map[string]string{
		"bootdir": filepath.Base(destdir),
	})
}

func gunzip(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	defer zr.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		return fmt.Errorf("decompress %s: %w", src, err)
	}
	return out.Close()
}

// ReleaseAssembler builds the per-release data directory served over NFS.
type ReleaseAssembler struct {
	Name        string
	ReleaseRoot string
	PkgRoot     string
	LocalData   []string
}

func (r ReleaseAssembler) cdroot() string {
	return filepath.Join(r.ReleaseRoot, ReleaseCDPath)
}

func (r ReleaseAssembler) Build(ctx context.Context, env Env, destdir string) error {
	if err := r.build(ctx, env, destdir); err != nil {
		return wrap(StageRelease, r.Name, err)
	}
	return nil
}

func (r ReleaseAssembler) build(ctx context.Context, env Env, destdir string) error {
	logger := env.logger().With("release", r.Name)

	version, err := cdrom.ReadDir(r.cdroot())
	if err != nil {
		return err
	}

	source := filepath.Join(r.cdroot(), version)
	logger.Info("Copying release files", "from", source, "to", destdir)
	if err := fsutil.CopyTree(source, destdir); err != nil {
		return err
	}

	packages := filepath.Join(r.PkgRoot, PackagePath)
	if fsutil.Exists(packages) {
		logger.Info("Copying packages", "from", packages, "to", filepath.Join(destdir, "packages"))
		if err := fsutil.CopyTree(packages, filepath.Join(destdir, "packages")); err != nil {
			return err
		}
	}

	if len(r.LocalData) > 0 {
		local := filepath.Join(destdir, "local")
		if err := os.MkdirAll(local, 0o755); err != nil {
			return err
		}
		for _, path := range r.LocalData {
			if err := ctx.Err(); err != nil {
				return err
			}
			logger.Info("Copying local data", "from", path, "to", local)
			if _, err := fsutil.CopyInto(path, local); err != nil {
				return err
			}
		}
	}

	logger.Info("Installing package installer script", "dir", destdir)
	_, err = env.Templates.Install(templates.InstallPackageScript, destdir, 0o755)
	return err
}

// NetInstallAssembler lays out the complete net-install tree: shared boot
// loader and menu under tftproot/boot, release data under installroot/<release>
// and per-installation boot files under tftproot/<installation>.
type NetInstallAssembler struct {
	InstallRoot string
	Releases    []ReleaseAssembler
	Installs    []InstallAssembler
}

func (n NetInstallAssembler) TFTPRoot() string {
	return filepath.Join(n.InstallRoot, "tftproot")
}

func (n NetInstallAssembler) Build(ctx context.Context, env Env) error {
	if len(n.Releases) == 0 {
		return wrap(StageNetInstall, n.InstallRoot, errors.New("no releases to assemble"))
	}
	if err := n.prepareBoot(env); err != nil {
		return wrap(StageNetInstall, n.InstallRoot, err)
	}

	// Release data copies touch no shared state and run concurrently.
	group, groupCtx := errgroup.WithContext(ctx)
	for _, release := range n.Releases {
		release := release
		destdir := filepath.Join(n.InstallRoot, release.Name)
		group.Go(func() error {
			return release.Build(groupCtx, env, destdir)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	// Installations mount mfsroots and stay sequential.
	for _, install := range n.Installs {
		if err := ctx.Err(); err != nil {
			return wrap(StageNetInstall, n.InstallRoot, err)
		}
		destdir := filepath.Join(n.TFTPRoot(), install.Name)
		env.logger().Info("Assembling installation-specific data", "dir", destdir)
		if err := install.Build(ctx, env, destdir); err != nil {
			return err
		}
	}
	return nil
}

// prepareBoot copies the boot loader of the first release and writes the
// installation menu next to it.
func (n NetInstallAssembler) prepareBoot(env Env) error {
	if err := os.MkdirAll(n.TFTPRoot(), 0o755); err != nil {
		return err
	}

	first := n.Releases[0]
	source := filepath.Join(first.cdroot(), "boot")
	dest := filepath.Join(n.TFTPRoot(), "boot")
	env.logger().Info("Copying shared boot loader and kernel", "from", source, "to", dest)
	if err := fsutil.CopyTree(source, dest); err != nil {
		return err
	}

	if !fsutil.Exists(filepath.Join(source, "kernel", "kernel")) {
		generic := filepath.Join(first.ReleaseRoot, GenericKernelPath, "kernel")
		if fsutil.Exists(generic) {
			if err := os.MkdirAll(filepath.Join(dest, "kernel"), 0o755); err != nil {
				return err
			}
			if err := fsutil.CopyFile(generic, filepath.Join(dest, "kernel", "kernel")); err != nil {
				return err
			}
		}
	}

	env.logger().Info("Generating boot menu", "dir", dest)
	if err := env.Templates.RenderTo(templates.NetInstallForth, filepath.Join(dest, templates.NetInstallForth), BootMenu(n.Installs)); err != nil {
		return err
	}
	for _, name := range []string{templates.LoaderConf, templates.LoaderRC} {
		if _, err := env.Templates.Install(name, dest, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// BootMenu returns the substitutions for netinstall.4th: one variable, menu
// item and dispatch block per installation.
func BootMenu(installs []InstallAssembler) map[string]string {
	var variables, menuItems, ifBlocks strings.Builder
	for _, install := range installs {
		key := install.Name + "_key"
		fmt.Fprintf(&variables, "variable %s\n", key)
		fmt.Fprintf(&menuItems, "printmenuitem .\"  %s\" %s !\n", install.Description, key)
		fmt.Fprintf(&ifBlocks, "dup %s @ = if\ns\" /%s/boot.conf\" read-conf\n0 boot-conf exit\nthen\n", key, install.Name)
	}
	return map[string]string{
		"variables": variables.String(),
		"menuitems": menuItems.String(),
		"ifblocks":  ifBlocks.String(),
	}
}
