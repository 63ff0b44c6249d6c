package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/farbot/farbot/internal/config"
	"github.com/farbot/farbot/internal/executor"
	"github.com/farbot/farbot/internal/resource"
	"github.com/farbot/farbot/internal/stage"
)

// PackageBuildRunner builds the packages of every release inside a chroot
// populated from that release.
type PackageBuildRunner struct {
	Env

	// HostRoot is where the chroot's resolv.conf comes from; "/" when empty.
	HostRoot string
}

// ChrootDists expands a release's distribution sets into what is extracted:
// "src" and "kernels" carry their configured parts, every other set is a
// single archive named after it.
func ChrootDists(release *config.Release) []stage.DistSet {
	dists := make([]stage.DistSet, 0, len(release.Dists))
	for _, set := range release.Dists {
		switch set {
		case "src":
			dists = append(dists, stage.DistSet{Set: set, Parts: release.SourceDists})
		case "kernels":
			dists = append(dists, stage.DistSet{Set: set, Parts: release.KernelDists})
		default:
			dists = append(dists, stage.DistSet{Set: set, Parts: []string{set}})
		}
	}
	return dists
}

func (r *PackageBuildRunner) Run(ctx context.Context) (err error) {
	defer func() { r.Metrics.ObserveRun(string(KindPackage), err) }()

	cache := r.Config.PackageSets.DistfilesCache
	if cache != "" {
		if err := os.MkdirAll(cache, 0o755); err != nil {
			return &Error{Kind: KindPackage, Unit: "distfiles cache", Err: fmt.Errorf("create %s: %w", cache, err)}
		}
	}

	for i := range r.Config.Releases.Release {
		release := &r.Config.Releases.Release[i]
		if len(release.Packages) == 0 {
			continue
		}
		if err := r.build(ctx, release); err != nil {
			return err
		}
	}
	return nil
}

func (r *PackageBuildRunner) build(ctx context.Context, release *config.Release) (err error) {
	logPath := filepath.Join(release.BuildRoot, "packaging.log")
	logger := r.logger().With("release", release.Name)

	var log *BuildLog
	var devfs, distfiles *resource.MountHandle
	defer finish(&err, KindPackage, release.Name, logPath, func() error {
		var errs []error
		// Reverse acquisition order: the distfiles mount sits inside the chroot.
		if distfiles != nil && distfiles.Mounted() {
			log.Logger.Info("Unmounting distfiles cache", "mountpoint", distfiles.Mountpoint)
			errs = append(errs, distfiles.Umount(log))
		}
		if devfs != nil && devfs.Mounted() {
			log.Logger.Info("Unmounting devfs", "mountpoint", devfs.Mountpoint)
			errs = append(errs, devfs.Umount(log))
		}
		if log != nil {
			errs = append(errs, log.Close())
		}
		return errors.Join(errs...)
	})

	if err := os.MkdirAll(release.BuildRoot, 0o755); err != nil {
		return err
	}
	log, err = r.openLog(logPath)
	if err != nil {
		return err
	}
	env := r.stageEnv(log)
	oe := executor.New(logger)

	oe.Append(r.unit(KindPackage, stage.StagePopulate,
		fmt.Sprintf("Extracting release binaries to %q", release.PkgRoot), logPath,
		func(ctx context.Context) error {
			return stage.ChrootPopulate{
				ReleaseRoot: release.ReleaseRoot,
				Target:      release.PkgRoot,
				Dists:       ChrootDists(release),
				HostRoot:    r.HostRoot,
			}.Run(ctx, env)
		}))

	devfs = resource.NewMountHandle(r.Exec, r.Config.Tools, "devfs", filepath.Join(release.PkgRoot, "dev"), "devfs")
	oe.Append(r.unit(KindPackage, "mount", fmt.Sprintf("Mount devfs in %q", release.PkgRoot), logPath,
		func(context.Context) error {
			if err := os.MkdirAll(devfs.Mountpoint, 0o755); err != nil {
				return err
			}
			return devfs.Mount(log)
		}))

	oe.Append(r.unit(KindPackage, stage.StageFetch, fmt.Sprintf("Installing ports tree in %q", release.PortsDir), logPath,
		func(ctx context.Context) error {
			return stage.PortsTree{
				PortsDir:    release.PortsDir,
				CVSRoot:     release.CVSRoot,
				UsePortsnap: release.UsePortsnap,
			}.Run(ctx, env)
		}))

	if cache := r.Config.PackageSets.DistfilesCache; cache != "" {
		mountpoint := filepath.Join(release.PortsDir, "distfiles")
		distfiles = resource.NewMountHandle(r.Exec, r.Config.Tools, cache, mountpoint, "nullfs")
		oe.Append(r.unit(KindPackage, "mount", fmt.Sprintf("Mount distfiles cache in %q", release.PkgRoot), logPath,
			func(context.Context) error {
				// A fresh ports tree never has a distfiles directory.
				if err := os.MkdirAll(mountpoint, 0o755); err != nil {
					return err
				}
				return distfiles.Mount(log)
			}))
	}

	oe.Append(r.unit(KindPackage, "mkdir", fmt.Sprintf("Creating %q directory", release.PackageDir), logPath,
		func(context.Context) error {
			return os.MkdirAll(release.PackageDir, 0o755)
		}))

	for _, pkg := range release.Packages {
		build := stage.PackageBuild{
			PkgRoot:        release.PkgRoot,
			Port:           pkg.Port,
			ReleaseOptions: release.BuildOptions,
			PackageOptions: pkg.BuildOptions,
		}
		oe.Append(r.unit(KindPackage, stage.StagePackage, fmt.Sprintf("Building package %s", pkg.Port), logPath,
			func(ctx context.Context) error {
				return build.Run(ctx, env)
			}))
	}

	logger.Info("building packages", "packages", len(release.Packages), "units", oe.Len())
	if err := oe.Run(ctx); err != nil {
		return err
	}
	logger.Info("packages built", "packagedir", release.PackageDir)
	return nil
}
