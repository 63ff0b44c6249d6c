package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/farbot/farbot/internal/cdrom"
	"github.com/farbot/farbot/internal/config"
	"github.com/farbot/farbot/internal/resource"
	"github.com/farbot/farbot/internal/stage"
)

// ReleaseBuildRunner builds every release an installation refers to, either
// with `make release` or by copying a binary release off its install ISO.
type ReleaseBuildRunner struct {
	Env

	mu     sync.Mutex
	states map[string]stage.ReleaseState
}

// State reports how far the named release got.
func (r *ReleaseBuildRunner) State(release string) stage.ReleaseState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[release]
}

func (r *ReleaseBuildRunner) reset(release string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states == nil {
		r.states = map[string]stage.ReleaseState{}
	}
	r.states[release] = stage.Pending
}

func (r *ReleaseBuildRunner) advance(release string, to stage.ReleaseState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := r.states[release].Advance(to)
	if err != nil {
		r.logger().Debug("ignoring release state change", "release", release, "error", err)
		return
	}
	r.states[release] = next
}

func (r *ReleaseBuildRunner) Run(ctx context.Context) (err error) {
	defer func() { r.Metrics.ObserveRun(string(KindRelease), err) }()

	for i := range r.Config.Releases.Release {
		release := &r.Config.Releases.Release[i]
		if !r.Config.Referenced(release.Name) {
			r.logger().Info("skipping release not used by any installation", "release", release.Name)
			continue
		}
		if err := ctx.Err(); err != nil {
			return &Error{Kind: KindRelease, Unit: release.Name, LogPath: filepath.Join(release.BuildRoot, "build.log"), Err: err}
		}
		if err := r.build(ctx, release); err != nil {
			return err
		}
	}
	return nil
}

func (r *ReleaseBuildRunner) build(ctx context.Context, release *config.Release) (err error) {
	logPath := filepath.Join(release.BuildRoot, "build.log")
	logger := r.logger().With("release", release.Name)
	r.reset(release.Name)

	var log *BuildLog
	var iso *resource.DeviceMount
	defer func() {
		if err != nil {
			r.advance(release.Name, stage.Failed)
		}
	}()
	defer finish(&err, KindRelease, release.Name, logPath, func() error {
		var errs []error
		if iso != nil && (iso.Mounted() || iso.Attached()) {
			errs = append(errs, iso.Umount(log))
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

	if release.BinaryRelease {
		r.advance(release.Name, stage.CopyingFromImage)
		logger.Info("copying binary release from ISO", "iso", release.ISO)

		info, err := cdrom.ReadImage(release.ISO)
		if err != nil {
			return fmt.Errorf("inspect %s: %w", release.ISO, err)
		}
		log.Logger.Info("Release image", "iso", release.ISO, "version", info.Version)

		mountpoint := filepath.Join(release.BuildRoot, "mnt")
		if err := os.MkdirAll(mountpoint, 0o755); err != nil {
			return err
		}
		log.Logger.Info("Mounting ISO", "mountpoint", mountpoint)
		iso = resource.NewDeviceMount(r.Exec, r.Config.Tools, release.ISO, mountpoint, "cd9660")
		if err := iso.Mount(log); err != nil {
			return err
		}

		started := time.Now()
		err = stage.ISOReader{Mountpoint: mountpoint, ReleaseRoot: release.ReleaseRoot}.Copy(ctx, env)
		r.Metrics.ObserveStage(string(KindRelease), stage.StageImageCopy, started, err)
		if err != nil {
			return err
		}
	} else {
		r.advance(release.Name, stage.FetchingName)
		logger.Info("starting release build")
		log.Logger.Info("Starting build of release", "release", release.Name)

		started := time.Now()
		err = stage.ReleaseBuild{
			CVSRoot:   release.CVSRoot,
			Tag:       release.CVSTag,
			ChrootDir: release.ReleaseRoot,
			MakeISOs:  release.InstallCDs,
			OnBuilding: func(buildName string) {
				r.advance(release.Name, stage.Building)
				logger.Info("building release", "buildname", buildName)
			},
		}.Run(ctx, env)
		r.Metrics.ObserveStage(string(KindRelease), stage.StageCompile, started, err)
		if err != nil {
			return err
		}
	}

	r.advance(release.Name, stage.Done)
	logger.Info("release ready", "releaseroot", release.ReleaseRoot)
	return nil
}
