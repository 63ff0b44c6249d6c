package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/farbot/farbot/internal/config"
	"github.com/farbot/farbot/internal/executor"
	"github.com/farbot/farbot/internal/fsutil"
	"github.com/farbot/farbot/internal/stage"
	"github.com/farbot/farbot/internal/sysinstall"
)

// NetInstallAssemblerRunner writes each installation's install.cfg and lays
// out the complete net-install tree under the install root.
type NetInstallAssemblerRunner struct {
	Env

	// InstallConfig serializes install.cfg files; sysinstall.Writer when nil.
	InstallConfig InstallConfigWriter
}

func (r *NetInstallAssemblerRunner) writer() InstallConfigWriter {
	if r.InstallConfig != nil {
		return r.InstallConfig
	}
	return sysinstall.Writer{Config: r.Config}
}

// InstallConfigPath is where the install.cfg of an installation is written.
func (r *NetInstallAssemblerRunner) InstallConfigPath(installation string) string {
	return filepath.Join(r.Config.Releases.BuildRoot, installation+"-install.cfg")
}

func (r *NetInstallAssemblerRunner) Run(ctx context.Context) (err error) {
	defer func() { r.Metrics.ObserveRun(string(KindNetInstall), err) }()

	releases := r.Config.Releases
	logPath := filepath.Join(releases.BuildRoot, "install.log")
	logger := r.logger().With("installroot", releases.InstallRoot)

	var log *BuildLog
	defer finish(&err, KindNetInstall, releases.InstallRoot, logPath, func() error {
		if log == nil {
			return nil
		}
		return log.Close()
	})

	if err := os.MkdirAll(releases.BuildRoot, 0o755); err != nil {
		return err
	}
	log, err = r.openLog(logPath)
	if err != nil {
		return err
	}
	env := r.stageEnv(log)
	oe := executor.New(logger)

	oe.Append(r.unit(KindNetInstall, "clean", fmt.Sprintf("Cleaning %q", releases.InstallRoot), logPath,
		func(context.Context) error {
			if !fsutil.Exists(releases.InstallRoot) {
				return os.MkdirAll(releases.InstallRoot, 0o755)
			}
			log.Logger.Info("Removing previous install root contents", "dir", releases.InstallRoot)
			return fsutil.RemoveContents(releases.InstallRoot)
		}))

	installs := make([]stage.InstallAssembler, 0, len(r.Config.Installations))
	for _, install := range r.Config.Installations {
		release, ok := r.Config.Release(install.Release)
		if !ok {
			return fmt.Errorf("installation %s refers to unknown release %s", install.Name, install.Release)
		}

		path := r.InstallConfigPath(install.Name)
		oe.Append(r.unit(KindNetInstall, "install-config", fmt.Sprintf("%s installation build", install.Name), logPath,
			func(context.Context) error {
				log.Logger.Info("Writing install.cfg", "installation", install.Name, "path", path)
				return r.writeInstallConfig(path, install)
			}))

		installs = append(installs, stage.InstallAssembler{
			Name:          install.Name,
			Description:   install.Description,
			ReleaseRoot:   release.ReleaseRoot,
			InstallConfig: path,
		})
	}

	var assemblers []stage.ReleaseAssembler
	for _, release := range r.Config.LiveReleases() {
		assemblers = append(assemblers, stage.ReleaseAssembler{
			Name:        release.Name,
			ReleaseRoot: release.ReleaseRoot,
			PkgRoot:     release.PkgRoot,
			LocalData:   release.LocalData,
		})
	}

	netinstall := stage.NetInstallAssembler{
		InstallRoot: releases.InstallRoot,
		Releases:    assemblers,
		Installs:    installs,
	}
	oe.Append(r.unit(KindNetInstall, stage.StageNetInstall, "Installation build", logPath,
		func(ctx context.Context) error {
			return netinstall.Build(ctx, env)
		}))

	logger.Info("assembling net-install tree", "installations", len(installs), "releases", len(assemblers))
	if err := oe.Run(ctx); err != nil {
		return err
	}
	logger.Info("net-install tree ready", "tftproot", netinstall.TFTPRoot())
	return nil
}

func (r *NetInstallAssemblerRunner) writeInstallConfig(path string, install config.Installation) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()
	return r.writer().Write(file, install)
}
