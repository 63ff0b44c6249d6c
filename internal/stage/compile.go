package stage

import (
	"context"
	"path"
)

// Compile runs make against Dir with the given targets and options, inside
// Chroot when set.
type Compile struct {
	Dir     string
	Targets []string
	Options map[string]string
	Chroot  string
}

func (c Compile) Run(ctx context.Context, env Env) error {
	_, err := env.Exec.Run(env.Tools.MakeCommand(c.Dir, c.Targets, c.Options, c.Chroot), env.log())
	return wrap(StageCompile, c.Dir, err)
}

// ReleaseBuild discovers the build name and runs `make release`.
type ReleaseBuild struct {
	CVSRoot   string
	Tag       string
	ChrootDir string
	MakeISOs  bool
	// OnBuilding is called once the build name is known and make starts.
	OnBuilding func(buildName string)
}

func (b ReleaseBuild) Options(buildName string) map[string]string {
	options := map[string]string{
		"NOPORTS":    "no",
		"NODOC":      "no",
		"CHROOTDIR":  b.ChrootDir,
		"CVSROOT":    b.CVSRoot,
		"RELEASETAG": b.Tag,
		"BUILDNAME":  buildName,
	}
	if b.MakeISOs {
		options["MAKE_ISOS"] = "yes"
	}
	return options
}

func (b ReleaseBuild) Run(ctx context.Context, env Env) error {
	buildName, err := FetchBuildName(ctx, env, b.CVSRoot, b.Tag)
	if err != nil {
		return err
	}
	if b.OnBuilding != nil {
		b.OnBuilding(buildName)
	}

	env.logger().Info("Building release", "buildname", buildName, "chroot", b.ChrootDir)
	return Compile{
		Dir:     ReleaseMakeDir,
		Targets: []string{"release"},
		Options: b.Options(buildName),
	}.Run(ctx, env)
}

// PackageBuild builds one port inside the package chroot.
type PackageBuild struct {
	PkgRoot        string
	Port           string
	ReleaseOptions map[string]string
	PackageOptions map[string]string
}

var packageTargets = []string{"deinstall", "clean", "package-recursive"}

// Options merges the defaults, then release-wide, then per-package options.
func (p PackageBuild) Options() map[string]string {
	options := map[string]string{
		"PACKAGE_BUILDING": "yes",
		"BATCH":            "yes",
		"NOCLEANDEPENDS":   "yes",
	}
	for k, v := range p.ReleaseOptions {
		options[k] = v
	}
	for k, v := range p.PackageOptions {
		options[k] = v
	}
	return options
}

func (p PackageBuild) Run(ctx context.Context, env Env) error {
	env.logger().Info("Building package", "port", p.Port, "chroot", p.PkgRoot)
	cmd := env.Tools.MakeCommand(path.Join(PortsRoot, p.Port), packageTargets, p.Options(), p.PkgRoot)
	_, err := env.Exec.Run(cmd, env.log())
	return wrap(StagePackage, p.Port, err)
}
