package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/farbot/farbot/internal/cdrom"
	"github.com/farbot/farbot/internal/fsutil"
)

// CleanDir replaces dir with an empty directory. Immutable flags are cleared
// first since they block removal.
func CleanDir(env Env, dir string) error {
	if fsutil.Exists(dir) {
		env.logger().Info("Cleaning out directory", "dir", dir)
		if _, err := env.Exec.Run(env.Tools.ChflagsClear(dir), env.log()); err != nil {
			return err
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

// DistSet names a distribution set directory on disc 1 and the archives
// within it. Most sets hold a single archive named after the set.
type DistSet struct {
	Set   string
	Parts []string
}

// ChrootPopulate wipes Target and extracts the release's distribution sets
// into it.
type ChrootPopulate struct {
	ReleaseRoot string
	Target      string
	Dists       []DistSet
	// HostRoot is where resolv.conf is copied from; "/" when empty.
	HostRoot string
}

// TargetFor returns where a set is extracted. Sources go to /usr/src and
// kernels to /boot; everything else extracts relative to the root.
func (c ChrootPopulate) TargetFor(set string) string {
	switch set {
	case "src":
		return filepath.Join(c.Target, "usr", "src")
	case "kernels":
		return filepath.Join(c.Target, "boot")
	default:
		return c.Target
	}
}

func (c ChrootPopulate) Run(ctx context.Context, env Env) error {
	if err := CleanDir(env, c.Target); err != nil {
		return wrap(StagePopulate, c.Target, err)
	}

	cdroot := filepath.Join(c.ReleaseRoot, ReleaseCDPath)
	version, err := cdrom.ReadDir(cdroot)
	if err != nil {
		return wrap(StagePopulate, c.Target, err)
	}

	for _, dist := range c.Dists {
		parts := dist.Parts
		if len(parts) == 0 {
			parts = []string{dist.Set}
		}
		distDir := filepath.Join(cdroot, version, dist.Set)
		target := c.TargetFor(dist.Set)

		for _, part := range parts {
			if err := ctx.Err(); err != nil {
				return wrap(StagePopulate, c.Target, err)
			}
			if err := c.extract(env, distDir, part, target); err != nil {
				return wrap(StagePopulate, dist.Set+"/"+part, err)
			}
		}
	}

	hostRoot := c.HostRoot
	if hostRoot == "" {
		hostRoot = "/"
	}
	dest := filepath.Join(c.Target, ResolvConf)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return wrap(StagePopulate, c.Target, err)
	}
	if err := fsutil.CopyFile(filepath.Join(hostRoot, ResolvConf), dest); err != nil {
		return wrap(StagePopulate, c.Target, err)
	}
	return nil
}

// extract streams every split part of distDir/name (name.aa, name.ab, ...)
// in order into tar's stdin.
func (c ChrootPopulate) extract(env Env, distDir, name, target string) error {
	files, err := filepath.Glob(filepath.Join(distDir, name) + ".??")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no archive parts for %s in %s", name, distDir)
	}
	sort.Strings(files)

	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}

	readers := make([]io.Reader, 0, len(files))
	var closers []io.Closer
	defer func() {
		for _, f := range closers {
			f.Close()
		}
	}()
	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		closers = append(closers, f)
		readers = append(readers, f)
	}

	env.logger().Info("Extracting dist", "dist", name, "from", distDir, "to", target, "parts", len(files))
	_, err = env.Exec.Run(env.Tools.TarExtract(target, io.MultiReader(readers...)), env.log())
	return err
}

// ISOReader copies the contents of a mounted install disc into a release
// root, where the rest of the pipeline expects a built release.
type ISOReader struct {
	Mountpoint  string
	ReleaseRoot string
}

func (r ISOReader) Copy(ctx context.Context, env Env) error {
	if _, err := cdrom.ReadDir(r.Mountpoint); err != nil {
		return wrap(StageImageCopy, r.Mountpoint, err)
	}

	if err := CleanDir(env, r.ReleaseRoot); err != nil {
		return wrap(StageImageCopy, r.ReleaseRoot, err)
	}

	cdroot := filepath.Join(r.ReleaseRoot, ReleaseCDPath)
	env.logger().Info("Copying install disc", "from", r.Mountpoint, "to", cdroot)
	if err := os.MkdirAll(filepath.Dir(cdroot), 0o755); err != nil {
		return wrap(StageImageCopy, r.ReleaseRoot, err)
	}
	if err := fsutil.CopyTree(r.Mountpoint, cdroot); err != nil {
		return wrap(StageImageCopy, r.ReleaseRoot, err)
	}
	return nil
}

// IsParseError reports whether err stems from unreadable release metadata.
func IsParseError(err error) bool {
	var parseErr *ParseError
	var cdErr *cdrom.ParseError
	return errors.As(err, &parseErr) || errors.As(err, &cdErr)
}
