// Package fsutil copies release trees while keeping modes, timestamps,
// ownership and symlinks intact.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// CopyTree mirrors srcDir into dstDir. Symlinks are recreated, not followed.
func CopyTree(srcDir, dstDir string) error {
	info, err := os.Stat(srcDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", srcDir)
	}

	var dirs []string
	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dstDir, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := info.Mode()

		switch {
		case mode&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := os.Symlink(link, target); err != nil {
				return err
			}
			return copyOwnership(path, target)
		case d.IsDir():
			if err := os.MkdirAll(target, mode.Perm()|0o700); err != nil {
				return err
			}
			dirs = append(dirs, rel)
			return nil
		case mode.IsRegular():
			return CopyFile(path, target)
		default:
			return fmt.Errorf("unsupported file type %s in %s", mode, path)
		}
	})
	if err != nil {
		return err
	}

	// Directory metadata is applied last so file creation does not bump mtimes.
	for i := len(dirs) - 1; i >= 0; i-- {
		src := filepath.Join(srcDir, dirs[i])
		dst := filepath.Join(dstDir, dirs[i])
		if err := copyMetadata(src, dst); err != nil {
			return err
		}
	}
	return nil
}

// CopyFile copies a regular file with its mode, mtime and ownership.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return copyMetadata(src, dst)
}

// CopyInto copies src into directory dir, keeping its base name. Directories
// are copied recursively.
func CopyInto(src, dir string) (string, error) {
	target := filepath.Join(dir, filepath.Base(src))
	info, err := os.Stat(src)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return target, CopyTree(src, target)
	}
	return target, CopyFile(src, target)
}

// RemoveContents deletes every entry inside dir but keeps dir itself.
func RemoveContents(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether path exists, without following a final symlink.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func copyMetadata(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return err
	}
	return copyOwnership(src, dst)
}

// copyOwnership copies uid and gid. Unprivileged callers cannot chown and
// keep their own ownership.
func copyOwnership(src, dst string) error {
	var st unix.Stat_t
	if err := unix.Lstat(src, &st); err != nil {
		return &os.PathError{Op: "lstat", Path: src, Err: err}
	}
	if err := unix.Lchown(dst, int(st.Uid), int(st.Gid)); err != nil {
		if errors.Is(err, unix.EPERM) {
			return nil
		}
		return &os.PathError{Op: "lchown", Path: dst, Err: err}
	}
	return nil
}
