// Package templates holds the boot loader files farbot installs into a
// net-install tree and renders them with %(name)s substitution.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

//go:embed assets/*
var embedded embed.FS

const (
	BootConf             = "boot.conf"
	NetInstallForth      = "netinstall.4th"
	LoaderConf           = "loader.conf"
	LoaderRC             = "loader.rc"
	InstallPackageScript = "install_package.sh"
)

// Source looks assets up in Dir first and falls back to the embedded copies.
type Source struct {
	Dir string
}

func (s Source) Read(name string) ([]byte, error) {
	if s.Dir != "" {
		data, err := os.ReadFile(filepath.Join(s.Dir, name))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read template %s: %w", name, err)
		}
	}

	data, err := embedded.ReadFile("assets/" + name)
	if err != nil {
		return nil, fmt.Errorf("unknown template %s: %w", name, err)
	}
	return data, nil
}

// Install copies an asset verbatim into dir.
func (s Source) Install(name, dir string, perm fs.FileMode) (string, error) {
	data, err := s.Read(name)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name)
	if err := os.WriteFile(dest, data, perm); err != nil {
		return "", err
	}
	// WriteFile leaves the mode of an existing file alone.
	return dest, os.Chmod(dest, perm)
}

// RenderTo renders an asset with vars and writes the result to dest.
func (s Source) RenderTo(name, dest string, vars map[string]string) error {
	data, err := s.Read(name)
	if err != nil {
		return err
	}
	out, err := Render(string(data), vars)
	if err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	return os.WriteFile(dest, []byte(out), 0o644)
}

// Render replaces every %(key)s with vars[key] and %% with a literal %.
// A % that starts neither form is copied unchanged.
func Render(text string, vars map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(text))

	for {
		i := strings.IndexByte(text, '%')
		if i < 0 {
			b.WriteString(text)
			return b.String(), nil
		}
		b.WriteString(text[:i])
		text = text[i:]

		switch {
		case strings.HasPrefix(text, "%%"):
			b.WriteByte('%')
			text = text[2:]
		case strings.HasPrefix(text, "%("):
			end := strings.Index(text, ")s")
			if end < 0 {
				return "", fmt.Errorf("unterminated substitution near %q", truncate(text, 20))
			}
			key := text[2:end]
			if strings.ContainsAny(key, "()\n") {
				return "", fmt.Errorf("malformed substitution near %q", truncate(text, 20))
			}
			value, ok := vars[key]
			if !ok {
				return "", fmt.Errorf("no value for %q", key)
			}
			b.WriteString(value)
			text = text[end+2:]
		default:
			b.WriteByte('%')
			text = text[1:]
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
