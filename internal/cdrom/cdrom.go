// Package cdrom identifies FreeBSD install media from the cdrom.inf file at
// the root of disc 1, either in an unpacked tree or inside an ISO image.
package cdrom

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kdomanski/iso9660"
)

// InfFile is the metadata file name on disc 1.
const InfFile = "cdrom.inf"

// ParseError reports a missing or malformed cdrom.inf.
type ParseError struct {
	Source string
	Line   string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no usable %s in %s: %v", InfFile, e.Source, e.Err)
	}
	return fmt.Sprintf("%s in %s has unrecognized first line: %q", InfFile, e.Source, e.Line)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse reads the first line of a cdrom.inf stream. It must be exactly
// "CD_VERSION = <release>".
func Parse(r io.Reader, source string) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		err := scanner.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return "", &ParseError{Source: source, Err: err}
	}

	line := strings.TrimSpace(scanner.Text())
	parts := strings.Split(line, " = ")
	if len(parts) != 2 || parts[0] != "CD_VERSION" || parts[1] == "" {
		return "", &ParseError{Source: source, Line: line}
	}
	return parts[1], nil
}

// ReadDir returns the release id from dir/cdrom.inf.
func ReadDir(dir string) (string, error) {
	f, err := os.Open(filepath.Join(dir, InfFile))
	if err != nil {
		return "", &ParseError{Source: dir, Err: err}
	}
	defer f.Close()
	return Parse(f, dir)
}

// Info summarizes an install ISO without mounting it.
type Info struct {
	Path    string
	Version string
	Entries []string
}

// ReadImage opens an ISO 9660 image and reads cdrom.inf from its root.
func ReadImage(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	image, err := iso9660.OpenImage(f)
	if err != nil {
		return Info{}, fmt.Errorf("open iso %s: %w", path, err)
	}
	root, err := image.RootDir()
	if err != nil {
		return Info{}, fmt.Errorf("read root directory of %s: %w", path, err)
	}
	children, err := root.GetChildren()
	if err != nil {
		return Info{}, fmt.Errorf("list root directory of %s: %w", path, err)
	}

	info := Info{Path: path}
	var inf *iso9660.File
	for _, child := range children {
		name := entryName(child)
		if name == "" {
			continue
		}
		if child.IsDir() {
			name += "/"
		} else if strings.EqualFold(name, InfFile) {
			inf = child
		}
		info.Entries = append(info.Entries, name)
	}
	sort.Strings(info.Entries)

	if inf == nil {
		return info, &ParseError{Source: path, Err: errors.New("file not found")}
	}
	version, err := Parse(inf.Reader(), path)
	if err != nil {
		return info, err
	}
	info.Version = version
	return info, nil
}

func entryName(f *iso9660.File) string {
	name := f.Name()
	if name == "\x00" || name == "\x01" {
		return ""
	}
	return strings.TrimSuffix(name, ";1")
}
