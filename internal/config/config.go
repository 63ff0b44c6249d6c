// Package config loads the farbot YAML configuration: the releases to build,
// the partition maps and package sets installations draw on, and the
// installations themselves.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/farbot/farbot/internal/command"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Chroot distribution sets used when a release names none.
var (
	DefaultDists       = []string{"base", "src"}
	DefaultSourceDists = []string{
		"sbase", "scontrib", "scrypto", "sgnu", "setc", "sgames", "sinclude",
		"skrb5", "slib", "slibexec", "srelease", "sbin", "ssecure", "ssbin",
		"sshare", "ssys", "subin", "susbin", "stools", "srescue",
	}
	DefaultKernelDists = []string{"generic"}
)

type Config struct {
	Tools         command.Tools  `yaml:"tools"`
	Releases      Releases       `yaml:"releases"`
	Partitions    []PartitionMap `yaml:"partitions" validate:"dive"`
	PackageSets   PackageSets    `yaml:"packagesets"`
	Installations []Installation `yaml:"installations" validate:"required,min=1,dive"`
}

type Releases struct {
	BuildRoot   string `yaml:"buildroot" validate:"required"`
	InstallRoot string `yaml:"installroot" validate:"required"`
	NFSHost     string `yaml:"nfshost" validate:"required"`
	// Templates overrides the embedded boot loader templates per file.
	Templates string    `yaml:"templates"`
	Release   []Release `yaml:"release" validate:"required,min=1,dive"`

	TFTPRoot string `yaml:"-"`
}

type Release struct {
	Name          string            `yaml:"name" validate:"required"`
	CVSRoot       string            `yaml:"cvsroot" validate:"required_unless=BinaryRelease true"`
	CVSTag        string            `yaml:"cvstag" validate:"required_unless=BinaryRelease true"`
	BinaryRelease bool              `yaml:"binaryrelease"`
	ISO           string            `yaml:"iso" validate:"required_if=BinaryRelease true"`
	UsePortsnap   bool              `yaml:"useportsnap"`
	InstallCDs    bool              `yaml:"installcds"`
	LocalData     []string          `yaml:"localdata"`
	BuildOptions  map[string]string `yaml:"buildoptions"`
	// Dists are the distribution sets extracted into the package chroot.
	// "src" expands to SourceDists and "kernels" to KernelDists.
	Dists       []string `yaml:"dists" validate:"dive,required"`
	SourceDists []string `yaml:"sourcedists" validate:"dive,required"`
	KernelDists []string `yaml:"kerneldists" validate:"dive,required"`

	BuildRoot   string    `yaml:"-"`
	ReleaseRoot string    `yaml:"-"`
	PkgRoot     string    `yaml:"-"`
	PortsDir    string    `yaml:"-"`
	PackageDir  string    `yaml:"-"`
	Packages    []Package `yaml:"-"`
}

type PartitionMap struct {
	Name       string      `yaml:"name" validate:"required"`
	Partitions []Partition `yaml:"partitions" validate:"required,min=1,dive"`
}

type Partition struct {
	Name        string `yaml:"name" validate:"required,len=1"`
	Type        string `yaml:"type" validate:"required"`
	Size        string `yaml:"size" validate:"required"`
	Mount       string `yaml:"mount"`
	SoftUpdates bool   `yaml:"softupdates"`

	// Blocks is Size in 512-byte blocks.
	Blocks int64 `yaml:"-"`
}

type PackageSets struct {
	DistfilesCache string       `yaml:"distfilescache"`
	Sets           []PackageSet `yaml:"sets" validate:"dive"`
}

type PackageSet struct {
	Name     string    `yaml:"name" validate:"required"`
	Packages []Package `yaml:"packages" validate:"dive"`
}

type Package struct {
	Port         string            `yaml:"port" validate:"required"`
	Package      string            `yaml:"package"`
	BuildOptions map[string]string `yaml:"buildoptions"`
}

type Installation struct {
	Name          string   `yaml:"name" validate:"required"`
	Description   string   `yaml:"description" validate:"required"`
	Release       string   `yaml:"release" validate:"required"`
	HostName      string   `yaml:"hostname"`
	Domain        string   `yaml:"domain"`
	NetworkDevice string   `yaml:"networkdevice"`
	Disks         []Disk   `yaml:"disks" validate:"dive"`
	PackageSets   []string `yaml:"packagesets"`
}

type Disk struct {
	Name         string `yaml:"name" validate:"required"`
	PartitionMap string `yaml:"partitionmap" validate:"required"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration, rejecting unknown keys, then normalizes,
// validates and derives the build paths.
func Parse(r io.Reader) (*Config, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("configuration is empty")
		}
		return nil, fmt.Errorf("decode: %w", err)
	}

	cfg.normalize()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.derive(); err != nil {
		return nil, err
	}
	if err := cfg.verifyReferences(); err != nil {
		return nil, err
	}
	if err := cfg.collectPackages(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize lowercases every name used as a cross reference and fills in
// defaults.
func (c *Config) normalize() {
	c.Tools = c.Tools.WithDefaults()

	for i := range c.Releases.Release {
		release := &c.Releases.Release[i]
		release.Name = strings.ToLower(release.Name)
		if len(release.Dists) == 0 {
			release.Dists = append([]string(nil), DefaultDists...)
		}
		if len(release.SourceDists) == 0 {
			release.SourceDists = append([]string(nil), DefaultSourceDists...)
		}
		if len(release.KernelDists) == 0 {
			release.KernelDists = append([]string(nil), DefaultKernelDists...)
		}
	}
	for i := range c.Partitions {
		c.Partitions[i].Name = strings.ToLower(c.Partitions[i].Name)
		for j := range c.Partitions[i].Partitions {
			part := &c.Partitions[i].Partitions[j]
			if part.Mount == "" {
				part.Mount = "none"
			}
			// Only UFS supports soft updates.
			if part.Type != "ufs" {
				part.SoftUpdates = false
			}
		}
	}
	for i := range c.PackageSets.Sets {
		set := &c.PackageSets.Sets[i]
		set.Name = strings.ToLower(set.Name)
		for j := range set.Packages {
			if set.Packages[j].Package == "" {
				set.Packages[j].Package = path.Base(set.Packages[j].Port)
			}
		}
	}
	for i := range c.Installations {
		install := &c.Installations[i]
		install.Name = strings.ToLower(install.Name)
		install.Release = strings.ToLower(install.Release)
		for j := range install.Disks {
			install.Disks[j].PartitionMap = strings.ToLower(install.Disks[j].PartitionMap)
		}
		for j := range install.PackageSets {
			install.PackageSets[j] = strings.ToLower(install.PackageSets[j])
		}
	}
}

func (c *Config) derive() error {
	c.Releases.TFTPRoot = filepath.Join(c.Releases.InstallRoot, "tftproot")

	names := map[string]bool{}
	tags := map[string]string{}
	for i := range c.Releases.Release {
		release := &c.Releases.Release[i]
		if names[release.Name] {
			return fmt.Errorf("release %q is defined more than once", release.Name)
		}
		names[release.Name] = true

		if !release.BinaryRelease {
			if other, ok := tags[release.CVSTag]; ok {
				return fmt.Errorf("cvs tag %q is used by both release %q and release %q", release.CVSTag, other, release.Name)
			}
			tags[release.CVSTag] = release.Name
		}

		release.BuildRoot = filepath.Join(c.Releases.BuildRoot, release.Name)
		release.ReleaseRoot = filepath.Join(release.BuildRoot, "releaseroot")
		release.PkgRoot = filepath.Join(release.BuildRoot, "pkgroot")
		release.PortsDir = filepath.Join(release.PkgRoot, "usr", "ports")
		release.PackageDir = filepath.Join(release.PortsDir, "packages")
	}

	for i := range c.Partitions {
		for j := range c.Partitions[i].Partitions {
			part := &c.Partitions[i].Partitions[j]
			size, err := ParseSize(part.Size)
			if err != nil {
				return fmt.Errorf("partition %s in map %q: %w", part.Name, c.Partitions[i].Name, err)
			}
			part.Blocks = size / 512
		}
	}
	return nil
}

func (c *Config) verifyReferences() error {
	for _, install := range c.Installations {
		if _, ok := c.Release(install.Release); !ok {
			return fmt.Errorf("can't find release %q for %q installation", install.Release, install.Name)
		}
		for _, disk := range install.Disks {
			if _, ok := c.PartitionMap(disk.PartitionMap); !ok {
				return fmt.Errorf("can't find partition map %q for disk %q in %q installation", disk.PartitionMap, disk.Name, install.Name)
			}
		}
		for _, name := range install.PackageSets {
			if _, ok := c.PackageSet(name); !ok {
				return fmt.Errorf("can't find package set %q for %q installation", name, install.Name)
			}
		}
	}
	return nil
}

// collectPackages gathers the packages each release has to build from the
// package sets of the installations using it. A port may come from only one
// package set per release.
func (c *Config) collectPackages() error {
	owners := map[string]map[string]string{}
	for _, install := range c.Installations {
		release, _ := c.Release(install.Release)
		if owners[release.Name] == nil {
			owners[release.Name] = map[string]string{}
		}
		for _, setName := range install.PackageSets {
			set, _ := c.PackageSet(setName)
			for _, pkg := range set.Packages {
				owner, ok := owners[release.Name][pkg.Port]
				if ok && owner == set.Name {
					// Another installation already pulled in this set.
					continue
				}
				if ok {
					return fmt.Errorf("packages may not be listed in more than one package set within the same release (port %q, package sets %q and %q, release %q)",
						pkg.Port, owner, set.Name, release.Name)
				}
				owners[release.Name][pkg.Port] = set.Name
				release.Packages = append(release.Packages, pkg)
			}
		}
	}
	return nil
}

// Release looks a release up by its lowercased name.
func (c *Config) Release(name string) (*Release, bool) {
	name = strings.ToLower(name)
	for i := range c.Releases.Release {
		if c.Releases.Release[i].Name == name {
			return &c.Releases.Release[i], true
		}
	}
	return nil, false
}

func (c *Config) PartitionMap(name string) (*PartitionMap, bool) {
	name = strings.ToLower(name)
	for i := range c.Partitions {
		if c.Partitions[i].Name == name {
			return &c.Partitions[i], true
		}
	}
	return nil, false
}

func (c *Config) PackageSet(name string) (*PackageSet, bool) {
	name = strings.ToLower(name)
	for i := range c.PackageSets.Sets {
		if c.PackageSets.Sets[i].Name == name {
			return &c.PackageSets.Sets[i], true
		}
	}
	return nil, false
}

// Referenced reports whether any installation uses the named release.
func (c *Config) Referenced(release string) bool {
	release = strings.ToLower(release)
	for _, install := range c.Installations {
		if install.Release == release {
			return true
		}
	}
	return false
}

// LiveReleases returns the releases referenced by at least one installation,
// in configuration order.
func (c *Config) LiveReleases() []*Release {
	var live []*Release
	for i := range c.Releases.Release {
		if c.Referenced(c.Releases.Release[i].Name) {
			live = append(live, &c.Releases.Release[i])
		}
	}
	return live
}
