// Package sysinstall renders the install.cfg scripts that drive unattended
// sysinstall(8) runs from the net-install mfsroot.
package sysinstall

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/farbot/farbot/internal/config"
)

// DistSets is the fixed list of distribution sets every installation gets.
const DistSets = "base doc games manpages catpages proflibs dict info"

// Option is one key=value line.
type Option struct {
	Key   string
	Value string
}

// Section is a run of options followed by the commands that act on them.
// sysinstall evaluates the file top to bottom, so order matters.
type Section struct {
	Options  []Option
	Commands []string
}

func (s *Section) set(key, value string) {
	if value == "" {
		return
	}
	s.Options = append(s.Options, Option{Key: key, Value: value})
}

func (s Section) writeTo(b *strings.Builder) {
	for _, option := range s.Options {
		fmt.Fprintf(b, "%s=%s\n", option.Key, option.Value)
	}
	for _, command := range s.Commands {
		b.WriteString(command)
		b.WriteByte('\n')
	}
}

// InstallConfig is a complete install.cfg for one installation.
type InstallConfig struct {
	Name     string
	Global   Section
	Network  Section
	Dists    Section
	Disks    []Disk
	Packages []Section
	Final    Section
}

// New builds the install.cfg for install. References to partition maps and
// package sets must resolve in cfg.
func New(install config.Installation, cfg *config.Config) (*InstallConfig, error) {
	ic := &InstallConfig{
		Name: install.Name,
		Global: Section{Options: []Option{
			{Key: "debug", Value: "YES"},
			{Key: "nonInteractive", Value: "YES"},
			{Key: "noWarn", Value: "YES"},
		}},
		Dists: Section{
			Options:  []Option{{Key: "dists", Value: DistSets}},
			Commands: []string{"distSetCustom"},
		},
		Final: Section{Commands: []string{"shutdown"}},
	}

	network := Section{Commands: []string{"mediaSetNFS"}}
	network.set("hostname", install.HostName)
	network.set("domainname", install.Domain)
	network.set("netdev", install.NetworkDevice)
	network.set("nfs", cfg.Releases.NFSHost+":"+filepath.Join(cfg.Releases.InstallRoot, strings.ToLower(install.Release)))
	network.set("tryDHCP", "YES")
	ic.Network = network

	for _, disk := range install.Disks {
		pmap, ok := cfg.PartitionMap(disk.PartitionMap)
		if !ok {
			return nil, fmt.Errorf("can't find partition map %q for disk %q", disk.PartitionMap, disk.Name)
		}
		ic.Disks = append(ic.Disks, diskSection(disk.Name, pmap))
	}

	for _, name := range install.PackageSets {
		set, ok := cfg.PackageSet(name)
		if !ok {
			return nil, fmt.Errorf("could not find package set %q", name)
		}
		for _, pkg := range set.Packages {
			ic.Packages = append(ic.Packages, Section{
				Options:  []Option{{Key: "package", Value: pkg.Package}},
				Commands: []string{"packageAdd"},
			})
		}
	}
	return ic, nil
}

// Disk is the fdisk section for one disk followed by the disklabel section
// for its first slice.
type Disk struct {
	Partition Section
	Labels    Section
}

// diskSection partitions the whole disk with the standard boot manager and
// labels slice 1 from the partition map, partitions sorted by letter.
func diskSection(disk string, pmap *config.PartitionMap) Disk {
	labels := make([]Option, 0, len(pmap.Partitions))
	for _, part := range pmap.Partitions {
		value := fmt.Sprintf("%s %d %s", part.Type, part.Blocks, part.Mount)
		if part.SoftUpdates {
			value += " 1"
		}
		labels = append(labels, Option{Key: disk + "s1-" + part.Name, Value: value})
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Key < labels[j].Key })

	return Disk{
		Partition: Section{
			Options: []Option{
				{Key: "disk", Value: disk},
				{Key: "partition", Value: "all"},
				{Key: "bootManager", Value: "standard"},
			},
			Commands: []string{"diskPartitionEditor"},
		},
		Labels: Section{Options: labels, Commands: []string{"diskLabelEditor"}},
	}
}

// String renders the whole file.
func (ic *InstallConfig) String() string {
	var b strings.Builder
	ic.Global.writeTo(&b)
	ic.Network.writeTo(&b)
	ic.Dists.writeTo(&b)
	for _, disk := range ic.Disks {
		disk.Partition.writeTo(&b)
		disk.Labels.writeTo(&b)
	}
	for _, pkg := range ic.Packages {
		pkg.writeTo(&b)
	}
	ic.Final.writeTo(&b)
	return b.String()
}

func (ic *InstallConfig) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, ic.String())
	return int64(n), err
}

// Writer serializes installations of one configuration.
type Writer struct {
	Config *config.Config
}

func (w Writer) Write(out io.Writer, install config.Installation) error {
	ic, err := New(install, w.Config)
	if err != nil {
		return fmt.Errorf("install.cfg for %s: %w", install.Name, err)
	}
	_, err = ic.WriteTo(out)
	return err
}
