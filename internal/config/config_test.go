package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
releases:
  buildroot: /usr/local/farbot/build
  installroot: /export/netinstall
  nfshost: 10.0.0.1
  release:
    - name: "6.2"
      cvsroot: /home/ncvs
      cvstag: RELENG_6_2_0_RELEASE
      installcds: true
      localdata: [/usr/local/etc/site.tgz]
      buildoptions:
        WITHOUT_X11: "yes"
    - name: "6.1"
      binaryrelease: true
      iso: /isos/6.1-RELEASE-i386-disc1.iso
      useportsnap: true
      dists: [base, kernels]
      kerneldists: [smp]
    - name: Unused
      cvsroot: /home/ncvs
      cvstag: RELENG_5_5

partitions:
  - name: Standard
    partitions:
      - name: a
        type: ufs
        size: 512M
        mount: /
        softupdates: true
      - name: b
        type: swap
        size: 1G
        softupdates: true

packagesets:
  distfilescache: /usr/ports/distfiles
  sets:
    - name: Base
      packages:
        - port: shells/bash
        - port: www/apache22
          package: apache
          buildoptions:
            WITH_DEBUG: "yes"

installations:
  - name: Webserver
    description: Web server
    release: "6.2"
    hostname: www
    domain: example.org
    networkdevice: fxp0
    disks:
      - name: ad0
        partitionmap: standard
    packagesets: [base]
  - name: mailhost
    description: Mail host
    release: "6.2"
    packagesets: [Base]
  - name: legacy
    description: Legacy box
    release: "6.1"
`

func parse(t *testing.T, text string) (*Config, error) {
	t.Helper()
	return Parse(strings.NewReader(text))
}

func TestParseDerivesPaths(t *testing.T) {
	t.Parallel()

	cfg, err := parse(t, sampleConfig)
	require.NoError(t, err)

	assert.Equal(t, "/export/netinstall/tftproot", cfg.Releases.TFTPRoot)

	release, ok := cfg.Release("6.2")
	require.True(t, ok)
	assert.Equal(t, "/usr/local/farbot/build/6.2", release.BuildRoot)
	assert.Equal(t, "/usr/local/farbot/build/6.2/releaseroot", release.ReleaseRoot)
	assert.Equal(t, "/usr/local/farbot/build/6.2/pkgroot", release.PkgRoot)
	assert.Equal(t, "/usr/local/farbot/build/6.2/pkgroot/usr/ports", release.PortsDir)
	assert.Equal(t, "/usr/local/farbot/build/6.2/pkgroot/usr/ports/packages", release.PackageDir)
	assert.Equal(t, map[string]string{"WITHOUT_X11": "yes"}, release.BuildOptions)
}

func TestParseChrootDists(t *testing.T) {
	t.Parallel()

	cfg, err := parse(t, sampleConfig)
	require.NoError(t, err)

	defaults, ok := cfg.Release("6.2")
	require.True(t, ok)
	assert.Equal(t, DefaultDists, defaults.Dists)
	assert.Equal(t, DefaultSourceDists, defaults.SourceDists)
	assert.Equal(t, DefaultKernelDists, defaults.KernelDists)

	custom, ok := cfg.Release("6.1")
	require.True(t, ok)
	assert.Equal(t, []string{"base", "kernels"}, custom.Dists)
	assert.Equal(t, []string{"smp"}, custom.KernelDists)
	assert.Equal(t, DefaultSourceDists, custom.SourceDists)
}

func TestParseNormalizesPartitions(t *testing.T) {
	t.Parallel()

	cfg, err := parse(t, sampleConfig)
	require.NoError(t, err)

	pmap, ok := cfg.PartitionMap("STANDARD")
	require.True(t, ok)
	require.Len(t, pmap.Partitions, 2)

	root := pmap.Partitions[0]
	assert.Equal(t, int64(512*1024*1024/512), root.Blocks)
	assert.True(t, root.SoftUpdates)

	swap := pmap.Partitions[1]
	assert.Equal(t, "none", swap.Mount)
	assert.False(t, swap.SoftUpdates, "soft updates only apply to ufs")
	assert.Equal(t, int64(2097152), swap.Blocks)
}

func TestParseCollectsPackagesPerRelease(t *testing.T) {
	t.Parallel()

	cfg, err := parse(t, sampleConfig)
	require.NoError(t, err)

	release, _ := cfg.Release("6.2")
	require.Len(t, release.Packages, 2, "a set shared by two installations is built once")
	assert.Equal(t, "bash", release.Packages[0].Package)
	assert.Equal(t, "apache", release.Packages[1].Package)
	assert.Equal(t, map[string]string{"WITH_DEBUG": "yes"}, release.Packages[1].BuildOptions)

	binary, _ := cfg.Release("6.1")
	assert.Empty(t, binary.Packages)
}

func TestLiveReleases(t *testing.T) {
	t.Parallel()

	cfg, err := parse(t, sampleConfig)
	require.NoError(t, err)

	var names []string
	for _, release := range cfg.LiveReleases() {
		names = append(names, release.Name)
	}
	assert.Equal(t, []string{"6.2", "6.1"}, names)
	assert.False(t, cfg.Referenced("unused"))
	assert.True(t, cfg.Referenced("6.1"))
}

func TestParseAppliesToolDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := parse(t, sampleConfig)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/make", cfg.Tools.Make)
	assert.Equal(t, "/sbin/mdconfig", cfg.Tools.MDConfig)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "unknown key",
			mutate:  func(s string) string { return strings.Replace(s, "nfshost:", "nfsserver:", 1) },
			wantErr: "nfsserver",
		},
		{
			name:    "missing nfshost",
			mutate:  func(s string) string { return strings.Replace(s, "  nfshost: 10.0.0.1\n", "", 1) },
			wantErr: "NFSHost",
		},
		{
			name:    "binary release without iso",
			mutate:  func(s string) string { return strings.Replace(s, "      iso: /isos/6.1-RELEASE-i386-disc1.iso\n", "", 1) },
			wantErr: "ISO",
		},
		{
			name:    "empty distribution set",
			mutate:  func(s string) string { return strings.Replace(s, "dists: [base, kernels]", `dists: [base, ""]`, 1) },
			wantErr: "Dists",
		},
		{
			name:    "reused cvs tag",
			mutate:  func(s string) string { return strings.Replace(s, "RELENG_5_5", "RELENG_6_2_0_RELEASE", 1) },
			wantErr: "cvs tag",
		},
		{
			name:    "unknown release",
			mutate:  func(s string) string { return strings.Replace(s, `release: "6.1"`, `release: "7.0"`, 1) },
			wantErr: `can't find release "7.0"`,
		},
		{
			name:    "unknown partition map",
			mutate:  func(s string) string { return strings.Replace(s, "partitionmap: standard", "partitionmap: huge", 1) },
			wantErr: `can't find partition map "huge"`,
		},
		{
			name:    "unknown package set",
			mutate:  func(s string) string { return strings.Replace(s, "packagesets: [Base]", "packagesets: [extra]", 1) },
			wantErr: `can't find package set "extra"`,
		},
		{
			name:    "bad partition size",
			mutate:  func(s string) string { return strings.Replace(s, "size: 512M", "size: lots", 1) },
			wantErr: "invalid size",
		},
		{
			name: "port in two sets of one release",
			mutate: func(s string) string {
				s = strings.Replace(s, "installations:\n", "    - name: extra\n      packages:\n        - port: shells/bash\n\ninstallations:\n", 1)
				return strings.Replace(s, "packagesets: [Base]", "packagesets: [Base, extra]", 1)
			},
			wantErr: "more than one package set",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := parse(t, tc.mutate(sampleConfig))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()

	_, err := parse(t, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "farbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Installations, 3)
	assert.Equal(t, "webserver", cfg.Installations[0].Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParseSize(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{input: "1048576", want: 1 << 20},
		{input: "512M", want: 512 << 20},
		{input: "2g", want: 2 << 30},
		{input: "64KB", want: 64 << 10},
		{input: "", wantErr: true},
		{input: "M", wantErr: true},
		{input: "-1", wantErr: true},
	}

	for _, tc := range testCases {
		got, err := ParseSize(tc.input)
		if tc.wantErr {
			assert.Error(t, err, tc.input)
			continue
		}
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.want, got, tc.input)
	}
}
