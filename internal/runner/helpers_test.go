package runner

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/farbot/farbot/internal/command"
	"github.com/farbot/farbot/internal/config"
	"github.com/farbot/farbot/internal/logging"
	"github.com/farbot/farbot/internal/metrics"
	"github.com/farbot/farbot/internal/stage"
	"github.com/farbot/farbot/internal/testutil"
)

// ROOT is replaced with a per-test directory.
const sourceConfig = `
releases:
  buildroot: ROOT/build
  installroot: ROOT/install
  nfshost: 10.0.0.1
  release:
    - name: "6.2"
      cvsroot: /home/ncvs
      cvstag: RELENG_6_2_0_RELEASE
      dists: [base]
      buildoptions:
        WITHOUT_X11: "yes"
    - name: "5.5"
      cvsroot: /home/ncvs
      cvstag: RELENG_5_5
partitions:
  - name: standard
    partitions:
      - name: a
        type: ufs
        size: 1G
        mount: /
packagesets:
  distfilescache: ROOT/distfiles
  sets:
    - name: base
      packages:
        - port: shells/bash
        - port: editors/vim
installations:
  - name: webserver
    description: Web server
    release: "6.2"
    hostname: www
    disks:
      - name: ad0
        partitionmap: standard
    packagesets: [base]
`

const binaryConfig = `
releases:
  buildroot: ROOT/build
  installroot: ROOT/install
  nfshost: 10.0.0.1
  release:
    - name: "6.1"
      binaryrelease: true
      iso: ROOT/disc1.iso
installations:
  - name: legacy
    description: Legacy
    release: "6.1"
`

type fixture struct {
	root  string
	calls string
	exec  *command.Runner
	cfg   *config.Config
	m     *metrics.Metrics

	mu   sync.Mutex
	logs []*BuildLog
}

func newFixture(t *testing.T, text string) *fixture {
	t.Helper()

	root := t.TempDir()
	cfg, err := config.Parse(strings.NewReader(strings.ReplaceAll(text, "ROOT", root)))
	require.NoError(t, err)

	bin := t.TempDir()
	calls := filepath.Join(bin, "calls")
	exec := command.NewRunner(testutil.RecordingTools(t, bin, calls), nil)
	cfg.Tools = exec.Tools

	return &fixture{root: root, calls: calls, exec: exec, cfg: cfg, m: metrics.New("test")}
}

func (f *fixture) setTool(t *testing.T, set func(*command.Tools, string), name, body string) {
	t.Helper()
	set(&f.exec.Tools, testutil.Script(t, t.TempDir(), name, body))
	f.cfg.Tools = f.exec.Tools
}

func (f *fixture) env() Env {
	return Env{
		Config:  f.cfg,
		Exec:    f.exec,
		Logger:  logging.Discard(),
		Metrics: f.m,
		RunID:   "test-run",
		OpenLog: func(path string) (*BuildLog, error) {
			log, err := OpenBuildLog(path)
			if err == nil {
				f.mu.Lock()
				f.logs = append(f.logs, log)
				f.mu.Unlock()
			}
			return log, err
		},
	}
}

func (f *fixture) recorded(t *testing.T) []string {
	t.Helper()
	return testutil.Calls(t, f.calls)
}

func (f *fixture) requireLogsClosed(t *testing.T, n int) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.logs, n)
	for _, log := range f.logs {
		require.True(t, log.Closed(), "log %s left open", log.Path)
	}
}

func (f *fixture) release(t *testing.T, name string) *config.Release {
	t.Helper()
	release, ok := f.cfg.Release(name)
	require.True(t, ok)
	return release
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// fakeRelease lays out what `make release` leaves behind in releaseRoot.
func fakeRelease(t *testing.T, releaseRoot, version string) {
	t.Helper()

	cd := filepath.Join(releaseRoot, stage.ReleaseCDPath)
	writeFile(t, filepath.Join(cd, "cdrom.inf"), "CD_VERSION = "+version+"\n")
	writeFile(t, filepath.Join(cd, version, "base", "base.aa"), "AA")
	writeFile(t, filepath.Join(cd, "boot", "loader"), "loader")
	writeFile(t, filepath.Join(cd, "boot", "kernel", "kernel"), "kernel")

	f, err := os.Create(filepath.Join(cd, "boot", "mfsroot.gz"))
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte("mfsroot"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}
