package stage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/farbot/farbot/internal/command"
	"github.com/farbot/farbot/internal/logging"
	"github.com/farbot/farbot/internal/testutil"
)

type testEnv struct {
	Env
	runner *command.Runner
	calls  string
	bin    string
	out    *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	bin := t.TempDir()
	calls := filepath.Join(bin, "calls")
	runner := command.NewRunner(testutil.RecordingTools(t, bin, calls), nil)

	te := &testEnv{runner: runner, calls: calls, bin: bin, out: &bytes.Buffer{}}
	te.Env = Env{
		Exec:   runner,
		Tools:  runner.Tools,
		Log:    te.out,
		Logger: logging.Discard(),
	}
	return te
}

// setTool replaces one tool with a custom script and refreshes the env.
func (te *testEnv) setTool(t *testing.T, set func(*command.Tools, string), name, body string) {
	t.Helper()
	set(&te.runner.Tools, testutil.Script(t, t.TempDir(), name, body))
	te.Env.Tools = te.runner.Tools
}

func (te *testEnv) recorded(t *testing.T) []string {
	t.Helper()
	return testutil.Calls(t, te.calls)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func writeGzip(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write([]byte(content)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

// fakeRelease lays out a built release root with disc 1 for version.
func fakeRelease(t *testing.T, root, version string) {
	t.Helper()
	cd := filepath.Join(root, ReleaseCDPath)
	writeFile(t, filepath.Join(cd, "cdrom.inf"), "CD_VERSION = "+version+"\n")
	writeFile(t, filepath.Join(cd, version, "base", "base.aa"), "AA")
	writeFile(t, filepath.Join(cd, version, "base", "base.ab"), "AB")
	writeFile(t, filepath.Join(cd, version, "src", "sbase.aa"), "SRC")
	writeFile(t, filepath.Join(cd, version, "kernels", "generic.aa"), "KERN")
	writeFile(t, filepath.Join(cd, "boot", "loader"), "loader")
	writeFile(t, filepath.Join(cd, "boot", "kernel", "kernel"), "kernel")
	writeGzip(t, filepath.Join(cd, "boot", "mfsroot.gz"), "mfsroot-image")
}
