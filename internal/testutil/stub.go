// Package testutil writes shell-script stand-ins for the external tools farbot
// drives, so package tests can exercise real process spawning.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/farbot/farbot/internal/command"
)

// Script writes an executable /bin/sh script named name into dir and returns its path.
func Script(t testing.TB, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	content := "#!/bin/sh\n" + strings.TrimLeft(body, "\n")
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return path
}

// Recorder is a stub that appends "<name> <args>" to a shared calls file
// and exits zero.
func Recorder(t testing.TB, dir, name, callsFile string) string {
	t.Helper()
	return Script(t, dir, name, `echo "`+name+` $*" >> "`+callsFile+`"`)
}

// Calls returns the recorded invocations, one per line.
func Calls(t testing.TB, callsFile string) []string {
	t.Helper()

	data, err := os.ReadFile(callsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read calls: %v", err)
	}
	trimmed := strings.TrimRight(string(data), "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

// RecordingTools returns a Tools set where every program records its
// invocation into callsFile. mdconfig additionally prints "md7" when attaching.
func RecordingTools(t testing.TB, dir, callsFile string) command.Tools {
	t.Helper()

	tools := command.Tools{
		Make:     Recorder(t, dir, "make", callsFile),
		CVS:      Recorder(t, dir, "cvs", callsFile),
		Chroot:   Recorder(t, dir, "chroot", callsFile),
		Mount:    Recorder(t, dir, "mount", callsFile),
		Umount:   Recorder(t, dir, "umount", callsFile),
		Tar:      Script(t, dir, "tar", `cat > /dev/null; echo "tar $*" >> "`+callsFile+`"`),
		Chflags:  Recorder(t, dir, "chflags", callsFile),
		Portsnap: Recorder(t, dir, "portsnap", callsFile),
	}
	tools.MDConfig = Script(t, dir, "mdconfig", `
echo "mdconfig $*" >> "`+callsFile+`"
if [ "$1" = "-a" ]; then
	echo md7
fi
`)
	return tools
}
