package resource_test

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farbot/farbot/internal/command"
	"github.com/farbot/farbot/internal/resource"
	"github.com/farbot/farbot/internal/testutil"
)

func newRecordingRunner(t *testing.T) (*command.Runner, string) {
	t.Helper()

	dir := t.TempDir()
	calls := filepath.Join(dir, "calls")
	tools := testutil.RecordingTools(t, dir, calls)
	return command.NewRunner(tools, nil), calls
}

func TestDeviceMountIsMirrorOrdered(t *testing.T) {
	t.Parallel()

	runner, calls := newRecordingRunner(t)
	dm := resource.NewDeviceMount(runner, runner.Tools, "/build/6.2.iso", "/build/mnt", "cd9660")

	require.NoError(t, dm.Mount(nil))
	assert.True(t, dm.Mounted())
	assert.Equal(t, "/dev/md7", dm.Device())
	require.NoError(t, dm.Umount(nil))
	assert.False(t, dm.Mounted())

	assert.Equal(t, []string{
		"mdconfig -a -t vnode -f /build/6.2.iso",
		"mount -t cd9660 /dev/md7 /build/mnt",
		"umount /build/mnt",
		"mdconfig -d -u md7",
	}, testutil.Calls(t, calls))
}

func TestAttachHandleStateErrors(t *testing.T) {
	t.Parallel()

	runner, _ := newRecordingRunner(t)
	h := resource.NewAttachHandle(runner, runner.Tools, "/tmp/mfsroot")

	var stateErr *resource.StateError
	require.True(t, errors.As(h.Detach(nil), &stateErr), "detach before attach")
	assert.Equal(t, resource.Unattached, stateErr.State)

	require.NoError(t, h.Attach(nil))
	assert.Equal(t, "md7", h.Device())
	require.True(t, errors.As(h.Attach(nil), &stateErr), "double attach")
	assert.Equal(t, resource.Attached, stateErr.State)

	require.NoError(t, h.Detach(nil))
	assert.Equal(t, resource.Detached, h.State())
	require.True(t, errors.As(h.Detach(nil), &stateErr), "double detach")
	require.True(t, errors.As(h.Attach(nil), &stateErr), "attach after detach")
}

func TestMountHandleStateErrors(t *testing.T) {
	t.Parallel()

	runner, calls := newRecordingRunner(t)
	h := resource.NewMountHandle(runner, runner.Tools, "devfs", "/pkgroot/dev", "devfs")

	var stateErr *resource.StateError
	require.True(t, errors.As(h.Umount(nil), &stateErr))

	require.NoError(t, h.Mount(nil))
	require.True(t, errors.As(h.Mount(nil), &stateErr))
	require.NoError(t, h.Umount(nil))
	require.True(t, errors.As(h.Umount(nil), &stateErr))

	assert.Equal(t, []string{
		"mount -t devfs devfs /pkgroot/dev",
		"umount /pkgroot/dev",
	}, testutil.Calls(t, calls))
}

func TestAttachWithoutDeviceNameIsParseError(t *testing.T) {
	t.Parallel()

	runner, _ := newRecordingRunner(t)
	runner.Tools.MDConfig = testutil.Script(t, t.TempDir(), "mdconfig", "exit 0")

	h := resource.NewAttachHandle(runner, runner.Tools, "/tmp/mfsroot")
	err := h.Attach(nil)

	var parseErr *resource.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, resource.Unattached, h.State())
}

func TestFailedMountDetachesDevice(t *testing.T) {
	t.Parallel()

	runner, calls := newRecordingRunner(t)
	runner.Tools.Mount = testutil.Script(t, t.TempDir(), "mount", `
echo "mount $*" >> "`+calls+`"
exit 1
`)

	dm := resource.NewDeviceMount(runner, runner.Tools, "/tmp/mfsroot", "/tmp/mnt", "")
	err := dm.Mount(nil)

	var mountErr *resource.MountError
	require.True(t, errors.As(err, &mountErr))
	var cmdErr *command.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 1, cmdErr.ExitCode)
	assert.False(t, dm.Mounted())

	assert.Equal(t, []string{
		"mdconfig -a -t vnode -f /tmp/mfsroot",
		"mount /dev/md7 /tmp/mnt",
		"mdconfig -d -u md7",
	}, testutil.Calls(t, calls))
}

func TestFailedUmountKeepsDeviceAttached(t *testing.T) {
	t.Parallel()

	runner, calls := newRecordingRunner(t)
	runner.Tools.Umount = testutil.Script(t, t.TempDir(), "umount", "exit 16")

	dm := resource.NewDeviceMount(runner, runner.Tools, "/tmp/mfsroot", "/tmp/mnt", "")
	require.NoError(t, dm.Mount(nil))

	var mountErr *resource.MountError
	require.True(t, errors.As(dm.Umount(nil), &mountErr))
	assert.True(t, dm.Mounted())
	assert.NotContains(t, testutil.Calls(t, calls), "mdconfig -d -u md7")
}

func TestFailedRollbackLeavesDeviceToDetach(t *testing.T) {
	t.Parallel()

	runner, calls := newRecordingRunner(t)
	dir := t.TempDir()
	runner.Tools.Mount = testutil.Script(t, dir, "mount", "exit 1")
	// The first detach fails; later ones succeed.
	failed := filepath.Join(dir, "detach-failed")
	runner.Tools.MDConfig = testutil.Script(t, dir, "mdconfig", `
echo "mdconfig $*" >> "`+calls+`"
if [ "$1" = "-a" ]; then
	echo md7
	exit 0
fi
if [ ! -e "`+failed+`" ]; then
	: > "`+failed+`"
	exit 1
fi
`)

	dm := resource.NewDeviceMount(runner, runner.Tools, "/tmp/mfsroot", "/tmp/mnt", "")
	err := dm.Mount(nil)

	var mountErr *resource.MountError
	require.True(t, errors.As(err, &mountErr))
	var attachErr *resource.AttachError
	require.True(t, errors.As(err, &attachErr))
	assert.False(t, dm.Mounted())
	assert.True(t, dm.Attached())

	require.NoError(t, dm.Umount(nil))
	assert.False(t, dm.Attached())
	assert.Equal(t, []string{
		"mdconfig -a -t vnode -f /tmp/mfsroot",
		"mdconfig -d -u md7",
		"mdconfig -d -u md7",
	}, testutil.Calls(t, calls))
}

func TestMountsAreSerialized(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockDir := filepath.Join(dir, "inflight")
	runner := command.NewRunner(command.Tools{
		Mount: testutil.Script(t, dir, "mount", `
mkdir "`+lockDir+`" || exit 9
sleep 0.05
rmdir "`+lockDir+`"
`),
	}, nil)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := resource.NewMountHandle(runner, runner.Tools, "devfs", filepath.Join(dir, "dev"), "devfs")
			errs[i] = h.Mount(nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "mount %d overlapped another mount", i)
	}
}
