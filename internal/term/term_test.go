//go:build linux

package term

import (
	"os"
	"testing"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// openTestTTY returns a PTY slave fd usable as a stand-in controlling
// terminal for termios round-trip tests, since CI has no real one.
func openTestTTY(t *testing.T) int {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = master.Close()
		_ = slave.Close()
	})
	return int(slave.Fd())
}

func TestCaptureApplyRoundTrip(t *testing.T) {
	fd := openTestTTY(t)

	original, err := Capture(fd)
	require.NoError(t, err)

	require.NoError(t, Apply(fd, original))

	again, err := Capture(fd)
	require.NoError(t, err)
	require.Equal(t, original.termios, again.termios)
}

func TestEnterRawThenRestore(t *testing.T) {
	fd := openTestTTY(t)

	original, err := Capture(fd)
	require.NoError(t, err)

	require.NoError(t, EnterRaw(fd, original))

	raw, err := Capture(fd)
	require.NoError(t, err)
	require.NotEqual(t, original.termios, raw.termios, "raw mode must change termios flags")

	require.NoError(t, Apply(fd, original))

	restored, err := Capture(fd)
	require.NoError(t, err)
	require.Equal(t, original.termios, restored.termios, "restore must equal the original capture")
}

func TestEnterRawClearsExpectedFlags(t *testing.T) {
	fd := openTestTTY(t)

	original, err := Capture(fd)
	require.NoError(t, err)
	require.NoError(t, EnterRaw(fd, original))

	raw, err := Capture(fd)
	require.NoError(t, err)

	require.Equal(t, uint32(0), raw.termios.Lflag&(unix.ECHO|unix.ECHONL|unix.ICANON|unix.ISIG|unix.IEXTEN))
	require.Equal(t, uint32(0), raw.termios.Oflag&unix.OPOST)
}

func TestCaptureWinSizeRoundTrip(t *testing.T) {
	fd := openTestTTY(t)

	require.NoError(t, ApplyWinSize(fd, &WinSize{Rows: 40, Cols: 120}))

	ws, err := CaptureWinSize(fd)
	require.NoError(t, err)
	require.Equal(t, uint16(40), ws.Rows)
	require.Equal(t, uint16(120), ws.Cols)
}

func TestCaptureWinSizeFallsBackOnError(t *testing.T) {
	// A plain pipe fd has no window size ioctl: expect the 80x24 default
	// alongside a non-nil error the caller must classify.
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})

	ws, err := CaptureWinSize(int(r.Fd()))
	require.Error(t, err)
	require.Equal(t, uint16(80), ws.Cols)
	require.Equal(t, uint16(24), ws.Rows)
}
