//go:build linux

package engine

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fileSend and socketSend are exercised directly here; the rest of the
// engine (New/Run) drives real fd 0/1 and a forked shell, which isn't
// something a unit test can safely redirect without disturbing the
// test binary's own stdio.

func TestFileSendWritesAllBytes(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	send := fileSend(int(w.Fd()))
	n, err := send([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 5)
	nr, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:nr]))
}

func TestSocketSendWritesAllBytes(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	send := socketSend(fds[0])
	n, err := send([]byte("viewer payload"))
	require.NoError(t, err)
	assert.Equal(t, len("viewer payload"), n)

	buf := make([]byte, 64)
	nr, err := unix.Read(fds[1], buf)
	require.NoError(t, err)
	assert.Equal(t, "viewer payload", string(buf[:nr]))
}
