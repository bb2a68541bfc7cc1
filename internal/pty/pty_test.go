//go:build linux

package pty

import (
	"syscall"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"

	"github.com/srg/termc/internal/logx"
	"github.com/srg/termc/internal/term"
)

func captureHostState(t *testing.T) (*term.State, *term.WinSize) {
	t.Helper()
	// /dev/tty may be unavailable in CI, so use a throwaway PTY slave
	// instead, which satisfies Capture's "has a controlling terminal"
	// requirement just as well for exercising Spawn.
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = master.Close()
		_ = slave.Close()
	})
	fd := int(slave.Fd())
	state, err := term.Capture(fd)
	require.NoError(t, err)
	win, err := term.CaptureWinSize(fd)
	require.NoError(t, err)
	return state, win
}

func TestSpawnExitCodePropagates(t *testing.T) {
	state, win := captureHostState(t)
	log := logx.Discard()

	child, err := Spawn("/bin/sh", state, win, log)
	require.NoError(t, err)
	defer child.Close()

	_, err = child.Master.Write([]byte("exit 7\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, exited := child.ExitCode()
		return exited
	}, 5*time.Second, 10*time.Millisecond)

	code, exited := child.ExitCode()
	require.True(t, exited)
	require.Equal(t, int32(7), code)
}

func TestSpawnSignalTerminationYieldsExitCodeOne(t *testing.T) {
	state, win := captureHostState(t)
	log := logx.Discard()

	child, err := Spawn("/bin/cat", state, win, log)
	require.NoError(t, err)
	defer child.Close()

	require.NoError(t, syscall.Kill(child.pid, syscall.SIGTERM))

	require.Eventually(t, func() bool {
		_, exited := child.ExitCode()
		return exited
	}, 5*time.Second, 10*time.Millisecond)

	code, exited := child.ExitCode()
	require.True(t, exited)
	require.Equal(t, int32(1), code)
}

func TestExitCodeNotExitedInitially(t *testing.T) {
	state, win := captureHostState(t)
	log := logx.Discard()

	child, err := Spawn("/bin/cat", state, win, log)
	require.NoError(t, err)
	defer child.Close()

	_, exited := child.ExitCode()
	require.False(t, exited)
}
