//go:build linux

// Package pty spawns the hosted shell under a pseudoterminal and
// supervises its lifetime (C2): PTY pair creation, applying the
// captured host termios/window size to the slave before exec, and
// reaping the child asynchronously via SIGCHLD.
package pty

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"

	"github.com/srg/termc/internal/groutine"
	"github.com/srg/termc/internal/term"
)

// NotExited is the sentinel latch value meaning the child has not yet
// been reaped.
const NotExited int32 = -1

// SignalExitCode is the exit code latched when the shell terminates on
// a signal, per the external exit-code contract: 1, not 128+signal —
// os.Exit truncates to 8 bits, so anything signal-derived collides
// with a normal exit status anyway.
const SignalExitCode = 1

// Child supervises one shell process running under a PTY. Master is
// owned by the caller (the event loop) for the lifetime of the child.
// Spawn closes the parent's copy of the slave once the shell has
// started, so Slave is left nil; Close releases the master.
type Child struct {
	Master *os.File
	Slave  *os.File

	pid      int
	exitCode int32 // atomic, NotExited until the reaper latches it
	cancel   context.CancelFunc
}

// Spawn creates a fresh PTY pair, applies hostState/hostWin to the
// slave so the shell's idea of the terminal matches the host's
// (non-raw) settings, and execs shell as a child with the slave as its
// controlling terminal. It installs a SIGCHLD-driven reaper that
// latches the child's exit status asynchronously.
func Spawn(shell string, hostState *term.State, hostWin *term.WinSize, log *logrus.Logger) (*Child, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("open pty: %w", err)
	}

	slaveFd := int(slave.Fd())
	if err := term.Apply(slaveFd, hostState); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("apply host termios to pty slave: %w", err)
	}
	if hostWin != nil {
		if err := term.ApplyWinSize(slaveFd, hostWin); err != nil && err != term.ErrWinSizeUnsupported {
			_ = master.Close()
			_ = slave.Close()
			return nil, fmt.Errorf("apply window size to pty slave: %w", err)
		}
	}

	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("set pty master non-blocking: %w", err)
	}

	cmd := exec.Command(shell)
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    slaveFd,
	}

	if err := cmd.Start(); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("start shell %q: %w", shell, err)
	}

	// The slave is the child's controlling terminal now; the parent
	// has no further use for its own copy of the fd.
	_ = slave.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Child{
		Master:   master,
		pid:      cmd.Process.Pid,
		exitCode: NotExited,
		cancel:   cancel,
	}

	groutine.Go(ctx, "sigchld-reaper", func(ctx context.Context) {
		c.reap(ctx, log)
	})

	return c, nil
}

// reap blocks on SIGCHLD and waits for exactly this child, latching
// its exit status. It never touches the ring, the FD registry, or any
// other event-loop-owned state — only the atomic latch — matching the
// async-signal-safe discipline the design calls for.
func (c *Child) reap(ctx context.Context, log *logrus.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGCHLD)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
		}

		var status syscall.WaitStatus
		wpid, err := syscall.Wait4(c.pid, &status, syscall.WNOHANG, nil)
		if err != nil || wpid != c.pid {
			continue
		}

		var code int32
		switch {
		case status.Exited():
			code = int32(status.ExitStatus())
		case status.Signaled():
			code = SignalExitCode
		default:
			continue // stopped/continued, not a terminal state
		}

		atomic.StoreInt32(&c.exitCode, code)
		log.WithField("pid", c.pid).Debug("child reaped")
		return
	}
}

// ExitCode returns the latched exit status and whether the child has
// exited yet. The event loop polls this once per iteration.
func (c *Child) ExitCode() (code int32, exited bool) {
	v := atomic.LoadInt32(&c.exitCode)
	if v == NotExited {
		return 0, false
	}
	return v, true
}

// Close stops the reaper goroutine and releases the master fd. It does
// not wait for or signal the child; the caller is expected to have
// already observed exit via ExitCode.
func (c *Child) Close() error {
	c.cancel()
	return c.Master.Close()
}
