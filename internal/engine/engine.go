//go:build linux

// Package engine wires the terminal controller, child supervisor, ring
// broadcaster, FD registry and listener into the single-threaded,
// readiness-driven event loop (C5) and its teardown (C7).
package engine

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/srg/termc/internal/fdtable"
	"github.com/srg/termc/internal/listener"
	"github.com/srg/termc/internal/logx"
	"github.com/srg/termc/internal/pty"
	"github.com/srg/termc/internal/ring"
	"github.com/srg/termc/internal/term"
	"github.com/srg/termc/pkg/config"
)

const (
	hostFd   = 0
	stdoutFd = 1
)

// Engine owns every resource of one termc run: the ring broadcaster,
// the FD registry, the hosted shell, and the viewer listener. It is
// mutated exclusively by the single goroutine running Run; the only
// other concurrent actor is the child supervisor's SIGCHLD reaper,
// which touches only its own atomic latch.
type Engine struct {
	cfg *config.Config
	log *logrus.Logger

	ring     *ring.Ring
	fds      *fdtable.Table
	child    *pty.Child
	listenFd int

	hostState *term.State
	scratch   []byte

	ptyEOF bool
}

// New captures the host terminal, enters raw mode, spawns the hosted
// shell under a fresh PTY, opens the viewer listener, and registers
// every initial FD. On any failure it restores the host terminal
// before returning the error — fatal init errors must never leave the
// host terminal in raw mode.
func New(cfg *config.Config, log *logrus.Logger) (*Engine, error) {
	hostState, err := term.Capture(hostFd)
	if err != nil {
		return nil, fmt.Errorf("capture host terminal state: %w", err)
	}

	hostWin, err := term.CaptureWinSize(hostFd)
	if err != nil {
		logx.WithErrno(log, err).Warn("could not read host window size, using 80x24")
	}

	if err := term.EnterRaw(hostFd, hostState); err != nil {
		_ = term.Apply(hostFd, hostState)
		return nil, fmt.Errorf("enter raw mode: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		log:       log,
		ring:      ring.New(cfg.RingCapacity),
		fds:       fdtable.New(cfg.MaxFDs),
		hostState: hostState,
		scratch:   make([]byte, cfg.ScratchBufferSize),
		listenFd:  -1,
	}

	child, err := pty.Spawn(cfg.Shell, hostState, hostWin, log)
	if err != nil {
		_ = term.Apply(hostFd, hostState)
		return nil, fmt.Errorf("spawn shell: %w", err)
	}
	e.child = child

	listenFd, err := listener.Open(cfg.Port, cfg.ListenBacklog)
	if err != nil {
		_ = child.Close()
		_ = term.Apply(hostFd, hostState)
		return nil, fmt.Errorf("open listener: %w", err)
	}
	e.listenFd = listenFd

	if err := e.fds.Register(hostFd, fdtable.RoleStdin, true, false); err != nil {
		return nil, e.abort(err)
	}
	if err := e.fds.Register(stdoutFd, fdtable.RoleStdout, false, false); err != nil {
		return nil, e.abort(err)
	}
	if err := e.fds.SetCursor(stdoutFd, e.ring.Attach()); err != nil {
		return nil, e.abort(err)
	}
	if err := e.fds.Register(int(child.Master.Fd()), fdtable.RolePTYMaster, true, false); err != nil {
		return nil, e.abort(err)
	}
	if err := e.fds.Register(listenFd, fdtable.RoleListen, true, false); err != nil {
		return nil, e.abort(err)
	}

	return e, nil
}

func (e *Engine) abort(cause error) error {
	e.Teardown()
	return cause
}

// Run executes the event loop until the hosted shell exits or PTY EOF
// is observed, then tears down and returns the process exit code.
func (e *Engine) Run() int {
	for {
		pfds := e.fds.PollFds()
		_, err := unix.Poll(pfds, -1)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				// Most likely SIGCHLD arriving mid-poll; resume and let
				// the exit-status check below notice if it latched.
			} else {
				logx.WithErrno(e.log, err).Error("poll failed")
				panic(fmt.Errorf("poll: %w", err))
			}
		} else {
			e.dispatch(pfds)
		}

		if e.ptyEOF {
			break
		}
		if _, exited := e.child.ExitCode(); exited {
			break
		}
	}

	e.Teardown()

	if code, exited := e.child.ExitCode(); exited {
		return int(code)
	}
	return 1
}

func (e *Engine) dispatch(pfds []unix.PollFd) {
	for _, pfd := range pfds {
		if pfd.Revents == 0 {
			continue
		}
		fd := int(pfd.Fd)
		switch e.fds.RoleOf(fd) {
		case fdtable.RoleStdin:
			e.handleStdinReadable(fd)
		case fdtable.RolePTYMaster:
			e.handlePTYReadable(fd)
		case fdtable.RoleStdout:
			e.handleStdoutWritable(fd)
		case fdtable.RoleListen:
			e.handleListenReadable()
		case fdtable.RoleViewer:
			e.handleViewerEvent(fd, pfd.Revents)
		}
	}
}

func (e *Engine) handleStdinReadable(fd int) {
	n, err := unix.Read(fd, e.scratch)
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) {
			return
		}
		panic(fmt.Errorf("stdin read: %w", err))
	}
	if n == 0 {
		// Host terminal closed its input; stop polling stdin but keep
		// serving the shell and viewers.
		_ = e.fds.SetInterest(fd, false, false)
		return
	}

	masterFd := int(e.child.Master.Fd())
	written, werr := unix.Write(masterFd, e.scratch[:n])
	if werr != nil || written != n {
		panic(fmt.Errorf("short write to pty master: wrote %d of %d bytes, err=%v", written, n, werr))
	}
}

func (e *Engine) handlePTYReadable(fd int) {
	headroom := e.ring.Headroom()
	if headroom == 0 {
		_ = e.fds.SetInterest(fd, false, false)
		return
	}

	n := len(e.scratch)
	if headroom < n {
		n = headroom
	}

	nr, err := unix.Read(fd, e.scratch[:n])
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) {
			return
		}
		if _, exited := e.child.ExitCode(); exited {
			// Expected EIO-after-exit race: the shell is gone, the
			// slave side closed under us. Treat exactly like EOF.
			e.ptyEOF = true
			_ = e.fds.SetInterest(fd, false, false)
			return
		}
		panic(fmt.Errorf("pty master read: %w", err))
	}
	if nr == 0 {
		e.ptyEOF = true
		_ = e.fds.SetInterest(fd, false, false)
		return
	}

	e.ring.Write(e.scratch[:nr])

	_ = e.fds.SetInterest(stdoutFd, false, true)
	for _, vfd := range e.fds.ActiveFDs() {
		if e.fds.RoleOf(vfd) == fdtable.RoleViewer {
			read, _ := e.fds.Interest(vfd)
			_ = e.fds.SetInterest(vfd, read, true)
		}
	}
}

func (e *Engine) handleStdoutWritable(fd int) {
	cur := e.fds.Cursor(fd)
	n, err := e.ring.CopyTo(cur, fileSend(fd))
	if err != nil {
		panic(fmt.Errorf("stdout write: %w", err))
	}
	e.afterDrain(fd, n)
}

func (e *Engine) handleViewerEvent(fd int, revents int16) {
	if revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		e.deregisterViewer(fd)
		return
	}
	if revents&unix.POLLIN != 0 {
		n, err := unix.Read(fd, e.scratch)
		if err != nil && !errors.Is(err, syscall.EAGAIN) {
			e.deregisterViewer(fd)
			return
		}
		if n == 0 {
			e.deregisterViewer(fd)
			return
		}
		// Viewers are read-only observers; anything they send is discarded.
	}
	if revents&unix.POLLOUT != 0 {
		cur := e.fds.Cursor(fd)
		n, err := e.ring.CopyTo(cur, socketSend(fd))
		if err != nil {
			e.deregisterViewer(fd)
			return
		}
		e.afterDrain(fd, n)
	}
}

// afterDrain disarms a consumer's write interest once it has caught
// up, and re-arms PTY master read interest if draining freed headroom
// the producer was blocked on.
func (e *Engine) afterDrain(fd int, drained int) {
	if drained == 0 {
		read, _ := e.fds.Interest(fd)
		_ = e.fds.SetInterest(fd, read, false)
	}
	if e.ring.Headroom() > 0 {
		masterFd := int(e.child.Master.Fd())
		if e.fds.RoleOf(masterFd) == fdtable.RolePTYMaster {
			_ = e.fds.SetInterest(masterFd, true, false)
		}
	}
}

func (e *Engine) handleListenReadable() {
	connFd, err := listener.Accept(e.listenFd)
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) {
			return
		}
		logx.WithErrno(e.log, err).Warn("accept failed")
		return
	}

	cur := e.ring.Attach()
	// Read interest stays off: viewers are read-only observers, and
	// whatever they send sits unread in the kernel recv buffer. The fd is
	// reclaimed by deregisterViewer when poll reports POLLHUP/POLLERR/
	// POLLNVAL (reported regardless of interest) or a send to it fails.
	if err := e.fds.Register(connFd, fdtable.RoleViewer, false, true); err != nil {
		logx.WithErrno(e.log, err).Warn("could not register viewer")
		e.ring.Detach(cur)
		_ = unix.Close(connFd)
		return
	}
	_ = e.fds.SetCursor(connFd, cur)
}

func (e *Engine) deregisterViewer(fd int) {
	_ = e.fds.Deregister(fd, e.ring)
}

// Teardown restores the host terminal, closes every FD the engine
// owns, and releases the hosted shell. It is safe to call more than
// once and runs on every exit path, including fatal init failure.
func (e *Engine) Teardown() {
	if err := term.Apply(hostFd, e.hostState); err != nil {
		logx.WithErrno(e.log, err).Error("failed to restore host terminal state")
	}
	for _, err := range e.fds.CloseAll(e.ring) {
		logx.WithErrno(e.log, err).Warn("error closing fd during teardown")
	}
	if e.child != nil {
		_ = e.child.Close()
	}
}

func fileSend(fd int) ring.SendFunc {
	return func(chunk []byte) (int, error) {
		n, err := unix.Write(fd, chunk)
		if err != nil {
			// unix.Write reports -1 on error; nothing was transmitted.
			if errors.Is(err, syscall.EAGAIN) {
				return 0, ring.ErrWouldBlock
			}
			return 0, err
		}
		return n, nil
	}
}

func socketSend(fd int) ring.SendFunc {
	return func(chunk []byte) (int, error) {
		n, err := unix.SendmsgN(fd, chunk, nil, nil, unix.MSG_NOSIGNAL)
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) && n == 0 {
				return 0, ring.ErrWouldBlock
			}
			return n, err
		}
		return n, nil
	}
}
