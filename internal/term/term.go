//go:build linux

// Package term captures and restores the host terminal's mode (C1 in
// the design): the termios snapshot taken before entering raw mode, and
// the window size applied to the PTY slave before exec. Every exit path
// of the hosting program must restore the snapshot captured here.
package term

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// maxApplyRetries bounds the retry loop in Apply: tcsetattr(3) is
// documented to succeed even when only some of the requested changes
// were carried out, so the caller must re-read and compare.
const maxApplyRetries = 32

// State is an opaque capture of termios control-mode flags and the
// special-character set. It is immutable after Capture.
type State struct {
	termios unix.Termios
}

// WinSize mirrors struct winsize from ioctl_tty(2): rows/cols plus the
// pixel dimensions, captured alongside the termios snapshot.
type WinSize struct {
	Rows    uint16
	Cols    uint16
	XPixels uint16
	YPixels uint16
}

// ErrWinSizeUnsupported is returned by ApplyWinSize when the underlying
// fd doesn't support TIOCSWINSZ; callers downgrade this to a warning
// rather than treating it as fatal, per the host program's error policy.
var ErrWinSizeUnsupported = fmt.Errorf("window size ioctl not supported on this fd")

// Capture reads the current termios of fd. It fails if fd has no
// controlling terminal — the caller treats that as fatal initialization
// failure.
func Capture(fd int) (*State, error) {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, fmt.Errorf("tcgetattr: %w", err)
	}
	return &State{termios: *t}, nil
}

// CaptureWinSize reads the current window size of fd. On failure it
// returns a conventional 80x24 default alongside the error. The caller
// classifies the returned error; this function never guesses at
// severity itself (the engine logs any error here as a warning and
// proceeds with the default).
func CaptureWinSize(fd int) (*WinSize, error) {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		return &WinSize{Cols: 80, Rows: 24}, fmt.Errorf("ioctl TIOCGWINSZ: %w", err)
	}
	return &WinSize{Rows: ws.Row, Cols: ws.Col, XPixels: ws.Xpixel, YPixels: ws.Ypixel}, nil
}

// Apply writes termios to fd, then re-reads and compares all four mode
// words and the control-character array, retrying up to 32 times
// because the platform contract permits partial application.
func Apply(fd int, s *State) error {
	want := s.termios
	for i := 0; i < maxApplyRetries; i++ {
		if err := unix.IoctlSetTermios(fd, unix.TCSETS, &want); err != nil {
			return fmt.Errorf("tcsetattr: %w", err)
		}
		got, err := unix.IoctlGetTermios(fd, unix.TCGETS)
		if err != nil {
			return fmt.Errorf("tcgetattr: %w", err)
		}
		if termiosEqual(got, &want) {
			return nil
		}
	}
	return fmt.Errorf("tcsetattr: termios did not converge after %d attempts", maxApplyRetries)
}

func termiosEqual(a, b *unix.Termios) bool {
	return a.Iflag == b.Iflag &&
		a.Oflag == b.Oflag &&
		a.Cflag == b.Cflag &&
		a.Lflag == b.Lflag &&
		a.Cc == b.Cc
}

// ApplyWinSize sets the window size on fd. ErrWinSizeUnsupported is
// returned when the ioctl isn't supported (the caller logs a warning
// and continues); any other error is fatal.
func ApplyWinSize(fd int, w *WinSize) error {
	ws := unix.Winsize{Row: w.Rows, Col: w.Cols, Xpixel: w.XPixels, Ypixel: w.YPixels}
	if err := unix.IoctlSetWinsize(fd, unix.TIOCSWINSZ, &ws); err != nil {
		if err == unix.ENOTTY || err == unix.EINVAL {
			return ErrWinSizeUnsupported
		}
		return fmt.Errorf("ioctl TIOCSWINSZ: %w", err)
	}
	return nil
}

// EnterRaw derives a raw termios from captured — byte-at-a-time,
// no-echo, no-signal, 8-bit-clean I/O — and applies it to fd via the
// same verified write as Apply. The derivation mirrors term_set_raw in
// the reference C implementation rather than a platform cfmakeraw,
// since the set of cleared flags must be auditable here.
func EnterRaw(fd int, captured *State) error {
	raw := captured.termios
	raw.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	raw.Oflag &^= unix.OPOST
	raw.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	raw.Cflag &^= unix.CSIZE | unix.PARENB
	raw.Cflag |= unix.CS8
	return Apply(fd, &State{termios: raw})
}
