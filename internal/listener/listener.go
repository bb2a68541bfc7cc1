//go:build linux

// Package listener binds the viewer-facing TCP socket (C6): a
// dual-stack bind walk over IPv6-then-IPv4 candidates, first success
// wins, address-reusable and non-blocking, registered with a small
// listen backlog.
package listener

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// candidate is one address family/sockaddr pair to try binding, in the
// same "walk candidates, first bind wins" spirit as a getaddrinfo loop.
type candidate struct {
	family int
	sa     unix.Sockaddr
}

// Open binds and listens on port across IPv4 and IPv6, preferring an
// IPv6 dual-stack socket (accepts v4-mapped addresses too) and falling
// back to IPv4-only if the host has no IPv6 stack. Returns the raw
// non-blocking listening fd. Failing to bind any candidate is fatal.
func Open(port int, backlog int) (int, error) {
	candidates := []candidate{
		{family: unix.AF_INET6, sa: &unix.SockaddrInet6{Port: port}},
		{family: unix.AF_INET, sa: &unix.SockaddrInet4{Port: port}},
	}

	var lastErr error
	for _, c := range candidates {
		fd, err := bindOne(c, backlog)
		if err != nil {
			lastErr = err
			continue
		}
		return fd, nil
	}
	return -1, fmt.Errorf("listener: failed to bind IPv4 and IPv6 on port %d: %w", port, lastErr)
}

func bindOne(c candidate, backlog int) (int, error) {
	fd, err := unix.Socket(c.family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	if err := unix.Bind(fd, c.sa); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("bind: %w", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("set non-blocking: %w", err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}

	return fd, nil
}

// Accept accepts one pending connection on the non-blocking listen fd,
// returning the new connection fd already in non-blocking mode.
// unix.EAGAIN means no connection is pending; the caller should treat
// that as "nothing to do" rather than an error.
func Accept(listenFd int) (int, error) {
	connFd, _, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK)
	if err != nil {
		return -1, err
	}
	return connFd, nil
}
