//go:build linux

// Package fdtable implements the FD registry and poll-set (C4): a
// fixed-size, range-checked table mapping every file descriptor the
// event loop owns to a typed role and its current readiness interest.
package fdtable

import (
	"fmt"
	"sort"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/srg/termc/internal/ring"
)

// Role classifies what an FD is for, per the event loop's dispatch
// table in §4.5 of the design.
type Role int

const (
	RoleInactive Role = iota
	RoleStdin
	RoleStdout
	RolePTYMaster
	RoleListen
	RoleViewer
)

func (r Role) String() string {
	switch r {
	case RoleStdin:
		return "stdin"
	case RoleStdout:
		return "stdout"
	case RolePTYMaster:
		return "pty_master"
	case RoleListen:
		return "listen"
	case RoleViewer:
		return "viewer"
	default:
		return "inactive"
	}
}

type entry struct {
	role      Role
	fd        int
	readIntr  bool
	writeIntr bool
	cursor    *ring.Cursor
}

// Table is a fixed-size FD-indexed registry, sized to a configured
// maximum so lookups are bounds-checked array accesses rather than a
// map keyed by raw FD value.
type Table struct {
	entries []entry
	maxFDs  int
}

// New creates a registry sized to hold FD values in [0, maxFDs).
func New(maxFDs int) *Table {
	return &Table{
		entries: make([]entry, maxFDs),
		maxFDs:  maxFDs,
	}
}

// errOutOfRange is wrapped into the error returned for any FD value
// outside [0, maxFDs).
var errOutOfRange = fmt.Errorf("fdtable: fd out of range")

func (t *Table) check(fd int) error {
	if fd < 0 || fd >= t.maxFDs {
		return fmt.Errorf("%w: %d (max %d)", errOutOfRange, fd, t.maxFDs)
	}
	return nil
}

// Register adds fd to the table under role with the given initial
// interest. It fails if fd is out of range or already registered.
func (t *Table) Register(fd int, role Role, readInterest, writeInterest bool) error {
	if err := t.check(fd); err != nil {
		return err
	}
	if t.entries[fd].role != RoleInactive {
		return fmt.Errorf("fdtable: fd %d already registered as %s", fd, t.entries[fd].role)
	}
	t.entries[fd] = entry{role: role, fd: fd, readIntr: readInterest, writeIntr: writeInterest}
	return nil
}

// Deregister detaches fd's ring cursor (if any) from r and marks the
// slot inactive. For listen and viewer FDs — the "non-standard" FDs
// the registry owns — it also closes the kernel resource; stdin,
// stdout and the PTY master are closed by their respective owners
// (the process itself, the child supervisor) to avoid a double close.
// Deregistering an FD not currently registered is a no-op.
func (t *Table) Deregister(fd int, r *ring.Ring) error {
	if err := t.check(fd); err != nil {
		return err
	}
	e := &t.entries[fd]
	if e.role == RoleInactive {
		return nil
	}
	if e.cursor != nil && r != nil {
		r.Detach(e.cursor)
	}
	var closeErr error
	if e.role == RoleListen || e.role == RoleViewer {
		closeErr = syscall.Close(fd)
	}
	*e = entry{}
	return closeErr
}

// RoleOf returns the role registered for fd, or RoleInactive if fd is
// unregistered or out of range.
func (t *Table) RoleOf(fd int) Role {
	if t.check(fd) != nil {
		return RoleInactive
	}
	return t.entries[fd].role
}

// Cursor returns the ring cursor attached to fd's entry, or nil.
func (t *Table) Cursor(fd int) *ring.Cursor {
	if t.check(fd) != nil {
		return nil
	}
	return t.entries[fd].cursor
}

// SetCursor attaches a ring cursor to fd's entry (used for stdout and
// viewer entries, which are ring consumers).
func (t *Table) SetCursor(fd int, c *ring.Cursor) error {
	if err := t.check(fd); err != nil {
		return err
	}
	t.entries[fd].cursor = c
	return nil
}

// SetInterest updates fd's readiness interest for the next poll.
func (t *Table) SetInterest(fd int, readInterest, writeInterest bool) error {
	if err := t.check(fd); err != nil {
		return err
	}
	t.entries[fd].readIntr = readInterest
	t.entries[fd].writeIntr = writeInterest
	return nil
}

// Interest returns fd's current readiness interest.
func (t *Table) Interest(fd int) (read, write bool) {
	if t.check(fd) != nil {
		return false, false
	}
	return t.entries[fd].readIntr, t.entries[fd].writeIntr
}

// ActiveFDs returns every registered FD in ascending order, matching
// the event loop's required visitation order within one poll return.
func (t *Table) ActiveFDs() []int {
	fds := make([]int, 0, len(t.entries))
	for fd, e := range t.entries {
		if e.role != RoleInactive {
			fds = append(fds, fd)
		}
	}
	sort.Ints(fds)
	return fds
}

// PollFds builds the poll(2) argument for the registered set, in the
// same ascending order as ActiveFDs.
func (t *Table) PollFds() []unix.PollFd {
	fds := t.ActiveFDs()
	pfds := make([]unix.PollFd, 0, len(fds))
	for _, fd := range fds {
		e := t.entries[fd]
		var events int16
		if e.readIntr {
			events |= unix.POLLIN
		}
		if e.writeIntr {
			events |= unix.POLLOUT
		}
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: events})
	}
	return pfds
}

// CloseAll deregisters every registered FD, detaching any ring cursors
// and closing the FDs Deregister closes (listen and viewer), for use
// during teardown. Errors are collected, not short-circuited,
// so one bad close doesn't prevent the rest from being released.
func (t *Table) CloseAll(r *ring.Ring) []error {
	var errs []error
	for _, fd := range t.ActiveFDs() {
		if err := t.Deregister(fd, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
