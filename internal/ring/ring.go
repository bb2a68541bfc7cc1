// Package ring implements the shared multi-reader, single-writer ring
// broadcaster (C3): one producer (the PTY master reader) fans out to
// many independently-paced consumers (the local screen, every attached
// viewer) through a fixed-capacity byte buffer with per-consumer read
// cursors and per-slot reader-pin counts.
//
// A Ring is owned exclusively by the single-threaded event loop (C5);
// it performs no locking, matching the spec's cooperative, readiness-
// driven concurrency model — the only other actor touching process
// state is the SIGCHLD handler, which never reaches into the ring.
package ring

import (
	"errors"
	"fmt"
)

// ErrWouldBlock is returned by a SendFunc to signal the sink can't
// accept more bytes right now (the non-blocking-I/O equivalent of
// EAGAIN/EWOULDBLOCK). CopyTo treats it as a partial, not a failure.
var ErrWouldBlock = errors.New("ring: sink would block")

// SendFunc transmits b to a consumer's sink (a plain file write for
// local stdout, a socket send for a viewer — the "mode" the spec calls
// out as a transport detail). It returns the number of bytes actually
// transmitted and ErrWouldBlock (only) when nothing could be sent.
type SendFunc func(b []byte) (int, error)

// Cursor is a consumer's read position into the ring. The zero Cursor
// is not attached to anything; obtain one via Ring.Attach.
type Cursor struct {
	idx int
}

// Ring is a fixed-capacity byte buffer with one writer and any number
// of independently-paced readers, each pinning the slot it has not yet
// read past so the writer can never overwrite unread bytes.
type Ring struct {
	buf      []byte
	cap      int
	writeIdx int
	readers  []uint16
}

// New creates a ring of the given byte capacity. Capacity must be at
// least 2 so that the writer can always tell a full ring from an empty
// one via the pin on an attached consumer's cursor.
func New(capacity int) *Ring {
	if capacity < 2 {
		panic(fmt.Sprintf("ring: capacity must be at least 2, got %d", capacity))
	}
	return &Ring{
		buf:     make([]byte, capacity),
		cap:     capacity,
		readers: make([]uint16, capacity),
	}
}

// Capacity returns the ring's fixed byte capacity.
func (r *Ring) Capacity() int { return r.cap }

// Headroom returns the number of bytes the writer may deposit without
// passing any pinned reader slot: the distance forward from writeIdx
// (exclusive) to the nearest slot with a non-zero reader count, or the
// full capacity if no slot anywhere is pinned.
func (r *Ring) Headroom() int {
	for n := 0; n < r.cap; n++ {
		slot := (r.writeIdx + 1 + n) % r.cap
		if r.readers[slot] > 0 {
			return n
		}
	}
	return r.cap
}

// Write deposits up to Headroom() bytes of b, advancing writeIdx by
// however many bytes were actually deposited. Callers on the hot path
// (the event loop) are expected to pre-clamp len(b) to Headroom(), but
// Write clamps defensively and returns the count actually written, the
// way io.Writer callers are used to checking.
func (r *Ring) Write(b []byte) int {
	n := len(b)
	if h := r.Headroom(); n > h {
		n = h
	}
	if n == 0 {
		return 0
	}
	first := r.cap - r.writeIdx
	if first > n {
		first = n
	}
	copy(r.buf[r.writeIdx:], b[:first])
	if rest := n - first; rest > 0 {
		copy(r.buf, b[first:n])
	}
	r.writeIdx = (r.writeIdx + n) % r.cap
	return n
}

// Attach registers a new consumer pinned at the current write frontier
// — it will receive only bytes produced after this call, never bytes
// already sitting in the ring.
func (r *Ring) Attach() *Cursor {
	r.readers[r.writeIdx]++
	return &Cursor{idx: r.writeIdx}
}

// Detach unregisters a consumer, unpinning its slot immediately. Any
// writer blocked behind that pin becomes unblocked on its next
// Headroom check.
func (r *Ring) Detach(c *Cursor) {
	r.readers[c.idx]--
}

// CopyTo drains bytes from c's cursor toward the write frontier through
// send, in at most two contiguous chunks (one up to the end of the
// backing array, one from the start, to handle wraparound). A partial
// second chunk (ErrWouldBlock) commits the bytes transferred so far
// rather than failing the whole call. It returns the number of bytes
// emitted — 0 if the consumer is already caught up, with no side
// effects — and a non-nil error only when the *first* emission fails
// for a reason other than ErrWouldBlock.
func (r *Ring) CopyTo(c *Cursor, send SendFunc) (int, error) {
	if c.idx == r.writeIdx {
		return 0, nil
	}

	var chunks [][]byte
	if r.writeIdx > c.idx {
		chunks = [][]byte{r.buf[c.idx:r.writeIdx]}
	} else {
		chunks = [][]byte{r.buf[c.idx:r.cap], r.buf[:r.writeIdx]}
	}

	total := 0
	for i, chunk := range chunks {
		if len(chunk) == 0 {
			continue
		}
		n, err := send(chunk)
		total += n
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				break
			}
			if i == 0 && total == 0 {
				return 0, fmt.Errorf("ring: copy_to: %w", err)
			}
			break
		}
		if n < len(chunk) {
			// Short write on a chunk that reported no error: treat as
			// a would-block partial, same as an explicit ErrWouldBlock.
			break
		}
	}

	if total == 0 {
		return 0, nil
	}

	old := c.idx
	c.idx = (c.idx + total) % r.cap
	r.readers[old]--
	r.readers[c.idx]++
	return total, nil
}

// ActiveReaders returns the sum of reader counts across all slots,
// equal to the number of currently attached consumers — exposed for
// tests exercising the ring's invariants.
func (r *Ring) ActiveReaders() int {
	n := 0
	for _, c := range r.readers {
		n += int(c)
	}
	return n
}
