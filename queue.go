// queue.go: Ring layout and the producer/consumer protocol
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"sync/atomic"
	"unsafe"

	"github.com/agilira/go-timecache"
	"go.uber.org/zap"
)

// Status is the outcome of a queue operation. No status is fatal: each one
// is an observation about the current ring state and the caller decides the
// retry policy.
type Status int

const (
	// OK means the operation completed.
	OK Status = iota

	// Full means the producer observed a live unread slot at its
	// reservation point, or a payload that can never fit the ring.
	// Back off and retry after the consumer makes progress.
	Full

	// Empty means the consumer observed no valid unread header at the
	// head cursor. Back off and retry.
	Empty

	// CASRetry means a cursor CAS did not land or a wraparound sentinel
	// was consumed. Retry immediately; no backoff required.
	CASRetry
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case Full:
		return "FULL"
	case Empty:
		return "EMPTY"
	case CASRetry:
		return "CAS_RETRY"
	default:
		return "UNKNOWN"
	}
}

const (
	// slotAlign is the alignment of every slot offset. Cursor advances
	// round up to it so the two atomic words of each slot header always
	// sit on 8-byte boundaries; 64-bit atomics fault on unaligned
	// addresses on several architectures.
	slotAlign = 8

	// slotHeaderSize is the on-ring size of a slot header: the payload
	// size word followed by the marker word.
	slotHeaderSize = 2 * 8

	nameSize = 64
)

// slotHeader precedes every payload in the buffer. size is written before
// marker; the atomic store of marker is what publishes the slot.
type slotHeader struct {
	size   atomic.Uint64
	marker atomic.Uint64
}

// flags bits in the ring header.
const flagStats uint64 = 1 << 0

// ringHeader is the fixed segment prologue shared by all attached processes.
// All fields are 64-bit words so the layout has no padding and every atomic
// sits aligned; the buffer follows immediately after.
type ringHeader struct {
	magic    uint64
	version  uint64
	capacity uint64 // effective buffer length, includes the reserved sentinel slot
	flags    uint64
	head     atomic.Uint64
	tail     atomic.Uint64
	name     [nameSize]byte
	stats    statsBlock
}

const ringHeaderSize = 6*8 + nameSize + statsBlockSize

// Layout asserts: the wire format is the in-memory struct, so any field
// change must be reflected in the size constants.
var (
	_ = [1]struct{}{}[ringHeaderSize-unsafe.Sizeof(ringHeader{})]
	_ = [1]struct{}{}[slotHeaderSize-unsafe.Sizeof(slotHeader{})]
)

// alignSlot rounds n up to the slot alignment.
func alignSlot(n uint64) uint64 {
	return (n + slotAlign - 1) &^ uint64(slotAlign-1)
}

// ByteSize returns the exact number of buffer bytes a payload of the given
// size occupies on the ring: the slot header plus the payload itself.
// Alignment padding between slots belongs to the ring, not the slot.
func ByteSize(payloadSize int) int {
	return slotHeaderSize + payloadSize
}

// Queue is a per-process handle onto a shared ring segment. The handle
// itself is not copyable state worth sharing: open one per process with
// Create or Attach and free it with Detach or Destroy.
//
// A Queue enforces no producer/consumer role; the processes decide who
// calls Enqueue and who calls Dequeue, with exactly one of each.
type Queue struct {
	name string
	path string

	mem []byte // whole mapping
	buf []byte // ring buffer region, len == header capacity

	hdr *ringHeader
	st  *statsBlock

	statsOn bool
	clock   *timecache.TimeCache
	log     *zap.Logger
}

// Name returns the segment name.
func (q *Queue) Name() string { return q.name }

// Capacity returns the effective buffer capacity in bytes, including the
// header-sized slot reserved at the end for the wraparound sentinel.
func (q *Queue) Capacity() uint64 { return q.hdr.capacity }

// Head atomically loads the consumer cursor. Safe for passive inspectors.
func (q *Queue) Head() uint64 { return q.hdr.head.Load() }

// Tail atomically loads the producer cursor. Safe for passive inspectors.
func (q *Queue) Tail() uint64 { return q.hdr.tail.Load() }

// slot returns the header at a buffer offset. The offset must be
// slot-aligned and leave room for the header; the protocol guarantees both
// for every cursor position it produces.
func (q *Queue) slot(offset uint64) *slotHeader {
	return (*slotHeader)(unsafe.Pointer(&q.buf[offset]))
}

// Enqueue copies the payload onto the ring and publishes it.
//
// The operation never blocks. It returns OK on success, Full when the slot
// about to be claimed still holds an unconsumed payload (or when the payload
// can never fit this ring), and CASRetry when the tail reservation did not
// land and the caller should simply try again.
//
// Enqueue must be called by exactly one producer identity.
func (q *Queue) Enqueue(p []byte) Status {
	size := uint64(len(p))

	var begin int64
	if q.statsOn {
		begin = q.clock.CachedTime().UnixMicro()
		q.st.queueTry.Add(1)
	}

	// A payload needs its own slot plus the reserved sentinel slot. One
	// that can never fit would chase its own tail around the wraparound
	// path forever, so reject it here.
	if alignSlot(slotHeaderSize+size)+slotHeaderSize > q.hdr.capacity {
		return Full
	}

	for {
		tail := q.hdr.tail.Load()
		next := alignSlot(tail + slotHeaderSize + size)
		wraparound := false
		// Keep a header-sized region free at the end of the buffer so
		// an end-of-ring sentinel can always be placed.
		if next+slotHeaderSize > q.hdr.capacity {
			next = 0
			wraparound = true
		}

		// Reserve the region. The CAS defends against torn reads and
		// keeps the protocol honest if a second producer ever shows up;
		// under the single-producer contract it lands first try.
		if !q.hdr.tail.CompareAndSwap(tail, next) {
			return CASRetry
		}

		hdr := q.slot(tail)

		if wraparound {
			if st := q.claimCheck(tail, tail+slotHeaderSize, hdr); st != OK {
				q.hdr.tail.Store(tail)
				return st
			}
			// Publish the end-of-ring sentinel: a header whose size
			// covers the whole buffer, telling the consumer to circle
			// back to offset zero. Then retry the enqueue from the top.
			hdr.size.Store(q.hdr.capacity)
			hdr.marker.Store(uint64(setUnread(validMask(tail))))
			if q.statsOn {
				q.st.overflow.Add(1)
			}
			continue
		}

		if st := q.claimCheck(tail, next, hdr); st != OK {
			// Restoring the tail is safe only because there is exactly
			// one producer; nobody else can have advanced it meanwhile.
			q.hdr.tail.Store(tail)
			return st
		}

		copy(q.buf[tail+slotHeaderSize:], p)
		hdr.size.Store(size)
		// The marker store is the publication point: once the consumer
		// observes it, the size and payload stores above are visible too.
		hdr.marker.Store(uint64(setUnread(validMask(tail))))

		if q.statsOn {
			q.recordTiming(&q.st.queueMicros, &q.st.maxQueueMicros, begin)
			q.st.queue.Add(1)
		}
		return OK
	}
}

// claimCheck decides whether the producer may write the region [tail, next).
// The ring is full when the slot at the reservation point still carries a
// live unread header, or when the write would run over the consumer's
// position after a wraparound left the producer behind the consumer in
// offset space.
func (q *Queue) claimCheck(tail, next uint64, hdr *slotHeader) Status {
	m := Marker(hdr.marker.Load())
	if m.ValidFor(tail) && m.Unread() {
		return Full
	}
	// Stale heads only make this check stricter: the consumer moves head
	// away from the region being claimed, never into it.
	if head := q.hdr.head.Load(); tail < head && next > head {
		return Full
	}
	return OK
}

// Dequeue claims the payload at the head cursor and exposes it in place.
//
// The returned slice aliases the shared segment: the caller owns those bytes
// only until it passes them to Release, which it must do before the next
// Dequeue. The operation never blocks; it returns Empty when no published
// slot is waiting and CASRetry when the head CAS did not land or an
// end-of-ring sentinel was consumed.
//
// The slot header is scrubbed before Dequeue returns, so until Release the
// producer already treats the slot as free: a producer that laps the whole
// ring in that window can write a new payload into the same bytes, and the
// late Release then zeroes it.
//
// Dequeue must be called by exactly one consumer identity.
func (q *Queue) Dequeue() ([]byte, Status) {
	var begin int64
	if q.statsOn {
		begin = q.clock.CachedTime().UnixMicro()
		q.st.dequeueTry.Add(1)
	}

	head := q.hdr.head.Load()
	hdr := q.slot(head)
	m := Marker(hdr.marker.Load())
	size := hdr.size.Load()

	// One check covers both empty states: the ring fully drained
	// (head == tail over a scrubbed slot) and a region the producer has
	// reserved but not yet published.
	if !m.ValidFor(head) || m.Read() {
		return nil, Empty
	}

	next := alignSlot(head + slotHeaderSize + size)
	wraparound := false
	if next > q.hdr.capacity {
		next = 0
		wraparound = true
	}

	if !q.hdr.head.CompareAndSwap(head, next) {
		return nil, CASRetry
	}

	if wraparound {
		// End-of-ring sentinel: mark it consumed and ask the caller to
		// retry from the new head at offset zero.
		hdr.marker.Store(uint64(setRead(validMask(head))))
		if q.statsOn {
			q.st.overflow.Add(1)
		}
		return nil, CASRetry
	}

	// The header is scrubbed now; the payload bytes stay live until the
	// caller releases them.
	hdr.size.Store(0)
	hdr.marker.Store(0)

	p := q.buf[head+slotHeaderSize : head+slotHeaderSize+size : head+slotHeaderSize+size]

	if q.statsOn {
		q.recordTiming(&q.st.dequeueMicros, &q.st.maxDequeueMicros, begin)
		q.st.dequeue.Add(1)
	}
	return p, OK
}

// Release scrubs a consumed payload. Mandatory after every successful
// Dequeue, before the next one: full/empty disambiguation relies on consumed
// regions reading as all-zero, and skipping the scrub would let a future
// shorter payload leave stale bytes where a later slot header may land.
func Release(p []byte) {
	clear(p)
}

// Inspect atomically loads the marker at a buffer offset without side
// effects. For diagnostics only. The offset must be slot-aligned and leave
// room for a header; otherwise, and on a detached handle, Inspect returns
// the zero (invalid) marker.
func (q *Queue) Inspect(offset uint64) Marker {
	if q.buf == nil || offset%slotAlign != 0 || offset+slotHeaderSize > q.hdr.capacity {
		return 0
	}
	return Marker(q.slot(offset).marker.Load())
}
