// stats.go: Shared statistics block
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import "sync/atomic"

// statsBlock lives inside the ring header, so every attached process and any
// passive inspector accumulates into and reads the same counters. All
// updates are atomic; when statistics are disabled at creation the protocol
// never touches the block.
type statsBlock struct {
	queueTry   atomic.Uint64
	queue      atomic.Uint64
	dequeueTry atomic.Uint64
	dequeue    atomic.Uint64
	overflow   atomic.Uint64

	queueMicros      atomic.Uint64
	maxQueueMicros   atomic.Uint64
	dequeueMicros    atomic.Uint64
	maxDequeueMicros atomic.Uint64
}

const statsBlockSize = 9 * 8

// Stats is a point-in-time snapshot of a segment's shared counters.
//
// Counters are cumulative since creation: EnqueueTried/Enqueued and
// DequeueTried/Dequeued count attempts and completions, Overflows counts
// wraparound events on either side. The gauges report the duration of the
// most recent and the slowest successful operation, in microseconds, at the
// resolution of the internal time cache.
type Stats struct {
	EnqueueTried uint64 `json:"enqueue_tried"`
	Enqueued     uint64 `json:"enqueued"`
	DequeueTried uint64 `json:"dequeue_tried"`
	Dequeued     uint64 `json:"dequeued"`
	Overflows    uint64 `json:"overflows"`

	EnqueueMicros    uint64 `json:"enqueue_micros"`
	MaxEnqueueMicros uint64 `json:"max_enqueue_micros"`
	DequeueMicros    uint64 `json:"dequeue_micros"`
	MaxDequeueMicros uint64 `json:"max_dequeue_micros"`
}

// Stats returns a snapshot of the segment's counters, or nil when the
// segment was created without statistics.
func (q *Queue) Stats() *Stats {
	if !q.statsOn {
		return nil
	}
	return &Stats{
		EnqueueTried: q.st.queueTry.Load(),
		Enqueued:     q.st.queue.Load(),
		DequeueTried: q.st.dequeueTry.Load(),
		Dequeued:     q.st.dequeue.Load(),
		Overflows:    q.st.overflow.Load(),

		EnqueueMicros:    q.st.queueMicros.Load(),
		MaxEnqueueMicros: q.st.maxQueueMicros.Load(),
		DequeueMicros:    q.st.dequeueMicros.Load(),
		MaxDequeueMicros: q.st.maxDequeueMicros.Load(),
	}
}

// recordTiming stores the elapsed microseconds since begin into the current
// gauge and folds it into the max gauge.
func (q *Queue) recordTiming(cur, max *atomic.Uint64, begin int64) {
	elapsed := q.clock.CachedTime().UnixMicro() - begin
	if elapsed < 0 {
		elapsed = 0
	}
	v := uint64(elapsed)
	cur.Store(v)
	for {
		prev := max.Load()
		if v <= prev || max.CompareAndSwap(prev, v) {
			return
		}
	}
}
