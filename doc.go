// doc.go: Package documentation
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package styx provides a lock-free single-producer / single-consumer byte
// queue living in a POSIX shared-memory segment, designed for moving
// variable-sized opaque payloads between two processes on the same host.
//
// Styx performs zero syscalls and zero allocations on the fast path. A
// producer reserves ring space by advancing the tail cursor with a CAS and
// publishes a slot header last; a consumer claims payloads by reading the
// header at the head cursor and advancing it the same way. Correctness comes
// from atomic header publication and atomic cursor updates - no mutexes
// anywhere.
//
// # Quick Start
//
// Producer process:
//
//	q, err := styx.Create("telemetry", 1<<20)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer q.Destroy()
//
//	for q.Enqueue(payload) != styx.OK {
//		// Full or CASRetry: back off and try again
//	}
//
// Consumer process:
//
//	q, err := styx.Attach("telemetry")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer q.Detach()
//
//	p, st := q.Dequeue()
//	if st == styx.OK {
//		handle(p)
//		styx.Release(p) // mandatory: scrubs the consumed bytes
//	}
//
// # Protocol
//
// Every payload is preceded by a fixed-size slot header holding the payload
// length and a Marker word. The marker binds the slot to its own byte offset
// and carries the read/unread bit, so one atomic load tells the consumer both
// that the header belongs to the current position and that the producer has
// finished publishing it. A header-sized region at the end of the buffer is
// always kept free so the producer can publish an end-of-ring sentinel that
// tells the consumer to wrap back to offset zero.
//
// Operations never block. Enqueue returns Full when the slot it is about to
// claim still holds unconsumed data, Dequeue returns Empty when no published
// slot is waiting, and both return CASRetry when a cursor race or a
// wraparound sentinel asks the caller to simply try again. Retry policy
// belongs to the caller.
//
// # Ownership
//
// Dequeue exposes the payload in place: the returned slice aliases the shared
// segment. The consumer owns those bytes only until it calls Release, which
// zeroes them. Releasing is part of the protocol, not hygiene - full/empty
// disambiguation relies on consumed regions reading as all-zero.
//
// # Concurrency Model
//
// Exactly one producer identity and exactly one consumer identity, in the
// same process or in two processes attached to the same segment. Any number
// of passive inspectors may read cursors, markers and statistics. Using more
// than one producer or consumer is a programming error, not a recoverable
// runtime state.
//
// # Statistics
//
// A segment created with Config.Stats carries shared counters and microsecond
// timing gauges updated at well-defined protocol points. They live inside the
// segment header, so both sides and any inspector observe one set of numbers.
//
// Styx requires a 64-bit platform: the cross-process protocol uses atomic
// 64-bit loads and stores on memory-mapped words.
package styx
