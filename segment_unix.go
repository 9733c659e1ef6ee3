// segment_unix.go: Shared-memory segment lifecycle
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

//go:build unix

package styx

import (
	"errors"
	"fmt"
	"io/fs"
	"math/bits"
	"os"
	"path/filepath"
	"time"
	"unsafe"

	"github.com/agilira/go-timecache"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	ringMagic   uint64 = 0x5354595852494e47 // "STYXRING"
	ringVersion uint64 = 1
)

// timingResolution is the resolution of the cached clock feeding the
// microsecond stats gauges.
const timingResolution = 100 * time.Microsecond

// segmentPath derives the backing file for a segment name. Deterministic:
// two processes using the same name and directory reach the same segment.
func segmentPath(dir, name string) string {
	return filepath.Join(dir, filePrefix+name)
}

// Create creates a segment of the given usable capacity in the default
// directory and returns a handle attached to it. Statistics are disabled;
// use CreateWithConfig to enable them or to change directory and mode.
func Create(name string, capacity uint64) (*Queue, error) {
	return createSegment(&Config{Name: name}, capacity)
}

// CreateWithConfig creates a segment described by the config, parsing the
// capacity string, and returns a handle attached to it.
//
// Creation zeroes the region and initializes both cursors, so re-creating
// an existing segment yields an empty ring.
func CreateWithConfig(cfg *Config) (*Queue, error) {
	capacity, err := ParseCapacity(cfg.Capacity)
	if err != nil {
		return nil, err
	}
	return createSegment(cfg, capacity)
}

func createSegment(cfg *Config, capacity uint64) (*Queue, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	if capacity < minCapacity {
		return nil, fmt.Errorf("%w: %d bytes (minimum: %d)", ErrCapacityTooSmall, capacity, minCapacity)
	}

	// The effective capacity adds one header-sized slot so the reserved
	// end-of-ring sentinel region is free to the caller.
	effective := alignSlot(capacity) + slotHeaderSize
	total := uint64(ringHeaderSize) + effective

	path := segmentPath(cfg.Dir, cfg.Name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, cfg.FileMode)
	if err != nil {
		return nil, fmt.Errorf("create segment %q: %w", cfg.Name, err)
	}
	if err := f.Truncate(int64(total)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("size segment %q to %d bytes: %w", cfg.Name, total, err)
	}

	mem, err := mapSegment(f, int(total))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("map segment %q: %w", cfg.Name, err)
	}
	// The mapping keeps the segment alive on its own.
	_ = f.Close()

	// A reused backing file may hold a previous ring; the protocol needs
	// every slot position to start out invalid.
	clear(mem)

	hdr := (*ringHeader)(unsafe.Pointer(&mem[0]))
	hdr.magic = ringMagic
	hdr.version = ringVersion
	hdr.capacity = effective
	if cfg.Stats {
		hdr.flags |= flagStats
	}
	copy(hdr.name[:], cfg.Name)

	q := newQueue(cfg, path, mem, hdr)
	q.log.Info("created ring segment",
		zap.String("name", cfg.Name),
		zap.String("path", path),
		zap.Uint64("capacity", effective),
		zap.Bool("stats", cfg.Stats),
	)
	return q, nil
}

// Attach opens an existing segment by name in the default directory.
// Attaching does not reinitialize cursors or contents.
func Attach(name string) (*Queue, error) {
	return AttachWithConfig(&Config{Name: name})
}

// AttachWithConfig opens an existing segment described by the config. Only
// Name, Dir and Logger are consulted: capacity, statistics and permissions
// are fixed by the creator.
func AttachWithConfig(cfg *Config) (*Queue, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}

	path := segmentPath(cfg.Dir, cfg.Name)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("attach segment %q: %w", cfg.Name, ErrNotFound)
		}
		return nil, fmt.Errorf("attach segment %q: %w", cfg.Name, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat segment %q: %w", cfg.Name, err)
	}
	size := fi.Size()
	if size < int64(ringHeaderSize)+minCapacity {
		_ = f.Close()
		return nil, fmt.Errorf("attach segment %q: %d bytes: %w", cfg.Name, size, ErrIncompatible)
	}

	mem, err := mapSegment(f, int(size))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("map segment %q: %w", cfg.Name, err)
	}

	_ = f.Close()

	hdr := (*ringHeader)(unsafe.Pointer(&mem[0]))
	if hdr.magic != ringMagic || hdr.version != ringVersion ||
		uint64(ringHeaderSize)+hdr.capacity > uint64(size) {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("attach segment %q: %w", cfg.Name, ErrIncompatible)
	}

	q := newQueue(cfg, path, mem, hdr)
	q.log.Info("attached ring segment",
		zap.String("name", cfg.Name),
		zap.String("path", path),
		zap.Uint64("capacity", hdr.capacity),
	)
	return q, nil
}

func mapSegment(f *os.File, size int) ([]byte, error) {
	// The marker protocol does 64-bit atomic loads and stores straight
	// into the mapping; 32-bit platforms cannot guarantee them.
	if bits.UintSize != 64 {
		return nil, errors.New("styx requires a 64-bit platform")
	}
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func newQueue(cfg *Config, path string, mem []byte, hdr *ringHeader) *Queue {
	q := &Queue{
		name:    cfg.Name,
		path:    path,
		mem:     mem,
		buf:     mem[ringHeaderSize : uint64(ringHeaderSize)+hdr.capacity],
		hdr:     hdr,
		st:      &hdr.stats,
		statsOn: hdr.flags&flagStats != 0,
		log:     cfg.Logger,
	}
	if q.statsOn {
		q.clock = timecache.NewWithResolution(timingResolution)
	}
	return q
}

// Detach drops this process's mapping. The segment and its contents stay
// alive for other attachments. The handle is dead afterwards; Detach on a
// dead handle is a no-op.
func (q *Queue) Detach() error {
	if q.mem == nil {
		return nil
	}
	if q.clock != nil {
		q.clock.Stop()
		q.clock = nil
	}
	mem := q.mem
	q.mem, q.buf, q.hdr, q.st = nil, nil, nil, nil
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("detach segment %q: %w", q.name, err)
	}
	q.log.Info("detached ring segment", zap.String("name", q.name))
	return nil
}

// Close makes a Queue an io.Closer; it is equivalent to Detach.
func (q *Queue) Close() error { return q.Detach() }

// Destroy detaches and removes the OS resource. Behavior is undefined if
// other attachments remain; coordinating teardown belongs to the caller.
func (q *Queue) Destroy() error {
	path := q.path
	if err := q.Detach(); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("destroy segment %q: %w", q.name, err)
	}
	q.log.Info("destroyed ring segment", zap.String("name", q.name), zap.String("path", path))
	return nil
}
