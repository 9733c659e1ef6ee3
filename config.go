// config.go: Segment configuration and validation
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"
)

// Pre-allocated errors for validation and lifecycle paths.
var (
	ErrNameRequired     = errors.New("segment name cannot be empty")
	ErrNameInvalid      = errors.New("segment name contains invalid characters")
	ErrNameTooLong      = errors.New("segment name too long")
	ErrCapacityTooSmall = errors.New("capacity cannot hold a slot plus the reserved sentinel")
	ErrNotFound         = errors.New("segment does not exist")
	ErrIncompatible     = errors.New("segment header is not a compatible styx ring")
)

const (
	// DefaultDir is where segment backing files live. /dev/shm is a tmpfs
	// on Linux, which keeps the mapping RAM-backed; any directory works
	// as long as both processes agree on it.
	DefaultDir = "/dev/shm"

	// DefaultFileMode matches the permissive mode of classic SysV IPC
	// tooling so producer and consumer may run as different users.
	// Tighten it through Config when they don't.
	DefaultFileMode os.FileMode = 0666

	filePrefix = "styx."

	// maxNameLen leaves room for the NUL-style terminator inside the
	// fixed name field of the ring header.
	maxNameLen = nameSize - 1

	// minCapacity is one empty slot plus the reserved sentinel slot.
	minCapacity = 2 * slotHeaderSize
)

// Config describes a segment to create or attach.
//
// Example:
//
//	q, err := styx.CreateWithConfig(&styx.Config{
//		Name:     "telemetry",
//		Capacity: "256KB",
//		Stats:    true,
//	})
type Config struct {
	// Name identifies the segment. Two processes using the same name and
	// Dir reach the same ring. Names map onto a single filename, so path
	// separators and NUL are rejected.
	Name string `json:"name"`

	// Capacity is the usable buffer size as a string (e.g. "64KB", "1MB").
	// The reserved sentinel slot is added on top, so the full requested
	// capacity stays available for payloads.
	Capacity string `json:"capacity"`

	// Dir is the directory holding the segment backing file.
	// Defaults to DefaultDir.
	Dir string `json:"dir"`

	// FileMode is used when creating the backing file (default: 0666).
	FileMode os.FileMode `json:"file_mode"`

	// Stats enables the shared statistics block. Fixed at creation;
	// attached handles inherit the creator's choice.
	Stats bool `json:"stats"`

	// Logger receives lifecycle events (create, attach, destroy).
	// The queue fast path never logs. Defaults to a no-op logger.
	Logger *zap.Logger `json:"-"`
}

// ParseCapacity converts capacity strings like "64KB", "1MB" to bytes.
// Plain numbers are bytes; units are 1024-based.
func ParseCapacity(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty capacity string")
	}
	v, err := datasize.ParseString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid capacity %q: %w", s, err)
	}
	return v.Bytes(), nil
}

// ValidateName checks that a segment name can be embedded in the ring
// header and mapped onto a single backing filename.
func ValidateName(name string) error {
	if name == "" {
		return ErrNameRequired
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("%w: %d bytes (limit: %d)", ErrNameTooLong, len(name), maxNameLen)
	}
	if strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: %q", ErrNameInvalid, name)
	}
	return nil
}

// normalized returns a copy with defaults applied and the name validated.
func (c *Config) normalized() (*Config, error) {
	if c == nil {
		return nil, ErrNameRequired
	}
	if err := ValidateName(c.Name); err != nil {
		return nil, err
	}
	out := *c
	if out.Dir == "" {
		out.Dir = DefaultDir
	}
	if out.FileMode == 0 {
		out.FileMode = DefaultFileMode
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return &out, nil
}
