/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package bench implements a shared-memory ping-pong micro-benchmark between
// two cooperating processes on the same host. One process publishes payloads
// into a flag-gated shared memory slot, the other consumes them, and both
// report per-size latency and bandwidth derived from a fixed iteration count.
package bench

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"
)

// Memory layout constants
const (
	// Magic bytes for slot identification
	SlotMagic = "SHMPP\x00\x00\x00"

	// Current layout version
	SlotVersion = uint32(1)

	// Slot header size (aligned to 64 bytes); the payload area starts
	// immediately after the header
	SlotHeaderSize = 64

	// DefaultMaxPayload is the largest payload the default sweep transfers
	DefaultMaxPayload = uint64(256 * 1024)
)

// segmentFilePrefix namespaces segment files under /dev/shm and the
// temporary directory.
const segmentFilePrefix = "shmpp_"

// SlotHeader is the fixed-size header at the start of every segment.
// The flag word is the sole synchronization primitive between the two
// processes: 0 means the payload area is empty (ready for the sender),
// 1 means it is full (ready for the receiver).
type SlotHeader struct {
	magic      [8]byte  // 0x00: "SHMPP\0\0\0"
	version    uint32   // 0x08: layout version
	flag       uint32   // 0x0C: handshake flag (0 empty, 1 full)
	maxPayload uint64   // 0x10: payload area capacity in bytes
	reserved   [40]byte // 0x18-0x3F: reserved/padding to 64B
}

// Magic returns the magic bytes
func (h *SlotHeader) Magic() [8]byte {
	return h.magic
}

// SetMagic sets the magic bytes
func (h *SlotHeader) SetMagic(magic [8]byte) {
	h.magic = magic
}

// Version returns the layout version
func (h *SlotHeader) Version() uint32 {
	return atomic.LoadUint32(&h.version)
}

// SetVersion sets the layout version
func (h *SlotHeader) SetVersion(version uint32) {
	atomic.StoreUint32(&h.version, version)
}

// Flag returns the current handshake flag value
func (h *SlotHeader) Flag() uint32 {
	return atomic.LoadUint32(&h.flag)
}

// SetFlag sets the handshake flag value
func (h *SlotHeader) SetFlag(v uint32) {
	atomic.StoreUint32(&h.flag, v)
}

// FlagAddr returns the address of the handshake flag word for wait
// strategies that operate on the raw word (spinning, futex).
func (h *SlotHeader) FlagAddr() *uint32 {
	return &h.flag
}

// MaxPayload returns the payload area capacity in bytes
func (h *SlotHeader) MaxPayload() uint64 {
	return atomic.LoadUint64(&h.maxPayload)
}

// SetMaxPayload sets the payload area capacity in bytes
func (h *SlotHeader) SetMaxPayload(n uint64) {
	atomic.StoreUint64(&h.maxPayload, n)
}

// slotMagicBytes returns SlotMagic as a fixed-size array.
func slotMagicBytes() [8]byte {
	var magic [8]byte
	copy(magic[:], SlotMagic)
	return magic
}

// SegmentSize returns the total segment size for a given payload capacity.
func SegmentSize(maxPayload uint64) uint64 {
	return SlotHeaderSize + maxPayload
}

// ValidateSlotHeader validates a slot header for consistency against the
// mapped region size.
func ValidateSlotHeader(h *SlotHeader, mappedSize uint64) error {
	if h.Magic() != slotMagicBytes() {
		return fmt.Errorf("invalid magic bytes")
	}
	if h.Version() != SlotVersion {
		return fmt.Errorf("unsupported version %d, expected %d", h.Version(), SlotVersion)
	}
	if SegmentSize(h.MaxPayload()) != mappedSize {
		return fmt.Errorf("size mismatch: header declares %d payload bytes, mapped %d total",
			h.MaxPayload(), mappedSize)
	}
	if f := h.Flag(); f != slotEmpty && f != slotFull {
		return fmt.Errorf("corrupt flag value %d", f)
	}
	return nil
}

// Segment represents a mapped shared memory segment holding one handshake
// slot. The creator owns the backing file and removes it on Close; openers
// only unmap.
type Segment struct {
	File *os.File // Backing file, nil for anonymous segments
	Mem  []byte   // Memory-mapped region
	Path string   // Backing file path, empty for anonymous segments

	owner bool
}

// Header returns a typed view of the slot header at the start of the region.
func (s *Segment) Header() *SlotHeader {
	return (*SlotHeader)(unsafe.Pointer(&s.Mem[0]))
}

// CreateSegment creates a new shared memory segment sized for maxPayload and
// initializes its header. An empty name generates a collision-free one.
// The flag starts at 0 (empty), which is the sender's initial wait state.
func CreateSegment(name string, maxPayload uint64) (*Segment, error) {
	if name == "" {
		name = uuid.NewString()
	}
	path := generateSegmentPath(name)
	totalSize := SegmentSize(maxPayload)

	// Create the file with exclusive access
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment file %s: %w", path, err)
	}

	// Ensure cleanup on error
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	// Set the file size
	if err := file.Truncate(int64(totalSize)); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to resize segment file: %w", err)
	}

	// Memory map the file
	mem, err := mmapFile(file, int(totalSize))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}

	segment := &Segment{
		File:  file,
		Mem:   mem,
		Path:  path,
		owner: true,
	}

	// Initialize the header. mmap of a freshly truncated file is
	// zero-filled, so the flag is already 0; the stores below make the
	// layout explicit for openers.
	hdr := segment.Header()
	hdr.SetMagic(slotMagicBytes())
	hdr.SetVersion(SlotVersion)
	hdr.SetMaxPayload(maxPayload)
	hdr.SetFlag(slotEmpty)

	return segment, nil
}

// OpenSegment opens an existing shared memory segment by name and validates
// its header. The opener does not own the backing file.
func OpenSegment(name string) (*Segment, error) {
	path := generateSegmentPath(name)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat segment file: %w", err)
	}

	size := info.Size()
	if size < SlotHeaderSize {
		file.Close()
		return nil, fmt.Errorf("segment file too small: %d bytes", size)
	}

	mem, err := mmapFile(file, int(size))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}

	segment := &Segment{
		File: file,
		Mem:  mem,
		Path: path,
	}

	if err := ValidateSlotHeader(segment.Header(), uint64(size)); err != nil {
		munmapFile(mem)
		file.Close()
		return nil, fmt.Errorf("invalid slot header: %w", err)
	}

	return segment, nil
}

// CreateAnonymousSegment creates a process-private anonymous segment. It is
// not reachable from another process; goroutines sharing the mapping use it
// for in-process protocol runs and tests.
func CreateAnonymousSegment(maxPayload uint64) (*Segment, error) {
	totalSize := SegmentSize(maxPayload)
	mem, err := mmapAnonymous(int(totalSize))
	if err != nil {
		return nil, fmt.Errorf("failed to map anonymous segment: %w", err)
	}

	segment := &Segment{Mem: mem, owner: true}

	hdr := segment.Header()
	hdr.SetMagic(slotMagicBytes())
	hdr.SetVersion(SlotVersion)
	hdr.SetMaxPayload(maxPayload)
	hdr.SetFlag(slotEmpty)

	return segment, nil
}

// Close unmaps the memory, closes the backing file, and removes it if this
// segment created it.
func (s *Segment) Close() error {
	var firstErr error

	if s.Mem != nil {
		if err := munmapFile(s.Mem); err != nil && firstErr == nil {
			firstErr = err
		}
		s.Mem = nil
	}

	if s.File != nil {
		if err := s.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.File = nil
	}

	if s.owner && s.Path != "" {
		if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// generateSegmentPath generates the file path for a shared memory segment
func generateSegmentPath(name string) string {
	// Prefer /dev/shm (tmpfs) so the mapping never touches a disk
	if isDevShmAvailable() {
		return filepath.Join("/dev/shm", segmentFilePrefix+name)
	}
	return filepath.Join(os.TempDir(), segmentFilePrefix+name)
}

// isDevShmAvailable checks if /dev/shm is available and a directory
func isDevShmAvailable() bool {
	info, err := os.Stat("/dev/shm")
	if err != nil {
		return false
	}
	return info.IsDir()
}

// SegmentExists checks if a shared memory segment file exists
func SegmentExists(name string) bool {
	_, err := os.Stat(generateSegmentPath(name))
	return err == nil
}

// SegmentNameFromPath recovers a segment's name from its backing file path,
// the inverse of generateSegmentPath.
func SegmentNameFromPath(path string) string {
	return strings.TrimPrefix(filepath.Base(path), segmentFilePrefix)
}
