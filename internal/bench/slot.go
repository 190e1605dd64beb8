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

package bench

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Handshake flag states
const (
	slotEmpty = uint32(0) // payload area writable by the publisher
	slotFull  = uint32(1) // payload area readable by the consumer
)

// ErrPayloadTooLarge indicates a payload exceeding the slot capacity
var ErrPayloadTooLarge = errors.New("payload exceeds slot capacity")

// Slot is a wait-free single-producer single-consumer handshake cell over a
// shared memory segment. Exactly one message is in flight at any time: the
// publisher may write the payload area only while the flag is 0, the consumer
// may read it only while the flag is 1, and each hands the area to the other
// by flipping the flag.
//
// The flag is accessed with sync/atomic, which orders the payload copy before
// the flag store from the peer's perspective: a consumer that observes flag
// == 1 is guaranteed to observe the complete payload, and a publisher that
// observes flag == 0 is guaranteed the consumer is done with the area.
type Slot struct {
	mem []byte // the mapped region (no copying)
	max uint64 // payload area capacity
	// No Go pointers into shared memory stored here; compute addresses on demand
}

// NewSlot creates a Slot over a segment's mapped region.
func NewSlot(seg *Segment) *Slot {
	return &Slot{
		mem: seg.Mem,
		max: seg.Header().MaxPayload(),
	}
}

// header returns a pointer to the SlotHeader in shared memory
func (s *Slot) header() *SlotHeader {
	return (*SlotHeader)(unsafe.Pointer(&s.mem[0]))
}

// payloadArea returns the payload bytes following the header
func (s *Slot) payloadArea() []byte {
	return s.mem[SlotHeaderSize : SlotHeaderSize+s.max]
}

// MaxPayload returns the payload area capacity in bytes.
func (s *Slot) MaxPayload() uint64 {
	return s.max
}

// Flag returns the current handshake flag value.
func (s *Slot) Flag() uint32 {
	return s.header().Flag()
}

// flagAddr returns the address of the flag word for wait strategies
func (s *Slot) flagAddr() *uint32 {
	return s.header().FlagAddr()
}

// TryPublish copies src into the payload area and marks the slot full.
// It returns false without touching the payload if the slot is not empty.
// src must not exceed MaxPayload.
func (s *Slot) TryPublish(src []byte) bool {
	if atomic.LoadUint32(s.flagAddr()) != slotEmpty {
		return false
	}
	copy(s.payloadArea()[:len(src)], src)
	// Release store: the copy above is visible before the flag flip
	atomic.StoreUint32(s.flagAddr(), slotFull)
	return true
}

// TryConsume copies the payload area into dst and marks the slot empty.
// It returns false without touching dst if the slot is not full.
// dst must not exceed MaxPayload.
func (s *Slot) TryConsume(dst []byte) bool {
	if atomic.LoadUint32(s.flagAddr()) != slotFull {
		return false
	}
	copy(dst, s.payloadArea()[:len(dst)])
	atomic.StoreUint32(s.flagAddr(), slotEmpty)
	return true
}

// Publish blocks with the given wait strategy until the slot is empty, then
// copies src into the payload area and marks the slot full.
func (s *Slot) Publish(src []byte, w WaitStrategy) error {
	if uint64(len(src)) > s.max {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(src), s.max)
	}
	if err := w.Wait(s.flagAddr(), slotEmpty); err != nil {
		return err
	}
	copy(s.payloadArea()[:len(src)], src)
	atomic.StoreUint32(s.flagAddr(), slotFull)
	w.Wake(s.flagAddr())
	return nil
}

// Consume blocks with the given wait strategy until the slot is full, then
// copies the payload into dst and marks the slot empty.
func (s *Slot) Consume(dst []byte, w WaitStrategy) error {
	if uint64(len(dst)) > s.max {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(dst), s.max)
	}
	if err := w.Wait(s.flagAddr(), slotFull); err != nil {
		return err
	}
	copy(dst, s.payloadArea()[:len(dst)])
	atomic.StoreUint32(s.flagAddr(), slotEmpty)
	w.Wake(s.flagAddr())
	return nil
}
