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
	"runtime"
	"sync/atomic"
	"time"
)

// ErrWaitTimeout indicates a bounded wait gave up before the flag reached
// the wanted value, usually because the peer is gone.
var ErrWaitTimeout = errors.New("timed out waiting for peer")

// WaitStrategy controls how a role waits for the handshake flag to reach the
// value it needs. Wait returns once *addr == want; Wake notifies a peer that
// may be blocked in a kernel wait (it is a no-op for spinning strategies).
type WaitStrategy interface {
	Wait(addr *uint32, want uint32) error
	Wake(addr *uint32)
}

// SpinWait busy-waits on the flag with no sleep or yield. This is the
// measured configuration: it burns a core in exchange for minimal handoff
// latency. A dead peer means spinning forever.
type SpinWait struct{}

// Wait spins until *addr == want.
func (SpinWait) Wait(addr *uint32, want uint32) error {
	for atomic.LoadUint32(addr) != want {
	}
	return nil
}

// Wake is a no-op; the peer observes the flag by polling.
func (SpinWait) Wake(*uint32) {}

// YieldWait spins but yields the processor between polls, for running both
// roles on fewer cores than participants.
type YieldWait struct{}

// Wait spins with a scheduler yield between polls until *addr == want.
func (YieldWait) Wait(addr *uint32, want uint32) error {
	for atomic.LoadUint32(addr) != want {
		runtime.Gosched()
	}
	return nil
}

// Wake is a no-op; the peer observes the flag by polling.
func (YieldWait) Wake(*uint32) {}

// SpinLimitWait busy-waits with a deadline so a stuck peer surfaces as
// ErrWaitTimeout instead of a hang. Intended for automated runs; the
// deadline check is amortized over batches of polls to keep the hot path
// close to SpinWait.
type SpinLimitWait struct {
	Timeout time.Duration
}

// Polls between deadline checks.
const spinLimitBatch = 1024

// Wait spins until *addr == want or the timeout elapses.
func (w SpinLimitWait) Wait(addr *uint32, want uint32) error {
	deadline := time.Now().Add(w.Timeout)
	for {
		for i := 0; i < spinLimitBatch; i++ {
			if atomic.LoadUint32(addr) == want {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %v", ErrWaitTimeout, w.Timeout)
		}
		runtime.Gosched()
	}
}

// Wake is a no-op; the peer observes the flag by polling.
func (SpinLimitWait) Wake(*uint32) {}

// NewWaitStrategy builds a wait strategy by name: "spin" (default),
// "spinlimit", "yield", or "futex" (Linux only). timeout applies to
// "spinlimit" and must be positive for it.
func NewWaitStrategy(name string, timeout time.Duration) (WaitStrategy, error) {
	switch name {
	case "", "spin":
		return SpinWait{}, nil
	case "yield":
		return YieldWait{}, nil
	case "spinlimit":
		if timeout <= 0 {
			return nil, fmt.Errorf("spinlimit wait requires a positive timeout, got %v", timeout)
		}
		return SpinLimitWait{Timeout: timeout}, nil
	case "futex":
		return newFutexWait()
	default:
		return nil, fmt.Errorf("unknown wait strategy %q", name)
	}
}
