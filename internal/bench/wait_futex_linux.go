//go:build linux

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
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux futex operations. The non-private forms are required: the flag word
// lives in a MAP_SHARED mapping and the waiter and waker are different
// processes, which the FUTEX_*_PRIVATE variants do not support.
const (
	futexOpWait = 0 // FUTEX_WAIT
	futexOpWake = 1 // FUTEX_WAKE
)

// FutexWait parks the caller in the kernel until the flag changes instead of
// spinning. It measures wakeup-path cost rather than raw handoff latency;
// useful as a contrast configuration, not the benchmark default.
type FutexWait struct{}

func newFutexWait() (WaitStrategy, error) {
	return FutexWait{}, nil
}

// Wait blocks until *addr == want, parking in the kernel while the value is
// unchanged. Spurious wakeups re-check the condition.
func (FutexWait) Wait(addr *uint32, want uint32) error {
	for {
		cur := atomic.LoadUint32(addr)
		if cur == want {
			return nil
		}
		if err := futexWait(addr, cur); err != nil {
			return err
		}
	}
}

// Wake wakes one waiter parked on the flag word.
func (FutexWait) Wake(addr *uint32) {
	futexWake(addr, 1)
}

// futexWait waits for the value at addr to change from val. It returns when
// either the value at addr is no longer equal to val, another process calls
// futexWake on the same address, or the system call is interrupted. Always
// re-check the condition after this returns due to possible spurious wakeups.
func futexWait(addr *uint32, val uint32) error {
	// Re-check atomically before entering the syscall; this closes the
	// lost-wake window between the caller's snapshot and futex entry
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	// Syscall6, not RawSyscall6: the wait can block indefinitely, and the
	// parked thread must release its P or a GOMAXPROCS=1 process freezes
	// every other goroutine, including an in-process waker.
	// syscall number, uaddr, futex_op, val, timeout, uaddr2, val3
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWait,
		uintptr(val),
		0, // timeout - infinite (NULL)
		0, // uaddr2 - unused
		0, // val3 - unused
	)

	if errno != 0 {
		// EAGAIN means the value no longer matched; EINTR means a signal
		// interrupted the wait. Neither is an error for this protocol.
		if errno == unix.EAGAIN || errno == unix.EINTR {
			return nil
		}
		return fmt.Errorf("futex wait failed: %w", errno)
	}
	return nil
}

// futexWake wakes up to n waiters on addr. Returns the number of waiters
// woken; zero simply means nobody was parked. The wake never blocks, so the
// raw syscall path is fine here.
func futexWake(addr *uint32, n uint32) int {
	woken, _, errno := unix.RawSyscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWake,
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		return 0
	}
	return int(woken)
}
