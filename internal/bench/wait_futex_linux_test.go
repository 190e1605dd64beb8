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
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFutexWaitStrategyAvailable(t *testing.T) {
	w, err := NewWaitStrategy("futex", 0)
	require.NoError(t, err)
	require.IsType(t, FutexWait{}, w)
}

func TestFutexWaitSatisfiedImmediately(t *testing.T) {
	var flag uint32 = slotFull
	require.NoError(t, FutexWait{}.Wait(&flag, slotFull))
}

func TestFutexWaitWake(t *testing.T) {
	seg, err := CreateAnonymousSegment(8)
	require.NoError(t, err)
	defer seg.Close()

	addr := seg.Header().FlagAddr()
	w := FutexWait{}

	done := make(chan error, 1)
	go func() {
		done <- w.Wait(addr, slotFull)
	}()

	// Give the waiter time to park, then flip the flag and wake it
	time.Sleep(20 * time.Millisecond)
	atomic.StoreUint32(addr, slotFull)
	w.Wake(addr)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("futex waiter was not woken")
	}
}

func TestFutexWaitWakeSingleProc(t *testing.T) {
	// A parked futex waiter must release its P. With GOMAXPROCS(1) the
	// in-process waker goroutine can only run while the waiter is parked
	// if the wait path enters the scheduler's syscall state; a raw
	// syscall here freezes the whole runtime until the wake that can
	// never be sent.
	old := runtime.GOMAXPROCS(1)
	defer runtime.GOMAXPROCS(old)

	seg, err := CreateAnonymousSegment(8)
	require.NoError(t, err)
	defer seg.Close()

	addr := seg.Header().FlagAddr()
	w := FutexWait{}

	go func() {
		time.Sleep(10 * time.Millisecond)
		atomic.StoreUint32(addr, slotFull)
		w.Wake(addr)
	}()

	done := make(chan error, 1)
	go func() {
		done <- w.Wait(addr, slotFull)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("futex waiter starved the single-P runtime")
	}
}

func TestFutexSlotHandoff(t *testing.T) {
	slot := newTestSlot(t, 64)
	w := FutexWait{}

	const iterations = 200
	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		for i := 0; i < iterations; i++ {
			if err := slot.Consume(buf, w); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	msg := make([]byte, 16)
	for i := 0; i < iterations; i++ {
		stampPattern(msg, 16, i)
		require.NoError(t, slot.Publish(msg, w))
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("futex handoff did not complete")
	}
}
