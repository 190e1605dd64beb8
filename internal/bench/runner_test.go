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
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// runPair executes both roles of a sweep concurrently over one slot and
// returns the sender and receiver measurements. The bounded wait strategy
// keeps a broken protocol from hanging the test binary.
func runPair(t *testing.T, slot *Slot, iterations int, sizes []uint64, verify bool, txOut, rxOut *bytes.Buffer) ([]Measurement, []Measurement) {
	t.Helper()
	wait := SpinLimitWait{Timeout: 10 * time.Second}

	tx := &Runner{Slot: slot, Wait: wait, Iterations: iterations, Sizes: sizes, Verify: verify, Out: txOut}
	rx := &Runner{Slot: slot, Wait: wait, Iterations: iterations, Sizes: sizes, Verify: verify, Out: rxOut}

	type result struct {
		ms  []Measurement
		err error
	}
	rxDone := make(chan result, 1)
	go func() {
		ms, err := rx.Run(RoleReceiver)
		rxDone <- result{ms, err}
	}()

	txMs, txErr := tx.Run(RoleSender)
	require.NoError(t, txErr)

	select {
	case res := <-rxDone:
		require.NoError(t, res.err)
		return txMs, res.ms
	case <-time.After(30 * time.Second):
		t.Fatal("receiver did not finish")
		return nil, nil
	}
}

func TestRunnerEndToEndSweep(t *testing.T) {
	// Reduced reference scenario: 100 iterations over sizes [0 1 2]
	slot := newTestSlot(t, 2)
	sizes := []uint64{0, 1, 2}
	var txOut, rxOut bytes.Buffer

	txMs, rxMs := runPair(t, slot, 100, sizes, true, &txOut, &rxOut)

	require.Len(t, txMs, 3)
	require.Len(t, rxMs, 3)
	for i, size := range sizes {
		for _, m := range []Measurement{txMs[i], rxMs[i]} {
			require.Equal(t, size, m.Size)
			require.Equal(t, 100, m.Iterations)
			require.GreaterOrEqual(t, m.Elapsed, 0.0)
		}
		require.Equal(t, RoleSender, txMs[i].Role)
		require.Equal(t, RoleReceiver, rxMs[i].Role)
	}

	// 2 roles x 3 sizes = 6 report lines, every line carries the
	// iteration count
	lines := append(nonEmptyLines(txOut.String()), nonEmptyLines(rxOut.String())...)
	require.Len(t, lines, 6)
	for _, line := range lines {
		require.Contains(t, line, "iters = 100")
	}

	// Terminal flag state is empty, ready for another sweep
	require.Equal(t, slotEmpty, slot.Flag())
}

func TestRunnerIntegrityAcrossSizeTransitions(t *testing.T) {
	// No explicit barrier separates consecutive sizes; the flag protocol
	// alone must keep the roles aligned through every transition
	slot := newTestSlot(t, 64)
	sizes := SizeSequence(64)
	var txOut, rxOut bytes.Buffer

	txMs, rxMs := runPair(t, slot, 300, sizes, true, &txOut, &rxOut)

	require.Len(t, txMs, len(sizes))
	require.Len(t, rxMs, len(sizes))
	for i := range sizes {
		// Iteration count conservation: both sides completed every
		// transfer of every size
		require.Equal(t, txMs[i].Iterations, rxMs[i].Iterations)
		require.Equal(t, txMs[i].Size, rxMs[i].Size)
	}
}

func TestRunnerZeroSizeBandwidth(t *testing.T) {
	slot := newTestSlot(t, 1)
	var txOut, rxOut bytes.Buffer

	txMs, rxMs := runPair(t, slot, 50, []uint64{0}, false, &txOut, &rxOut)

	require.Equal(t, 0.0, txMs[0].Bandwidth)
	require.Equal(t, 0.0, rxMs[0].Bandwidth)
	for _, line := range nonEmptyLines(txOut.String() + rxOut.String()) {
		require.NotContains(t, line, "NaN")
		require.NotContains(t, line, "Inf")
	}
}

func TestRunnerRejectsOversizedSweep(t *testing.T) {
	slot := newTestSlot(t, 4)
	r := &Runner{
		Slot:       slot,
		Wait:       SpinLimitWait{Timeout: time.Second},
		Iterations: 1,
		Sizes:      []uint64{0, 8},
		Out:        &bytes.Buffer{},
	}

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 4)
		done <- slot.Consume(buf, SpinLimitWait{Timeout: 5 * time.Second})
	}()

	_, err := r.Run(RoleSender)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	require.NoError(t, <-done)
}

func TestRunnerRejectsBadParameters(t *testing.T) {
	slot := newTestSlot(t, 4)

	r := &Runner{Slot: slot, Wait: SpinWait{}, Iterations: 0, Sizes: []uint64{0}}
	_, err := r.Run(RoleSender)
	require.ErrorContains(t, err, "iterations must be positive")

	r.Iterations = 1
	_, err = r.Run(Role("Zz"))
	require.ErrorContains(t, err, "unknown role")
}

func TestRunnerVerifyCatchesCorruption(t *testing.T) {
	slot := newTestSlot(t, 8)
	wait := SpinLimitWait{Timeout: 5 * time.Second}

	// A sender that publishes garbage instead of the expected pattern
	done := make(chan error, 1)
	go func() {
		done <- slot.Publish([]byte("garbage!"), wait)
	}()

	rx := &Runner{
		Slot:       slot,
		Wait:       wait,
		Iterations: 1,
		Sizes:      []uint64{8},
		Verify:     true,
		Out:        &bytes.Buffer{},
	}
	_, err := rx.Run(RoleReceiver)
	require.ErrorContains(t, err, "payload mismatch")
	require.NoError(t, <-done)
}

func TestWallClockResolution(t *testing.T) {
	t1 := WallClock()
	time.Sleep(2 * time.Millisecond)
	t2 := WallClock()

	require.Greater(t, t2, t1, "clock must advance")
	require.Less(t, t2-t1, 1.0, "short interval must read as short")
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
