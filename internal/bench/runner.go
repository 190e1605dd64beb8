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
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// Runner executes the full size sweep for one role over one slot. Both roles
// run the identical sweep independently; the flag protocol keeps them in
// lockstep, including across size transitions (the receiver's final clear of
// each size leaves the flag at 0, which is the sender's first wait state for
// the next size).
type Runner struct {
	Slot       *Slot
	Wait       WaitStrategy
	Clock      Clock
	Iterations int
	Sizes      []uint64

	// Verify makes the sender stamp each payload with a per-iteration
	// pattern and the receiver check it. It perturbs timing; off for real
	// measurements.
	Verify bool

	// Out receives one report line per size. Defaults to os.Stdout.
	Out io.Writer

	// Log receives lifecycle diagnostics, never measurement data.
	Log *zap.Logger
}

// Run executes the sweep for the given role and returns one measurement per
// size. Report lines are written to Out as each size completes.
func (r *Runner) Run(role Role) ([]Measurement, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if r.Iterations <= 0 {
		return nil, fmt.Errorf("iterations must be positive, got %d", r.Iterations)
	}
	out := r.Out
	if out == nil {
		out = os.Stdout
	}
	clock := r.Clock
	if clock == nil {
		clock = WallClock
	}
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}

	// One local buffer per process, reused across all sizes
	local := make([]byte, r.Slot.MaxPayload())

	log.Debug("sweep starting",
		zap.String("role", string(role)),
		zap.Int("iterations", r.Iterations),
		zap.Int("sizes", len(r.Sizes)))

	pid := os.Getpid()
	measurements := make([]Measurement, 0, len(r.Sizes))
	for _, size := range r.Sizes {
		if size > r.Slot.MaxPayload() {
			return measurements, fmt.Errorf("sweep size %d: %w (capacity %d)",
				size, ErrPayloadTooLarge, r.Slot.MaxPayload())
		}
		payload := local[:size]

		var err error
		start := clock()
		if role == RoleSender {
			err = r.sendBatch(payload, size)
		} else {
			err = r.receiveBatch(payload, size)
		}
		elapsed := clock() - start
		if err != nil {
			return measurements, fmt.Errorf("%s sweep failed at size %d: %w", role, size, err)
		}

		m := NewMeasurement(role, pid, size, r.Iterations, elapsed)
		measurements = append(measurements, m)
		fmt.Fprintln(out, m)
	}

	log.Debug("sweep complete", zap.String("role", string(role)))
	return measurements, nil
}

// sendBatch publishes the payload Iterations times.
func (r *Runner) sendBatch(payload []byte, size uint64) error {
	for i := 0; i < r.Iterations; i++ {
		if r.Verify {
			stampPattern(payload, size, i)
		}
		if err := r.Slot.Publish(payload, r.Wait); err != nil {
			return fmt.Errorf("iteration %d: %w", i, err)
		}
	}
	return nil
}

// receiveBatch consumes Iterations payloads, checking the pattern in verify
// mode.
func (r *Runner) receiveBatch(payload []byte, size uint64) error {
	var expect []byte
	if r.Verify {
		expect = make([]byte, len(payload))
	}
	for i := 0; i < r.Iterations; i++ {
		if err := r.Slot.Consume(payload, r.Wait); err != nil {
			return fmt.Errorf("iteration %d: %w", i, err)
		}
		if r.Verify {
			stampPattern(expect, size, i)
			if !bytes.Equal(payload, expect) {
				return fmt.Errorf("iteration %d: payload mismatch", i)
			}
		}
	}
	return nil
}

// stampPattern fills dst with a deterministic pattern keyed by size and
// iteration, so both roles can compute it independently.
func stampPattern(dst []byte, size uint64, iteration int) {
	seed := byte(iteration) ^ byte(size)
	for j := range dst {
		dst[j] = seed ^ byte(j)
	}
}
