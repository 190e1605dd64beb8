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

import "fmt"

// Role identifies which side of the handshake a process runs. The string
// value is the report line tag.
type Role string

const (
	// RoleSender publishes payloads into the slot
	RoleSender Role = "Tx"
	// RoleReceiver consumes payloads from the slot
	RoleReceiver Role = "Rx"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleSender || r == RoleReceiver
}

// SizeSequence returns the payload sizes of the sweep: 0, then powers of two
// up to and including max. Both roles generate the sequence independently;
// it is fully determined by max, so the handshakes line up size-for-size.
func SizeSequence(max uint64) []uint64 {
	sizes := []uint64{0}
	for l := uint64(1); l <= max; l <<= 1 {
		sizes = append(sizes, l)
		if l > max/2 {
			break // next shift would overflow for max near the uint64 limit
		}
	}
	return sizes
}

// Measurement is one role's timing result for one payload size.
type Measurement struct {
	Role       Role
	PID        int
	Size       uint64  // payload bytes per transfer
	Iterations int     // transfers performed
	Elapsed    float64 // wall seconds for the whole batch
	Latency    float64 // seconds per transfer
	Bandwidth  float64 // payload bytes per second, 0 for size 0
}

// NewMeasurement derives latency and bandwidth from a timed batch. Degenerate
// inputs (zero size, zero elapsed) yield 0 rather than Inf or NaN.
func NewMeasurement(role Role, pid int, size uint64, iterations int, elapsed float64) Measurement {
	m := Measurement{
		Role:       role,
		PID:        pid,
		Size:       size,
		Iterations: iterations,
		Elapsed:    elapsed,
	}
	if iterations > 0 && elapsed > 0 {
		m.Latency = elapsed / float64(iterations)
		if size > 0 {
			m.Bandwidth = float64(size) * float64(iterations) / elapsed
		}
	}
	return m
}

// String formats the report line, one per (role, size) pair:
// role, pid, bytes, iterations, elapsed seconds, latency, bandwidth.
func (m Measurement) String() string {
	return fmt.Sprintf("%s, pid = %-6d bytes = %-8d iters = %-8d time = %-12.6g lat = %-12.6g bw = %-12.6g",
		m.Role, m.PID, m.Size, m.Iterations, m.Elapsed, m.Latency, m.Bandwidth)
}
