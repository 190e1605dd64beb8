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
	"os"
	"os/exec"
	"strconv"
)

// peerArgs builds the command line that re-runs this binary as the given
// role against an existing segment. The child receives the full sweep
// configuration explicitly so both roles generate the identical size
// sequence.
func peerArgs(role Role, segment string, cfg Config) []string {
	args := []string{
		"--role", roleFlagValue(role),
		"--segment", segment,
		"--iterations", strconv.Itoa(cfg.Iterations),
		"--max-size", strconv.FormatUint(cfg.MaxSize, 10),
		"--wait", cfg.Wait,
		"--wait-timeout", cfg.WaitTimeout.String(),
	}
	if cfg.Verify {
		args = append(args, "--verify")
	}
	return args
}

// roleFlagValue maps a Role to its --role flag spelling.
func roleFlagValue(role Role) string {
	if role == RoleSender {
		return "tx"
	}
	return "rx"
}

// ParseRole parses a --role flag value.
func ParseRole(s string) (Role, error) {
	switch s {
	case "tx":
		return RoleSender, nil
	case "rx":
		return RoleReceiver, nil
	default:
		return "", fmt.Errorf("unknown role %q (want tx or rx)", s)
	}
}

// SpawnPeer starts this binary again as the given role attached to segment,
// with stdout and stderr inherited so both roles' report lines interleave on
// the parent's terminal. The caller must Wait on the returned command.
func SpawnPeer(role Role, segment string, cfg Config) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate own executable: %w", err)
	}

	cmd := exec.Command(exe, peerArgs(role, segment, cfg)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s process: %w", role, err)
	}
	return cmd, nil
}
