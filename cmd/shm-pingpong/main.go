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

// The shm-pingpong command measures inter-process latency and bandwidth over
// a shared memory slot. Run without arguments it creates the segment, spawns
// the receiver process, and runs the sender sweep itself; each role prints
// one report line per payload size to stdout.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/markrussinovich/shm-pingpong/internal/bench"
)

var (
	// CLI flags; only explicitly set flags override the env-derived config
	flagIterations  int
	flagMaxSize     uint64
	flagWait        string
	flagWaitTimeout time.Duration
	flagVerify      bool

	// Internal flags used when re-executing as the peer role
	flagRole    string
	flagSegment string
)

var rootCmd = &cobra.Command{
	Use:   "shm-pingpong",
	Short: "Shared-memory ping-pong latency and bandwidth benchmark",
	Long: `shm-pingpong measures inter-process communication latency and bandwidth by
passing payloads through a flag-gated shared memory slot between two local
processes.

The parent process creates the segment and runs the sender (Tx); it re-executes
itself as the receiver (Rx). Both roles sweep payload sizes from 0 bytes
doubling up to the maximum, performing a fixed number of synchronized transfers
per size, and print one report line per size: role, pid, bytes, iterations,
elapsed seconds, latency, bandwidth.

Both roles busy-wait on the shared flag by default; a peer that dies mid-run
leaves the survivor spinning. Use --wait=spinlimit with --wait-timeout for
unattended runs.`,
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.Flags()
	flags.IntVar(&flagIterations, "iterations", bench.DefaultIterations, "transfers per payload size")
	flags.Uint64Var(&flagMaxSize, "max-size", bench.DefaultMaxPayload, "largest payload size in bytes")
	flags.StringVar(&flagWait, "wait", bench.DefaultWait, "wait strategy: spin, spinlimit, yield, futex")
	flags.DurationVar(&flagWaitTimeout, "wait-timeout", bench.DefaultWaitTimeout, "deadline per wait for --wait=spinlimit")
	flags.BoolVar(&flagVerify, "verify", false, "check payload integrity each transfer (perturbs timing)")

	flags.StringVar(&flagRole, "role", "", "run a single role (tx or rx) against --segment")
	flags.StringVar(&flagSegment, "segment", "", "shared memory segment name")
	flags.MarkHidden("role")
	flags.MarkHidden("segment")
}

func run(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	cfg, err := bench.LoadConfig()
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if flagRole != "" {
		role, err := bench.ParseRole(flagRole)
		if err != nil {
			return err
		}
		return runRole(log, role, cfg)
	}
	return runBenchmark(log, cfg)
}

// applyFlagOverrides copies explicitly set flags over the env-derived config.
func applyFlagOverrides(cmd *cobra.Command, cfg *bench.Config) {
	flags := cmd.Flags()
	if flags.Changed("iterations") {
		cfg.Iterations = flagIterations
	}
	if flags.Changed("max-size") {
		cfg.MaxSize = flagMaxSize
	}
	if flags.Changed("wait") {
		cfg.Wait = flagWait
	}
	if flags.Changed("wait-timeout") {
		cfg.WaitTimeout = flagWaitTimeout
	}
	if flags.Changed("verify") {
		cfg.Verify = flagVerify
	}
}

// runBenchmark is the parent path: create the segment, spawn the receiver,
// run the sender sweep, and reap the child.
func runBenchmark(log *zap.Logger, cfg bench.Config) error {
	wait, err := cfg.WaitStrategy()
	if err != nil {
		return err
	}

	seg, err := bench.CreateSegment(flagSegment, cfg.MaxSize)
	if err != nil {
		return fmt.Errorf("shared memory setup failed: %w", err)
	}
	defer seg.Close()
	log.Info("segment created", zap.String("path", seg.Path))

	segName := segmentName(seg)
	child, err := bench.SpawnPeer(bench.RoleReceiver, segName, cfg)
	if err != nil {
		return fmt.Errorf("process creation failed: %w", err)
	}
	log.Info("receiver spawned", zap.Int("pid", child.Process.Pid))

	runner := &bench.Runner{
		Slot:       bench.NewSlot(seg),
		Wait:       wait,
		Iterations: cfg.Iterations,
		Sizes:      bench.SizeSequence(cfg.MaxSize),
		Verify:     cfg.Verify,
		Log:        log,
	}
	_, runErr := runner.Run(bench.RoleSender)

	// Reap the child even if the sender sweep failed, so a verify or
	// timeout error does not leave an orphan spinning
	waitErr := child.Wait()
	if runErr != nil {
		return runErr
	}
	if waitErr != nil {
		return fmt.Errorf("receiver process failed: %w", waitErr)
	}
	return nil
}

// runRole is the re-exec path: attach to the existing segment and run one
// role's sweep.
func runRole(log *zap.Logger, role bench.Role, cfg bench.Config) error {
	if flagSegment == "" {
		return fmt.Errorf("--role requires --segment")
	}
	wait, err := cfg.WaitStrategy()
	if err != nil {
		return err
	}

	seg, err := bench.OpenSegment(flagSegment)
	if err != nil {
		return fmt.Errorf("shared memory setup failed: %w", err)
	}
	defer seg.Close()

	runner := &bench.Runner{
		Slot:       bench.NewSlot(seg),
		Wait:       wait,
		Iterations: cfg.Iterations,
		Sizes:      bench.SizeSequence(cfg.MaxSize),
		Verify:     cfg.Verify,
		Log:        log,
	}
	_, err = runner.Run(role)
	return err
}

// segmentName recovers the name the peer should open the segment by.
func segmentName(seg *bench.Segment) string {
	return bench.SegmentNameFromPath(seg.Path)
}

// newLogger builds a production zap logger writing to stderr, keeping stdout
// clean for measurement lines.
func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
