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
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix namespaces environment overrides, e.g. SHMPP_ITERATIONS.
const envPrefix = "shmpp"

// Sweep defaults, matching the reference benchmark: 100000 transfers per
// size over sizes 0..DefaultMaxPayload doubling.
const (
	DefaultIterations  = 100000
	DefaultWait        = "spin"
	DefaultWaitTimeout = 30 * time.Second
)

// Config holds the sweep parameters. Environment variables (SHMPP_*)
// override defaults; command-line flags override both.
type Config struct {
	Iterations  int           `envconfig:"ITERATIONS"`
	MaxSize     uint64        `envconfig:"MAX_SIZE"`
	Wait        string        `envconfig:"WAIT"`
	WaitTimeout time.Duration `envconfig:"WAIT_TIMEOUT"`
	Verify      bool          `envconfig:"VERIFY"`
}

// LoadConfig returns the defaults merged with SHMPP_* environment overrides.
func LoadConfig() (Config, error) {
	cfg := Config{
		Iterations:  DefaultIterations,
		MaxSize:     DefaultMaxPayload,
		Wait:        DefaultWait,
		WaitTimeout: DefaultWaitTimeout,
	}
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment config: %w", err)
	}
	return cfg, nil
}

// Validate rejects parameter combinations the sweep cannot run with.
func (c Config) Validate() error {
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be positive, got %d", c.Iterations)
	}
	if c.Wait == "spinlimit" && c.WaitTimeout <= 0 {
		return fmt.Errorf("spinlimit wait requires a positive wait timeout, got %v", c.WaitTimeout)
	}
	return nil
}

// WaitStrategy builds the configured wait strategy.
func (c Config) WaitStrategy() (WaitStrategy, error) {
	return NewWaitStrategy(c.Wait, c.WaitTimeout)
}
