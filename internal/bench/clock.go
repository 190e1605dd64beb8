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

import "time"

// Clock returns the current time as seconds since an arbitrary fixed epoch.
// Only differences between readings are meaningful.
type Clock func() float64

// clockEpoch anchors WallClock readings so the float64 keeps nanosecond
// precision over a benchmark run.
var clockEpoch = time.Now()

// WallClock is the default Clock, backed by the runtime monotonic clock.
func WallClock() float64 {
	return time.Since(clockEpoch).Seconds()
}
