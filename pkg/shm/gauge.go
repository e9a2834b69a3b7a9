// Copyright 2026 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shm

import (
	"math"
	"sync/atomic"
)

// Gauge is a float32 stored in shared memory. One writer, many readers.
type Gauge struct {
	v *uint32
}

func (g Gauge) Set(v float64) {
	atomic.StoreUint32(g.v, math.Float32bits(float32(v)))
}

func (g Gauge) Load() float64 {
	return float64(math.Float32frombits(atomic.LoadUint32(g.v)))
}

// Flag is a boolean stored in shared memory. One writer, many readers.
type Flag struct {
	v *uint32
}

func (f Flag) Set(v bool) {
	var u uint32
	if v {
		u = 1
	}
	atomic.StoreUint32(f.v, u)
}

func (f Flag) IsSet() bool {
	return atomic.LoadUint32(f.v) != 0
}
