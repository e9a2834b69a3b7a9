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

package display

import (
	"fmt"

	"github.com/linkdata/deadlock"
)

// Line is the telemetry of one source for a single tick.
type Line struct {
	Key          string
	Name         string
	Status       string
	SourceFPS    float64
	InferenceFPS float64
}

func (l Line) String() string {
	return FormatStatus(l.Name, l.Status, l.SourceFPS, l.InferenceFPS)
}

func FormatStatus(name, status string, sourceFPS, inferenceFPS float64) string {
	return fmt.Sprintf("Camera %s. Status %s.  Source FPS: %.2f, Infer FPS: %.2f", name, status, sourceFPS, inferenceFPS)
}

// Sink receives one Update per source per tick, then a Flush.
type Sink interface {
	Update(line Line)
	Flush()
	Close()
}

// Discard drops everything.
type Discard struct{}

func (Discard) Update(Line) {}
func (Discard) Flush()      {}
func (Discard) Close()      {}

// Recorder keeps the latest line per source.
type Recorder struct {
	mu      deadlock.Mutex
	lines   map[string]Line
	updates int
	flushes int
}

func NewRecorder() *Recorder {
	return &Recorder{lines: make(map[string]Line)}
}

func (r *Recorder) Update(line Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[line.Key] = line
	r.updates++
}

func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
}

func (r *Recorder) Close() {}

func (r *Recorder) Line(key string) (Line, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lines[key]
	return l, ok
}

func (r *Recorder) Updates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

func (r *Recorder) Flushes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushes
}
