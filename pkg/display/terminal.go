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
	"bytes"
	"fmt"
	"io"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"github.com/livekit/protocol/logger"
)

const (
	cursorUp  = "\x1b[%dA"
	clearLine = "\x1b[2K\r"
)

// Terminal redraws one line per source in place, at most once per interval.
type Terminal struct {
	out      io.Writer
	sometime rate.Sometimes

	order []string
	lines map[string]Line
	drawn int
}

func NewTerminal(out io.Writer, interval time.Duration) *Terminal {
	return &Terminal{
		out:      out,
		sometime: rate.Sometimes{Interval: interval},
		lines:    make(map[string]Line),
	}
}

func (t *Terminal) Update(line Line) {
	if _, ok := t.lines[line.Key]; !ok {
		t.order = append(t.order, line.Key)
		slices.Sort(t.order)
	}
	t.lines[line.Key] = line
}

func (t *Terminal) Flush() {
	t.sometime.Do(t.draw)
}

// Close draws the final state so the last status stays on screen.
func (t *Terminal) Close() {
	t.draw()
}

func (t *Terminal) draw() {
	var buf bytes.Buffer
	if t.drawn > 0 {
		_, _ = fmt.Fprintf(&buf, cursorUp, t.drawn)
	}
	for _, key := range t.order {
		buf.WriteString(clearLine)
		buf.WriteString(t.lines[key].String())
		buf.WriteByte('\n')
	}
	t.drawn = len(t.order)

	if _, err := t.out.Write(buf.Bytes()); err != nil {
		logger.Debugw("failed to draw status", "error", err)
	}
}
