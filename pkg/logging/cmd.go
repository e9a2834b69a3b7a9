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

package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/linkdata/deadlock"

	"github.com/livekit/protocol/logger"
)

// longer unterminated output is written out in pieces of this size
const maxLineLength = 64 * 1024

// WorkerLogger catches the output of a worker process. Structured log lines
// are passed through untouched; anything else is a panic or stray print and
// is logged against the worker.
type WorkerLogger struct {
	logger logger.Logger
	out    io.Writer

	mu      deadlock.Mutex
	partial string
}

func NewWorkerLogger(workerID, source string) *WorkerLogger {
	return &WorkerLogger{
		logger: logger.GetLogger().WithValues("workerID", workerID, "source", source),
		out:    os.Stdout,
	}
}

func (l *WorkerLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.partial + string(p)
	lines := strings.Split(s, "\n")

	// the last element is an unterminated line, keep it for the next write
	l.partial = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		l.writeLine(line)
	}
	for len(l.partial) >= maxLineLength {
		l.writeLine(l.partial[:maxLineLength])
		l.partial = l.partial[maxLineLength:]
	}
	return len(p), nil
}

// Flush writes out a trailing line that never got its newline.
func (l *WorkerLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.partial != "" {
		l.writeLine(l.partial)
		l.partial = ""
	}
}

func (l *WorkerLogger) writeLine(line string) {
	switch {
	case len(strings.TrimSpace(line)) == 0:
		return
	case strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}"):
		// normal worker logs
		_, _ = fmt.Fprintln(l.out, line)
	case strings.HasPrefix(line, "goroutine ") || strings.HasPrefix(line, "panic:"):
		l.logger.Errorw(line, nil)
	default:
		l.logger.Warnw(line, nil)
	}
}
