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
	"strings"
	"unicode/utf8"
)

// StatusRegion holds a short status message shared between one writer and
// any number of readers.
//
// The message bytes and the length byte are written separately, so a reader
// may see a fresh length with stale bytes or the reverse. Read never fails:
// torn reads come back clamped and as valid UTF-8, and settle on the next
// consistent write.
type StatusRegion interface {
	Write(text string)
	Read() string
	MaxLen() int
}

// Status encodes the message in buf[0:n] and n in the last byte of buf.
type Status struct {
	buf []byte
}

func NewStatus(buf []byte) *Status {
	return &Status{buf: buf}
}

// MaxLen is the longest message the region holds. One byte is kept for the
// length and one is left unused, so a 100 byte region stores 98.
func (s *Status) MaxLen() int {
	return len(s.buf) - 2
}

func (s *Status) Write(text string) {
	text = Truncate(text, s.MaxLen())
	copy(s.buf, text)
	s.buf[len(s.buf)-1] = byte(len(text))
}

func (s *Status) Read() string {
	n := int(s.buf[len(s.buf)-1])
	if limit := s.MaxLen(); n > limit {
		n = limit
	}

	b := make([]byte, n)
	copy(b, s.buf[:n])
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}

// Truncate cuts text to at most limit bytes without splitting a rune.
func Truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
