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
	"golang.org/x/sys/unix"

	"github.com/livekit/darkcyan/pkg/errors"
)

// BufferLock serializes frame buffer access across processes. It is an
// advisory flock on the segment file, held per open file description, so
// every process (or every Open in tests) gets its own lock.
type BufferLock struct {
	fd int
}

func (l *BufferLock) Lock() error {
	for {
		err := unix.Flock(l.fd, unix.LOCK_EX)
		if err != unix.EINTR {
			return err
		}
	}
}

func (l *BufferLock) TryLock() (bool, error) {
	err := unix.Flock(l.fd, unix.LOCK_EX|unix.LOCK_NB)
	switch err {
	case nil:
		return true, nil
	case unix.EWOULDBLOCK:
		return false, nil
	default:
		return false, err
	}
}

func (l *BufferLock) Unlock() error {
	return unix.Flock(l.fd, unix.LOCK_UN)
}

// FrameBuffer is a fixed capacity frame region. There is no header: readers
// need a fresh-write signal from elsewhere before trusting the content.
type FrameBuffer struct {
	seg  *segment
	lock *BufferLock
}

func newFrameBuffer(seg *segment) *FrameBuffer {
	return &FrameBuffer{
		seg:  seg,
		lock: &BufferLock{fd: seg.fd()},
	}
}

func (f *FrameBuffer) Capacity() int {
	return len(f.seg.data)
}

func (f *FrameBuffer) Lock() *BufferLock {
	return f.lock
}

func (f *FrameBuffer) Write(frame []byte) error {
	if len(frame) > f.Capacity() {
		return errors.ErrFrameTooLarge(len(frame), f.Capacity())
	}

	if err := f.lock.Lock(); err != nil {
		return err
	}
	copy(f.seg.data, frame)
	return f.lock.Unlock()
}

// Read copies up to len(dst) bytes of the buffer under the lock.
func (f *FrameBuffer) Read(dst []byte) (int, error) {
	if err := f.lock.Lock(); err != nil {
		return 0, err
	}
	n := copy(dst, f.seg.data)
	return n, f.lock.Unlock()
}
