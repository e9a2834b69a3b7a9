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
	"fmt"
	"os"
	"path"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/livekit/darkcyan/pkg/errors"
)

// segment is a file mapped MAP_SHARED into this process.
type segment struct {
	name string
	path string
	f    *os.File
	data []byte
}

func createSegment(dir, name string, size int) (*segment, error) {
	p := path.Join(dir, name)
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrAllocationFailed, name, err)
	}

	// reserve the pages now so a full tmpfs fails here and not on first write
	if err = unix.Fallocate(int(f.Fd()), 0, 0, int64(size)); err != nil {
		if !errors.Is(err, unix.EOPNOTSUPP) {
			_ = f.Close()
			_ = os.Remove(p)
			return nil, fmt.Errorf("%w: %s: %v", errors.ErrAllocationFailed, name, err)
		}
		if err = f.Truncate(int64(size)); err != nil {
			_ = f.Close()
			_ = os.Remove(p)
			return nil, fmt.Errorf("%w: %s: %v", errors.ErrAllocationFailed, name, err)
		}
	}

	s, err := mapSegment(name, p, f, size)
	if err != nil {
		_ = os.Remove(p)
		return nil, err
	}
	return s, nil
}

func openSegment(dir, name string) (*segment, error) {
	p := path.Join(dir, name)
	f, err := os.OpenFile(p, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return mapSegment(name, p, f, int(stat.Size()))
}

func mapSegment(name, p string, f *os.File, size int) (*segment, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: mmap %s: %v", errors.ErrAllocationFailed, name, err)
	}

	return &segment{
		name: name,
		path: p,
		f:    f,
		data: data,
	}, nil
}

// word returns the 32-bit cell at off. Offsets are multiples of 4 and
// mappings are page aligned, so atomic access is safe.
func (s *segment) word(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&s.data[off]))
}

func (s *segment) fd() int {
	return int(s.f.Fd())
}

func (s *segment) close() error {
	errs := &errors.ErrArray{}
	if s.data != nil {
		errs.AppendErr(unix.Munmap(s.data))
		s.data = nil
	}
	errs.AppendErr(s.f.Close())
	return errs.ToError()
}

// unlink removes the name only. Processes that still map the segment keep
// their pages until they unmap, and the name is never handed out again.
func (s *segment) unlink() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
