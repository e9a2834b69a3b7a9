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

	"github.com/frostbyte73/core"
	"github.com/linkdata/deadlock"

	"github.com/livekit/darkcyan/pkg/config"
	"github.com/livekit/darkcyan/pkg/errors"
	"github.com/livekit/protocol/logger"
)

const (
	ControlSegment = "control"

	// gauges segment layout
	sourceFPSOffset    = 0
	inferenceFPSOffset = 4
	exitedOffset       = 8
	gaugesSize         = 16

	// control segment layout
	keepRunningOffset = 0
	controlSize       = 8
)

// Control is the segment shared by every worker and the supervisor.
type Control struct {
	seg *segment

	// KeepRunning is written by the supervisor only. Once cleared, workers
	// must stop capturing and exit.
	KeepRunning Flag
}

func newControl(seg *segment) *Control {
	return &Control{
		seg:         seg,
		KeepRunning: Flag{v: seg.word(keepRunningOffset)},
	}
}

// Segments are the shared handles of one source.
type Segments struct {
	Key   string
	Names config.SegmentNames

	Frame        *FrameBuffer
	Status       *Status
	SourceFPS    Gauge
	InferenceFPS Gauge
	Exited       Flag
	Control      *Control

	frame, status, gauges *segment
}

func newSegments(key string, names config.SegmentNames, frame, status, gauges *segment, control *Control) *Segments {
	return &Segments{
		Key:          key,
		Names:        names,
		Frame:        newFrameBuffer(frame),
		Status:       NewStatus(status.data),
		SourceFPS:    Gauge{v: gauges.word(sourceFPSOffset)},
		InferenceFPS: Gauge{v: gauges.word(inferenceFPSOffset)},
		Exited:       Flag{v: gauges.word(exitedOffset)},
		Control:      control,
		frame:        frame,
		status:       status,
		gauges:       gauges,
	}
}

func SegmentNamesFor(key string) config.SegmentNames {
	return config.SegmentNames{
		Frame:   key + ".frame",
		Status:  key + ".status",
		Gauges:  key + ".gauges",
		Control: ControlSegment,
	}
}

// Manager owns every segment of a run and tears them down.
type Manager struct {
	dir string

	mu       deadlock.Mutex
	control  *Control
	segments []*segment
	released core.Fuse
}

func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrAllocationFailed, err)
	}
	return &Manager{dir: dir}, nil
}

func (m *Manager) Dir() string {
	return m.dir
}

// Allocate creates the frame, status and gauge segments of every source,
// plus the shared control segment. Nothing is left behind on failure.
func (m *Manager) Allocate(keys []string, frameCapacity, statusCapacity int) ([]*Segments, error) {
	if frameCapacity <= 0 {
		return nil, errors.ErrInvalidConfig("frame capacity")
	}
	if statusCapacity < 2 || statusCapacity > 256 {
		return nil, errors.ErrInvalidConfig("status capacity")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released.IsBroken() {
		return nil, errors.ErrReleased
	}

	required := uint64(len(keys)) * uint64(frameCapacity+statusCapacity+gaugesSize)
	if m.control == nil {
		required += controlSize
	}
	if err := checkCapacity(m.dir, required); err != nil {
		return nil, err
	}

	created := make([]*segment, 0, len(keys)*3+1)
	fail := func(err error) ([]*Segments, error) {
		for _, s := range created {
			_ = s.close()
			_ = s.unlink()
		}
		return nil, err
	}

	control := m.control
	if control == nil {
		seg, err := createSegment(m.dir, ControlSegment, controlSize)
		if err != nil {
			return fail(err)
		}
		created = append(created, seg)
		control = newControl(seg)
		control.KeepRunning.Set(true)
	}

	handles := make([]*Segments, 0, len(keys))
	for _, key := range keys {
		names := SegmentNamesFor(key)

		frame, err := createSegment(m.dir, names.Frame, frameCapacity)
		if err != nil {
			return fail(err)
		}
		created = append(created, frame)

		status, err := createSegment(m.dir, names.Status, statusCapacity)
		if err != nil {
			return fail(err)
		}
		created = append(created, status)

		gauges, err := createSegment(m.dir, names.Gauges, gaugesSize)
		if err != nil {
			return fail(err)
		}
		created = append(created, gauges)

		handles = append(handles, newSegments(key, names, frame, status, gauges, control))
	}

	m.control = control
	m.segments = append(m.segments, created...)

	logger.Debugw("shared memory allocated",
		"dir", m.dir,
		"sources", len(keys),
		"bytes", required,
	)
	return handles, nil
}

func (m *Manager) Control() *Control {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.control
}

// WriteInitialStatus writes text before the worker is started, so it is the
// first status the worker and the display see.
func (m *Manager) WriteInitialStatus(s *Segments, text string) {
	s.Status.Write(text)
}

// Release unmaps and unlinks every segment. It runs once; later calls return
// ErrReleased and touch nothing. Handles must not be used afterwards.
func (m *Manager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released.IsBroken() {
		return errors.ErrReleased
	}
	m.released.Break()

	errs := &errors.ErrArray{}
	for _, s := range m.segments {
		errs.AppendErr(s.close())
		errs.AppendErr(s.unlink())
	}
	m.segments = nil
	m.control = nil

	if err := os.Remove(m.dir); err != nil && !os.IsNotExist(err) {
		errs.AppendErr(err)
	}

	logger.Debugw("shared memory released", "dir", m.dir)
	return errs.ToError()
}

func (m *Manager) Released() bool {
	return m.released.IsBroken()
}

// Open maps the segments of one source from the worker side.
func Open(dir, key string, names config.SegmentNames) (*Segments, error) {
	opened := make([]*segment, 0, 4)
	fail := func(err error) (*Segments, error) {
		for _, s := range opened {
			_ = s.close()
		}
		return nil, err
	}

	for _, name := range []string{names.Control, names.Frame, names.Status, names.Gauges} {
		s, err := openSegment(dir, name)
		if err != nil {
			return fail(err)
		}
		opened = append(opened, s)
	}

	if len(opened[3].data) < gaugesSize || len(opened[0].data) < controlSize || len(opened[2].data) < 2 {
		return fail(errors.ErrInvalidConfig("segments"))
	}

	control := newControl(opened[0])
	return newSegments(key, names, opened[1], opened[2], opened[3], control), nil
}

// Close unmaps a worker-side view. It does not unlink anything.
func (s *Segments) Close() error {
	errs := &errors.ErrArray{}
	errs.AppendErr(s.frame.close())
	errs.AppendErr(s.status.close())
	errs.AppendErr(s.gauges.close())
	if s.Control != nil && s.Control.seg != nil {
		errs.AppendErr(s.Control.seg.close())
	}
	return errs.ToError()
}
