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

package worker

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/livekit/darkcyan/pkg/config"
	"github.com/livekit/darkcyan/pkg/errors"
)

const (
	testSourceScheme   = "testsrc"
	defaultFPS         = 30
	defaultDetectEvery = 15
)

// Frame is one captured image. Data is reused by the capturer on the next
// Read, so it must be copied out before then.
type Frame struct {
	Index    uint64
	Width    int
	Height   int
	Data     []byte
	Captured time.Time
}

// Capturer reads frames from a camera. Read returns io.EOF when the source
// has ended.
type Capturer interface {
	Read(ctx context.Context) (*Frame, error)
	Close() error
}

type Detection struct {
	Categories []string
	Boxes      [][]float64
}

// Detector runs inference on a frame. ok is false when nothing was found.
type Detector interface {
	Detect(frame *Frame) (det *Detection, ok bool)
}

// SourceOptions are parsed from a testsrc connection path, for example
// testsrc://?fps=30&width=640&height=480&frames=300&detect_every=15
type SourceOptions struct {
	FPS         int
	Width       int
	Height      int
	Channels    int
	Frames      uint64 // 0 means endless
	DetectEvery uint64
}

func ParseSourceOptions(connectionPath string, width, height, channels int) (*SourceOptions, error) {
	u, err := url.Parse(connectionPath)
	if err != nil {
		return nil, errors.ErrInvalidConfig("connection_path")
	}
	if u.Scheme != testSourceScheme {
		return nil, fmt.Errorf("%w: unsupported source %q", errors.ErrInvalidConfig("connection_path"), u.Scheme)
	}

	opts := &SourceOptions{
		FPS:         defaultFPS,
		Width:       width,
		Height:      height,
		Channels:    channels,
		DetectEvery: defaultDetectEvery,
	}

	if opts.Width, opts.Height, err = config.ConnectionGeometry(connectionPath, width, height); err != nil {
		return nil, err
	}

	q := u.Query()
	if v := q.Get("fps"); v != "" {
		fps, err := strconv.Atoi(v)
		if err != nil || fps <= 0 {
			return nil, errors.ErrInvalidConfig("connection_path.fps")
		}
		opts.FPS = fps
	}
	for key, target := range map[string]*uint64{"frames": &opts.Frames, "detect_every": &opts.DetectEvery} {
		if v := q.Get(key); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return nil, errors.ErrInvalidConfig("connection_path." + key)
			}
			*target = n
		}
	}

	if opts.Width <= 0 || opts.Height <= 0 || opts.Channels <= 0 {
		return nil, errors.ErrInvalidConfig("frame")
	}
	return opts, nil
}

// testCapturer generates a moving gradient at a fixed rate.
type testCapturer struct {
	opts   *SourceOptions
	ticker *time.Ticker
	frame  *Frame
}

func NewTestCapturer(opts *SourceOptions) Capturer {
	data := make([]byte, opts.Width*opts.Height*opts.Channels)
	for i := range data {
		data[i] = byte(i % 251)
	}

	return &testCapturer{
		opts:   opts,
		ticker: time.NewTicker(time.Second / time.Duration(opts.FPS)),
		frame: &Frame{
			Width:  opts.Width,
			Height: opts.Height,
			Data:   data,
		},
	}
}

func (c *testCapturer) Read(ctx context.Context) (*Frame, error) {
	if c.opts.Frames > 0 && c.frame.Index >= c.opts.Frames {
		return nil, io.EOF
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case now := <-c.ticker.C:
		c.frame.Index++
		c.frame.Captured = now
		if len(c.frame.Data) >= 8 {
			binary.LittleEndian.PutUint64(c.frame.Data, c.frame.Index)
		}
		return c.frame, nil
	}
}

func (c *testCapturer) Close() error {
	c.ticker.Stop()
	return nil
}

var testCategories = []string{"person", "car", "bicycle", "dog"}

// periodicDetector reports one detection every n frames.
type periodicDetector struct {
	every uint64
}

func NewPeriodicDetector(every uint64) Detector {
	return &periodicDetector{every: every}
}

func (d *periodicDetector) Detect(frame *Frame) (*Detection, bool) {
	if d.every == 0 || frame.Index%d.every != 0 {
		return nil, false
	}

	n := frame.Index / d.every
	w, h := float64(frame.Width), float64(frame.Height)
	x := float64(n%10) / 10 * w
	y := float64(n%7) / 7 * h

	return &Detection{
		Categories: []string{testCategories[n%uint64(len(testCategories))]},
		Boxes:      [][]float64{{x, y, w / 10, h / 7}},
	}, true
}
