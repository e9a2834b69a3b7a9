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

package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/livekit/darkcyan/pkg/errors"
)

// keys end up in segment file names
var sourceKeyRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type SourceConfig struct {
	Name           string `yaml:"name"`            // operator-facing label, unique
	ConnectionPath string `yaml:"connection_path"` // opaque capture endpoint

	// cv2_connection_string is accepted for older config files
	LegacyConnectionString string `yaml:"cv2_connection_string,omitempty"`

	// optional, default to the frame geometry
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

func (s *SourceConfig) normalize(key string, frame FrameConfig) error {
	if !sourceKeyRegexp.MatchString(key) {
		return errors.ErrInvalidConfig(fmt.Sprintf("sources.%s", key))
	}

	s.Name = strings.TrimSpace(s.Name)
	s.ConnectionPath = strings.TrimSpace(s.ConnectionPath)
	if s.ConnectionPath == "" {
		s.ConnectionPath = strings.TrimSpace(s.LegacyConnectionString)
	}

	if s.Name == "" {
		return errors.ErrInvalidConfig(fmt.Sprintf("sources.%s.name", key))
	}
	if s.ConnectionPath == "" {
		return errors.ErrInvalidConfig(fmt.Sprintf("sources.%s.connection_path", key))
	}

	if s.Width == 0 {
		s.Width = frame.Width
	}
	if s.Height == 0 {
		s.Height = frame.Height
	}
	if s.Width < 0 || s.Height < 0 {
		return errors.ErrInvalidConfig(fmt.Sprintf("sources.%s.width/height", key))
	}

	// the connection path may override the geometry the worker captures at
	width, height, err := ConnectionGeometry(s.ConnectionPath, s.Width, s.Height)
	if err != nil {
		return fmt.Errorf("source %s: %w", key, err)
	}
	s.Width, s.Height = width, height

	// an undersized buffer can only be fixed by a restart, so refuse to start
	if size := s.FrameSize(frame.Channels); size > frame.Capacity() {
		return fmt.Errorf("source %s: %w", key, errors.ErrFrameTooLarge(size, frame.Capacity()))
	}
	return nil
}

func (s *SourceConfig) FrameSize(channels int) int {
	return s.Width * s.Height * channels
}

// ConnectionGeometry applies the width and height query parameters of a
// connection path, such as testsrc://?width=640&height=480, over the given
// defaults. Paths that are not urls keep the defaults.
func ConnectionGeometry(connectionPath string, width, height int) (int, int, error) {
	u, err := url.Parse(connectionPath)
	if err != nil || u.RawQuery == "" {
		return width, height, nil
	}

	q := u.Query()
	for key, target := range map[string]*int{"width": &width, "height": &height} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return 0, 0, errors.ErrInvalidConfig("connection_path." + key)
			}
			*target = n
		}
	}
	return width, height, nil
}
