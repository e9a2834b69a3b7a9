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

package types

import (
	"fmt"

	"github.com/livekit/darkcyan/pkg/config"
	"github.com/livekit/darkcyan/pkg/shm"
)

// SourceDescriptor is one configured camera and its shared handles. It is
// built once at startup and lives for the whole run.
type SourceDescriptor struct {
	Key            string
	Name           string
	ConnectionPath string
	Width          int
	Height         int

	Segments *shm.Segments
}

func NewSourceDescriptor(key string, conf *config.SourceConfig, segments *shm.Segments) *SourceDescriptor {
	return &SourceDescriptor{
		Key:            key,
		Name:           conf.Name,
		ConnectionPath: conf.ConnectionPath,
		Width:          conf.Width,
		Height:         conf.Height,
		Segments:       segments,
	}
}

func (d *SourceDescriptor) BufferLock() *shm.BufferLock {
	return d.Segments.Frame.Lock()
}

func (d *SourceDescriptor) Status() shm.StatusRegion {
	return d.Segments.Status
}

func (d *SourceDescriptor) SourceFPS() shm.Gauge {
	return d.Segments.SourceFPS
}

func (d *SourceDescriptor) InferenceFPS() shm.Gauge {
	return d.Segments.InferenceFPS
}

// KeepRunning is shared by every source and the supervisor.
func (d *SourceDescriptor) KeepRunning() shm.Flag {
	return d.Segments.Control.KeepRunning
}

func (d *SourceDescriptor) Exited() shm.Flag {
	return d.Segments.Exited
}

// InitialStatus is written to every status region before its worker starts.
func InitialStatus(name string) string {
	return fmt.Sprintf("Initialising %s...", name)
}
