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
	"gopkg.in/yaml.v3"

	"github.com/livekit/darkcyan/pkg/errors"
)

// WorkerConfig is everything a worker process is given at spawn time.
type WorkerConfig struct {
	BaseConfig `yaml:",inline"`

	WorkerID       string `yaml:"worker_id"`
	SourceKey      string `yaml:"source_key"`
	Name           string `yaml:"name"`
	ConnectionPath string `yaml:"connection_path"`

	Width    int `yaml:"width"`
	Height   int `yaml:"height"`
	Channels int `yaml:"channels"`

	Segments SegmentNames `yaml:"segments"`
}

// SegmentNames are file names relative to the run's shm directory.
type SegmentNames struct {
	Frame   string `yaml:"frame"`
	Status  string `yaml:"status"`
	Gauges  string `yaml:"gauges"`
	Control string `yaml:"control"`
}

func (w *WorkerConfig) Marshal() (string, error) {
	b, err := yaml.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func NewWorkerConfig(confString string) (*WorkerConfig, error) {
	if confString == "" {
		return nil, errors.ErrNoConfig
	}

	conf := &WorkerConfig{}
	if err := yaml.Unmarshal([]byte(confString), conf); err != nil {
		return nil, errors.ErrCouldNotParseConfig(err)
	}
	conf.applyBaseDefaults()

	switch {
	case conf.NodeID == "":
		return nil, errors.ErrInvalidConfig("node_id")
	case conf.SourceKey == "":
		return nil, errors.ErrInvalidConfig("source_key")
	case conf.Segments.Frame == "" || conf.Segments.Status == "" ||
		conf.Segments.Gauges == "" || conf.Segments.Control == "":
		return nil, errors.ErrInvalidConfig("segments")
	}

	if err := conf.initLogger("nodeID", conf.NodeID, "workerID", conf.WorkerID, "source", conf.Name); err != nil {
		return nil, err
	}
	return conf, nil
}
