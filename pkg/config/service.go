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
	"maps"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/livekit/darkcyan/pkg/errors"
	"github.com/livekit/protocol/utils"
)

const (
	defaultRunFor          = time.Hour
	defaultGracePeriod     = 2 * time.Second
	defaultIdleSleep       = 100 * time.Millisecond
	defaultResultQueueSize = 5
	defaultStatusCapacity  = 100
	defaultFrameWidth      = 1280
	defaultFrameHeight     = 960
	defaultFrameChannels   = 3
	defaultRefreshInterval = 250 * time.Millisecond

	// the length of a status message is stored in a single byte
	maxStatusCapacity = 256
	minStatusCapacity = 2
)

type ServiceConfig struct {
	BaseConfig `yaml:",inline"`

	Sources map[string]*SourceConfig `yaml:"sources"` // keyed by source key, order-insensitive

	RunFor          time.Duration `yaml:"run_for"`           // hard ceiling on the run, defaults to one hour
	GracePeriod     time.Duration `yaml:"grace_period"`      // how long workers get to exit once asked to stop
	IdleSleep       time.Duration `yaml:"idle_sleep"`        // loop sleep when no result is queued
	ResultQueueSize int           `yaml:"result_queue_size"` // result channel capacity
	StatusCapacity  int           `yaml:"status_capacity"`   // status region size in bytes, last byte holds the length
	Frame           FrameConfig   `yaml:"frame"`             // frame buffer geometry, sized for the largest source

	WorkerCommand string `yaml:"worker_command"` // binary launched for each source, defaults to this executable

	HealthPort     int `yaml:"health_port"`     // status json port
	PrometheusPort int `yaml:"prometheus_port"` // prometheus handler port

	Display DisplayConfig  `yaml:"display"`
	MQTT    *MQTTConfig    `yaml:"mqtt,omitempty"`    // publish consumed results
	Archive *ArchiveConfig `yaml:"archive,omitempty"` // archive consumed results
}

type FrameConfig struct {
	Width    int `yaml:"width"`
	Height   int `yaml:"height"`
	Channels int `yaml:"channels"`
}

// Capacity is the frame buffer size in bytes.
func (f FrameConfig) Capacity() int {
	return f.Width * f.Height * f.Channels
}

type DisplayConfig struct {
	Disabled        bool          `yaml:"disabled"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type MQTTConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"` // (env MQTT_USERNAME)
	Password  string `yaml:"password"` // (env MQTT_PASSWORD)
	ClientID  string `yaml:"client_id"`
	BaseTopic string `yaml:"base_topic"`
	QoS       byte   `yaml:"qos"`
}

type ArchiveConfig struct {
	Filename string         `yaml:"filename"` // csv name, defaults to results-<nodeID>.csv
	Storage  *StorageConfig `yaml:"storage"`  // uploaded at shutdown, local copy kept when nil
}

func NewServiceConfig(confString string) (*ServiceConfig, error) {
	conf := &ServiceConfig{
		RunFor:          defaultRunFor,
		GracePeriod:     defaultGracePeriod,
		IdleSleep:       defaultIdleSleep,
		ResultQueueSize: defaultResultQueueSize,
		StatusCapacity:  defaultStatusCapacity,
		Frame: FrameConfig{
			Width:    defaultFrameWidth,
			Height:   defaultFrameHeight,
			Channels: defaultFrameChannels,
		},
		Display: DisplayConfig{
			RefreshInterval: defaultRefreshInterval,
		},
	}
	if confString != "" {
		if err := yaml.Unmarshal([]byte(confString), conf); err != nil {
			return nil, errors.Fatal(errors.ErrCouldNotParseConfig(err))
		}
	}

	// always create a new node ID
	conf.NodeID = utils.NewGuid("DC_")
	conf.applyBaseDefaults()

	if err := conf.validate(); err != nil {
		return nil, errors.Fatal(err)
	}

	if conf.MQTT != nil {
		conf.MQTT.applyDefaults(conf.NodeID)
	}
	if conf.Archive != nil {
		if conf.Archive.Filename == "" {
			conf.Archive.Filename = fmt.Sprintf("results-%s.csv", conf.NodeID)
		}
		conf.Archive.Storage.Normalize()
	}

	if err := conf.initLogger("nodeID", conf.NodeID); err != nil {
		return nil, err
	}

	return conf, nil
}

func (c *ServiceConfig) validate() error {
	if len(c.Sources) == 0 {
		return errors.ErrNoSources
	}
	if c.RunFor <= 0 {
		return errors.ErrInvalidConfig("run_for")
	}
	if c.GracePeriod < 0 {
		return errors.ErrInvalidConfig("grace_period")
	}
	if c.IdleSleep <= 0 {
		return errors.ErrInvalidConfig("idle_sleep")
	}
	if c.ResultQueueSize <= 0 {
		return errors.ErrInvalidConfig("result_queue_size")
	}
	if c.StatusCapacity < minStatusCapacity || c.StatusCapacity > maxStatusCapacity {
		return errors.ErrInvalidConfig("status_capacity")
	}
	if c.Frame.Width <= 0 || c.Frame.Height <= 0 || c.Frame.Channels <= 0 {
		return errors.ErrInvalidConfig("frame")
	}

	names := make(map[string]bool, len(c.Sources))
	for _, key := range c.SourceKeys() {
		src := c.Sources[key]
		if src == nil {
			return errors.ErrInvalidConfig(fmt.Sprintf("sources.%s", key))
		}
		if err := src.normalize(key, c.Frame); err != nil {
			return err
		}
		if names[src.Name] {
			return errors.ErrDuplicateName(src.Name)
		}
		names[src.Name] = true
	}

	return nil
}

// SourceKeys returns the configured keys in a stable order.
func (c *ServiceConfig) SourceKeys() []string {
	return slices.Sorted(maps.Keys(c.Sources))
}

func (m *MQTTConfig) applyDefaults(nodeID string) {
	if m.Host == "" {
		m.Host = "localhost"
	}
	if m.Port == 0 {
		m.Port = 1883
	}
	if m.Username == "" {
		m.Username = os.Getenv("MQTT_USERNAME")
	}
	if m.Password == "" {
		m.Password = os.Getenv("MQTT_PASSWORD")
	}
	if m.ClientID == "" {
		m.ClientID = nodeID
	}
	if m.BaseTopic == "" {
		m.BaseTopic = "darkcyan/sources"
	}
}
