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
	"os"
	"path"

	"github.com/livekit/protocol/logger"
)

const (
	defaultShmRoot = "/dev/shm"
	appDir         = "darkcyan"
)

type BaseConfig struct {
	NodeID string `yaml:"node_id"` // do not supply - will be overwritten by the supervisor

	// optional
	Logging *logger.Config `yaml:"logging"`  // logging config
	ShmDir  string         `yaml:"shm_dir"`  // root for shared memory segments, defaults to /dev/shm/darkcyan
	TmpDir  string         `yaml:"tmp_dir"`  // root for ipc sockets and archives
	LogFile *LogFileConfig `yaml:"log_file"` // rotating event log
}

type LogFileConfig struct {
	Disabled   bool   `yaml:"disabled"`
	Filename   string `yaml:"filename"`    // defaults to logs/vision-<date>-<pid>.log
	MaxSizeMB  int    `yaml:"max_size_mb"` // rotate after this size
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

func (c *BaseConfig) applyBaseDefaults() {
	if c.Logging == nil {
		c.Logging = &logger.Config{Level: "info"}
	}
	if c.ShmDir == "" {
		if stat, err := os.Stat(defaultShmRoot); err == nil && stat.IsDir() {
			c.ShmDir = path.Join(defaultShmRoot, appDir)
		} else {
			c.ShmDir = path.Join(os.TempDir(), appDir, "shm")
		}
	}
	if c.TmpDir == "" {
		c.TmpDir = path.Join(os.TempDir(), appDir)
	}
}

// RunShmDir is the directory holding this node's segments. The node ID is
// unique per run, so segment names are never reused across runs.
func (c *BaseConfig) RunShmDir() string {
	return path.Join(c.ShmDir, c.NodeID)
}

// IPCDir is the directory holding this node's unix sockets.
func (c *BaseConfig) IPCDir() string {
	return path.Join(c.TmpDir, c.NodeID)
}

func (c *BaseConfig) initLogger(values ...interface{}) error {
	zl, err := logger.NewZapLogger(c.Logging)
	if err != nil {
		return err
	}

	l := zl.WithValues(values...)
	logger.SetLogger(l, appDir)
	return nil
}
