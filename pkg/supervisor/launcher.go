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

package supervisor

import (
	"context"
	"os"
	"os/exec"

	"github.com/livekit/darkcyan/pkg/config"
)

const runWorkerCommand = "run-worker"

// Launcher builds the command for one worker. The command is started by the
// supervisor, which also owns its stdout and stderr.
type Launcher interface {
	Command(ctx context.Context, conf *config.WorkerConfig) (*exec.Cmd, error)
}

// ExecLauncher runs `<Binary> <Args...> run-worker --config <yaml>`.
type ExecLauncher struct {
	Binary string
	Args   []string
	Env    []string
	Dir    string
}

// NewExecLauncher re-executes binary, or the running executable when empty.
func NewExecLauncher(binary string) (*ExecLauncher, error) {
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, err
		}
		binary = self
	}
	return &ExecLauncher{Binary: binary}, nil
}

func (l *ExecLauncher) Command(_ context.Context, conf *config.WorkerConfig) (*exec.Cmd, error) {
	confString, err := conf.Marshal()
	if err != nil {
		return nil, err
	}

	args := append([]string{}, l.Args...)
	args = append(args, runWorkerCommand, "--config", confString)

	// not bound to ctx: workers are stopped through the shared flag, not killed
	cmd := exec.Command(l.Binary, args...)
	cmd.Dir = l.Dir
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}
	return cmd, nil
}
