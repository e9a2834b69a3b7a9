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
	"os/exec"
	"syscall"
	"time"

	"github.com/frostbyte73/core"

	"github.com/livekit/darkcyan/pkg/logging"
	"github.com/livekit/darkcyan/pkg/types"
	"github.com/livekit/protocol/logger"
)

const killTimeout = 2 * time.Second

// Process is the supervisor's handle on one running worker.
type Process struct {
	WorkerID string
	Source   *types.SourceDescriptor
	Started  time.Time

	cmd     *exec.Cmd
	output  *logging.WorkerLogger
	exitErr error
	done    core.Fuse
}

func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

func (p *Process) IsAlive() bool {
	return !p.done.IsBroken()
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done.Watch()
}

// Join waits up to timeout for the process to exit and reports whether it did.
func (p *Process) Join(timeout time.Duration) bool {
	if timeout <= 0 {
		return !p.IsAlive()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done.Watch():
		return true
	case <-timer.C:
		return false
	}
}

// ExitErr is the error returned by the process once it has exited.
func (p *Process) ExitErr() error {
	if p.IsAlive() {
		return nil
	}
	return p.exitErr
}

// Terminate interrupts the process, then kills it if it is still running
// after a short wait.
func (p *Process) Terminate() {
	if !p.IsAlive() {
		return
	}

	if err := p.cmd.Process.Signal(syscall.SIGINT); err != nil {
		logger.Errorw("failed to interrupt process", err, "workerID", p.WorkerID, "source", p.Source.Name)
	}
	if p.Join(killTimeout) {
		return
	}

	logger.Warnw("killing process", nil, "workerID", p.WorkerID, "source", p.Source.Name)
	if err := p.cmd.Process.Kill(); err != nil {
		logger.Errorw("failed to kill process", err, "workerID", p.WorkerID, "source", p.Source.Name)
	}
	p.Join(killTimeout)
}

func (p *Process) wait() {
	p.exitErr = p.cmd.Wait()
	p.output.Flush()
	p.done.Break()
}
