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
	"fmt"
	"time"

	"github.com/linkdata/deadlock"
	"go.opentelemetry.io/otel"

	"github.com/livekit/darkcyan/pkg/config"
	"github.com/livekit/darkcyan/pkg/errors"
	"github.com/livekit/darkcyan/pkg/logging"
	"github.com/livekit/darkcyan/pkg/types"
	"github.com/livekit/darkcyan/pkg/util"
	"github.com/livekit/protocol/utils"
)

var tracer = otel.Tracer("github.com/livekit/darkcyan/pkg/supervisor")

// Supervisor starts one worker process per source and keeps their handles.
// A source whose worker fails to start is recorded as failed and left out of
// everything else; its siblings are unaffected.
type Supervisor struct {
	conf     *config.ServiceConfig
	launcher Launcher
	events   *logging.EventLog

	mu        deadlock.Mutex
	processes []*Process
	failed    map[string]error
}

func NewSupervisor(conf *config.ServiceConfig, launcher Launcher, events *logging.EventLog) *Supervisor {
	return &Supervisor{
		conf:     conf,
		launcher: launcher,
		events:   events,
		failed:   make(map[string]error),
	}
}

// StartAll starts a worker for every source, in order. It does not wait for
// workers to become ready.
func (s *Supervisor) StartAll(ctx context.Context, sources []*types.SourceDescriptor) []*Process {
	ctx, span := tracer.Start(ctx, "Supervisor.StartAll")
	defer span.End()

	started := make([]*Process, 0, len(sources))
	for _, src := range sources {
		connectionPath, _ := util.RedactConnectionPath(src.ConnectionPath)
		s.events.Infow("starting process", "source", src.Name, "key", src.Key, "connectionPath", connectionPath)

		p, err := s.start(ctx, src)
		if err != nil {
			span.RecordError(err)
			err = fmt.Errorf("%w: %s: %v", errors.ErrWorkerStartFailed, src.Name, err)
			s.events.Errorw("failed to start process", err, "source", src.Name, "key", src.Key)

			s.mu.Lock()
			s.failed[src.Key] = err
			s.mu.Unlock()
			continue
		}

		s.events.Infow("started process", "source", src.Name, "key", src.Key, "workerID", p.WorkerID, "pid", p.Pid())
		started = append(started, p)
	}

	return started
}

func (s *Supervisor) start(ctx context.Context, src *types.SourceDescriptor) (*Process, error) {
	workerID := utils.NewGuid("DCW_")
	conf := &config.WorkerConfig{
		BaseConfig:     s.conf.BaseConfig,
		WorkerID:       workerID,
		SourceKey:      src.Key,
		Name:           src.Name,
		ConnectionPath: src.ConnectionPath,
		Width:          src.Width,
		Height:         src.Height,
		Channels:       s.conf.Frame.Channels,
		Segments:       src.Segments.Names,
	}
	// the event log belongs to the supervisor
	conf.LogFile = nil

	cmd, err := s.launcher.Command(ctx, conf)
	if err != nil {
		return nil, err
	}

	output := logging.NewWorkerLogger(workerID, src.Name)
	cmd.Stdout = output
	cmd.Stderr = output

	if err = cmd.Start(); err != nil {
		return nil, err
	}

	p := &Process{
		WorkerID: workerID,
		Source:   src,
		Started:  time.Now(),
		cmd:      cmd,
		output:   output,
	}

	s.mu.Lock()
	s.processes = append(s.processes, p)
	s.mu.Unlock()

	go s.awaitExit(p)
	return p, nil
}

func (s *Supervisor) awaitExit(p *Process) {
	p.wait()

	if err := p.ExitErr(); err != nil {
		s.events.Warnw("process exited", err, "source", p.Source.Name, "workerID", p.WorkerID)
	} else {
		s.events.Infow("process exited", "source", p.Source.Name, "workerID", p.WorkerID,
			"uptime", time.Since(p.Started).Round(time.Millisecond).String())
	}
}

// Live returns every successfully started process, running or not.
func (s *Supervisor) Live() []*Process {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*Process(nil), s.processes...)
}

func (s *Supervisor) Process(key string) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.processes {
		if p.Source.Key == key {
			return p, nil
		}
	}
	return nil, errors.ErrSourceNotFound
}

// Failed maps source keys to the reason their worker could not start.
func (s *Supervisor) Failed() map[string]error {
	s.mu.Lock()
	defer s.mu.Unlock()

	failed := make(map[string]error, len(s.failed))
	for k, v := range s.failed {
		failed[k] = v
	}
	return failed
}

// Running returns the processes that have not exited yet.
func (s *Supervisor) Running() []*Process {
	running := make([]*Process, 0)
	for _, p := range s.Live() {
		if p.IsAlive() {
			running = append(running, p)
		}
	}
	return running
}

// TerminateAll interrupts, then kills, every process still running.
func (s *Supervisor) TerminateAll() {
	for _, p := range s.Running() {
		s.events.Warnw("terminating process", nil, "source", p.Source.Name, "workerID", p.WorkerID)
		p.Terminate()
	}
}

// Sources returns the sources whose worker started, in start order.
func (s *Supervisor) Sources() []*types.SourceDescriptor {
	live := s.Live()
	sources := make([]*types.SourceDescriptor, 0, len(live))
	for _, p := range live {
		sources = append(sources, p.Source)
	}
	return sources
}

// IsRunning reports whether the worker for key has not exited yet.
func (s *Supervisor) IsRunning(key string) bool {
	p, err := s.Process(key)
	return err == nil && p.IsAlive()
}
