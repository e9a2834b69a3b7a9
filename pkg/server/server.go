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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/frostbyte73/core"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"

	"github.com/livekit/darkcyan/pkg/config"
	"github.com/livekit/darkcyan/pkg/display"
	"github.com/livekit/darkcyan/pkg/errors"
	"github.com/livekit/darkcyan/pkg/ipc"
	"github.com/livekit/darkcyan/pkg/logging"
	"github.com/livekit/darkcyan/pkg/publisher"
	"github.com/livekit/darkcyan/pkg/results"
	"github.com/livekit/darkcyan/pkg/shm"
	"github.com/livekit/darkcyan/pkg/signals"
	"github.com/livekit/darkcyan/pkg/stats"
	"github.com/livekit/darkcyan/pkg/supervisor"
	"github.com/livekit/darkcyan/pkg/types"
	"github.com/livekit/darkcyan/version"
	"github.com/livekit/protocol/logger"
)

const uploadTimeout = 30 * time.Second

var tracer = otel.Tracer("github.com/livekit/darkcyan/pkg/server")

type Options struct {
	Launcher supervisor.Launcher // defaults to re-executing this binary
	Abort    signals.Observer
	Display  display.Sink      // defaults to the terminal unless disabled
	Events   *logging.EventLog // defaults to the configured log file
}

type Server struct {
	conf *config.ServiceConfig

	events     *logging.EventLog
	manager    *shm.Manager
	sources    []*types.SourceDescriptor
	results    *results.Channel
	supervisor *supervisor.Supervisor
	loop       *Loop
	monitor    *stats.Monitor
	publisher  *publisher.Publisher
	archive    *archive

	ipcServer  *grpc.Server
	promServer *http.Server

	closed core.Fuse
}

// NewServer allocates every shared resource. Any error is fatal and is
// returned before a worker has been started.
func NewServer(conf *config.ServiceConfig, opts Options) (*Server, error) {
	s := &Server{
		conf:    conf,
		events:  opts.Events,
		results: results.NewChannel(conf.ResultQueueSize),
		monitor: stats.NewMonitor(conf.NodeID),
	}

	if s.events == nil {
		events, err := logging.NewEventLog(conf.LogFile)
		if err != nil {
			return nil, errors.Fatal(err)
		}
		s.events = events
	}

	if err := s.allocate(); err != nil {
		s.cleanup()
		return nil, errors.Fatal(err)
	}

	launcher := opts.Launcher
	if launcher == nil {
		l, err := supervisor.NewExecLauncher(conf.WorkerCommand)
		if err != nil {
			s.cleanup()
			return nil, errors.Fatal(err)
		}
		launcher = l
	}
	s.supervisor = supervisor.NewSupervisor(conf, launcher, s.events)

	s.ipcServer = ipc.NewServer()
	ipc.RegisterSupervisorServiceServer(s.ipcServer, s)
	if err := ipc.StartSupervisorListener(s.ipcServer, conf.IPCDir()); err != nil {
		s.cleanup()
		return nil, errors.Fatal(err)
	}

	s.monitor.RegisterQueueDepth(func() float64 { return float64(s.results.Len()) })
	if conf.PrometheusPort > 0 {
		if err := s.startPrometheus(); err != nil {
			s.cleanup()
			return nil, errors.Fatal(err)
		}
	}

	sinks := make([]ResultSink, 0, 2)
	if conf.Archive != nil {
		a, err := newArchive(conf.Archive, path.Join(conf.TmpDir, "archive"), s.monitor)
		if err != nil {
			s.cleanup()
			return nil, errors.Fatal(err)
		}
		s.archive = a
		sinks = append(sinks, a)
	}
	if conf.MQTT != nil {
		p, err := publisher.New(conf.MQTT)
		if err != nil {
			// results are still logged and archived
			logger.Errorw("mqtt unavailable, results will not be published", err)
		} else {
			s.publisher = p
			sinks = append(sinks, ResultSinkFunc(p.Publish))
		}
	}

	sink := opts.Display
	if sink == nil {
		if conf.Display.Disabled {
			sink = display.Discard{}
		} else {
			sink = display.NewTerminal(os.Stdout, conf.Display.RefreshInterval)
		}
	}

	s.loop = NewLoop(LoopParams{
		RunFor:      conf.RunFor,
		GracePeriod: conf.GracePeriod,
		IdleSleep:   conf.IdleSleep,
		Workers:     s.supervisor,
		Results:     s.results,
		Manager:     s.manager,
		Abort:       opts.Abort,
		Display:     sink,
		Events:      s.events,
		Monitor:     s.monitor,
		Sinks:       sinks,
	})

	return s, nil
}

// allocate creates the shared segments and writes every initial status.
func (s *Server) allocate() error {
	manager, err := shm.NewManager(s.conf.RunShmDir())
	if err != nil {
		return err
	}
	s.manager = manager

	keys := s.conf.SourceKeys()
	handles, err := manager.Allocate(keys, s.conf.Frame.Capacity(), s.conf.StatusCapacity)
	if err != nil {
		return err
	}

	for i, key := range keys {
		src := types.NewSourceDescriptor(key, s.conf.Sources[key], handles[i])
		manager.WriteInitialStatus(handles[i], types.InitialStatus(src.Name))
		s.sources = append(s.sources, src)
	}
	return nil
}

func (s *Server) startPrometheus() error {
	s.promServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.conf.PrometheusPort),
		Handler: s.monitor.Handler(),
	}

	promListener, err := net.Listen("tcp", s.promServer.Addr)
	if err != nil {
		return err
	}
	go func() {
		_ = s.promServer.Serve(promListener)
	}()
	return nil
}

// Run starts every worker and blocks until the loop has stopped and the
// results archive is stored.
func (s *Server) Run(ctx context.Context) error {
	logger.Debugw("starting supervisor", "version", version.Version, "sources", len(s.sources))
	defer s.cleanup()

	s.monitor.Start(s.closed.Watch())

	ctx, span := tracer.Start(ctx, "Server.Run")
	defer span.End()

	started := s.supervisor.StartAll(ctx, s.sources)
	for key := range s.supervisor.Failed() {
		s.monitor.WorkerFailed(key)
	}
	s.monitor.WorkersRunning(len(started))
	logger.Infow("supervisor ready", "started", len(started), "failed", len(s.sources)-len(started))

	if err := s.loop.Run(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	s.monitor.WorkersRunning(len(s.supervisor.Running()))

	if s.archive != nil {
		uploadCtx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		location, err := s.archive.finish(uploadCtx)
		cancel()
		if err != nil {
			s.events.Errorw("failed to store results archive", err)
		} else {
			s.events.Infow("results archive stored", "location", location)
		}
	}

	logger.Infow("supervisor stopped", "reason", s.loop.StopReason(), "results", s.loop.Consumed())
	return nil
}

// cleanup stops background services. Shared memory is released by the loop,
// or here when the loop never ran.
func (s *Server) cleanup() {
	s.closed.Once(func() {
		if s.ipcServer != nil {
			s.ipcServer.Stop()
		}
		if s.publisher != nil {
			s.publisher.Close()
		}
		if s.promServer != nil {
			_ = s.promServer.Close()
		}
		if s.manager != nil && !s.manager.Released() {
			s.results.Close()
			_ = s.manager.Release()
		}
		_ = os.RemoveAll(s.conf.IPCDir())
		_ = s.events.Close()
	})
}

type Status struct {
	NodeID          string                  `json:"node_id"`
	State           string                  `json:"state"`
	StopReason      string                  `json:"stop_reason,omitempty"`
	Elapsed         string                  `json:"elapsed"`
	CPULoad         float64                 `json:"cpu_load"`
	ResultsConsumed uint64                  `json:"results_consumed"`
	QueueDepth      int                     `json:"queue_depth"`
	Sources         map[string]SourceStatus `json:"sources"`
	Failed          map[string]string       `json:"failed,omitempty"`
}

func (s *Server) Status() ([]byte, error) {
	status := &Status{
		NodeID:          s.conf.NodeID,
		State:           s.loop.State().String(),
		StopReason:      s.loop.StopReason(),
		Elapsed:         s.loop.Elapsed().Round(time.Millisecond).String(),
		CPULoad:         s.monitor.GetCPULoad(),
		ResultsConsumed: s.loop.Consumed(),
		QueueDepth:      s.results.Len(),
		Sources:         s.loop.Snapshot(),
	}

	if failed := s.supervisor.Failed(); len(failed) > 0 {
		status.Failed = make(map[string]string, len(failed))
		for key, err := range failed {
			status.Failed[key] = err.Error()
		}
	}
	return json.Marshal(status)
}

func (s *Server) Sources() []*types.SourceDescriptor {
	return s.sources
}

func (s *Server) Loop() *Loop {
	return s.loop
}

func (s *Server) Manager() *shm.Manager {
	return s.manager
}
