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
	"time"

	"github.com/frostbyte73/core"
	"github.com/linkdata/deadlock"
	"go.uber.org/atomic"

	"github.com/livekit/darkcyan/pkg/display"
	"github.com/livekit/darkcyan/pkg/errors"
	"github.com/livekit/darkcyan/pkg/logging"
	"github.com/livekit/darkcyan/pkg/results"
	"github.com/livekit/darkcyan/pkg/shm"
	"github.com/livekit/darkcyan/pkg/signals"
	"github.com/livekit/darkcyan/pkg/stats"
	"github.com/livekit/darkcyan/pkg/types"
)

const (
	exitPollInterval = 20 * time.Millisecond
	exitedMarker     = " (process exited)"
)

type State int32

const (
	StateRunning State = iota
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	StopReasonRunFor      = "run duration reached"
	StopReasonAbort       = "abort requested"
	StopReasonKeepRunning = "keep running cleared"
)

// Workers is the loop's view of the started worker processes.
type Workers interface {
	Sources() []*types.SourceDescriptor
	IsRunning(key string) bool
	TerminateAll()
}

// ResultSink receives every consumed result. Consume must not block.
type ResultSink interface {
	Consume(r *results.Record)
}

type ResultSinkFunc func(r *results.Record)

func (f ResultSinkFunc) Consume(r *results.Record) {
	f(r)
}

type LoopParams struct {
	RunFor      time.Duration
	GracePeriod time.Duration
	IdleSleep   time.Duration

	Workers  Workers
	Results  *results.Channel
	Manager  *shm.Manager
	Abort    signals.Observer
	Display  display.Sink
	Events   *logging.EventLog
	Monitor  *stats.Monitor
	Sinks    []ResultSink
	OnChange func(State)
}

// SourceStatus is the last telemetry read for one source.
type SourceStatus struct {
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	SourceFPS    float64 `json:"source_fps"`
	InferenceFPS float64 `json:"inference_fps"`
	Running      bool    `json:"running"`
	Exited       bool    `json:"exited"`
}

// Loop is the supervisor's single control loop: Running, then ShuttingDown,
// then Stopped. Shared memory is only touched from the loop goroutine.
type Loop struct {
	LoopParams

	control *shm.Control
	start   atomic.Time
	state   atomic.Int32
	reason  atomic.String
	stopped core.Fuse

	consumed atomic.Uint64

	mu       deadlock.Mutex
	snapshot map[string]SourceStatus
}

func NewLoop(p LoopParams) *Loop {
	if p.Display == nil {
		p.Display = display.Discard{}
	}
	if p.Events == nil {
		p.Events = &logging.EventLog{}
	}

	return &Loop{
		LoopParams: p,
		control:    p.Manager.Control(),
		snapshot:   make(map[string]SourceStatus),
	}
}

// Run blocks until the loop is Stopped. Cancelling ctx counts as an abort.
func (l *Loop) Run(ctx context.Context) error {
	if l.stopped.IsBroken() {
		return errors.ErrReleased
	}

	l.start.Store(time.Now())
	l.setState(StateRunning)
	for l.tick(ctx) {
	}

	l.shutdown()
	return nil
}

// tick renders telemetry, consumes at most one result and evaluates the stop
// condition. It returns false once the loop must shut down.
func (l *Loop) tick(ctx context.Context) bool {
	l.render()

	if r, ok := l.Results.TryPop(); ok {
		l.consume(r)
	} else {
		l.idle(ctx)
	}

	if reason := l.stopCondition(ctx); reason != "" {
		l.reason.Store(reason)
		return false
	}
	return true
}

func (l *Loop) idle(ctx context.Context) {
	timer := time.NewTimer(l.IdleSleep)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (l *Loop) stopCondition(ctx context.Context) string {
	switch {
	case time.Since(l.start.Load()) >= l.RunFor:
		return StopReasonRunFor
	case ctx.Err() != nil || (l.Abort != nil && l.Abort.AbortRequested()):
		return StopReasonAbort
	case !l.control.KeepRunning.IsSet():
		return StopReasonKeepRunning
	default:
		return ""
	}
}

func (l *Loop) render() {
	sources := l.Workers.Sources()
	snapshot := make(map[string]SourceStatus, len(sources))

	for _, src := range sources {
		s := SourceStatus{
			Name:         src.Name,
			Status:       src.Status().Read(),
			SourceFPS:    src.SourceFPS().Load(),
			InferenceFPS: src.InferenceFPS().Load(),
			Running:      l.Workers.IsRunning(src.Key),
			Exited:       src.Exited().IsSet(),
		}
		snapshot[src.Key] = s

		status := s.Status
		if !s.Running && !s.Exited {
			// died without reporting, so the status text is stale
			status += exitedMarker
		}
		l.Display.Update(display.Line{
			Key:          src.Key,
			Name:         s.Name,
			Status:       status,
			SourceFPS:    s.SourceFPS,
			InferenceFPS: s.InferenceFPS,
		})
		if l.Monitor != nil {
			l.Monitor.SourceTelemetry(src.Key, s.SourceFPS, s.InferenceFPS)
		}
	}
	l.Display.Flush()

	l.mu.Lock()
	l.snapshot = snapshot
	l.mu.Unlock()
}

func (l *Loop) consume(r *results.Record) {
	l.consumed.Inc()
	l.Events.Infow("result",
		"source", r.Source,
		"categories", r.Categories,
		"boxes", r.Boxes,
	)
	if l.Monitor != nil {
		l.Monitor.ResultConsumed(r.Source)
	}
	for _, sink := range l.Sinks {
		sink.Consume(r)
	}
}

func (l *Loop) shutdown() {
	l.setState(StateShuttingDown)
	l.Events.Infow("shutting down", "reason", l.reason.Load(), "elapsed", l.Elapsed().Round(time.Millisecond).String())

	// the only coordinated stop signal, seen by every worker
	l.control.KeepRunning.Set(false)

	stragglers := l.awaitExit()
	for _, src := range stragglers {
		l.Events.Warnw("worker still running after grace period", nil, "source", src.Name, "key", src.Key)
	}

	if n := l.Results.Close(); n > 0 {
		l.Events.Warnw("abandoning queued results", nil, "count", n)
		if l.Monitor != nil {
			l.Monitor.ResultsAbandoned(n)
		}
	}

	// last read before the segments go away
	l.render()
	l.Display.Close()

	if err := l.Manager.Release(); err != nil {
		l.Events.Errorw("failed to release shared memory", err)
	}

	if len(stragglers) > 0 {
		l.Workers.TerminateAll()
	}

	l.setState(StateStopped)
	l.stopped.Break()
	l.Events.Infow("stopped", "results", l.consumed.Load())
}

// awaitExit waits up to the grace period for every worker to set its exited
// flag or end its process, and returns the ones that did neither.
func (l *Loop) awaitExit() []*types.SourceDescriptor {
	deadline := time.Now().Add(l.GracePeriod)
	for {
		pending := make([]*types.SourceDescriptor, 0)
		for _, src := range l.Workers.Sources() {
			if !src.Exited().IsSet() && l.Workers.IsRunning(src.Key) {
				pending = append(pending, src)
			}
		}

		if len(pending) == 0 || !time.Now().Before(deadline) {
			return pending
		}
		time.Sleep(min(exitPollInterval, time.Until(deadline)))
	}
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
	if l.OnChange != nil {
		l.OnChange(s)
	}
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

// StopReason is empty while the loop is running.
func (l *Loop) StopReason() string {
	return l.reason.Load()
}

func (l *Loop) Stopped() <-chan struct{} {
	return l.stopped.Watch()
}

func (l *Loop) Consumed() uint64 {
	return l.consumed.Load()
}

// Snapshot returns the telemetry read on the last tick. It is safe to call
// from any goroutine, including after shared memory has been released.
func (l *Loop) Snapshot() map[string]SourceStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapshot := make(map[string]SourceStatus, len(l.snapshot))
	for k, v := range l.snapshot {
		snapshot[k] = v
	}
	return snapshot
}

func (l *Loop) Elapsed() time.Duration {
	start := l.start.Load()
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}
