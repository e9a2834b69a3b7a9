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

package signals

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/frostbyte73/core"

	"github.com/livekit/protocol/logger"
)

// Observer reports whether an operator asked the run to stop.
type Observer interface {
	AbortRequested() bool
}

// Monitor latches the first SIGINT, SIGTERM or SIGQUIT.
type Monitor struct {
	sigs    chan os.Signal
	aborted core.Fuse
	stopped core.Fuse
}

func NewMonitor() *Monitor {
	m := &Monitor{
		sigs: make(chan os.Signal, 1),
	}
	signal.Notify(m.sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go m.watch()
	return m
}

func (m *Monitor) watch() {
	for {
		select {
		case sig := <-m.sigs:
			logger.Infow("exit requested, shutting down", "signal", sig)
			m.aborted.Break()
		case <-m.stopped.Watch():
			return
		}
	}
}

func (m *Monitor) AbortRequested() bool {
	return m.aborted.IsBroken()
}

// Abort has the same effect as a signal.
func (m *Monitor) Abort() {
	m.aborted.Break()
}

func (m *Monitor) Aborted() <-chan struct{} {
	return m.aborted.Watch()
}

func (m *Monitor) Stop() {
	signal.Stop(m.sigs)
	m.stopped.Break()
}
