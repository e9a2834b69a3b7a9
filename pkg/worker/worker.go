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

package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/atomic"
	"google.golang.org/grpc"

	"github.com/livekit/darkcyan/pkg/config"
	"github.com/livekit/darkcyan/pkg/errors"
	"github.com/livekit/darkcyan/pkg/ipc"
	"github.com/livekit/darkcyan/pkg/results"
	"github.com/livekit/darkcyan/pkg/shm"
	"github.com/livekit/darkcyan/pkg/util"
	"github.com/livekit/protocol/logger"
)

const (
	stopPollInterval = 50 * time.Millisecond
	fpsWindow        = time.Second
)

// Client is the worker's view of the supervisor.
type Client interface {
	PushResult(ctx context.Context, in *ipc.PushResultRequest, opts ...grpc.CallOption) (*ipc.Empty, error)
	WorkerReady(ctx context.Context, in *ipc.WorkerReadyRequest, opts ...grpc.CallOption) (*ipc.Empty, error)
	WorkerFinished(ctx context.Context, in *ipc.WorkerFinishedRequest, opts ...grpc.CallOption) (*ipc.Empty, error)
}

// Worker captures one source until the shared stop flag clears or the source
// ends. It is the only writer of its frame buffer, status and gauges.
type Worker struct {
	conf     *config.WorkerConfig
	segments *shm.Segments
	client   Client
	capturer Capturer
	detector Detector

	frames  atomic.Uint64
	results atomic.Uint64
}

// New opens the shared segments and dials the supervisor.
func New(conf *config.WorkerConfig) (*Worker, error) {
	opts, err := ParseSourceOptions(conf.ConnectionPath, conf.Width, conf.Height, conf.Channels)
	if err != nil {
		return nil, err
	}

	segments, err := shm.Open(conf.RunShmDir(), conf.SourceKey, conf.Segments)
	if err != nil {
		return nil, err
	}

	client, err := ipc.NewSupervisorClient(conf.IPCDir())
	if err != nil {
		_ = segments.Close()
		return nil, err
	}

	return NewWorker(conf, segments, client, NewTestCapturer(opts), NewPeriodicDetector(opts.DetectEvery)), nil
}

func NewWorker(conf *config.WorkerConfig, segments *shm.Segments, client Client, capturer Capturer, detector Detector) *Worker {
	return &Worker{
		conf:     conf,
		segments: segments,
		client:   client,
		capturer: capturer,
		detector: detector,
	}
}

// Run returns once the worker has stopped. Exited is always set on return.
func (w *Worker) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	watching := make(chan struct{})
	go func() {
		defer close(watching)
		w.watchKeepRunning(ctx, cancel)
	}()

	defer func() {
		// the watcher reads shared memory, so it must be gone before Close
		cancel()
		<-watching
		w.finish(err)
	}()

	if _, err := w.client.WorkerReady(ctx, &ipc.WorkerReadyRequest{
		WorkerID:  w.conf.WorkerID,
		SourceKey: w.conf.SourceKey,
		Pid:       os.Getpid(),
	}); err != nil {
		logger.Warnw("failed to report ready", err)
	}

	w.segments.Status.Write("Running")
	connectionPath, _ := util.RedactConnectionPath(w.conf.ConnectionPath)
	logger.Infow("worker running", "connectionPath", connectionPath)

	var (
		windowStart  = time.Now()
		windowFrames int
		windowInfers int
	)
	for {
		frame, err := w.capturer.Read(ctx)
		switch {
		case err == io.EOF:
			w.segments.Status.Write("Source ended")
			return nil
		case ctx.Err() != nil:
			w.segments.Status.Write("Stopped")
			return nil
		case err != nil:
			w.segments.Status.Write(fmt.Sprintf("Capture failed: %v", err))
			return err
		}

		if err = w.segments.Frame.Write(frame.Data); err != nil {
			w.segments.Status.Write("Frame too large")
			return err
		}
		w.frames.Inc()
		windowFrames++

		if det, ok := w.detector.Detect(frame); ok {
			windowInfers++
			if err = w.push(ctx, frame, det); err != nil {
				if ctx.Err() != nil {
					w.segments.Status.Write("Stopped")
					return nil
				}
				return err
			}
		}

		if elapsed := time.Since(windowStart); elapsed >= fpsWindow {
			w.segments.SourceFPS.Set(float64(windowFrames) / elapsed.Seconds())
			w.segments.InferenceFPS.Set(float64(windowInfers) / elapsed.Seconds())
			windowStart = time.Now()
			windowFrames = 0
			windowInfers = 0
		}
	}
}

// push blocks while the result channel is full.
func (w *Worker) push(ctx context.Context, frame *Frame, det *Detection) error {
	_, err := w.client.PushResult(ctx, &ipc.PushResultRequest{
		WorkerID: w.conf.WorkerID,
		Record: &results.Record{
			Source:     w.conf.SourceKey,
			Categories: det.Categories,
			Boxes:      det.Boxes,
			Timestamp:  frame.Captured,
		},
	})
	if err != nil {
		return err
	}
	w.results.Inc()
	return nil
}

func (w *Worker) watchKeepRunning(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if !w.segments.Control.KeepRunning.IsSet() {
			logger.Debugw("stop requested")
			cancel()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) finish(runErr error) {
	_ = w.capturer.Close()
	w.segments.SourceFPS.Set(0)
	w.segments.InferenceFPS.Set(0)

	req := &ipc.WorkerFinishedRequest{
		WorkerID:  w.conf.WorkerID,
		SourceKey: w.conf.SourceKey,
		Frames:    w.frames.Load(),
		Results:   w.results.Load(),
	}
	if runErr != nil {
		req.Error = runErr.Error()
	}

	// the run context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := w.client.WorkerFinished(ctx, req); err != nil {
		logger.Debugw("failed to report finished", "error", err)
	}

	// reported first, so the supervisor has the totals once the flag is seen
	w.segments.Exited.Set(true)

	logger.Infow("worker finished", "frames", req.Frames, "results", req.Results, "error", runErr)
}

// Close unmaps the worker's view of the shared segments.
func (w *Worker) Close() error {
	errs := &errors.ErrArray{}
	errs.AppendErr(w.segments.Close())
	if c, ok := w.client.(io.Closer); ok {
		errs.AppendErr(c.Close())
	}
	return errs.ToError()
}

func (w *Worker) Frames() uint64 {
	return w.frames.Load()
}

func (w *Worker) Results() uint64 {
	return w.results.Load()
}
