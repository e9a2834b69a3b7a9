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

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/livekit/darkcyan/pkg/errors"
	"github.com/livekit/darkcyan/pkg/ipc"
	"github.com/livekit/protocol/logger"
)

// PushResult returns once the record is queued, so a full channel holds the
// worker back.
func (s *Server) PushResult(ctx context.Context, req *ipc.PushResultRequest) (*ipc.Empty, error) {
	if req.Record == nil {
		return nil, status.Error(codes.InvalidArgument, "missing record")
	}

	if err := s.results.Push(ctx, req.Record); err != nil {
		if errors.Is(err, errors.ErrChannelClosed) {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return nil, status.FromContextError(err).Err()
	}
	return &ipc.Empty{}, nil
}

func (s *Server) WorkerReady(_ context.Context, req *ipc.WorkerReadyRequest) (*ipc.Empty, error) {
	s.events.Infow("worker ready", "workerID", req.WorkerID, "key", req.SourceKey, "pid", req.Pid)
	return &ipc.Empty{}, nil
}

func (s *Server) WorkerFinished(_ context.Context, req *ipc.WorkerFinishedRequest) (*ipc.Empty, error) {
	if req.Error != "" {
		s.events.Warnw("worker finished", errors.New(req.Error),
			"workerID", req.WorkerID, "key", req.SourceKey, "frames", req.Frames, "results", req.Results)
	} else {
		s.events.Infow("worker finished",
			"workerID", req.WorkerID, "key", req.SourceKey, "frames", req.Frames, "results", req.Results)
	}
	logger.Debugw("worker finished completed", "workerID", req.WorkerID)
	return &ipc.Empty{}, nil
}
