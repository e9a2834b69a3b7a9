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

package ipc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/livekit/darkcyan/pkg/results"
)

const (
	serviceName = "darkcyan.ipc.SupervisorService"

	pushResultMethod     = "/" + serviceName + "/PushResult"
	workerReadyMethod    = "/" + serviceName + "/WorkerReady"
	workerFinishedMethod = "/" + serviceName + "/WorkerFinished"
)

type PushResultRequest struct {
	WorkerID string          `json:"worker_id"`
	Record   *results.Record `json:"record"`
}

type WorkerReadyRequest struct {
	WorkerID  string `json:"worker_id"`
	SourceKey string `json:"source_key"`
	Pid       int    `json:"pid"`
}

type WorkerFinishedRequest struct {
	WorkerID  string `json:"worker_id"`
	SourceKey string `json:"source_key"`
	Frames    uint64 `json:"frames"`
	Results   uint64 `json:"results"`
	Error     string `json:"error,omitempty"`
}

type Empty struct{}

// SupervisorServiceServer is implemented by the supervisor. PushResult must
// not return until the record is queued.
type SupervisorServiceServer interface {
	PushResult(context.Context, *PushResultRequest) (*Empty, error)
	WorkerReady(context.Context, *WorkerReadyRequest) (*Empty, error)
	WorkerFinished(context.Context, *WorkerFinishedRequest) (*Empty, error)
}

type SupervisorServiceClient interface {
	PushResult(ctx context.Context, in *PushResultRequest, opts ...grpc.CallOption) (*Empty, error)
	WorkerReady(ctx context.Context, in *WorkerReadyRequest, opts ...grpc.CallOption) (*Empty, error)
	WorkerFinished(ctx context.Context, in *WorkerFinishedRequest, opts ...grpc.CallOption) (*Empty, error)
}

type supervisorServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSupervisorServiceClient(cc grpc.ClientConnInterface) SupervisorServiceClient {
	return &supervisorServiceClient{cc: cc}
}

func (c *supervisorServiceClient) PushResult(ctx context.Context, in *PushResultRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, pushResultMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *supervisorServiceClient) WorkerReady(ctx context.Context, in *WorkerReadyRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, workerReadyMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *supervisorServiceClient) WorkerFinished(ctx context.Context, in *WorkerFinishedRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, workerFinishedMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func RegisterSupervisorServiceServer(s grpc.ServiceRegistrar, srv SupervisorServiceServer) {
	s.RegisterService(&supervisorServiceDesc, srv)
}

func pushResultHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PushResultRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SupervisorServiceServer).PushResult(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: pushResultMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SupervisorServiceServer).PushResult(ctx, req.(*PushResultRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func workerReadyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(WorkerReadyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SupervisorServiceServer).WorkerReady(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: workerReadyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SupervisorServiceServer).WorkerReady(ctx, req.(*WorkerReadyRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func workerFinishedHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(WorkerFinishedRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SupervisorServiceServer).WorkerFinished(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: workerFinishedMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SupervisorServiceServer).WorkerFinished(ctx, req.(*WorkerFinishedRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var supervisorServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SupervisorServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PushResult", Handler: pushResultHandler},
		{MethodName: "WorkerReady", Handler: workerReadyHandler},
		{MethodName: "WorkerFinished", Handler: workerFinishedHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "darkcyan/ipc/supervisor",
}
