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
	"net"
	"os"
	"path"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/livekit/protocol/logger"
)

const (
	network           = "unix"
	supervisorAddress = "supervisor_ipc.sock"
)

// NewServer returns a grpc server speaking the json codec.
func NewServer(opts ...grpc.ServerOption) *grpc.Server {
	return grpc.NewServer(append([]grpc.ServerOption{grpc.ForceServerCodec(Codec{})}, opts...)...)
}

// StartSupervisorListener serves ipcServer on the supervisor socket in ipcDir.
func StartSupervisorListener(ipcServer *grpc.Server, ipcDir string) error {
	if err := os.MkdirAll(ipcDir, 0755); err != nil {
		return err
	}

	listener, err := net.Listen(network, SocketPath(ipcDir))
	if err != nil {
		return err
	}

	go func() {
		if err = ipcServer.Serve(listener); err != nil {
			logger.Errorw("failed to start grpc supervisor", err)
		}
	}()

	return nil
}

func SocketPath(ipcDir string) string {
	return path.Join(ipcDir, supervisorAddress)
}

// SupervisorClient is a worker's connection to the supervisor.
type SupervisorClient struct {
	SupervisorServiceClient
	conn *grpc.ClientConn
}

func NewSupervisorClient(ipcDir string) (*SupervisorClient, error) {
	socketAddr := SocketPath(ipcDir)
	conn, err := grpc.Dial(socketAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
		grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		}),
	)
	if err != nil {
		logger.Errorw("could not dial grpc supervisor", err)
		return nil, err
	}

	return &SupervisorClient{
		SupervisorServiceClient: NewSupervisorServiceClient(conn),
		conn:                    conn,
	}, nil
}

func (c *SupervisorClient) Close() error {
	return c.conn.Close()
}
