// Copyright 2016 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package rpc

import (
	"context"

	"github.com/pingcap-edu/tinykv/kv/message"
	"google.golang.org/grpc"
)

// Empty is the shared zero-payload response type.
type Empty struct{}

// SnapshotChunk is one frame of a streamed snapshot transfer. The first
// chunk on a stream carries Message (routing metadata); every chunk
// (including the first) may carry a Data payload.
type SnapshotChunk struct {
	Message *message.RaftMessage
	Data    []byte
}

// CoprocessorRequest/Response carry a DAG request addressed to one region,
// routed through the coprocessor worker on the server side.
type CoprocessorRequest struct {
	RegionId uint64
	Data     []byte
}

type CoprocessorResponse struct {
	Data []byte
}

// TinyKvServer is the inbound service surface bound by kv/server.Server:
// Raft carries consensus traffic, Snapshot carries bulk state transfer,
// Command carries client-origin RaftCmdRequests (routed through
// RaftStoreRouter.SendCommand on the server side), Coprocessor carries DAG
// requests (routed through the coprocessor worker).
type TinyKvServer interface {
	Raft(TinyKv_RaftServer) error
	Snapshot(TinyKv_SnapshotServer) error
	Command(context.Context, *message.RaftCmdRequest) (*message.RaftCmdResponse, error)
	Coprocessor(context.Context, *CoprocessorRequest) (*CoprocessorResponse, error)
}

// TinyKv_RaftServer is the server-side view of the Raft streaming RPC.
type TinyKv_RaftServer interface {
	Recv() (*message.RaftMessage, error)
	SendAndClose(*Empty) error
}

// TinyKv_SnapshotServer is the server-side view of the Snapshot streaming RPC.
type TinyKv_SnapshotServer interface {
	Recv() (*SnapshotChunk, error)
	SendAndClose(*Empty) error
}

type raftServerStream struct{ grpc.ServerStream }

func (s *raftServerStream) Recv() (*message.RaftMessage, error) {
	m := new(message.RaftMessage)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *raftServerStream) SendAndClose(e *Empty) error {
	return s.ServerStream.SendMsg(e)
}

type snapshotServerStream struct{ grpc.ServerStream }

func (s *snapshotServerStream) Recv() (*SnapshotChunk, error) {
	c := new(SnapshotChunk)
	if err := s.ServerStream.RecvMsg(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *snapshotServerStream) SendAndClose(e *Empty) error {
	return s.ServerStream.SendMsg(e)
}

func raftHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(TinyKvServer).Raft(&raftServerStream{stream})
}

func snapshotHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(TinyKvServer).Snapshot(&snapshotServerStream{stream})
}

func commandHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(message.RaftCmdRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TinyKvServer).Command(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/Command"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TinyKvServer).Command(ctx, req.(*message.RaftCmdRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func coprocessorHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CoprocessorRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TinyKvServer).Coprocessor(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/Coprocessor"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TinyKvServer).Coprocessor(ctx, req.(*CoprocessorRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceName is the fully qualified gRPC service name, mirroring
// kvproto's "tikvpb.Tikv".
const ServiceName = "tinykv.TinyKv"

// ServiceDesc is the hand-written analogue of what protoc-gen-go-grpc
// would emit for the service above.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TinyKvServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Command", Handler: commandHandler},
		{MethodName: "Coprocessor", Handler: coprocessorHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Raft", Handler: raftHandler, ClientStreams: true},
		{StreamName: "Snapshot", Handler: snapshotHandler, ClientStreams: true},
	},
	Metadata: "tinykv.proto",
}

// RegisterTinyKvServer binds srv onto s the way a generated
// RegisterTinyKvServer function would.
func RegisterTinyKvServer(s *grpc.Server, srv TinyKvServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// TinyKvClient is the outbound client stub RaftClient dials per store.
type TinyKvClient interface {
	Raft(ctx context.Context, opts ...grpc.CallOption) (TinyKv_RaftClient, error)
	Snapshot(ctx context.Context, opts ...grpc.CallOption) (TinyKv_SnapshotClient, error)
	Command(ctx context.Context, in *message.RaftCmdRequest, opts ...grpc.CallOption) (*message.RaftCmdResponse, error)
	Coprocessor(ctx context.Context, in *CoprocessorRequest, opts ...grpc.CallOption) (*CoprocessorResponse, error)
}

// TinyKv_RaftClient is the client-side view of the Raft streaming RPC.
type TinyKv_RaftClient interface {
	Send(*message.RaftMessage) error
	CloseAndRecv() (*Empty, error)
}

// TinyKv_SnapshotClient is the client-side view of the Snapshot streaming RPC.
type TinyKv_SnapshotClient interface {
	Send(*SnapshotChunk) error
	CloseAndRecv() (*Empty, error)
}

type tinyKvClient struct {
	cc *grpc.ClientConn
}

// NewTinyKvClient builds a client stub bound to an established connection.
func NewTinyKvClient(cc *grpc.ClientConn) TinyKvClient {
	return &tinyKvClient{cc: cc}
}

type raftClientStream struct{ grpc.ClientStream }

func (c *tinyKvClient) Raft(ctx context.Context, opts ...grpc.CallOption) (TinyKv_RaftClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], ServiceName+"/Raft", opts...)
	if err != nil {
		return nil, err
	}
	return &raftClientStream{stream}, nil
}

func (s *raftClientStream) Send(m *message.RaftMessage) error {
	return s.ClientStream.SendMsg(m)
}

func (s *raftClientStream) CloseAndRecv() (*Empty, error) {
	if err := s.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	e := new(Empty)
	if err := s.ClientStream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}

type snapshotClientStream struct{ grpc.ClientStream }

func (c *tinyKvClient) Snapshot(ctx context.Context, opts ...grpc.CallOption) (TinyKv_SnapshotClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[1], ServiceName+"/Snapshot", opts...)
	if err != nil {
		return nil, err
	}
	return &snapshotClientStream{stream}, nil
}

func (s *snapshotClientStream) Send(m *SnapshotChunk) error {
	return s.ClientStream.SendMsg(m)
}

func (s *snapshotClientStream) CloseAndRecv() (*Empty, error) {
	if err := s.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	e := new(Empty)
	if err := s.ClientStream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (c *tinyKvClient) Command(ctx context.Context, in *message.RaftCmdRequest, opts ...grpc.CallOption) (*message.RaftCmdResponse, error) {
	out := new(message.RaftCmdResponse)
	err := c.cc.Invoke(ctx, ServiceName+"/Command", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *tinyKvClient) Coprocessor(ctx context.Context, in *CoprocessorRequest, opts ...grpc.CallOption) (*CoprocessorResponse, error) {
	out := new(CoprocessorResponse)
	err := c.cc.Invoke(ctx, ServiceName+"/Coprocessor", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}
