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

	"google.golang.org/grpc"
)

// RegionInfoRequest/Response and RaftStatusRequest/Response stand in for
// kvproto's debugpb messages (spec.md §1 keeps the real wire protocol out
// of scope); DebugServer is bound by Server iff debug engines are
// supplied, mirroring the original's `DebugService::new(engines, raft_router)`.
type RegionInfoRequest struct {
	RegionId uint64
}

type RegionInfoResponse struct {
	RegionId       uint64
	DiskUsedBytes  uint64
	DiskTotalBytes uint64
}

type RaftStatusRequest struct{}

type RaftStatusResponse struct {
	MemoryUsedBytes  uint64
	MemoryTotalBytes uint64
}

// DebugServer is the read-only debug RPC surface.
type DebugServer interface {
	RegionInfo(context.Context, *RegionInfoRequest) (*RegionInfoResponse, error)
	RaftStatus(context.Context, *RaftStatusRequest) (*RaftStatusResponse, error)
}

const DebugServiceName = "tinykv.Debug"

func regionInfoHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RegionInfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DebugServer).RegionInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DebugServiceName + "/RegionInfo"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DebugServer).RegionInfo(ctx, req.(*RegionInfoRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func raftStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RaftStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DebugServer).RaftStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DebugServiceName + "/RaftStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DebugServer).RaftStatus(ctx, req.(*RaftStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// DebugServiceDesc is the hand-written analogue of what protoc-gen-go-grpc
// would emit from kvproto's debugpb.proto.
var DebugServiceDesc = grpc.ServiceDesc{
	ServiceName: DebugServiceName,
	HandlerType: (*DebugServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegionInfo", Handler: regionInfoHandler},
		{MethodName: "RaftStatus", Handler: raftStatusHandler},
	},
	Metadata: "tinykv.proto",
}

// RegisterDebugServer binds srv onto s.
func RegisterDebugServer(s *grpc.Server, srv DebugServer) {
	s.RegisterService(&DebugServiceDesc, srv)
}
