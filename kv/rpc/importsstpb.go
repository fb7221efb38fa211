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

// SwitchModeRequest/Response stand in for kvproto's import_sstpb messages.
// The SST ingestion pipeline itself is out of this module's scope
// (spec.md §1); SwitchMode is kept because it is the one import_sstpb RPC
// the transport core's own Server needs to expose a hook for (toggling
// the store between normal and bulk-import compaction behavior), matching
// the real import_sstpb.ImportSST/SwitchMode RPC name.
type SwitchModeRequest struct {
	Mode string
}

type SwitchModeResponse struct{}

// ImportSSTServer is the injectable surface Server binds iff an import
// service is supplied, per spec.md §6 ("import_sst: bound iff import
// service provided").
type ImportSSTServer interface {
	SwitchMode(context.Context, *SwitchModeRequest) (*SwitchModeResponse, error)
}

const ImportSSTServiceName = "tinykv.ImportSST"

func switchModeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SwitchModeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ImportSSTServer).SwitchMode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ImportSSTServiceName + "/SwitchMode"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ImportSSTServer).SwitchMode(ctx, req.(*SwitchModeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var ImportSSTServiceDesc = grpc.ServiceDesc{
	ServiceName: ImportSSTServiceName,
	HandlerType: (*ImportSSTServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SwitchMode", Handler: switchModeHandler},
	},
	Metadata: "tinykv.proto",
}

// RegisterImportSSTServer binds srv onto s.
func RegisterImportSSTServer(s *grpc.Server, srv ImportSSTServer) {
	s.RegisterService(&ImportSSTServiceDesc, srv)
}
