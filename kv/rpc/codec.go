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

// Package rpc defines the wire service between stores: a small hand-rolled
// gRPC service carrying RaftMessage traffic and snapshot chunks. spec.md
// §1 treats "the RPC framework" as an external collaborator and the real
// kvproto/tikvpb service definitions as out of scope for this module, so
// this package plays their role with plain Go structs instead of
// protoc-generated types, encoded with a JSON codec registered in place of
// grpc's default "proto" codec.
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "proto"

// jsonCodec implements encoding.Codec for plain Go structs. Registering it
// under the name "proto" (grpc's default content-subtype) lets ordinary
// grpc.Dial/grpc.NewServer calls exchange our message structs without
// generated protobuf code, since this module's wire format is explicitly
// out of this core's scope (spec.md §1).
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
