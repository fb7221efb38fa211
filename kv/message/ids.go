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

// Package message defines the wire-independent data model shared by the
// transport core: identifiers, RaftMessage, RaftCmdRequest, SignificantMsg
// and Callback. The real kvproto/eraftpb wire types are outside this
// module's scope (spec.md §1 treats the RPC framework as an external
// collaborator); these are the minimal stand-ins needed to drive routing
// and transport logic.
package message

// StoreId identifies a peer store in the cluster.
type StoreId = uint64

// RegionId identifies a Raft group (key-range replica set).
type RegionId = uint64

// PeerId identifies one replica of a region.
type PeerId = uint64

// RegionEpoch tracks membership/split versioning for a region. It is
// monotonically non-decreasing under conf-change and split.
type RegionEpoch struct {
	Version uint64
	ConfVer uint64
}

// Peer identifies a single replica: which store it lives on and its id
// within the region.
type Peer struct {
	Id      PeerId
	StoreId StoreId
}
