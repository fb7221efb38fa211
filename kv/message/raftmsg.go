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

package message

import "go.etcd.io/etcd/raft/raftpb"

// RaftMessage is a consensus-layer message addressed (region, from, to).
// It wraps an etcd/raft raftpb.Message the same way kvproto's
// raft_serverpb.RaftMessage wraps an eraftpb.Message: the inner Message
// carries the actual raft protocol payload (including, for MsgSnap, a
// raftpb.Snapshot), while the outer struct carries TiKV-level routing
// metadata the raft library itself doesn't know about.
type RaftMessage struct {
	RegionId    RegionId
	FromPeer    Peer
	ToPeer      Peer
	RegionEpoch RegionEpoch
	Message     raftpb.Message
	// StartKey/EndKey are carried on MsgSnap so the receiving store can
	// pre-create the target region before the snapshot lands.
	StartKey []byte
	EndKey   []byte
}

// HasSnapshot reports whether the wrapped raft message carries a snapshot
// payload, i.e. whether it must bypass the normal buffered client and
// stream over the dedicated snapshot channel.
func (m *RaftMessage) HasSnapshot() bool {
	return m.Message.Type == raftpb.MsgSnap
}

// ToStoreId is the destination store for this message.
func (m *RaftMessage) ToStoreId() StoreId {
	return m.ToPeer.StoreId
}
