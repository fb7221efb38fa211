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

package raft_storage

import (
	"github.com/pingcap-edu/tinykv/kv/message"
	"github.com/pingcap-edu/tinykv/kv/raftstore"
	"github.com/pingcap-edu/tinykv/kv/raftstore/localreader"
	"github.com/pingcap/errors"
)

// RaftStoreRouter is the clonable, thread-safe capability interface
// spec.md §4.1 describes: it multiplexes raw Raft messages, command
// requests, batched read commands and significant out-of-band signals
// onto either the consensus write path or the local-read fast path.
// Grounded on the original's `pub trait RaftStoreRouter`
// (original_source/src/server/transport.rs).
type RaftStoreRouter interface {
	SendRaftMessage(msg *message.RaftMessage) error
	SendCommand(req *message.RaftCmdRequest, cb *message.Callback) error
	SendBatchCommands(reqs []*message.RaftCmdRequest, onFinished message.BatchReadCallback) error
	AsyncSplit(regionID message.RegionId, epoch message.RegionEpoch, splitKeys [][]byte, cb *message.Callback) error
	SignificantSend(regionID message.RegionId, msg message.SignificantMsg) error
	ReportUnreachable(regionID message.RegionId, toPeerID message.PeerId) error
	ReportSnapshotStatus(regionID message.RegionId, toPeerID message.PeerId, status message.SnapshotStatus) error
	Clone() RaftStoreRouter
}

// RaftstoreRouter is the production RaftStoreRouter: it composes the
// PeerRouter (in-process mailbox fabric) with the LocalReader scheduler,
// exactly mirroring the original's
// `ServerRaftStoreRouter{router, local_reader_ch}`.
type RaftstoreRouter struct {
	router      *raftstore.Router
	localReader *localreader.Scheduler
}

// NewRaftstoreRouter builds a RaftStoreRouter over an existing PeerRouter
// and LocalReader scheduler.
func NewRaftstoreRouter(router *raftstore.Router, localReader *localreader.Scheduler) *RaftstoreRouter {
	return &RaftstoreRouter{router: router, localReader: localReader}
}

// Clone returns a handle sharing the same underlying router/localReader;
// RaftstoreRouter holds only pointers to shared state, so a value copy is
// already a correct clone (idiomatic stand-in for the original's #[derive(Clone)]).
func (r *RaftstoreRouter) Clone() RaftStoreRouter {
	clone := *r
	return &clone
}

// SendRaftMessage enqueues msg to its target region's mailbox.
func (r *RaftstoreRouter) SendRaftMessage(msg *message.RaftMessage) error {
	return r.router.SendRaftMessage(msg)
}

// SendCommand routes req to the LocalReader if it is read-acceptable,
// otherwise onto the region's mailbox for the normal Raft write path.
func (r *RaftstoreRouter) SendCommand(req *message.RaftCmdRequest, cb *message.Callback) error {
	if message.Acceptable(req) {
		return r.localReader.Schedule(req, cb)
	}
	return r.router.SendCmd(req, cb)
}

// SendBatchCommands schedules a batch of read-acceptable commands as a
// single LocalReader task; onFinished fires once with per-request results
// in input order (spec.md scenario S6).
func (r *RaftstoreRouter) SendBatchCommands(reqs []*message.RaftCmdRequest, onFinished message.BatchReadCallback) error {
	return r.localReader.ScheduleBatch(reqs, onFinished)
}

// AsyncSplit enqueues an admin split as a peer message to the region.
func (r *RaftstoreRouter) AsyncSplit(regionID message.RegionId, epoch message.RegionEpoch, splitKeys [][]byte, cb *message.Callback) error {
	if len(splitKeys) == 0 {
		return errors.New("async split requires at least one split key")
	}
	return r.router.SendPeerMessage(regionID, raftstore.PeerMsg{
		Kind:             raftstore.PeerMsgSplitRegion,
		SplitRegionEpoch: epoch,
		SplitKeys:        splitKeys,
		Callback:         cb,
	})
}

// SignificantSend delivers msg through the force-send path so backpressure
// can never drop it; only a torn-down region yields an error (spec.md
// invariant 4).
func (r *RaftstoreRouter) SignificantSend(regionID message.RegionId, msg message.SignificantMsg) error {
	return r.router.ForceSendPeerMessage(regionID, raftstore.PeerMsg{
		Kind:        raftstore.PeerMsgSignificant,
		Significant: &msg,
	})
}

// ReportUnreachable is convenience sugar over SignificantSend.
func (r *RaftstoreRouter) ReportUnreachable(regionID message.RegionId, toPeerID message.PeerId) error {
	return r.SignificantSend(regionID, message.NewUnreachable(toPeerID))
}

// ReportSnapshotStatus is convenience sugar over SignificantSend.
func (r *RaftstoreRouter) ReportSnapshotStatus(regionID message.RegionId, toPeerID message.PeerId, status message.SnapshotStatus) error {
	return r.SignificantSend(regionID, message.NewSnapshotStatus(toPeerID, status))
}
