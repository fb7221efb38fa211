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
	"sync"
	"testing"

	"github.com/pingcap-edu/tinykv/kv/config"
	"github.com/pingcap-edu/tinykv/kv/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/raft/raftpb"
)

// fakeRouter records every SignificantMsg delivered to it, standing in for
// the local RaftStoreRouter a real peer state machine would own.
type fakeRouter struct {
	mu            sync.Mutex
	unreachable   []message.PeerId
	snapStatus    []message.SnapshotStatusMsg
}

func (f *fakeRouter) SendRaftMessage(*message.RaftMessage) error { return nil }
func (f *fakeRouter) SendCommand(*message.RaftCmdRequest, *message.Callback) error {
	return nil
}
func (f *fakeRouter) SendBatchCommands([]*message.RaftCmdRequest, message.BatchReadCallback) error {
	return nil
}
func (f *fakeRouter) AsyncSplit(message.RegionId, message.RegionEpoch, [][]byte, *message.Callback) error {
	return nil
}
func (f *fakeRouter) SignificantSend(regionID message.RegionId, msg message.SignificantMsg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.Unreachable != nil {
		f.unreachable = append(f.unreachable, msg.Unreachable.ToPeerId)
	}
	if msg.SnapshotStatus != nil {
		f.snapStatus = append(f.snapStatus, *msg.SnapshotStatus)
	}
	return nil
}
func (f *fakeRouter) ReportUnreachable(regionID message.RegionId, toPeerID message.PeerId) error {
	return f.SignificantSend(regionID, message.NewUnreachable(toPeerID))
}
func (f *fakeRouter) ReportSnapshotStatus(regionID message.RegionId, toPeerID message.PeerId, status message.SnapshotStatus) error {
	return f.SignificantSend(regionID, message.NewSnapshotStatus(toPeerID, status))
}
func (f *fakeRouter) Clone() RaftStoreRouter { return f }

func (f *fakeRouter) unreachableCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unreachable)
}

// fakeResolver lets each test script exactly how/when Resolve's callback
// fires and whether Resolve itself fails synchronously.
type fakeResolver struct {
	mu          sync.Mutex
	resolveErr  error
	cbAddr      string
	cbErr       error
	invocations int
	async       chan struct{} // if non-nil, Resolve blocks until this is closed before invoking cb
}

func (f *fakeResolver) Resolve(storeID uint64, cb ResolveCallback) error {
	f.mu.Lock()
	f.invocations++
	err := f.resolveErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if f.async != nil {
		go func() {
			<-f.async
			cb(f.cbAddr, f.cbErr)
		}()
		return nil
	}
	cb(f.cbAddr, f.cbErr)
	return nil
}

// fakeSnapScheduler is a snapTaskScheduler test double: Schedule either
// buffers the task or, once stopped, fails exactly the way a torn-down
// worker.Worker does.
type fakeSnapScheduler struct {
	mu      sync.Mutex
	tasks   []interface{}
	stopped bool
}

func (f *fakeSnapScheduler) Schedule(task interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return assert.AnError
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func newTestTransport(router RaftStoreRouter, resolver AddressResolver) (*ServerTransport, *fakeSnapScheduler) {
	snapSender := &fakeSnapScheduler{}
	client := NewRaftClient(config.Default())
	return NewServerTransport(client, snapSender, router, resolver), snapSender
}

// S1: cold resolve — first send for a never-seen store schedules exactly
// one resolution, and once it succeeds the address is cached.
func TestSendStoreColdResolveCachesAddress(t *testing.T) {
	router := &fakeRouter{}
	resolver := &fakeResolver{cbAddr: "10.0.0.1:20160"}
	trans, _ := newTestTransport(router, resolver)

	require.NoError(t, trans.Send(&message.RaftMessage{RegionId: 1, ToPeer: message.Peer{Id: 1, StoreId: 100}}))

	addr, ok := trans.raftClient.Addr(100)
	require.True(t, ok)
	require.Equal(t, "10.0.0.1:20160", addr)
	require.Equal(t, 0, router.unreachableCount())

	resolver.mu.Lock()
	require.Equal(t, 1, resolver.invocations)
	resolver.mu.Unlock()
}

// S2: a second send arriving while the first resolution is still in flight
// must not trigger a second resolve; its message is dropped and reported
// unreachable instead.
func TestSendStoreConcurrentSendDropsWhileResolving(t *testing.T) {
	router := &fakeRouter{}
	resolver := &fakeResolver{cbAddr: "10.0.0.1:20160", async: make(chan struct{})}
	trans, _ := newTestTransport(router, resolver)

	require.NoError(t, trans.Send(&message.RaftMessage{RegionId: 1, ToPeer: message.Peer{Id: 1, StoreId: 100}}))
	require.NoError(t, trans.Send(&message.RaftMessage{RegionId: 1, ToPeer: message.Peer{Id: 2, StoreId: 100}}))

	close(resolver.async)

	resolver.mu.Lock()
	require.Equal(t, 1, resolver.invocations, "only the first sender should pay for resolution")
	resolver.mu.Unlock()
	require.Equal(t, 1, router.unreachableCount(), "the second, concurrent send must be reported unreachable")
}

// S3: resolution failure reports the message unreachable rather than
// caching a bad address.
func TestSendStoreResolveFailureReportsUnreachable(t *testing.T) {
	router := &fakeRouter{}
	resolver := &fakeResolver{cbErr: assert.AnError}
	trans, _ := newTestTransport(router, resolver)

	require.NoError(t, trans.Send(&message.RaftMessage{RegionId: 1, ToPeer: message.Peer{Id: 1, StoreId: 100}}))

	_, ok := trans.raftClient.Addr(100)
	require.False(t, ok)
	require.Equal(t, 1, router.unreachableCount())
}

// S4: once an address is cached, subsequent sends take the fast path and
// never call the resolver again.
func TestSendStoreCachedAddressSkipsResolver(t *testing.T) {
	router := &fakeRouter{}
	resolver := &fakeResolver{cbAddr: "10.0.0.1:20160"}
	trans, _ := newTestTransport(router, resolver)

	require.NoError(t, trans.Send(&message.RaftMessage{RegionId: 1, ToPeer: message.Peer{Id: 1, StoreId: 100}}))
	require.NoError(t, trans.Send(&message.RaftMessage{RegionId: 1, ToPeer: message.Peer{Id: 1, StoreId: 100}}))

	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	require.Equal(t, 1, resolver.invocations)
}

// A synchronous Resolve failure (the scheduling call itself errors, not the
// eventual callback) must still report unreachable and free the resolving
// slot for a later retry.
func TestSendStoreResolverScheduleFailureReportsUnreachable(t *testing.T) {
	router := &fakeRouter{}
	resolver := &fakeResolver{resolveErr: assert.AnError}
	trans, _ := newTestTransport(router, resolver)

	require.NoError(t, trans.Send(&message.RaftMessage{RegionId: 1, ToPeer: message.Peer{Id: 1, StoreId: 100}}))
	require.Equal(t, 1, router.unreachableCount())

	require.True(t, trans.resolving.tryMark(100), "resolving slot must be freed after a synchronous schedule failure")
}

func TestReportUnreachableNotifiesTheLocalRouter(t *testing.T) {
	router := &fakeRouter{}
	trans, _ := newTestTransport(router, &fakeResolver{})

	msg := &message.RaftMessage{RegionId: 1, ToPeer: message.Peer{Id: 1, StoreId: 100}}
	trans.ReportUnreachable(msg)

	require.Equal(t, 1, router.unreachableCount())
}

// A snapshot send whose worker has already stopped must still report
// Failure: nothing will ever drain a task handed to a torn-down worker, so
// the scheduling failure itself must trigger the callback inline
// (spec.md §4.2 step 3, invariant 2).
func TestSendStoreSnapshotReportsFailureWhenWorkerStopped(t *testing.T) {
	router := &fakeRouter{}
	resolver := &fakeResolver{cbAddr: "10.0.0.1:20160"}
	trans, snapSender := newTestTransport(router, resolver)
	snapSender.stopped = true

	msg := &message.RaftMessage{
		RegionId: 1,
		ToPeer:   message.Peer{Id: 1, StoreId: 100},
		Message:  raftpb.Message{Type: raftpb.MsgSnap},
	}
	require.NoError(t, trans.Send(msg))

	router.mu.Lock()
	defer router.mu.Unlock()
	require.Len(t, router.snapStatus, 1)
	require.Equal(t, message.SnapshotStatusFailure, router.snapStatus[0].Status)
}

// A snapshot send that the worker accepts must not report any status
// itself — the worker's own Handle/Callback path owns that, once it runs.
func TestSendStoreSnapshotScheduledSuccessfullyReportsNothingYet(t *testing.T) {
	router := &fakeRouter{}
	resolver := &fakeResolver{cbAddr: "10.0.0.1:20160"}
	trans, snapSender := newTestTransport(router, resolver)

	msg := &message.RaftMessage{
		RegionId: 1,
		ToPeer:   message.Peer{Id: 1, StoreId: 100},
		Message:  raftpb.Message{Type: raftpb.MsgSnap},
	}
	require.NoError(t, trans.Send(msg))

	snapSender.mu.Lock()
	defer snapSender.mu.Unlock()
	require.Len(t, snapSender.tasks, 1)
	require.Equal(t, 0, router.unreachableCount())
}
