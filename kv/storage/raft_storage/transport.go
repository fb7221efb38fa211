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

// Package raft_storage hosts ServerTransport, the outbound inter-store
// delivery path (spec.md §4.2). It turns a logical store_id into a live
// address via AddressResolver, hands the message to RaftClient or the
// snapshot worker, and reports failures back into the local RaftStoreRouter
// as SignificantMsg so the consensus state machine never blocks waiting on
// network state it cannot observe directly. Grounded on the original's
// `ServerTransport` (original_source/src/server/transport.rs).
package raft_storage

import (
	"sync"

	"github.com/pingcap-edu/tinykv/kv/message"
	"github.com/pingcap-edu/tinykv/kv/raftstore/snap"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// resolvingSet tracks stores currently awaiting a resolver callback.
// Invariant (spec.md §3): at most one in-flight resolution per store; a
// second send to an unresolved store drops its message instead of
// triggering a second resolve.
type resolvingSet struct {
	mu sync.RWMutex
	m  map[uint64]struct{}
}

func newResolvingSet() *resolvingSet {
	return &resolvingSet{m: make(map[uint64]struct{})}
}

// tryMark returns true and marks storeID as resolving if it wasn't
// already; false if a resolution is already outstanding for it.
func (s *resolvingSet) tryMark(storeID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[storeID]; ok {
		return false
	}
	s.m[storeID] = struct{}{}
	return true
}

func (s *resolvingSet) remove(storeID uint64) {
	s.mu.Lock()
	delete(s.m, storeID)
	s.mu.Unlock()
}

// snapTaskScheduler abstracts worker.Worker's Schedule method so
// ServerTransport can detect a stopped snapshot worker and invoke the send
// callback inline with an error (spec.md §4.2 step 3), rather than leaking
// a goroutine that blocks forever trying to hand a task to a worker whose
// drain goroutine has already exited.
type snapTaskScheduler interface {
	Schedule(task interface{}) error
}

// ServerTransport delivers outbound RaftMessages addressed by
// to_peer.store_id. Send never blocks on network I/O: it enqueues into
// RaftClient's buffer or the snapshot worker's queue, surfacing any
// eventual failure asynchronously through raftRouter (spec.md §4.2, §5).
//
// ServerTransport is Clone-able: every field here is either immutable
// after construction or a pointer to state that owns its own locking, so
// a value copy is already a correct, independent handle sharing the same
// underlying cache/resolving-set/client (spec.md §4.4).
type ServerTransport struct {
	raftClient *RaftClient
	snapSender snapTaskScheduler
	raftRouter RaftStoreRouter
	resolver   AddressResolver
	resolving  *resolvingSet

	// OnSendStoreHook and OnResolveHook back the fault-injection hooks of
	// spec.md §6 (transport_on_send_store / transport_snapshot_on_resolve).
	// Both are nil in production and only ever set by tests.
	OnSendStoreHook func(storeID uint64)
	OnResolveHook   func(storeID uint64, msg *message.RaftMessage, addr string, err error) (string, error)
}

// NewServerTransport wires a ServerTransport over a RaftClient, the
// snapshot worker (anything with a Schedule method), the local
// RaftStoreRouter (for unreachable/snapshot-status reports) and an
// AddressResolver.
func NewServerTransport(raftClient *RaftClient, snapSender snapTaskScheduler, raftRouter RaftStoreRouter, resolver AddressResolver) *ServerTransport {
	return &ServerTransport{
		raftClient: raftClient,
		snapSender: snapSender,
		raftRouter: raftRouter,
		resolver:   resolver,
		resolving:  newResolvingSet(),
	}
}

// Clone returns a handle sharing the same cache/resolving-set/client as t.
func (t *ServerTransport) Clone() *ServerTransport {
	clone := *t
	return &clone
}

// Send enqueues msg for delivery to its destination store. It never blocks
// on network I/O and always returns nil: a failure to deliver is reported
// later, out of band, as a SignificantMsg back to the originating region
// (spec.md invariant 1).
func (t *ServerTransport) Send(msg *message.RaftMessage) error {
	t.sendStore(msg.ToStoreId(), msg)
	return nil
}

// Flush forces RaftClient to push any buffered messages for every store it
// currently holds a connection to.
func (t *ServerTransport) Flush() {
	t.raftClient.Flush()
}

// sendStore implements spec.md §4.2's send_store algorithm.
func (t *ServerTransport) sendStore(storeID uint64, msg *message.RaftMessage) {
	if t.OnSendStoreHook != nil {
		t.OnSendStoreHook(storeID)
	}

	if addr, ok := t.raftClient.Addr(storeID); ok {
		t.writeData(storeID, addr, msg)
		return
	}

	if !t.resolving.tryMark(storeID) {
		// A resolution for this store is already outstanding: only the
		// first sender pays for it (spec.md §4.2 step 2). Concurrent
		// senders drop their message; the consensus layer's retransmission
		// makes this safe and keeps memory bounded (spec.md §9).
		resolveStoreCounter.WithLabelValues("resolving").Inc()
		log.Debug("store address being resolved, dropping message", zap.Uint64("store", storeID))
		t.ReportUnreachable(msg)
		return
	}

	resolveStoreCounter.WithLabelValues("resolve").Inc()
	cb := t.onResolved(storeID, msg)
	if err := t.resolver.Resolve(storeID, cb); err != nil {
		t.resolving.remove(storeID)
		resolveStoreCounter.WithLabelValues("failed").Inc()
		log.Warn("failed to schedule store address resolution", zap.Uint64("store", storeID), zap.Error(err))
		t.ReportUnreachable(msg)
	}
}

// onResolved builds the exactly-once resolution callback for one pending
// message, per spec.md §4.2's "Resolution callback" section.
func (t *ServerTransport) onResolved(storeID uint64, msg *message.RaftMessage) ResolveCallback {
	return func(addr string, err error) {
		if t.OnResolveHook != nil {
			addr, err = t.OnResolveHook(storeID, msg, addr, err)
		}
		t.resolving.remove(storeID)
		if err != nil {
			resolveStoreCounter.WithLabelValues("failed").Inc()
			log.Warn("resolve store address failed", zap.Uint64("store", storeID), zap.Error(err))
			t.ReportUnreachable(msg)
			return
		}
		resolveStoreCounter.WithLabelValues("success").Inc()
		t.raftClient.SetAddr(storeID, addr)
		t.writeData(storeID, addr, msg)
		// The message may have been waiting the entire resolution window;
		// don't delay it further waiting for the next batched flush.
		t.raftClient.Flush()
	}
}

// writeData implements spec.md §4.2's write_data: snapshots bypass the
// buffered client entirely and go to the dedicated snapshot worker;
// everything else is handed to RaftClient, which owns its own batching and
// error/eviction path. A RaftClient.Send error is logged here but not
// reported unreachable — that would double-count a failure the client's
// own path already handles by evicting the address (spec.md §4.2, §9).
func (t *ServerTransport) writeData(storeID uint64, addr string, msg *message.RaftMessage) {
	if msg.HasSnapshot() {
		t.sendSnapshotSock(addr, msg)
		return
	}
	if err := t.raftClient.Send(storeID, addr, msg); err != nil {
		log.Warn("send raft message failed", zap.Uint64("store", storeID), zap.String("addr", addr), zap.Error(err))
	}
}

// sendSnapshotSock implements spec.md §4.2's send_snapshot_sock: the
// message is diverted to the snapshot worker's own streaming channel so a
// large payload never blocks the small per-connection buffer RaftClient
// uses for ordinary messages.
func (t *ServerTransport) sendSnapshotSock(addr string, msg *message.RaftMessage) {
	reporter := newSnapshotReporter(t.raftRouter, msg)
	callback := func(err error) {
		if err != nil {
			reporter.report(message.SnapshotStatusFailure)
			return
		}
		reporter.report(message.SnapshotStatusFinish)
	}
	task := &snap.Task{
		Kind:     snap.TaskSend,
		Addr:     addr,
		Msg:      msg,
		Callback: callback,
	}
	if err := t.snapSender.Schedule(task); err != nil {
		// The snapshot worker has stopped: nothing will ever drain this
		// task, so invoke the callback inline rather than leaving the
		// region waiting forever for a status that will never come
		// (spec.md §4.2 step 3, invariant 2).
		log.Warn("snapshot worker stopped, failing send inline", zap.String("addr", addr), zap.Error(err))
		callback(snap.ErrWorkerStopped)
	}
}

// ReportUnreachable abandons delivery of msg: it is the only path by which
// the local consensus state machine learns that a message handed to the
// transport failed (spec.md §4.2 report_unreachable, §4.1 significant_send
// lossless guarantee).
func (t *ServerTransport) ReportUnreachable(msg *message.RaftMessage) {
	if msg.HasSnapshot() {
		newSnapshotReporter(t.raftRouter, msg).report(message.SnapshotStatusFailure)
	}
	if err := t.raftRouter.ReportUnreachable(msg.RegionId, msg.ToPeer.Id); err != nil {
		log.Warn("failed to report unreachable", zap.Uint64("region", msg.RegionId), zap.Uint64("to_peer", msg.ToPeer.Id), zap.Error(err))
	}
}

// snapshotReporter is an immutable snapshot of (raftRouter, region_id,
// to_peer_id, to_store_id) that can outlive the original RaftMessage, so
// the snapshot worker can report completion status long after send()
// returned and the message itself has been moved/freed (spec.md §4.2).
type snapshotReporter struct {
	raftRouter RaftStoreRouter
	regionID   uint64
	toPeerID   uint64
	toStoreID  uint64
}

func newSnapshotReporter(raftRouter RaftStoreRouter, msg *message.RaftMessage) *snapshotReporter {
	return &snapshotReporter{
		raftRouter: raftRouter,
		regionID:   msg.RegionId,
		toPeerID:   msg.ToPeer.Id,
		toStoreID:  msg.ToPeer.StoreId,
	}
}

func (r *snapshotReporter) report(status message.SnapshotStatus) {
	if status == message.SnapshotStatusFailure {
		reportFailureMsgCounter.WithLabelValues("snapshot", itoaStoreID(r.toStoreID)).Inc()
	}
	if err := r.raftRouter.ReportSnapshotStatus(r.regionID, r.toPeerID, status); err != nil {
		log.Warn("failed to report snapshot status", zap.Uint64("region", r.regionID), zap.Uint64("to_peer", r.toPeerID), zap.Error(err))
	}
}
