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

import "sync"

// ReadResponse is the result of a single read-acceptable command.
type ReadResponse struct {
	Response *RaftCmdResponse
}

// WriteResponse is the result of a write command that went through the
// Raft log.
type WriteResponse struct {
	Response *RaftCmdResponse
}

// Callback is a one-shot continuation invoked exactly once with the
// outcome of send_command. It is a tagged union over Read/Write/BatchRead,
// mirroring the original's Callback enum (Callback::Read/Write/BatchRead).
// A sync.Once guards against double-invocation, which would otherwise be
// possible if a caller raced a cancellation path against the normal
// apply/read completion path.
type Callback struct {
	once      sync.Once
	done      chan struct{}
	read      *ReadResponse
	write     *WriteResponse
	batchRead []*ReadResponse
}

// NewCallback creates a Callback ready to receive exactly one result.
func NewCallback() *Callback {
	return &Callback{done: make(chan struct{})}
}

// InvokeRead fires the callback with a read result. Safe to call from any
// goroutine; only the first invocation (of any Invoke* method) has effect.
func (cb *Callback) InvokeRead(resp *ReadResponse) {
	cb.once.Do(func() {
		cb.read = resp
		close(cb.done)
	})
}

// InvokeWrite fires the callback with a write result.
func (cb *Callback) InvokeWrite(resp *WriteResponse) {
	cb.once.Do(func() {
		cb.write = resp
		close(cb.done)
	})
}

// InvokeBatchRead fires the callback with a batch-read result. The slice
// preserves the input batch's order; an entry is nil if that particular
// sub-request could not be answered (e.g. its region went away mid-batch).
func (cb *Callback) InvokeBatchRead(resps []*ReadResponse) {
	cb.once.Do(func() {
		cb.batchRead = resps
		close(cb.done)
	})
}

// Wait blocks until the callback has been invoked and returns whichever
// variant fired.
func (cb *Callback) Wait() (*ReadResponse, *WriteResponse, []*ReadResponse) {
	<-cb.done
	return cb.read, cb.write, cb.batchRead
}

// BatchReadCallback is invoked once for a whole send_batch_commands call
// with one *ReadResponse per input request, in input order; a nil entry
// means that request could not be served.
type BatchReadCallback func([]*ReadResponse)

// SnapshotStatus mirrors raft.SnapshotStatus's two outcomes as reported
// back through SignificantMsg.
type SnapshotStatus int

const (
	SnapshotStatusFinish SnapshotStatus = iota
	SnapshotStatusFailure
)

// SignificantMsg is a lossless control signal delivered to a region state
// machine. Delivery must never silently drop it (see RaftStoreRouter.SignificantSend).
type SignificantMsg struct {
	// Exactly one of the following is populated, mirroring the original's
	// `SignificantMsg::Unreachable{..}` / `SignificantMsg::SnapshotStatus{..}` variants.
	Unreachable    *UnreachableMsg
	SnapshotStatus *SnapshotStatusMsg
}

// UnreachableMsg reports that a peer is currently unreachable.
type UnreachableMsg struct {
	ToPeerId PeerId
}

// SnapshotStatusMsg reports the outcome of a snapshot send to a peer.
type SnapshotStatusMsg struct {
	ToPeerId PeerId
	Status   SnapshotStatus
}

// NewUnreachable builds the SignificantMsg variant used by report_unreachable.
func NewUnreachable(toPeerId PeerId) SignificantMsg {
	return SignificantMsg{Unreachable: &UnreachableMsg{ToPeerId: toPeerId}}
}

// NewSnapshotStatus builds the SignificantMsg variant used by report_snapshot_status.
func NewSnapshotStatus(toPeerId PeerId, status SnapshotStatus) SignificantMsg {
	return SignificantMsg{SnapshotStatus: &SnapshotStatusMsg{ToPeerId: toPeerId, Status: status}}
}
