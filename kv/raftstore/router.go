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

// Package raftstore implements the PeerRouter: the in-process mailbox
// fabric that delivers messages to per-region state machines. It is
// grounded on the original's `Router`/`PeerMsg` design
// (original_source/src/server/transport.rs imports
// `raftstore::store::{PeerMsg, Router, ...}`) and on the message-type
// catalogue in the pack's unistore fork
// (other_examples/8e6d3348_L-maple-unistore__tikv-raftstore-msg.go.go).
package raftstore

import (
	"sync"

	"github.com/pingcap-edu/tinykv/kv/message"
	"github.com/pingcap-edu/tinykv/kv/raftstore/errcode"
)

// PeerMsgKind discriminates the payload carried by a PeerMsg.
type PeerMsgKind int

const (
	PeerMsgRaftMessage PeerMsgKind = iota
	PeerMsgRaftCommand
	PeerMsgSplitRegion
	PeerMsgSignificant
)

// PeerMsg is the unit of delivery into a region's mailbox.
type PeerMsg struct {
	Kind PeerMsgKind

	RaftMessage *message.RaftMessage

	RaftCommand *message.RaftCmdRequest
	Callback    *message.Callback

	SplitRegionEpoch message.RegionEpoch
	SplitKeys        [][]byte

	Significant *message.SignificantMsg
}

// mailbox is the bounded channel backing one region. capacity bounds
// memory; force-sent significant messages bypass the bound. done is
// closed exactly once, by close(), strictly before closed is observable
// as true by a concurrent reader — it exists only so a forceSend overflow
// goroutine blocked on `ch <-` has a way to bail out instead of racing a
// send against ch being torn down.
type mailbox struct {
	ch     chan PeerMsg
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

const defaultMailboxCapacity = 4096

func newMailbox() *mailbox {
	return &mailbox{ch: make(chan PeerMsg, defaultMailboxCapacity), done: make(chan struct{})}
}

func (b *mailbox) trySend(m PeerMsg) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return &errcode.RegionNotFoundError{}
	}
	select {
	case b.ch <- m:
		return nil
	default:
		return &errcode.TransportError{Reason: errcode.ReasonFull}
	}
}

// forceSend delivers m even if the mailbox is at capacity: since Go
// channels cannot be resized, the overflow path spills into a goroutine
// that performs the blocking send once space frees up. This keeps
// `significant_send` lossless without ever blocking the caller
// (spec.md invariant 4). The spilled send races a concurrent CloseMailbox
// by construction; b.ch itself is never closed, and the goroutine selects
// on b.done so it exits instead of blocking forever on a torn-down region.
func (b *mailbox) forceSend(m PeerMsg) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return &errcode.RegionNotFoundError{}
	}
	select {
	case b.ch <- m:
		return nil
	default:
		// Mailbox is momentarily full; spill into an overflow goroutine. The
		// per-region overflow count is expected to stay small: backpressure
		// here only ever comes from raft ticks, not from significant
		// messages. If the region is torn down before the send lands, b.done
		// wins the select instead and the message is dropped, same as any
		// other send to a closed region.
		go func() {
			select {
			case b.ch <- m:
			case <-b.done:
			}
		}()
		return nil
	}
}

func (b *mailbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

// Router is the PeerRouter: a registry of per-region mailboxes plus the
// send/force-send primitives RaftStoreRouter builds on.
type Router struct {
	mu        sync.RWMutex
	mailboxes map[message.RegionId]*mailbox
}

// NewRouter creates an empty Router; regions are registered as their peer
// state machines start up.
func NewRouter() *Router {
	return &Router{mailboxes: make(map[message.RegionId]*mailbox)}
}

// RegisterMailbox installs (or replaces) the mailbox for a region and
// returns a channel the region's apply loop should range over.
func (r *Router) RegisterMailbox(regionID message.RegionId) <-chan PeerMsg {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := newMailbox()
	r.mailboxes[regionID] = b
	return b.ch
}

// CloseMailbox tears down a region's mailbox, e.g. after it is destroyed
// or merged away. Any further send to this region fails with RegionNotFound.
func (r *Router) CloseMailbox(regionID message.RegionId) {
	r.mu.Lock()
	b, ok := r.mailboxes[regionID]
	delete(r.mailboxes, regionID)
	r.mu.Unlock()
	if ok {
		b.close()
	}
}

func (r *Router) get(regionID message.RegionId) (*mailbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.mailboxes[regionID]
	return b, ok
}

// SendRaftMessage enqueues a consensus-layer message to its target region.
func (r *Router) SendRaftMessage(msg *message.RaftMessage) error {
	b, ok := r.get(msg.RegionId)
	if !ok {
		return &errcode.RegionNotFoundError{RegionId: msg.RegionId}
	}
	return b.trySend(PeerMsg{Kind: PeerMsgRaftMessage, RaftMessage: msg})
}

// SendCmd routes a write (or quorum-read) command into the region's mailbox.
func (r *Router) SendCmd(req *message.RaftCmdRequest, cb *message.Callback) error {
	regionID := req.Header.RegionId
	b, ok := r.get(regionID)
	if !ok {
		return &errcode.RegionNotFoundError{RegionId: regionID}
	}
	return b.trySend(PeerMsg{Kind: PeerMsgRaftCommand, RaftCommand: req, Callback: cb})
}

// SendPeerMessage enqueues a non-significant peer message (e.g. split).
func (r *Router) SendPeerMessage(regionID message.RegionId, m PeerMsg) error {
	b, ok := r.get(regionID)
	if !ok {
		return &errcode.RegionNotFoundError{RegionId: regionID}
	}
	return b.trySend(m)
}

// ForceSendPeerMessage delivers m even under backpressure; only a torn-down
// region (mailbox closed) can make it fail. This backs significant_send
// and is the only lossless path by which the local consensus state
// machine learns that a message the transport handed off has failed.
func (r *Router) ForceSendPeerMessage(regionID message.RegionId, m PeerMsg) error {
	b, ok := r.get(regionID)
	if !ok {
		return &errcode.RegionNotFoundError{RegionId: regionID}
	}
	return b.forceSend(m)
}
