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

package raftstore

import (
	"testing"
	"time"

	"github.com/pingcap-edu/tinykv/kv/message"
	"github.com/pingcap-edu/tinykv/kv/raftstore/errcode"
	"github.com/stretchr/testify/require"
)

func TestSendRaftMessageToUnknownRegionFails(t *testing.T) {
	r := NewRouter()
	err := r.SendRaftMessage(&message.RaftMessage{RegionId: 1})
	require.Error(t, err)
	require.True(t, errcode.IsRegionNotFound(err))
}

func TestSendRaftMessageDeliversToMailbox(t *testing.T) {
	r := NewRouter()
	ch := r.RegisterMailbox(1)

	require.NoError(t, r.SendRaftMessage(&message.RaftMessage{RegionId: 1}))

	select {
	case m := <-ch:
		require.Equal(t, PeerMsgRaftMessage, m.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestSendCmdToClosedMailboxFailsRegionNotFound(t *testing.T) {
	r := NewRouter()
	r.RegisterMailbox(5)
	r.CloseMailbox(5)

	err := r.SendCmd(&message.RaftCmdRequest{Header: message.RaftRequestHeader{RegionId: 5}}, message.NewCallback())
	require.Error(t, err)
	require.True(t, errcode.IsRegionNotFound(err))
}

func TestTrySendReturnsFullWhenMailboxSaturated(t *testing.T) {
	r := NewRouter()
	r.RegisterMailbox(1)

	var lastErr error
	for i := 0; i < defaultMailboxCapacity+1; i++ {
		lastErr = r.SendRaftMessage(&message.RaftMessage{RegionId: 1})
	}
	require.Error(t, lastErr)
	require.True(t, errcode.IsFull(lastErr))
}

func TestForceSendPeerMessageDeliversUnderBackpressure(t *testing.T) {
	r := NewRouter()
	ch := r.RegisterMailbox(1)
	for i := 0; i < defaultMailboxCapacity; i++ {
		require.NoError(t, r.SendRaftMessage(&message.RaftMessage{RegionId: 1}))
	}

	sig := message.NewUnreachable(42)
	require.NoError(t, r.ForceSendPeerMessage(1, PeerMsg{Kind: PeerMsgSignificant, Significant: &sig}))

	var found bool
	for i := 0; i < defaultMailboxCapacity+1; i++ {
		select {
		case m := <-ch:
			if m.Kind == PeerMsgSignificant {
				found = true
			}
		case <-time.After(time.Second):
			t.Fatal("timed out draining mailbox")
		}
		if found {
			break
		}
	}
	require.True(t, found, "force-sent significant message must eventually be delivered")
}

func TestForceSendPeerMessageFailsOnTornDownRegion(t *testing.T) {
	r := NewRouter()
	r.RegisterMailbox(1)
	r.CloseMailbox(1)

	sig := message.NewUnreachable(1)
	err := r.ForceSendPeerMessage(1, PeerMsg{Kind: PeerMsgSignificant, Significant: &sig})
	require.Error(t, err)
	require.True(t, errcode.IsRegionNotFound(err))
}

func TestCloseMailboxIsIdempotent(t *testing.T) {
	r := NewRouter()
	r.RegisterMailbox(1)
	require.NotPanics(t, func() {
		r.CloseMailbox(1)
		r.CloseMailbox(1)
	})
}
