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

package localreader

import (
	"fmt"
	"testing"
	"time"

	"github.com/pingcap-edu/tinykv/kv/message"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	resp *message.RaftCmdResponse
	err  error
}

func (f *fakeReader) Read(req *message.RaftCmdRequest) (*message.RaftCmdResponse, error) {
	return f.resp, f.err
}

func TestScheduleServesRegisteredRegion(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	want := &message.RaftCmdResponse{Responses: []message.Response{{Value: []byte("v1")}}}
	s.RegisterRegion(1, []byte("a"), &fakeReader{resp: want})

	cb := message.NewCallback()
	require.NoError(t, s.Schedule(&message.RaftCmdRequest{Header: message.RaftRequestHeader{RegionId: 1}}, cb))

	read, _, _ := waitCallback(t, cb)
	require.Same(t, want, read.Response)
}

func TestScheduleUnregisteredRegionReturnsRegionNotFoundError(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	cb := message.NewCallback()
	require.NoError(t, s.Schedule(&message.RaftCmdRequest{Header: message.RaftRequestHeader{RegionId: 99}}, cb))

	read, _, _ := waitCallback(t, cb)
	require.NotNil(t, read.Response.Header.Error)
	require.NotNil(t, read.Response.Header.Error.RegionNotFound)
	require.EqualValues(t, 99, *read.Response.Header.Error.RegionNotFound)
}

func TestUnregisterRegionMakesSubsequentReadsFail(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	s.RegisterRegion(1, nil, &fakeReader{resp: &message.RaftCmdResponse{}})
	s.UnregisterRegion(1)

	cb := message.NewCallback()
	require.NoError(t, s.Schedule(&message.RaftCmdRequest{Header: message.RaftRequestHeader{RegionId: 1}}, cb))
	read, _, _ := waitCallback(t, cb)
	require.NotNil(t, read.Response.Header.Error)
}

// TestScheduleBatchPreservesInputOrder covers the scenario of a batch whose
// per-region reads complete in whatever order the readers happen to run,
// asserting the result slice still matches input position, not completion
// order.
func TestScheduleBatchPreservesInputOrder(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	for i := message.RegionId(1); i <= 4; i++ {
		v := []byte(fmt.Sprintf("region-%d", i))
		s.RegisterRegion(i, v, &fakeReader{resp: &message.RaftCmdResponse{Responses: []message.Response{{Value: v}}}})
	}

	reqs := make([]*message.RaftCmdRequest, 4)
	for i := range reqs {
		reqs[i] = &message.RaftCmdRequest{Header: message.RaftRequestHeader{RegionId: message.RegionId(i + 1)}}
	}

	done := make(chan []*message.ReadResponse, 1)
	require.NoError(t, s.ScheduleBatch(reqs, func(out []*message.ReadResponse) { done <- out }))

	select {
	case out := <-done:
		require.Len(t, out, 4)
		for i, r := range out {
			require.Equal(t, fmt.Sprintf("region-%d", i+1), string(r.Response.Responses[0].Value))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batch result")
	}
}

func TestReadErrorIsSurfacedAsRegionError(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	s.RegisterRegion(1, nil, &fakeReader{err: fmt.Errorf("storage unavailable")})

	cb := message.NewCallback()
	require.NoError(t, s.Schedule(&message.RaftCmdRequest{Header: message.RaftRequestHeader{RegionId: 1}}, cb))
	read, _, _ := waitCallback(t, cb)
	require.Equal(t, "storage unavailable", read.Response.Header.Error.Message)
}

func waitCallback(t *testing.T, cb *message.Callback) (*message.ReadResponse, *message.WriteResponse, []*message.ReadResponse) {
	t.Helper()
	done := make(chan struct{})
	var read *message.ReadResponse
	var write *message.WriteResponse
	var batch []*message.ReadResponse
	go func() {
		read, write, batch = cb.Wait()
		close(done)
	}()
	select {
	case <-done:
		return read, write, batch
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback")
		return nil, nil, nil
	}
}
