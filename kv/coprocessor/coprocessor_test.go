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

package coprocessor

import (
	"testing"

	"github.com/gogo/protobuf/proto"
	"github.com/pingcap/tipb/go-tipb"
	"github.com/stretchr/testify/require"
)

func handleOnce(h *Host, t *Task) ([]byte, error) {
	done := make(chan struct{})
	var data []byte
	var err error
	t.Callback = func(d []byte, e error) {
		data, err = d, e
		close(done)
	}
	h.Handle(t)
	<-done
	return data, err
}

func TestHandleRejectsMalformedDAGRequest(t *testing.T) {
	h := NewHost(1000)
	_, err := handleOnce(h, &Task{RegionID: 1, Data: []byte{0xff, 0xff, 0xff}})
	require.Error(t, err)
}

func TestHandleAcceptsWellFormedEmptyDAGRequest(t *testing.T) {
	req := &tipb.DAGRequest{}
	data, err := proto.Marshal(req)
	require.NoError(t, err)

	h := NewHost(1000)
	out, err := handleOnce(h, &Task{RegionID: 1, Data: data})
	require.NoError(t, err)

	resp := new(tipb.SelectResponse)
	require.NoError(t, proto.Unmarshal(out, resp))
}

func TestHandleIgnoresTaskWithoutCallback(t *testing.T) {
	req := &tipb.DAGRequest{}
	data, err := proto.Marshal(req)
	require.NoError(t, err)

	h := NewHost(1000)
	require.NotPanics(t, func() { h.Handle(&Task{RegionID: 1, Data: data}) })
}

func TestHandleIgnoresUnexpectedTaskType(t *testing.T) {
	h := NewHost(1000)
	require.NotPanics(t, func() { h.Handle(42) })
}
