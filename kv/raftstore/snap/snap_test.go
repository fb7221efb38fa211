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

package snap

import (
	"fmt"
	"testing"

	"github.com/pingcap-edu/tinykv/kv/message"
	"github.com/stretchr/testify/require"
)

func TestManagerPathForIsStableAndRooted(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	p1 := m.PathFor(7, 42)
	p2 := m.PathFor(7, 42)
	require.Equal(t, p1, p2)
	require.Contains(t, p1, dir)
	require.Contains(t, p1, fmt.Sprintf("gen_%d_%d", 7, 42))
}

type fakeSender struct {
	calls []string
	err   error
}

func (f *fakeSender) SendSnapshot(addr string, msg *message.RaftMessage) error {
	f.calls = append(f.calls, addr)
	return f.err
}

func TestRunnerHandleSendInvokesSenderAndCallback(t *testing.T) {
	sender := &fakeSender{}
	r := NewRunner(NewManager(t.TempDir()), sender)

	done := make(chan error, 1)
	r.Handle(&Task{
		Kind:     TaskSend,
		Addr:     "10.0.0.2:20160",
		Msg:      &message.RaftMessage{RegionId: 1},
		Callback: func(err error) { done <- err },
	})

	require.Equal(t, []string{"10.0.0.2:20160"}, sender.calls)
	require.NoError(t, <-done)
}

func TestRunnerHandleSendPropagatesSenderFailure(t *testing.T) {
	sender := &fakeSender{err: fmt.Errorf("dial failed")}
	r := NewRunner(NewManager(t.TempDir()), sender)

	done := make(chan error, 1)
	r.Handle(&Task{
		Kind:     TaskSend,
		Addr:     "10.0.0.2:20160",
		Msg:      &message.RaftMessage{RegionId: 1},
		Callback: func(err error) { done <- err },
	})

	err := <-done
	require.Error(t, err)
	require.Contains(t, err.Error(), "dial failed")
}

func TestRunnerHandleIgnoresUnknownTaskType(t *testing.T) {
	r := NewRunner(NewManager(t.TempDir()), &fakeSender{})
	require.NotPanics(t, func() { r.Handle("not a task") })
}
