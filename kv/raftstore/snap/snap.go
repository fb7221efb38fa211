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

// Package snap implements the SnapshotWorker collaborator: it accepts
// send-snapshot tasks and streams large snapshot payloads over a side
// channel so they never share the small, latency-sensitive buffered
// connection RaftClient uses for ordinary messages. Grounded on the
// teacher's `snap.NewSnapManager`/`newSnapRunner(...)` wiring in
// kv/storage/raft_storage/raft_server.go and on the original's
// `server::snap::{Runner, Task}` (original_source/src/server/transport.rs
// imports `super::snap::Task as SnapTask`).
package snap

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pingcap-edu/tinykv/kv/message"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Manager owns the on-disk staging directory for snapshots and names the
// staging file of each region/index snapshot; it does not itself read or
// write snapshot files.
type Manager struct {
	mu   sync.Mutex
	base string
}

// NewManager creates a Manager rooted at dir, creating it if necessary.
func NewManager(dir string) *Manager {
	_ = os.MkdirAll(dir, 0o755)
	return &Manager{base: dir}
}

// PathFor returns the staging file path for a given region/index snapshot.
func (m *Manager) PathFor(regionID message.RegionId, index uint64) string {
	return filepath.Join(m.base, snapshotFileName(regionID, index))
}

func snapshotFileName(regionID message.RegionId, index uint64) string {
	return "gen_" + itoa(regionID) + "_" + itoa(index) + ".snap"
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Task is the unit of work scheduled onto the snapshot worker. Only
// TaskSend is used by ServerTransport; TaskRecv models the inbound half
// (a peer streaming a snapshot to us), kept here because both share the
// Manager and the worker's goroutine.
type TaskKind int

const (
	TaskSend TaskKind = iota
	TaskRecv
)

// SendCallback is invoked exactly once with the outcome of streaming a
// snapshot to its destination; ServerTransport uses it to translate
// success/failure into a SignificantMsg back to the originating region.
type SendCallback func(error)

type Task struct {
	Kind     TaskKind
	Addr     string
	Msg      *message.RaftMessage
	Callback SendCallback
}

// Sender abstracts the actual bytes-on-the-wire snapshot transfer so the
// Runner can be unit tested without a real network peer.
type Sender interface {
	SendSnapshot(addr string, msg *message.RaftMessage) error
}

// Runner drains the snapshot worker's queue. It implements
// kv/util/worker.Runner.
type Runner struct {
	manager *Manager
	sender  Sender
}

// NewRunner builds a Runner that streams snapshots via sender. It holds
// manager, but handleSend passes each message straight to sender without
// staging it on disk.
func NewRunner(manager *Manager, sender Sender) *Runner {
	return &Runner{manager: manager, sender: sender}
}

// Handle implements worker.Runner.
func (r *Runner) Handle(task interface{}) {
	t, ok := task.(*Task)
	if !ok {
		log.Error("snapshot worker received unexpected task type")
		return
	}
	switch t.Kind {
	case TaskSend:
		r.handleSend(t)
	case TaskRecv:
		log.Warn("snapshot worker received unimplemented recv task")
	}
}

func (r *Runner) handleSend(t *Task) {
	err := r.sender.SendSnapshot(t.Addr, t.Msg)
	if err != nil {
		log.Warn("failed to send snapshot", zap.String("addr", t.Addr), zap.Error(err))
	}
	if t.Callback != nil {
		t.Callback(err)
	}
}

// ErrWorkerStopped is returned by schedulers when a snapshot task cannot
// be enqueued because the worker has already stopped.
var ErrWorkerStopped = errors.New("snapshot worker stopped")
