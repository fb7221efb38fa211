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
	"context"

	"github.com/pingcap-edu/tinykv/kv/storage/raft_storage/scheduler_client"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
)

// ResolveCallback receives the outcome of one address resolution, exactly
// once. A nil error means addr is populated.
type ResolveCallback func(addr string, err error)

// AddressResolver asynchronously maps store_id -> host:port, invoking cb
// exactly once. The callback may fire on the resolver's own goroutine —
// possibly synchronously, from inside Resolve itself — never on the
// caller's goroutine in general (spec.md §5).
type AddressResolver interface {
	Resolve(storeID uint64, cb ResolveCallback) error
}

// schedulerResolver is the production AddressResolver: it schedules the
// actual PD lookup onto a dedicated worker so Resolve itself never blocks
// the caller (ServerTransport.send_store calls Resolve directly), mirroring
// the teacher's resolveWorker / newResolverRunner(client) wiring in
// kv/storage/raft_storage/raft_server.go.
type schedulerResolver struct {
	client scheduler_client.Client
	sender chan<- interface{}
}

// NewResolver builds an AddressResolver backed by client, with lookups
// dispatched onto sender (typically a *worker.Worker's Sender()).
func NewResolver(client scheduler_client.Client, sender chan<- interface{}) AddressResolver {
	return &schedulerResolver{client: client, sender: sender}
}

type resolveTask struct {
	storeID uint64
	cb      ResolveCallback
}

// Resolve enqueues the lookup without blocking; it returns an error
// synchronously only when the worker queue is full (spec.md §4.2 step 4).
// It does not detect a stopped worker: a task enqueued after the worker
// has exited is never run, so its callback never fires.
func (r *schedulerResolver) Resolve(storeID uint64, cb ResolveCallback) error {
	select {
	case r.sender <- &resolveTask{storeID: storeID, cb: cb}:
		return nil
	default:
		return errors.Errorf("resolver queue full for store %d", storeID)
	}
}

// ResolverRunner implements worker.Runner, performing the actual PD call
// on the resolve worker's goroutine and invoking each task's callback
// exactly once with the result.
type ResolverRunner struct {
	client scheduler_client.Client
}

// NewResolverRunner builds the Runner the resolve worker is started with.
func NewResolverRunner(client scheduler_client.Client) *ResolverRunner {
	return &ResolverRunner{client: client}
}

// Handle implements worker.Runner.
func (r *ResolverRunner) Handle(task interface{}) {
	t, ok := task.(*resolveTask)
	if !ok {
		log.Error("resolver worker received unexpected task type")
		return
	}
	meta, err := r.client.GetStore(context.Background(), t.storeID)
	if err != nil {
		t.cb("", errors.Trace(err))
		return
	}
	if meta.Address == "" {
		t.cb("", errors.Errorf("store %d has no advertised address", t.storeID))
		return
	}
	t.cb(meta.Address, nil)
}
