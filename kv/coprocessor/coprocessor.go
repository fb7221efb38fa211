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

// Package coprocessor implements the coprocessor worker Server binds
// alongside the transport core: it decodes a DAG request, rejects
// expression trees nested deeper than the configured recursion limit, and
// hands back an encoded response. Grounded on the teacher's EndPointHost /
// EndPointTask naming (referenced by the retrieved
// kv/storage/raft_storage/raft_server.go) and on the original's
// `coprocessor::{EndPointHost, EndPointTask}` import in server.rs. The
// actual row scan against committed state is out of this module's scope
// (spec.md §1 treats the storage engine as an opaque collaborator); this
// worker validates and round-trips the DAG request/response envelope,
// which is the part the transport core's worker wiring actually owns.
package coprocessor

import (
	"github.com/gogo/protobuf/proto"
	"github.com/pingcap-edu/tinykv/kv/message"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/tipb/go-tipb"
)

// Task is the unit of work scheduled onto the coprocessor worker: a raw
// DAG request addressed to one region, as received on the Coprocessor RPC.
type Task struct {
	RegionID message.RegionId
	Data     []byte
	Callback func([]byte, error)
}

// Host drains the coprocessor worker's queue. It implements
// kv/util/worker.Runner, mirroring the original's EndPointHost being
// started on end_point_worker in Server::start.
type Host struct {
	recursionLimit int
}

// NewHost builds a Host enforcing recursionLimit on every DAG request's
// expression trees, per cfg.EndPointRecursionLimit (spec.md §6).
func NewHost(recursionLimit int) *Host {
	return &Host{recursionLimit: recursionLimit}
}

// Handle implements worker.Runner.
func (h *Host) Handle(task interface{}) {
	t, ok := task.(*Task)
	if !ok {
		log.Error("coprocessor worker received unexpected task type")
		return
	}
	resp, err := h.handle(t)
	if t.Callback != nil {
		t.Callback(resp, err)
	}
}

func (h *Host) handle(t *Task) ([]byte, error) {
	req := new(tipb.DAGRequest)
	if err := proto.Unmarshal(t.Data, req); err != nil {
		return nil, errors.Annotate(err, "coprocessor: malformed DAG request")
	}
	for _, exec := range req.Executors {
		if err := checkRecursionLimit(exec, h.recursionLimit); err != nil {
			return nil, err
		}
	}

	// The actual table/index scan and aggregation pipeline runs against
	// committed region state, which lives in the external storage engine
	// (spec.md §1); this worker's job ends at validating and
	// acknowledging the request envelope.
	resp := &tipb.SelectResponse{
		Warnings: nil,
	}
	out, err := proto.Marshal(resp)
	if err != nil {
		return nil, errors.Annotate(err, "coprocessor: failed to encode response")
	}
	return out, nil
}

// checkRecursionLimit walks exec's condition/aggregate expression trees,
// failing closed if any nests deeper than limit. This is the concrete
// purpose of cfg.EndPointRecursionLimit: an attacker-controlled DAG with a
// deeply nested expression could otherwise blow the decode goroutine's stack.
func checkRecursionLimit(exec *tipb.Executor, limit int) error {
	if exec == nil {
		return nil
	}
	if exec.Selection != nil {
		for _, expr := range exec.Selection.Conditions {
			if err := checkExprDepth(expr, limit, 0); err != nil {
				return err
			}
		}
	}
	if exec.Aggregation != nil {
		for _, expr := range exec.Aggregation.AggFunc {
			if err := checkExprDepth(expr, limit, 0); err != nil {
				return err
			}
		}
		for _, expr := range exec.Aggregation.GroupBy {
			if err := checkExprDepth(expr, limit, 0); err != nil {
				return err
			}
		}
	}
	if exec.TopN != nil {
		for _, item := range exec.TopN.OrderBy {
			if err := checkExprDepth(item.Expr, limit, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkExprDepth(expr *tipb.Expr, limit, depth int) error {
	if expr == nil {
		return nil
	}
	if depth > limit {
		return errors.Errorf("coprocessor: expression nesting exceeds recursion limit %d", limit)
	}
	for _, child := range expr.Children {
		if err := checkExprDepth(child, limit, depth+1); err != nil {
			return err
		}
	}
	return nil
}
