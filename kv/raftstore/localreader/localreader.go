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

// Package localreader implements the LocalReader collaborator: a
// scheduler for read-only Raft commands that bypasses the consensus log.
// Grounded on the original's `local_reader_ch: Scheduler<ReadTask>` field
// of ServerRaftStoreRouter and its `ReadTask::read`/`ReadTask::batch_read`
// constructors (original_source/src/server/transport.rs).
package localreader

import (
	"sync"

	"github.com/google/btree"
	"github.com/pingcap-edu/tinykv/kv/message"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// RegionReader answers a single read-acceptable RaftCmdRequest from a
// point-in-time snapshot of one region. Implemented by the storage layer;
// LocalReader only needs to find the right one and invoke it.
type RegionReader interface {
	Read(req *message.RaftCmdRequest) (*message.RaftCmdResponse, error)
}

// regionEntry records a region's start key in an ordered btree index;
// grounded on the teacher's use of github.com/google/btree for its
// in-memory region index. Readers are looked up by region id only: nothing
// in this package searches the index by key, and UnregisterRegion leaves
// the entry in place.
type regionEntry struct {
	startKey []byte
	regionID message.RegionId
}

func (e *regionEntry) Less(than btree.Item) bool {
	other := than.(*regionEntry)
	return string(e.startKey) < string(other.startKey)
}

// Scheduler owns the registry of per-region readers and processes read
// and batch-read tasks on its own goroutine, keeping read traffic off the
// consensus write path entirely (spec.md invariant 5).
type Scheduler struct {
	worker *worker

	mu      sync.RWMutex
	readers map[message.RegionId]RegionReader
	ranges  *btree.BTree
}

type readTask struct {
	req *message.RaftCmdRequest
	cb  *message.Callback
}

type batchReadTask struct {
	reqs []*message.RaftCmdRequest
	cb   message.BatchReadCallback
}

// worker is a tiny single-goroutine queue private to Scheduler; it is not
// the shared util/worker.Worker because LocalReader's queue semantics
// (schedule blocks only while the queue is full, closing drains in-flight
// reads) are simpler and don't need the generic Runner indirection.
type worker struct {
	tasks  chan interface{}
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

const localReaderQueueSize = 8192

// NewScheduler creates and starts a LocalReader scheduler.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		worker:  &worker{tasks: make(chan interface{}, localReaderQueueSize), closed: make(chan struct{})},
		readers: make(map[message.RegionId]RegionReader),
		ranges:  btree.New(8),
	}
	s.worker.wg.Add(1)
	go s.run()
	return s
}

// RegisterRegion makes a region's reader available to Schedule.
func (s *Scheduler) RegisterRegion(regionID message.RegionId, startKey []byte, r RegionReader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readers[regionID] = r
	s.ranges.ReplaceOrInsert(&regionEntry{startKey: startKey, regionID: regionID})
}

// UnregisterRegion removes a region, e.g. after it is destroyed or merged away.
func (s *Scheduler) UnregisterRegion(regionID message.RegionId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.readers, regionID)
}

// Schedule enqueues a single read-acceptable command.
func (s *Scheduler) Schedule(req *message.RaftCmdRequest, cb *message.Callback) error {
	return s.enqueue(&readTask{req: req, cb: cb})
}

// ScheduleBatch enqueues a batch of read-acceptable commands as one unit;
// on_finished fires exactly once with a result vector whose positions
// match the input order (spec.md scenario S6).
func (s *Scheduler) ScheduleBatch(reqs []*message.RaftCmdRequest, onFinished message.BatchReadCallback) error {
	return s.enqueue(&batchReadTask{reqs: reqs, cb: onFinished})
}

func (s *Scheduler) enqueue(task interface{}) error {
	select {
	case <-s.worker.closed:
		return &scheduleClosedError{}
	default:
	}
	select {
	case s.worker.tasks <- task:
		return nil
	default:
		log.Warn("local reader queue full, blocking caller briefly")
		s.worker.tasks <- task
		return nil
	}
}

// Stop drains in-flight tasks and exits the scheduler goroutine. Idempotent.
func (s *Scheduler) Stop() {
	s.worker.once.Do(func() {
		close(s.worker.closed)
	})
	s.worker.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.worker.wg.Done()
	for {
		select {
		case task := <-s.worker.tasks:
			s.handle(task)
		case <-s.worker.closed:
			for {
				select {
				case task := <-s.worker.tasks:
					s.handle(task)
				default:
					return
				}
			}
		}
	}
}

func (s *Scheduler) handle(task interface{}) {
	switch t := task.(type) {
	case *readTask:
		resp := s.readOne(t.req)
		t.cb.InvokeRead(&message.ReadResponse{Response: resp})
	case *batchReadTask:
		out := make([]*message.ReadResponse, len(t.reqs))
		for i, req := range t.reqs {
			out[i] = &message.ReadResponse{Response: s.readOne(req)}
		}
		t.cb(out)
	default:
		log.Error("local reader received unknown task type", zap.Any("task", task))
	}
}

func (s *Scheduler) readOne(req *message.RaftCmdRequest) *message.RaftCmdResponse {
	s.mu.RLock()
	reader, ok := s.readers[req.Header.RegionId]
	s.mu.RUnlock()
	if !ok {
		return &message.RaftCmdResponse{
			Header: message.RaftResponseHeader{
				Error: &message.RegionError{
					Message:        "region not found",
					RegionNotFound: &req.Header.RegionId,
				},
			},
		}
	}
	resp, err := reader.Read(req)
	if err != nil {
		return &message.RaftCmdResponse{
			Header: message.RaftResponseHeader{Error: &message.RegionError{Message: err.Error()}},
		}
	}
	return resp
}

type scheduleClosedError struct{}

func (e *scheduleClosedError) Error() string { return "local reader queue closed" }
