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

// Package worker provides the generic bounded task queue used by the
// resolver, snapshot and coprocessor workers. Any number of callers may
// schedule onto a Worker; each Worker drains its queue on one goroutine, so
// tasks are handled one at a time in queue order, not by several
// consumers in parallel. Grounded on the teacher's `util/worker.Worker` (referenced in
// kv/storage/raft_storage/raft_server.go as `worker.NewWorker(...)`,
// `.Sender()`, `.Start(runner)`, `.Stop()`).
package worker

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const defaultQueueSize = 4096

// Runner processes tasks pulled off a Worker's queue, one at a time, on
// the worker's own goroutine.
type Runner interface {
	Handle(task interface{})
}

// Worker owns one task queue and the goroutine draining it.
type Worker struct {
	name    string
	sender  chan interface{}
	wg      *sync.WaitGroup
	closed  chan struct{}
	once    sync.Once
}

// NewWorker creates a stopped Worker; call Start to begin processing.
// A shared *sync.WaitGroup lets an owner join every worker it started
// with a single Wait, mirroring the teacher's RaftStorage.wg.
func NewWorker(name string, wg *sync.WaitGroup) *Worker {
	return &Worker{
		name:   name,
		sender: make(chan interface{}, defaultQueueSize),
		wg:     wg,
		closed: make(chan struct{}),
	}
}

// Sender returns the channel callers schedule tasks onto.
func (w *Worker) Sender() chan<- interface{} {
	return w.sender
}

// Start launches the drain goroutine with the given Runner.
func (w *Worker) Start(runner Runner) error {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case task, ok := <-w.sender:
				if !ok {
					return
				}
				runner.Handle(task)
			case <-w.closed:
				// Drain whatever is already queued before exiting, so a Stop
				// racing with a burst of Schedule calls doesn't drop work
				// silently; new Schedule calls after Stop still fail with a
				// "worker queue closed" error.
				for {
					select {
					case task := <-w.sender:
						runner.Handle(task)
					default:
						return
					}
				}
			}
		}
	}()
	return nil
}

// Schedule enqueues a task. It returns an error only if the worker has
// been stopped; if the queue is full it logs a warning and blocks until
// the drain goroutine frees a slot.
func (w *Worker) Schedule(task interface{}) error {
	select {
	case <-w.closed:
		return &scheduleClosedError{name: w.name}
	default:
	}
	select {
	case w.sender <- task:
		return nil
	default:
		log.Warn("worker queue full, dropping backpressure onto caller", zap.String("worker", w.name))
		w.sender <- task
		return nil
	}
}

// Stop signals the drain goroutine to exit after flushing its queue. Stop
// is idempotent.
func (w *Worker) Stop() {
	w.once.Do(func() {
		close(w.closed)
	})
}

type scheduleClosedError struct{ name string }

func (e *scheduleClosedError) Error() string {
	return e.name + " worker queue closed"
}
