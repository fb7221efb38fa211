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

// Package errcode classifies the failure taxonomy of spec.md §7 so that
// the gRPC layer can map each kind to a stable status code (RegionNotFound
// -> not-leader/region-not-found, Transport(Full) -> resource-exhausted,
// everything else -> internal).
package errcode

import (
	"fmt"
)

// Reason says why a TransportError was raised. ReasonFull is the only
// value; a closed mailbox is reported as RegionNotFoundError instead.
type Reason int

const (
	ReasonFull Reason = iota
)

// TransportError reports local mailbox backpressure (Reason=Full); it is
// transient and the caller may retry or shed load.
type TransportError struct {
	Reason Reason
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Reason)
}

// RegionNotFoundError reports that the destination region's mailbox is
// closed: the region has migrated or been destroyed. Callers must stop
// targeting it.
type RegionNotFoundError struct {
	RegionId uint64
}

func (e *RegionNotFoundError) Error() string {
	return fmt.Sprintf("region %d not found", e.RegionId)
}

// ResolveFailureError wraps a failure to resolve a store_id to an address,
// whether the resolver returned Err or failed synchronously.
type ResolveFailureError struct {
	StoreId uint64
	Cause   error
}

func (e *ResolveFailureError) Error() string {
	return fmt.Sprintf("resolve store %d address failed: %v", e.StoreId, e.Cause)
}

func (e *ResolveFailureError) Unwrap() error { return e.Cause }

// SendFailureError wraps a RaftClient.send network error. It is logged,
// never propagated synchronously: the next send to the same store re-resolves.
type SendFailureError struct {
	StoreId uint64
	Addr    string
	Cause   error
}

func (e *SendFailureError) Error() string {
	return fmt.Sprintf("send to store %d (%s) failed: %v", e.StoreId, e.Addr, e.Cause)
}

func (e *SendFailureError) Unwrap() error { return e.Cause }

// ScheduleFailureError reports a worker queue that refused a task because
// it has already stopped.
type ScheduleFailureError struct {
	Worker string
}

func (e *ScheduleFailureError) Error() string {
	return fmt.Sprintf("%s worker queue closed", e.Worker)
}

// IsFull reports whether err is a transport-full backpressure error.
func IsFull(err error) bool {
	_, ok := err.(*TransportError)
	return ok
}

// IsRegionNotFound reports whether err means the destination region is gone.
func IsRegionNotFound(err error) bool {
	_, ok := err.(*RegionNotFoundError)
	return ok
}
