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

// Package scheduler_client is the address-book collaborator: it knows how
// to ask the cluster's placement/scheduling service for a store's current
// network address. This stands in for the external PD client spec.md
// §1 explicitly keeps out of scope ("it does not implement address
// discovery"); RaftStorage.Start in the teacher takes a
// `scheduler_client.Client` for exactly this purpose.
package scheduler_client

import (
	"context"

	"github.com/pingcap/errors"
)

// StoreMeta is the subset of cluster metadata the resolver cares about.
type StoreMeta struct {
	Id      uint64
	Address string
}

// Client is the collaborator interface: given a store id, return its
// current metadata (in particular its address). Implementations typically
// talk to PD; for tests, a static in-memory Client suffices.
type Client interface {
	GetStore(ctx context.Context, storeID uint64) (*StoreMeta, error)
}

// StaticClient is a fixed store_id -> address map, useful for tests and
// single-process deployments where the scheduler isn't wired up yet.
type StaticClient struct {
	Stores map[uint64]string
}

// NewStaticClient builds a StaticClient from a plain map.
func NewStaticClient(stores map[uint64]string) *StaticClient {
	return &StaticClient{Stores: stores}
}

// GetStore implements Client.
func (c *StaticClient) GetStore(_ context.Context, storeID uint64) (*StoreMeta, error) {
	addr, ok := c.Stores[storeID]
	if !ok {
		return nil, errors.Errorf("store %d not found", storeID)
	}
	return &StoreMeta{Id: storeID, Address: addr}, nil
}
