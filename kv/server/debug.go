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

package server

import (
	"context"

	"github.com/pingcap-edu/tinykv/kv/rpc"
	"github.com/pingcap/errors"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/mem"
)

// DebugEngines names the on-disk path whose usage backs RegionInfo; it
// stands in for kvproto debugpb's engine handles (spec.md §1 keeps the
// real storage engine out of scope, but the debug surface still needs
// somewhere to point df/free at).
type DebugEngines struct {
	DataPath string
}

// debugService implements rpc.DebugServer, bound by Server iff
// Options.DebugEngines is non-nil (spec.md §6). Unlike the original's
// DebugService::new(debug_engines, raft_router), this module's
// RegionInfo/RaftStatus report host-level disk/memory usage only — the
// per-region/per-peer detail a raft router would add is owned by the peer
// state machines, out of scope here (spec.md §1) — so no router handle is
// held.
type debugService struct {
	engines *DebugEngines
}

func newDebugService(engines *DebugEngines) rpc.DebugServer {
	return &debugService{engines: engines}
}

// RegionInfo reports disk usage at the engines' data path; it does not
// consult the raft router because region placement detail is owned by
// the peer state machines, out of scope for this module (spec.md §1).
func (d *debugService) RegionInfo(ctx context.Context, req *rpc.RegionInfoRequest) (*rpc.RegionInfoResponse, error) {
	usage, err := disk.Usage(d.engines.DataPath)
	if err != nil {
		return nil, errors.Annotate(err, "debug: failed to stat data path")
	}
	return &rpc.RegionInfoResponse{
		RegionId:       req.RegionId,
		DiskUsedBytes:  usage.Used,
		DiskTotalBytes: usage.Total,
	}, nil
}

// RaftStatus reports process memory usage as a coarse proxy for Raft
// in-flight log/cache pressure; the real per-region status lives with the
// peer state machines, out of scope for this module (spec.md §1).
func (d *debugService) RaftStatus(ctx context.Context, req *rpc.RaftStatusRequest) (*rpc.RaftStatusResponse, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return nil, errors.Annotate(err, "debug: failed to read memory stats")
	}
	return &rpc.RaftStatusResponse{
		MemoryUsedBytes:  v.Used,
		MemoryTotalBytes: v.Total,
	}, nil
}
