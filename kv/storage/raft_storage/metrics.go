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
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// itoaStoreID formats a store id for use as a prometheus label value.
func itoaStoreID(storeID uint64) string {
	return strconv.FormatUint(storeID, 10)
}

// resolveStoreCounter mirrors the original's RESOLVE_STORE_COUNTER, split
// by outcome label: "resolving" (dropped while a resolve was already in
// flight), "resolve" (a fresh resolve started), "success", "failed".
var resolveStoreCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tinykv",
		Subsystem: "server",
		Name:      "resolve_store_total",
		Help:      "Counter of store address resolution attempts by outcome.",
	},
	[]string{"type"},
)

// reportFailureMsgCounter mirrors REPORT_FAILURE_MSG_COUNTER, split by
// message kind ("snapshot") and destination store.
var reportFailureMsgCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tinykv",
		Subsystem: "server",
		Name:      "report_failure_msg_total",
		Help:      "Counter of failure reports delivered back to the local router.",
	},
	[]string{"type", "store_id"},
)

func init() {
	prometheus.MustRegister(resolveStoreCounter)
	prometheus.MustRegister(reportFailureMsgCounter)
}
