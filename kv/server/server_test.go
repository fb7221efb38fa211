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
	"testing"

	"github.com/pingcap-edu/tinykv/kv/config"
	"github.com/pingcap-edu/tinykv/kv/message"
	"github.com/pingcap-edu/tinykv/kv/raftstore"
	"github.com/pingcap-edu/tinykv/kv/raftstore/localreader"
	"github.com/pingcap-edu/tinykv/kv/storage/raft_storage"
	"github.com/pingcap-edu/tinykv/kv/storage/raft_storage/scheduler_client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.DBPath = t.TempDir()
	return cfg
}

type fakeStorage struct {
	stopped bool
	stopErr error
}

func (s *fakeStorage) Stop() error {
	s.stopped = true
	return s.stopErr
}

type noopSnapshotSender struct{}

func (noopSnapshotSender) SendSnapshot(addr string, msg *message.RaftMessage) error { return nil }

func newTestServer(t *testing.T, opts Options) *Server {
	router := raft_storage.NewRaftstoreRouter(raftstore.NewRouter(), localreader.NewScheduler())
	if opts.SnapshotSender == nil {
		opts.SnapshotSender = noopSnapshotSender{}
	}
	srv, err := New(testConfig(t), router, scheduler_client.NewStaticClient(nil), opts)
	require.NoError(t, err)
	return srv
}

func TestServerStartListensOnEphemeralPort(t *testing.T) {
	srv := newTestServer(t, Options{})
	require.NoError(t, srv.Start())
	defer srv.Stop()

	require.NotEmpty(t, srv.ListeningAddr())
	require.NotContains(t, srv.ListeningAddr(), ":0")
}

func TestServerStopIsIdempotent(t *testing.T) {
	srv := newTestServer(t, Options{})
	require.NoError(t, srv.Start())

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())
}

func TestServerStopStopsInjectedStorage(t *testing.T) {
	storage := &fakeStorage{}
	srv := newTestServer(t, Options{Storage: storage})
	require.NoError(t, srv.Start())

	require.NoError(t, srv.Stop())
	require.True(t, storage.stopped)
}

func TestServerStopToleratesStorageFailure(t *testing.T) {
	storage := &fakeStorage{stopErr: assert.AnError}
	srv := newTestServer(t, Options{Storage: storage})
	require.NoError(t, srv.Start())

	require.NoError(t, srv.Stop(), "a storage stop failure must not fail Server.Stop")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Addr = ""
	router := raft_storage.NewRaftstoreRouter(raftstore.NewRouter(), localreader.NewScheduler())
	_, err := New(cfg, router, scheduler_client.NewStaticClient(nil), Options{})
	require.Error(t, err)
}

func TestDebugServiceOnlyBoundWhenEnginesProvided(t *testing.T) {
	srv := newTestServer(t, Options{})
	require.Nil(t, srv.debug)

	srv2 := newTestServer(t, Options{DebugEngines: &DebugEngines{DataPath: t.TempDir()}})
	require.NotNil(t, srv2.debug)
}
