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

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pingcap-edu/tinykv/kv/config"
	"github.com/pingcap-edu/tinykv/kv/log"
	"github.com/pingcap-edu/tinykv/kv/raftstore"
	"github.com/pingcap-edu/tinykv/kv/raftstore/localreader"
	"github.com/pingcap-edu/tinykv/kv/server"
	"github.com/pingcap-edu/tinykv/kv/storage/raft_storage"
	"github.com/pingcap-edu/tinykv/kv/storage/raft_storage/scheduler_client"
	"github.com/pingcap/errors"
	pclog "github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "tinykv-server",
		Short:        "tinykv-server runs the transport core of a tinykv store",
		SilenceUsage: true,
		RunE:         run,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Trace(err)
	}
	if err := log.Init(cfg); err != nil {
		return errors.Trace(err)
	}

	router := raft_storage.NewRaftstoreRouter(raftstore.NewRouter(), localreader.NewScheduler())
	srv, err := server.New(cfg, router, scheduler_client.NewStaticClient(nil), server.Options{})
	if err != nil {
		return errors.Trace(err)
	}
	if err := srv.Start(); err != nil {
		return errors.Trace(err)
	}
	pclog.Info("tinykv-server started", zap.String("addr", srv.ListeningAddr()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	pclog.Info("tinykv-server shutting down")
	return srv.Stop()
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}
