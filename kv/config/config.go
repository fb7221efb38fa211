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

package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/pingcap/errors"
)

// Config holds every tunable recognized by the transport core. Most fields
// mirror the keys in spec.md's configuration table; the DBPath field is
// carried over from the teacher's config so Server has a root directory for
// snapshot staging, even though the storage engine itself is out of scope
// for this module.
type Config struct {
	// Addr is the listen address, host:port. port=0 selects an ephemeral port.
	Addr string `toml:"addr"`
	// AdvertiseAddr, if set, is the address advertised to peers; otherwise Addr is used.
	AdvertiseAddr string `toml:"advertise-addr"`

	// GRPCConcurrency sized the completion-queue pool in grpc-rs; Go's grpc
	// package has no CQ concept. Validate requires it to be positive, and no
	// other code reads it: it does not size the gRPC server or any worker.
	GRPCConcurrency int `toml:"grpc-concurrency"`
	// GRPCConcurrentStream caps concurrent HTTP/2 streams per connection.
	GRPCConcurrentStream int `toml:"grpc-concurrent-stream"`
	// GRPCStreamInitialWindowSize is the HTTP/2 stream flow-control window, e.g. "2MB".
	GRPCStreamInitialWindowSize string `toml:"grpc-stream-initial-window-size"`
	// GRPCKeepAliveTime/Timeout tune the gRPC keepalive ping cadence.
	GRPCKeepAliveTime    time.Duration `toml:"grpc-keepalive-time"`
	GRPCKeepAliveTimeout time.Duration `toml:"grpc-keepalive-timeout"`

	// EndPointRecursionLimit caps nesting depth when decoding a coprocessor DAG request.
	EndPointRecursionLimit int `toml:"end-point-recursion-limit"`
	// EndPointStreamChannelSize is the buffer depth for streaming coprocessor responses.
	EndPointStreamChannelSize int `toml:"end-point-stream-channel-size"`

	// DBPath is the root data directory; Server derives the snap subdirectory from it.
	DBPath string `toml:"db-path"`

	// LogFile, LogLevel and LogMaxDays configure the ambient logging stack (pingcap/log + lumberjack).
	LogFile    string `toml:"log-file"`
	LogLevel   string `toml:"log-level"`
	LogMaxDays int    `toml:"log-max-days"`
}

// Default returns a Config with the same defaults the teacher's own
// kv/config package ships (host:port placeholders, modest buffer sizes).
func Default() *Config {
	return &Config{
		Addr:                        "127.0.0.1:20160",
		GRPCConcurrency:             4,
		GRPCConcurrentStream:        1024,
		GRPCStreamInitialWindowSize: "2MB",
		GRPCKeepAliveTime:           10 * time.Second,
		GRPCKeepAliveTimeout:        3 * time.Second,
		EndPointRecursionLimit:      1000,
		EndPointStreamChannelSize:   8,
		DBPath:                      "/tmp/tinykv-store",
		LogLevel:                    "info",
		LogMaxDays:                  7,
	}
}

// Load reads a TOML config file on top of Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

// StreamInitialWindowSize parses GRPCStreamInitialWindowSize into bytes.
func (c *Config) StreamInitialWindowSize() (int32, error) {
	if c.GRPCStreamInitialWindowSize == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(c.GRPCStreamInitialWindowSize)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return int32(n), nil
}

// Validate performs light sanity checking, enough to catch obviously broken configs early.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: addr must not be empty")
	}
	if c.GRPCConcurrency <= 0 {
		return errors.New("config: grpc-concurrency must be positive")
	}
	if _, err := c.StreamInitialWindowSize(); err != nil {
		return errors.Annotate(err, "config: invalid grpc-stream-initial-window-size")
	}
	return nil
}
