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

// Package log wires the ambient logging stack: pingcap/log's zap wrapper
// writing through a lumberjack rotating file when cfg.LogFile is set.
// Every other package in this module logs through pingcap/log's package-
// level functions (log.Debug/Warn/Error with zap.Field args); this package
// is only responsible for pointing those at the right sink once, at
// process start, the way a cmd/ main does in the teacher's ecosystem.
package log

import (
	"os"

	"github.com/pingcap-edu/tinykv/kv/config"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Init points the global pingcap/log logger at cfg's level and sink.
func Init(cfg *config.Config) error {
	level := zapcore.InfoLevel
	if cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return err
		}
	}

	var writer zapcore.WriteSyncer
	if cfg.LogFile != "" {
		writer = zapcore.AddSync(&lumberjack.Logger{
			Filename: cfg.LogFile,
			MaxSize:  300, // MB; lumberjack's own default is 100
			MaxAge:   cfg.LogMaxDays,
		})
	} else {
		writer = zapcore.AddSync(os.Stderr)
	}

	atomicLevel := zap.NewAtomicLevelAt(level)
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), writer, atomicLevel)

	logger := zap.New(core, zap.AddCaller())
	log.ReplaceGlobals(logger, &log.ZapProperties{
		Core:   core,
		Syncer: writer,
		Level:  atomicLevel,
	})
	return nil
}
