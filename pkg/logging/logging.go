// Copyright 2026 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logging

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/frostbyte73/core"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/livekit/darkcyan/pkg/config"
	"github.com/livekit/protocol/logger"
)

const (
	defaultLogDir     = "logs"
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 3
)

// EventLog records supervisor events (process start/stop, consumed results).
// Every event goes to the service logger and, when configured, to an
// append-only rotating file. Nothing depends on a write succeeding.
type EventLog struct {
	file   *zap.SugaredLogger
	rotate *lumberjack.Logger
	closed core.Fuse
}

func NewEventLog(conf *config.LogFileConfig) (*EventLog, error) {
	if conf == nil {
		conf = &config.LogFileConfig{}
	}
	if conf.Disabled {
		return &EventLog{}, nil
	}

	filename := conf.Filename
	if filename == "" {
		filename = path.Join(defaultLogDir, fmt.Sprintf("vision-%s-%d.log", time.Now().Format("02Jan06"), os.Getpid()))
	}
	if err := os.MkdirAll(path.Dir(filename), 0755); err != nil {
		return nil, err
	}

	maxSize := conf.MaxSizeMB
	if maxSize <= 0 {
		maxSize = defaultMaxSizeMB
	}
	maxBackups := conf.MaxBackups
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}

	lj := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     conf.MaxAgeDays,
		Compress:   conf.Compress,
		LocalTime:  true,
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	c := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(lj), zapcore.DebugLevel)

	e := &EventLog{
		file:   zap.New(c).Sugar(),
		rotate: lj,
	}
	go e.rotateAtMidnight()
	return e, nil
}

// NewEventLogFromCore writes events to an arbitrary zap core.
func NewEventLogFromCore(c zapcore.Core) *EventLog {
	return &EventLog{
		file: zap.New(c).Sugar(),
	}
}

func (e *EventLog) Debugw(msg string, keysAndValues ...interface{}) {
	logger.Debugw(msg, keysAndValues...)
	if e.file != nil {
		e.file.Debugw(msg, keysAndValues...)
	}
}

func (e *EventLog) Infow(msg string, keysAndValues ...interface{}) {
	logger.Infow(msg, keysAndValues...)
	if e.file != nil {
		e.file.Infow(msg, keysAndValues...)
	}
}

func (e *EventLog) Warnw(msg string, err error, keysAndValues ...interface{}) {
	logger.Warnw(msg, err, keysAndValues...)
	if e.file != nil {
		e.file.Warnw(msg, withError(err, keysAndValues)...)
	}
}

func (e *EventLog) Errorw(msg string, err error, keysAndValues ...interface{}) {
	logger.Errorw(msg, err, keysAndValues...)
	if e.file != nil {
		e.file.Errorw(msg, withError(err, keysAndValues)...)
	}
}

func (e *EventLog) Close() error {
	e.closed.Break()
	if e.file != nil {
		_ = e.file.Sync()
	}
	if e.rotate != nil {
		return e.rotate.Close()
	}
	return nil
}

// rotateAtMidnight starts a new file every day, like a daily log handler.
// Size based rotation still applies in between.
func (e *EventLog) rotateAtMidnight() {
	for {
		now := time.Now()
		midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
		timer := time.NewTimer(midnight.Sub(now))

		select {
		case <-e.closed.Watch():
			timer.Stop()
			return
		case <-timer.C:
			if err := e.rotate.Rotate(); err != nil {
				logger.Warnw("failed to rotate event log", err)
			}
		}
	}
}

func withError(err error, keysAndValues []interface{}) []interface{} {
	if err == nil {
		return keysAndValues
	}
	return append([]interface{}{"error", err}, keysAndValues...)
}
