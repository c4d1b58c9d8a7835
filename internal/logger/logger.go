// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package logger is this module's structured-logging ambient stack: a
// pluggable, go-logr-shaped sink, a per-component severity level, and a tiny
// async job queue so a slow sink never blocks a heartbeat loop.
package logger

import (
	"fmt"
	"os"
)

const jobBufferSize = 100

// Component names a subsystem within this core that can have its own log
// level.
type Component string

// The components this core logs from.
const (
	ComponentServerMonitor Component = "serverMonitor"
	ComponentRTTMonitor    Component = "rttMonitor"
	ComponentTopology      Component = "topology"
)

// LogSink is a subset of go-logr's LogSink interface: Info receives a
// verbosity level, a message, and structured key/value pairs.
type LogSink interface {
	Info(level int, msg string, keysAndValues ...interface{})
}

type job struct {
	level Level
	msg   string
	kv    []interface{}
}

// Logger is this core's logger. If constructed with a nil Sink, it logs to
// os.Stderr using fmt instead of a structured sink.
type Logger struct {
	ComponentLevels map[Component]Level
	Sink            LogSink

	jobs chan job
}

// New constructs a Logger and starts its background delivery goroutine. The
// delivery goroutine exists so that a blocking or slow Sink cannot stall the
// heartbeat or RTT loops that log through it.
func New(sink LogSink, componentLevels map[Component]Level) *Logger {
	l := &Logger{
		ComponentLevels: componentLevels,
		Sink:            sink,
		jobs:            make(chan job, jobBufferSize),
	}
	go l.deliver()
	return l
}

func (l *Logger) deliver() {
	for j := range l.jobs {
		if l.Sink != nil {
			l.Sink.Info(int(j.level)-DiffToInfo, j.msg, j.kv...)
			continue
		}
		fmt.Fprintf(os.Stderr, "%s\n", j.msg)
	}
}

// Print enqueues a message at level for component. It never blocks the
// caller on the sink; if the internal job buffer is full, the message is
// dropped rather than applying backpressure to a heartbeat loop.
func (l *Logger) Print(level Level, component Component, msg string, keysAndValues ...interface{}) {
	if l == nil || !l.levelEnabled(component, level) {
		return
	}
	select {
	case l.jobs <- job{level: level, msg: msg, kv: keysAndValues}:
	default:
	}
}

func (l *Logger) levelEnabled(component Component, level Level) bool {
	want, ok := l.ComponentLevels[component]
	if !ok {
		return false
	}
	return level != LevelOff && want >= level
}
