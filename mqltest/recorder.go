// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package mqltest is the conformance harness: it records the MQL each
// query produces, asserts it against literal or golden baselines, and
// checks result semantics against seeded fixture data, optionally
// through a live deployment.
package mqltest

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"

	"github.com/ikmak/mqlconform/internal/logger"
)

// Record is the captured MQL for one executed query.
type Record struct {
	Collection string
	Stages     []string
	Comment    string
}

// Recorder collects the rendered MQL of every query the harness runs,
// and in live mode the aggregate commands actually sent on the wire.
type Recorder struct {
	mu      sync.Mutex
	records []Record
	wire    []string

	log *logrus.Entry
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{log: logger.New(logger.ComponentRecorder)}
}

// Add appends one record.
func (r *Recorder) Add(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	r.log.WithFields(logrus.Fields{"collection": rec.Collection, "stages": len(rec.Stages)}).Debug("query recorded")
}

// Clear resets recorded state; call it between scenarios that share a
// recorder.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
	r.wire = nil
}

// Records returns a copy of all records in execution order.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Last returns the most recent record.
func (r *Recorder) Last() (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return Record{}, false
	}
	return r.records[len(r.records)-1], true
}

// WireCommands returns the extended-JSON form of the aggregate
// commands captured from the driver in live mode.
func (r *Recorder) WireCommands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.wire))
	copy(out, r.wire)
	return out
}

// CommandMonitor returns a driver monitor that captures aggregate and
// find commands into the recorder.
func (r *Recorder) CommandMonitor() *event.CommandMonitor {
	return &event.CommandMonitor{
		Started: func(_ context.Context, evt *event.CommandStartedEvent) {
			if evt.CommandName != "aggregate" && evt.CommandName != "find" {
				return
			}
			var cmd bson.D
			if err := bson.Unmarshal(evt.Command, &cmd); err != nil {
				r.log.WithError(err).Warn("dropping unparseable command event")
				return
			}
			raw, err := bson.MarshalExtJSON(cmd, false, false)
			if err != nil {
				r.log.WithError(err).Warn("dropping unrenderable command event")
				return
			}
			r.mu.Lock()
			r.wire = append(r.wire, string(raw))
			r.mu.Unlock()
		},
	}
}
