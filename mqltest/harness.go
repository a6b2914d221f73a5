// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mqltest

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ikmak/mqlconform/internal/logger"
	"github.com/ikmak/mqlconform/internal/pipeval"
	"github.com/ikmak/mqlconform/mql"
	"github.com/ikmak/mqlconform/query"
)

// Harness runs queries over a dataset: it renders and records the
// emitted MQL, evaluates the pipeline in memory, and when
// MQLTEST_MONGODB_URI is set replays it against a live deployment and
// cross-checks the results.
type Harness struct {
	ds   *Dataset
	rec  *Recorder
	ev   *pipeval.Evaluator
	live *liveSession
	log  *logrus.Entry
}

// New builds a harness over the dataset. Live mode engages only when
// MQLTEST_MONGODB_URI is set; connection failure with the variable set
// is a fatal misconfiguration, not a skip.
func New(t *testing.T, ds *Dataset) *Harness {
	t.Helper()
	rec := NewRecorder()
	ev := pipeval.New(ds.Collections)
	for name, metric := range ds.VectorIndexes {
		ev.VectorIndexes[name] = pipeval.VectorIndex{Metric: metric}
	}
	h := &Harness{ds: ds, rec: rec, ev: ev, log: logger.New(logger.ComponentFixtures)}
	if uri := os.Getenv("MQLTEST_MONGODB_URI"); uri != "" {
		h.live = connectLive(t, uri, ds, rec)
	}
	return h
}

// Recorder exposes the harness recorder for MQL assertions.
func (h *Harness) Recorder() *Recorder { return h.rec }

// MustRun builds and runs the query, failing the test on any build or
// evaluation error.
func (h *Harness) MustRun(t *testing.T, q *query.Query) []bson.D {
	t.Helper()
	p, err := q.Build()
	if err != nil {
		t.Fatalf("building query: %v", err)
	}
	return h.RunPipeline(t, p)
}

// RunPipeline records and executes an already-built pipeline.
func (h *Harness) RunPipeline(t *testing.T, p query.Pipeline) []bson.D {
	t.Helper()
	stages, err := mql.RenderPipeline(p)
	if err != nil {
		t.Fatalf("rendering pipeline: %v", err)
	}
	h.rec.Add(Record{Collection: p.Collection, Stages: stages, Comment: p.Comment})

	docs, err := h.ev.Run(p)
	if err != nil {
		t.Fatalf("evaluating pipeline: %v", err)
	}

	if h.live != nil && liveCompatible(p) {
		h.live.check(t, p, docs)
	}
	return docs
}

// liveCompatible reports whether a pipeline can replay on a plain
// deployment; $vectorSearch needs an Atlas search index, so those
// scenarios stay in-memory only.
func liveCompatible(p query.Pipeline) bool {
	for _, stage := range p.Stages {
		if len(stage) == 1 && stage[0].Key == "$vectorSearch" {
			return false
		}
	}
	return true
}
