// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package pipeval evaluates built aggregation pipelines against
// in-memory document sets, so conformance scenarios can assert result
// semantics without a server. It covers the stage and operator subset
// the query package emits; anything else reports an UnsupportedError.
package pipeval

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ikmak/mqlconform/internal/logger"
	"github.com/ikmak/mqlconform/query"
)

// UnsupportedError mirrors the translator's unsupported-shape error so
// callers check one type regardless of which layer rejected the query.
type UnsupportedError = query.UnsupportedError

// scoreField is the hidden per-document slot a $vectorSearch stage
// fills; {$meta: "vectorSearchScore"} reads it and Run strips it.
const scoreField = "__vectorSearchScore"

// VectorIndex describes a search index the evaluator scores against.
type VectorIndex struct {
	// Metric is "cosine", "euclidean" or "dotProduct".
	Metric string
}

// Evaluator runs pipelines over named in-memory collections.
type Evaluator struct {
	Collections   map[string][]bson.D
	VectorIndexes map[string]VectorIndex

	log *logrus.Entry
}

// New returns an evaluator over the given collections.
func New(collections map[string][]bson.D) *Evaluator {
	return &Evaluator{
		Collections:   collections,
		VectorIndexes: map[string]VectorIndex{},
		log:           logger.New(logger.ComponentEvaluator),
	}
}

// Run executes a built pipeline and returns the result documents.
func (ev *Evaluator) Run(p query.Pipeline) ([]bson.D, error) {
	var docs []bson.D
	if p.Collection != "" {
		src, ok := ev.Collections[p.Collection]
		if !ok {
			return nil, errors.Errorf("pipeval: unknown collection %q", p.Collection)
		}
		docs = append(docs, src...)
	}

	for i, stage := range p.Stages {
		if len(stage) != 1 {
			return nil, errors.Errorf("pipeval: stage %d has %d operators", i, len(stage))
		}
		var err error
		docs, err = ev.applyStage(docs, stage[0], i == 0)
		if err != nil {
			return nil, errors.Wrapf(err, "pipeval: stage %d (%s)", i, stage[0].Key)
		}
	}
	ev.log.WithFields(logrus.Fields{"collection": p.Collection, "stages": len(p.Stages), "results": len(docs)}).Debug("pipeline evaluated")

	return stripHidden(docs), nil
}

func (ev *Evaluator) applyStage(docs []bson.D, stage bson.E, first bool) ([]bson.D, error) {
	switch stage.Key {
	case "$documents":
		if !first {
			return nil, errors.New("$documents must be the first stage")
		}
		arr, ok := stage.Value.(bson.A)
		if !ok {
			return nil, errors.New("$documents requires an array")
		}
		out := make([]bson.D, 0, len(arr))
		for _, el := range arr {
			doc, ok := el.(bson.D)
			if !ok {
				return nil, errors.Errorf("$documents element %T is not a document", el)
			}
			out = append(out, doc)
		}
		return out, nil

	case "$vectorSearch":
		if !first {
			return nil, errors.New("$vectorSearch must be the first stage")
		}
		spec, ok := stage.Value.(bson.D)
		if !ok {
			return nil, errors.New("$vectorSearch requires a document")
		}
		return ev.vectorSearch(docs, spec)

	case "$match":
		cond, ok := stage.Value.(bson.D)
		if !ok {
			return nil, errors.New("$match requires a document")
		}
		var out []bson.D
		for _, doc := range docs {
			hit, err := ev.matchDoc(doc, cond)
			if err != nil {
				return nil, err
			}
			if hit {
				out = append(out, doc)
			}
		}
		return out, nil

	case "$project":
		spec, ok := stage.Value.(bson.D)
		if !ok {
			return nil, errors.New("$project requires a document")
		}
		out := make([]bson.D, 0, len(docs))
		for _, doc := range docs {
			p, err := ev.project(doc, spec)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil

	case "$sort":
		spec, ok := stage.Value.(bson.D)
		if !ok {
			return nil, errors.New("$sort requires a document")
		}
		out := append([]bson.D(nil), docs...)
		sort.SliceStable(out, func(i, j int) bool {
			for _, key := range spec {
				dir, _ := asFloat(key.Value)
				vi, _ := lookupPath(out[i], key.Key)
				vj, _ := lookupPath(out[j], key.Key)
				c := compareValues(vi, vj)
				if c == 0 {
					continue
				}
				if dir < 0 {
					return c > 0
				}
				return c < 0
			}
			return false
		})
		return out, nil

	case "$skip":
		n, ok := asFloat(stage.Value)
		if !ok || n < 0 {
			return nil, errors.New("$skip requires a non-negative number")
		}
		if int(n) >= len(docs) {
			return nil, nil
		}
		return docs[int(n):], nil

	case "$limit":
		n, ok := asFloat(stage.Value)
		if !ok || n < 0 {
			return nil, errors.New("$limit requires a non-negative number")
		}
		if int(n) < len(docs) {
			return docs[:int(n)], nil
		}
		return docs, nil

	case "$count":
		name, ok := stage.Value.(string)
		if !ok || name == "" {
			return nil, errors.New("$count requires a field name")
		}
		// The server emits nothing when there is nothing to count.
		if len(docs) == 0 {
			return nil, nil
		}
		return []bson.D{{{Key: name, Value: int32(len(docs))}}}, nil

	case "$group":
		spec, ok := stage.Value.(bson.D)
		if !ok {
			return nil, errors.New("$group requires a document")
		}
		return ev.group(docs, spec)

	case "$unwind":
		return ev.unwind(docs, stage.Value)

	case "$lookup":
		spec, ok := stage.Value.(bson.D)
		if !ok {
			return nil, errors.New("$lookup requires a document")
		}
		return ev.lookup(docs, spec)

	case "$unionWith":
		spec, ok := stage.Value.(bson.D)
		if !ok {
			return nil, errors.New("$unionWith requires a document")
		}
		more, err := ev.runSub(spec)
		if err != nil {
			return nil, err
		}
		return append(docs, more...), nil

	case "$replaceRoot":
		spec, ok := stage.Value.(bson.D)
		if !ok {
			return nil, errors.New("$replaceRoot requires a document")
		}
		var newRoot interface{}
		for _, el := range spec {
			if el.Key == "newRoot" {
				newRoot = el.Value
			}
		}
		out := make([]bson.D, 0, len(docs))
		for _, doc := range docs {
			v, err := ev.evalValue(env{doc: doc, root: doc}, newRoot)
			if err != nil {
				return nil, err
			}
			root, ok := v.(bson.D)
			if !ok {
				return nil, errors.Errorf("$replaceRoot produced %T, not a document", v)
			}
			out = append(out, root)
		}
		return out, nil
	}

	return nil, &UnsupportedError{Feature: "pipeline stage " + stage.Key}
}

// runSub executes an embedded {coll, pipeline} reference, as used by
// $unionWith and the uncorrelated $lookup form.
func (ev *Evaluator) runSub(spec bson.D) ([]bson.D, error) {
	var coll string
	var stages []bson.D
	for _, el := range spec {
		switch el.Key {
		case "coll", "from":
			coll = asString(el.Value)
		case "pipeline":
			arr, ok := el.Value.(bson.A)
			if !ok {
				return nil, errors.New("embedded pipeline must be an array")
			}
			for _, s := range arr {
				d, ok := s.(bson.D)
				if !ok {
					return nil, errors.Errorf("embedded stage %T is not a document", s)
				}
				stages = append(stages, d)
			}
		}
	}
	if coll == "" {
		return nil, errors.New("embedded pipeline requires a collection")
	}
	return ev.Run(query.Pipeline{Collection: coll, Stages: stages})
}

func stripHidden(docs []bson.D) []bson.D {
	out := make([]bson.D, 0, len(docs))
	for _, doc := range docs {
		cleaned := make(bson.D, 0, len(doc))
		for _, el := range doc {
			if el.Key == scoreField {
				continue
			}
			cleaned = append(cleaned, el)
		}
		out = append(out, cleaned)
	}
	return out
}
