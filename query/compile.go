// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package query

import (
	"sort"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// CompiledQuery is a query whose pipeline has been built once with
// parameter placeholders left in place. Bind substitutes argument
// values without re-planning the stages.
type CompiledQuery struct {
	pipeline Pipeline
	params   []string
}

// Compile builds the query, allowing Param placeholders to remain in
// the stages. The returned CompiledQuery lists the parameters it
// expects; Bind must supply exactly that set.
func (q *Query) Compile() (*CompiledQuery, error) {
	p, err := q.build()
	if err != nil {
		return nil, err
	}
	names := map[string]bool{}
	for _, stage := range p.Stages {
		collectParams(stage, names)
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)
	return &CompiledQuery{pipeline: p, params: sorted}, nil
}

// Params returns the placeholder names the compiled query expects, in
// lexical order.
func (c *CompiledQuery) Params() []string {
	out := make([]string, len(c.params))
	copy(out, c.params)
	return out
}

// Bind substitutes argument values for the placeholders and returns a
// runnable pipeline. Every placeholder must be bound; unknown argument
// names are rejected.
func (c *CompiledQuery) Bind(args map[string]interface{}) (Pipeline, error) {
	for name := range args {
		if !contains(c.params, name) {
			return Pipeline{}, errors.Errorf("query: unknown parameter %q", name)
		}
	}
	for _, name := range c.params {
		if _, ok := args[name]; !ok {
			return Pipeline{}, errors.Errorf("query: parameter %q is not bound", name)
		}
	}

	bound := Pipeline{Collection: c.pipeline.Collection, Comment: c.pipeline.Comment}
	bound.Stages = make([]bson.D, 0, len(c.pipeline.Stages))
	for _, stage := range c.pipeline.Stages {
		bound.Stages = append(bound.Stages, substituteDoc(stage, args))
	}
	return bound, nil
}

func collectParams(v interface{}, names map[string]bool) {
	switch tv := v.(type) {
	case param:
		names[tv.name] = true
	case bson.D:
		for _, e := range tv {
			collectParams(e.Value, names)
		}
	case bson.A:
		for _, e := range tv {
			collectParams(e, names)
		}
	}
}

// firstParam reports the name of the first placeholder in the built
// stages, or "" when there is none. Build uses it to reject
// parameterised queries that were never compiled.
func firstParam(stages []bson.D) string {
	names := map[string]bool{}
	for _, stage := range stages {
		collectParams(stage, names)
		if len(names) > 0 {
			for n := range names {
				return n
			}
		}
	}
	return ""
}

func substituteDoc(d bson.D, args map[string]interface{}) bson.D {
	out := make(bson.D, 0, len(d))
	for _, e := range d {
		out = append(out, bson.E{Key: e.Key, Value: substitute(e.Value, args)})
	}
	return out
}

func substitute(v interface{}, args map[string]interface{}) interface{} {
	switch tv := v.(type) {
	case param:
		return args[tv.name]
	case bson.D:
		return substituteDoc(tv, args)
	case bson.A:
		out := make(bson.A, 0, len(tv))
		for _, e := range tv {
			out = append(out, substitute(e, args))
		}
		return out
	default:
		return v
	}
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
