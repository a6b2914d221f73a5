// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package query

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ikmak/mqlconform/filter"
)

// VectorSearchOptions describes a $vectorSearch stage. The stage is
// always emitted first in the pipeline; Where predicates added to the
// same query match after the search, while Filter restricts candidate
// documents inside the search itself.
type VectorSearchOptions struct {
	Index         string
	Path          string
	QueryVector   []float64
	NumCandidates int32
	Limit         int32
	Filter        filter.Expr
}

// VectorSearch makes this query a vector search. Must be the logical
// head of the query: combining it with set operations or an inline
// document source is rejected at Build.
func (q *Query) VectorSearch(opts VectorSearchOptions) *Query {
	if q.vector != nil {
		return q.fail(errors.New("query: VectorSearch called twice"))
	}
	q.vector = &opts
	return q
}

func (o *VectorSearchOptions) stage() (bson.D, error) {
	if o.Index == "" || o.Path == "" {
		return nil, errors.New("query: vector search requires an index name and a path")
	}
	if len(o.QueryVector) == 0 {
		return nil, errors.New("query: vector search requires a non-empty query vector")
	}
	if o.Limit <= 0 {
		return nil, errors.Errorf("query: vector search limit must be positive, got %d", o.Limit)
	}
	if o.NumCandidates < o.Limit {
		return nil, errors.Errorf("query: numCandidates %d must be at least limit %d", o.NumCandidates, o.Limit)
	}

	vec := make(bson.A, 0, len(o.QueryVector))
	for _, f := range o.QueryVector {
		vec = append(vec, f)
	}
	doc := bson.D{
		{Key: "index", Value: o.Index},
		{Key: "path", Value: o.Path},
		{Key: "queryVector", Value: vec},
		{Key: "numCandidates", Value: o.NumCandidates},
		{Key: "limit", Value: o.Limit},
	}
	if o.Filter != nil {
		fdoc, err := o.Filter.Build()
		if err != nil {
			return nil, errors.Wrap(err, "query: vector search filter")
		}
		doc = append(doc, bson.E{Key: "filter", Value: fdoc})
	}
	return bson.D{{Key: "$vectorSearch", Value: doc}}, nil
}
