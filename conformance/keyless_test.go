// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package conformance

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ikmak/mqlconform/filter"
	"github.com/ikmak/mqlconform/mqltest"
	"github.com/ikmak/mqlconform/query"
)

// Keyless sources run as database-level aggregations over a leading
// $documents stage.
func TestKeylessEntities(t *testing.T) {
	ds := mqltest.Northwind()
	h := mqltest.New(t, ds)

	t.Run("FilterOverInlineDocuments", func(t *testing.T) {
		docs := h.MustRun(t, query.FromDocuments(
			bson.D{{Key: "x", Value: int32(1)}},
			bson.D{{Key: "x", Value: int32(2)}},
			bson.D{{Key: "x", Value: int32(3)}},
		).Where(filter.Gt("x", 1)))
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$documents":[{"x":1},{"x":2},{"x":3}]}`,
			`{"$match":{"x":{"$gt":1}}}`,
		)
		mqltest.AssertDocs(t, []bson.D{
			{{Key: "x", Value: 2}},
			{{Key: "x", Value: 3}},
		}, docs)
	})

	t.Run("ProjectOverInlineDocuments", func(t *testing.T) {
		docs := h.MustRun(t, query.FromDocuments(
			bson.D{{Key: "x", Value: int32(2)}},
			bson.D{{Key: "x", Value: int32(3)}},
		).Select(
			query.Computed("doubled", query.Multiply(query.Path("x"), query.Lit(2))),
			query.ExcludeID(),
		))
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$documents":[{"x":2},{"x":3}]}`,
			`{"$project":{"doubled":{"$multiply":["$x",2]},"_id":0}}`,
		)
		mqltest.AssertDocs(t, []bson.D{
			{{Key: "doubled", Value: 4}},
			{{Key: "doubled", Value: 6}},
		}, docs)
	})

	t.Run("EmptyDocumentsSource", func(t *testing.T) {
		docs := h.MustRun(t, query.FromDocuments().Count())
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$documents":[]}`,
			`{"$count":"count"}`,
		)
		mqltest.AssertDocs(t, []bson.D{}, docs)
	})
}
