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

func TestProjectionShapes(t *testing.T) {
	ds := mqltest.Northwind()
	h := mqltest.New(t, ds)

	t.Run("SelectedFields", func(t *testing.T) {
		docs := h.MustRun(t, query.From(ds.Collection("customers")).
			Select(query.Include("name"), query.Include("city"), query.ExcludeID()).
			OrderBy("name"))
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$project":{"name":1,"city":1,"_id":0}}`,
			`{"$sort":{"name":1}}`,
		)
		mqltest.AssertDocs(t, []bson.D{
			{{Key: "name", Value: "Alice"}, {Key: "city", Value: "Hartford"}},
			{{Key: "name", Value: "Bob"}, {Key: "city", Value: "Boston"}},
			{{Key: "name", Value: "Carla"}, {Key: "city", Value: "Hartford"}},
			{{Key: "name", Value: "Dan"}, {Key: "city", Value: "Providence"}},
		}, docs)
	})

	t.Run("InclusionKeepsID", func(t *testing.T) {
		docs := h.MustRun(t, query.From(ds.Collection("customers")).
			Where(filter.Eq("_id", 2)).
			Select(query.Include("name")))
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$match":{"_id":2}}`,
			`{"$project":{"name":1}}`,
		)
		mqltest.AssertDocs(t, []bson.D{
			{{Key: "_id", Value: 2}, {Key: "name", Value: "Bob"}},
		}, docs)
	})

	t.Run("ComputedAlongsideIncluded", func(t *testing.T) {
		docs := h.MustRun(t, query.From(ds.Collection("customers")).
			Select(
				query.Include("name"),
				query.Computed("tier", query.Cond(query.EqExpr(query.Path("vip"), query.Lit(true)), query.Lit("gold"), query.Lit("standard"))),
				query.ExcludeID(),
			).
			OrderBy("name"))
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$project":{"name":1,"tier":{"$cond":{"if":{"$eq":["$vip",true]},"then":"gold","else":"standard"}},"_id":0}}`,
			`{"$sort":{"name":1}}`,
		)
		mqltest.AssertDocs(t, []bson.D{
			{{Key: "name", Value: "Alice"}, {Key: "tier", Value: "gold"}},
			{{Key: "name", Value: "Bob"}, {Key: "tier", Value: "standard"}},
			{{Key: "name", Value: "Carla"}, {Key: "tier", Value: "gold"}},
			{{Key: "name", Value: "Dan"}, {Key: "tier", Value: "standard"}},
		}, docs)
	})

	t.Run("DistinctAfterProjection", func(t *testing.T) {
		docs := h.MustRun(t, query.From(ds.Collection("customers")).
			Select(query.Include("state"), query.ExcludeID()).
			Distinct())
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$project":{"state":1,"_id":0}}`,
			`{"$group":{"_id":"$$ROOT"}}`,
			`{"$replaceRoot":{"newRoot":"$_id"}}`,
		)
		mqltest.AssertDocSet(t, []bson.D{
			{{Key: "state", Value: "CT"}},
			{{Key: "state", Value: "MA"}},
			{{Key: "state", Value: "RI"}},
		}, docs)
	})

	t.Run("SkipAndLimitPaging", func(t *testing.T) {
		docs := h.MustRun(t, query.From(ds.Collection("customers")).
			Select(query.Include("name")).
			OrderBy("_id").
			Skip(1).
			Limit(2))
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$project":{"name":1}}`,
			`{"$sort":{"_id":1}}`,
			`{"$skip":1}`,
			`{"$limit":2}`,
		)
		mqltest.AssertDocs(t, []bson.D{
			{{Key: "_id", Value: 2}, {Key: "name", Value: "Bob"}},
			{{Key: "_id", Value: 3}, {Key: "name", Value: "Carla"}},
		}, docs)
	})

	t.Run("MultiKeyOrdering", func(t *testing.T) {
		docs := h.MustRun(t, query.From(ds.Collection("customers")).
			Select(query.Include("name"), query.Include("state"), query.ExcludeID()).
			OrderBy("state").
			ThenByDesc("name"))
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$project":{"name":1,"state":1,"_id":0}}`,
			`{"$sort":{"state":1,"name":-1}}`,
		)
		mqltest.AssertDocs(t, []bson.D{
			{{Key: "name", Value: "Carla"}, {Key: "state", Value: "CT"}},
			{{Key: "name", Value: "Alice"}, {Key: "state", Value: "CT"}},
			{{Key: "name", Value: "Bob"}, {Key: "state", Value: "MA"}},
			{{Key: "name", Value: "Dan"}, {Key: "state", Value: "RI"}},
		}, docs)
	})
}
