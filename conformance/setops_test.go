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

func TestSetOperations(t *testing.T) {
	ds := mqltest.Northwind()
	h := mqltest.New(t, ds)
	orders := ds.Collection("orders")

	shipped := func() *query.Query {
		return query.From(orders).Where(filter.Eq("status", "shipped"))
	}
	expensive := func() *query.Query {
		return query.From(orders).Where(filter.Gt("total", 30))
	}

	t.Run("ConcatKeepsDuplicates", func(t *testing.T) {
		docs := h.MustRun(t, shipped().
			ConcatWith(query.From(orders).Where(filter.Eq("status", "pending"))).
			Select(query.Include("status")))
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$match":{"status":"shipped"}}`,
			`{"$unionWith":{"coll":"orders","pipeline":[{"$match":{"status":"pending"}}]}}`,
			`{"$project":{"status":1}}`,
		)
		mqltest.AssertDocs(t, []bson.D{
			{{Key: "_id", Value: 101}, {Key: "status", Value: "shipped"}},
			{{Key: "_id", Value: 103}, {Key: "status", Value: "shipped"}},
			{{Key: "_id", Value: 102}, {Key: "status", Value: "pending"}},
		}, docs)
	})

	t.Run("UnionRemovesDuplicates", func(t *testing.T) {
		docs := h.MustRun(t, shipped().
			UnionWith(shipped()).
			Select(query.Include("status")))
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$match":{"status":"shipped"}}`,
			`{"$unionWith":{"coll":"orders","pipeline":[{"$match":{"status":"shipped"}}]}}`,
			`{"$group":{"_id":"$$ROOT"}}`,
			`{"$replaceRoot":{"newRoot":"$_id"}}`,
			`{"$project":{"status":1}}`,
		)
		mqltest.AssertDocSet(t, []bson.D{
			{{Key: "_id", Value: 101}, {Key: "status", Value: "shipped"}},
			{{Key: "_id", Value: 103}, {Key: "status", Value: "shipped"}},
		}, docs)
	})

	t.Run("Intersect", func(t *testing.T) {
		docs := h.MustRun(t, shipped().
			IntersectWith(expensive()).
			Select(query.Include("status"), query.Include("total")))
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$match":{"status":"shipped"}}`,
			`{"$replaceRoot":{"newRoot":{"d":"$$ROOT"}}}`,
			`{"$lookup":{"from":"orders","pipeline":[{"$match":{"total":{"$gt":30}}}],"as":"s"}}`,
			`{"$match":{"$expr":{"$in":["$d","$s"]}}}`,
			`{"$replaceRoot":{"newRoot":"$d"}}`,
			`{"$group":{"_id":"$$ROOT"}}`,
			`{"$replaceRoot":{"newRoot":"$_id"}}`,
			`{"$project":{"status":1,"total":1}}`,
		)
		mqltest.AssertDocSet(t, []bson.D{
			{{Key: "_id", Value: 101}, {Key: "status", Value: "shipped"}, {Key: "total", Value: 59.97}},
		}, docs)
	})

	t.Run("Except", func(t *testing.T) {
		docs := h.MustRun(t, shipped().
			ExceptWith(expensive()).
			Select(query.Include("status"), query.Include("total")))
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$match":{"status":"shipped"}}`,
			`{"$replaceRoot":{"newRoot":{"d":"$$ROOT"}}}`,
			`{"$lookup":{"from":"orders","pipeline":[{"$match":{"total":{"$gt":30}}}],"as":"s"}}`,
			`{"$match":{"$expr":{"$not":[{"$in":["$d","$s"]}]}}}`,
			`{"$replaceRoot":{"newRoot":"$d"}}`,
			`{"$group":{"_id":"$$ROOT"}}`,
			`{"$replaceRoot":{"newRoot":"$_id"}}`,
			`{"$project":{"status":1,"total":1}}`,
		)
		mqltest.AssertDocSet(t, []bson.D{
			{{Key: "_id", Value: 103}, {Key: "status", Value: "shipped"}, {Key: "total", Value: 27.5}},
		}, docs)
	})

	t.Run("UnionAcrossCollections", func(t *testing.T) {
		docs := h.MustRun(t, query.From(ds.Collection("customers")).
			Where(filter.Eq("state", "RI")).
			Select(query.Include("name"), query.ExcludeID()).
			ConcatWith(query.From(ds.Collection("suppliers")).
				Where(filter.Eq("state", "MA")).
				WithFilterDisabled("notDeleted").
				Select(query.Include("name"), query.ExcludeID())))
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$match":{"state":"RI"}}`,
			`{"$unionWith":{"coll":"suppliers","pipeline":[{"$match":{"state":"MA"}},{"$project":{"name":1,"_id":0}}]}}`,
			`{"$project":{"name":1,"_id":0}}`,
		)
		mqltest.AssertDocs(t, []bson.D{
			{{Key: "name", Value: "Dan"}},
			{{Key: "name", Value: "Globex"}},
		}, docs)
	})
}
