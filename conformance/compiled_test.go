// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package conformance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ikmak/mqlconform/filter"
	"github.com/ikmak/mqlconform/mqltest"
	"github.com/ikmak/mqlconform/query"
)

func TestCompiledQueries(t *testing.T) {
	ds := mqltest.Northwind()
	h := mqltest.New(t, ds)

	t.Run("BindAndRebind", func(t *testing.T) {
		compiled, err := query.From(ds.Collection("orders")).
			Where(filter.Eq("status", query.Param("st").Value())).
			Select(query.Include("status")).
			OrderBy("_id").
			Compile()
		require.NoError(t, err)
		assert.Equal(t, []string{"st"}, compiled.Params())

		p, err := compiled.Bind(map[string]interface{}{"st": "shipped"})
		require.NoError(t, err)
		docs := h.RunPipeline(t, p)
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$match":{"status":"shipped"}}`,
			`{"$project":{"status":1}}`,
			`{"$sort":{"_id":1}}`,
		)
		mqltest.AssertDocs(t, []bson.D{
			{{Key: "_id", Value: 101}, {Key: "status", Value: "shipped"}},
			{{Key: "_id", Value: 103}, {Key: "status", Value: "shipped"}},
		}, docs)

		p, err = compiled.Bind(map[string]interface{}{"st": "pending"})
		require.NoError(t, err)
		docs = h.RunPipeline(t, p)
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$match":{"status":"pending"}}`,
			`{"$project":{"status":1}}`,
			`{"$sort":{"_id":1}}`,
		)
		mqltest.AssertDocs(t, []bson.D{
			{{Key: "_id", Value: 102}, {Key: "status", Value: "pending"}},
		}, docs)
	})

	t.Run("MultipleParameters", func(t *testing.T) {
		compiled, err := query.From(ds.Collection("orders")).
			Where(filter.And(
				filter.Eq("status", query.Param("st").Value()),
				filter.Lte("total", query.Param("max").Value()),
			)).
			Select(query.Include("total")).
			Compile()
		require.NoError(t, err)
		assert.Equal(t, []string{"max", "st"}, compiled.Params())

		p, err := compiled.Bind(map[string]interface{}{"st": "shipped", "max": 30})
		require.NoError(t, err)
		docs := h.RunPipeline(t, p)
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$match":{"$and":[{"status":"shipped"},{"total":{"$lte":30}}]}}`,
			`{"$project":{"total":1}}`,
		)
		mqltest.AssertDocs(t, []bson.D{
			{{Key: "_id", Value: 103}, {Key: "total", Value: 27.5}},
		}, docs)
	})

	t.Run("UnboundParameter", func(t *testing.T) {
		compiled, err := query.From(ds.Collection("orders")).
			Where(filter.Eq("status", query.Param("st").Value())).
			Compile()
		require.NoError(t, err)
		_, err = compiled.Bind(map[string]interface{}{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `parameter "st" is not bound`)
	})

	t.Run("UnknownArgument", func(t *testing.T) {
		compiled, err := query.From(ds.Collection("orders")).
			Where(filter.Eq("status", query.Param("st").Value())).
			Compile()
		require.NoError(t, err)
		_, err = compiled.Bind(map[string]interface{}{"st": "shipped", "extra": 1})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown parameter "extra"`)
	})

	t.Run("BuildRejectsPlaceholders", func(t *testing.T) {
		_, err := query.From(ds.Collection("orders")).
			Where(filter.Eq("status", query.Param("st").Value())).
			Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `parameter "st" requires Compile and Bind`)
	})
}
