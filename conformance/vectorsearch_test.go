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

func TestVectorSearch(t *testing.T) {
	ds := mqltest.Library()
	h := mqltest.New(t, ds)
	books := ds.Collection("books")
	redMars := []float64{0.9, 0.1, 0.05, 0.15}

	t.Run("CosineRanking", func(t *testing.T) {
		docs := h.MustRun(t, query.From(books).
			VectorSearch(query.VectorSearchOptions{
				Index:         "books_vector_idx",
				Path:          "embedding",
				QueryVector:   redMars,
				NumCandidates: 10,
				Limit:         2,
			}).
			Select(query.Include("title"), query.ExcludeID()))
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$vectorSearch":{"index":"books_vector_idx","path":"embedding","queryVector":[0.9,0.1,0.05,0.15],"numCandidates":10,"limit":2}}`,
			`{"$project":{"title":1,"_id":0}}`,
		)
		mqltest.AssertDocs(t, []bson.D{
			{{Key: "title", Value: "Red Mars"}},
			{{Key: "title", Value: "Green Mars"}},
		}, docs)
	})

	t.Run("ScoreProjection", func(t *testing.T) {
		docs := h.MustRun(t, query.From(books).
			VectorSearch(query.VectorSearchOptions{
				Index:         "books_vector_idx",
				Path:          "embedding",
				QueryVector:   redMars,
				NumCandidates: 10,
				Limit:         1,
			}).
			Select(
				query.ExcludeID(),
				query.Computed("title", query.Path("title")),
				query.Computed("score", query.SearchScore()),
			))
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$vectorSearch":{"index":"books_vector_idx","path":"embedding","queryVector":[0.9,0.1,0.05,0.15],"numCandidates":10,"limit":1}}`,
			`{"$project":{"_id":0,"title":"$title","score":{"$meta":"vectorSearchScore"}}}`,
		)
		require.Len(t, docs, 1)
		require.Len(t, docs[0], 2)
		assert.Equal(t, bson.E{Key: "title", Value: "Red Mars"}, docs[0][0])
		score, ok := docs[0][1].Value.(float64)
		require.True(t, ok)
		// Identical vectors score 1.0 under the cosine metric.
		assert.InDelta(t, 1.0, score, 1e-9)
	})

	t.Run("PreFilter", func(t *testing.T) {
		docs := h.MustRun(t, query.From(books).
			VectorSearch(query.VectorSearchOptions{
				Index:         "books_vector_idx",
				Path:          "embedding",
				QueryVector:   []float64{0.1, 0.9, 0.8, 0.05},
				NumCandidates: 10,
				Limit:         2,
				Filter:        filter.Eq("author", "Robinson"),
			}).
			Select(query.Include("title"), query.ExcludeID()))
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$vectorSearch":{"index":"books_vector_idx","path":"embedding","queryVector":[0.1,0.9,0.8,0.05],"numCandidates":10,"limit":2,"filter":{"author":"Robinson"}}}`,
			`{"$project":{"title":1,"_id":0}}`,
		)
		mqltest.AssertDocSet(t, []bson.D{
			{{Key: "title", Value: "Red Mars"}},
			{{Key: "title", Value: "Green Mars"}},
		}, docs)
	})

	t.Run("EuclideanIndex", func(t *testing.T) {
		docs := h.MustRun(t, query.From(books).
			VectorSearch(query.VectorSearchOptions{
				Index:         "books_vector_l2",
				Path:          "embedding",
				QueryVector:   redMars,
				NumCandidates: 4,
				Limit:         1,
			}).
			Select(query.Include("title"), query.ExcludeID()))
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$vectorSearch":{"index":"books_vector_l2","path":"embedding","queryVector":[0.9,0.1,0.05,0.15],"numCandidates":4,"limit":1}}`,
			`{"$project":{"title":1,"_id":0}}`,
		)
		mqltest.AssertDocs(t, []bson.D{
			{{Key: "title", Value: "Red Mars"}},
		}, docs)
	})

	t.Run("MatchAfterSearch", func(t *testing.T) {
		docs := h.MustRun(t, query.From(books).
			VectorSearch(query.VectorSearchOptions{
				Index:         "books_vector_idx",
				Path:          "embedding",
				QueryVector:   redMars,
				NumCandidates: 10,
				Limit:         3,
			}).
			Where(filter.Lt("year", 1990)).
			Select(query.Include("title"), query.Include("year"), query.ExcludeID()))
		mqltest.AssertMQL(t, h.Recorder(),
			`{"$vectorSearch":{"index":"books_vector_idx","path":"embedding","queryVector":[0.9,0.1,0.05,0.15],"numCandidates":10,"limit":3}}`,
			`{"$match":{"year":{"$lt":1990}}}`,
			`{"$project":{"title":1,"year":1,"_id":0}}`,
		)
		mqltest.AssertDocs(t, []bson.D{
			{{Key: "title", Value: "Dune"}, {Key: "year", Value: 1965}},
		}, docs)
	})

	t.Run("OptionValidation", func(t *testing.T) {
		_, err := query.From(books).
			VectorSearch(query.VectorSearchOptions{Path: "embedding", QueryVector: redMars, NumCandidates: 10, Limit: 1}).
			Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "index")
	})
}
