// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func mustBuild(t *testing.T, e Expr) bson.D {
	t.Helper()
	doc, err := e.Build()
	require.NoError(t, err)
	return doc
}

func TestComparisonOperators(t *testing.T) {
	testCases := []struct {
		name     string
		expr     Expr
		expected bson.D
	}{
		{
			"bare equality",
			Eq("name", "Alice"),
			bson.D{{Key: "name", Value: "Alice"}},
		},
		{
			"equality with nil matches null and missing",
			Eq("nickname", nil),
			bson.D{{Key: "nickname", Value: nil}},
		},
		{
			"not equal",
			Ne("status", "closed"),
			bson.D{{Key: "status", Value: bson.D{{Key: "$ne", Value: "closed"}}}},
		},
		{
			"greater than on dotted path",
			Gt("address.zip", 10000),
			bson.D{{Key: "address.zip", Value: bson.D{{Key: "$gt", Value: 10000}}}},
		},
		{
			"range bounds",
			Lte("qty", int32(25)),
			bson.D{{Key: "qty", Value: bson.D{{Key: "$lte", Value: int32(25)}}}},
		},
		{
			"in",
			In("state", "CA", "OR"),
			bson.D{{Key: "state", Value: bson.D{{Key: "$in", Value: bson.A{"CA", "OR"}}}}},
		},
		{
			"nin",
			Nin("state", "WA"),
			bson.D{{Key: "state", Value: bson.D{{Key: "$nin", Value: bson.A{"WA"}}}}},
		},
		{
			"exists false",
			Exists("deletedAt", false),
			bson.D{{Key: "deletedAt", Value: bson.D{{Key: "$exists", Value: false}}}},
		},
		{
			"mod",
			Mod("qty", 4, 0),
			bson.D{{Key: "qty", Value: bson.D{{Key: "$mod", Value: bson.A{int64(4), int64(0)}}}}},
		},
		{
			"size",
			Size("tags", 3),
			bson.D{{Key: "tags", Value: bson.D{{Key: "$size", Value: int32(3)}}}},
		},
		{
			"all",
			All("tags", "red", "blank"),
			bson.D{{Key: "tags", Value: bson.D{{Key: "$all", Value: bson.A{"red", "blank"}}}}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, mustBuild(t, tc.expr))
		})
	}
}

func TestStringOperators(t *testing.T) {
	t.Run("prefix quotes metacharacters", func(t *testing.T) {
		doc := mustBuild(t, Prefix("sku", "A.1"))
		expected := bson.D{{Key: "sku", Value: primitive.Regex{Pattern: `^A\.1`}}}
		assert.Equal(t, expected, doc)
	})

	t.Run("suffix", func(t *testing.T) {
		doc := mustBuild(t, Suffix("email", "@example.com"))
		expected := bson.D{{Key: "email", Value: primitive.Regex{Pattern: `@example\.com$`}}}
		assert.Equal(t, expected, doc)
	})

	t.Run("contains", func(t *testing.T) {
		doc := mustBuild(t, Contains("title", "night"))
		expected := bson.D{{Key: "title", Value: primitive.Regex{Pattern: "night"}}}
		assert.Equal(t, expected, doc)
	})

	t.Run("invalid pattern is a build error", func(t *testing.T) {
		_, err := Regex("title", "(", "").Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid pattern")
	})
}

func TestLogicalOperators(t *testing.T) {
	t.Run("and", func(t *testing.T) {
		doc := mustBuild(t, And(Eq("a", 1), Gt("b", 2)))
		expected := bson.D{{Key: "$and", Value: bson.A{
			bson.D{{Key: "a", Value: 1}},
			bson.D{{Key: "b", Value: bson.D{{Key: "$gt", Value: 2}}}},
		}}}
		assert.Equal(t, expected, doc)
	})

	t.Run("empty and is an error", func(t *testing.T) {
		_, err := And().Build()
		require.Error(t, err)
	})

	t.Run("empty or is an error", func(t *testing.T) {
		_, err := Or().Build()
		require.Error(t, err)
	})

	t.Run("nor", func(t *testing.T) {
		doc := mustBuild(t, Nor(Eq("a", 1)))
		expected := bson.D{{Key: "$nor", Value: bson.A{bson.D{{Key: "a", Value: 1}}}}}
		assert.Equal(t, expected, doc)
	})

	t.Run("not wraps bare equality in $eq", func(t *testing.T) {
		doc := mustBuild(t, Not(Eq("a", 1)))
		expected := bson.D{{Key: "a", Value: bson.D{
			{Key: "$not", Value: bson.D{{Key: "$eq", Value: 1}}},
		}}}
		assert.Equal(t, expected, doc)
	})

	t.Run("not keeps operator form", func(t *testing.T) {
		doc := mustBuild(t, Not(Gt("a", 1)))
		expected := bson.D{{Key: "a", Value: bson.D{
			{Key: "$not", Value: bson.D{{Key: "$gt", Value: 1}}},
		}}}
		assert.Equal(t, expected, doc)
	})

	t.Run("not of regex keeps regex value", func(t *testing.T) {
		doc := mustBuild(t, Not(Prefix("a", "x")))
		expected := bson.D{{Key: "a", Value: bson.D{
			{Key: "$not", Value: primitive.Regex{Pattern: "^x"}},
		}}}
		assert.Equal(t, expected, doc)
	})

	t.Run("not rejects logical operators", func(t *testing.T) {
		_, err := Not(And(Eq("a", 1), Eq("b", 2))).Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "$and")
	})
}

func TestElemMatch(t *testing.T) {
	t.Run("merges predicates", func(t *testing.T) {
		doc := mustBuild(t, ElemMatch("results", Gte("score", 80), Lt("score", 85)))
		expected := bson.D{{Key: "results", Value: bson.D{{Key: "$elemMatch", Value: bson.D{
			{Key: "score", Value: bson.D{{Key: "$gte", Value: 80}}},
			{Key: "score", Value: bson.D{{Key: "$lt", Value: 85}}},
		}}}}}
		assert.Equal(t, expected, doc)
	})

	t.Run("empty is an error", func(t *testing.T) {
		_, err := ElemMatch("results").Build()
		require.Error(t, err)
	})
}

func TestBuildErrors(t *testing.T) {
	t.Run("missing path", func(t *testing.T) {
		_, err := Eq("", 1).Build()
		require.Error(t, err)
	})

	t.Run("error propagates through logical composition", func(t *testing.T) {
		_, err := And(Eq("a", 1), Regex("b", "(", "")).Build()
		require.Error(t, err)
	})
}
