// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package filter builds MQL match predicates from composable typed
// expressions. An Expr produces the bson.D document placed inside a
// $match stage; dotted paths traverse embedded documents.
package filter

import (
	"regexp"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Expr is a match predicate that can render itself as a BSON document.
// Building is deferred so composite expressions can report construction
// errors from a single place.
type Expr interface {
	Build() (bson.D, error)
}

type exprFunc func() (bson.D, error)

func (f exprFunc) Build() (bson.D, error) { return f() }

func compare(op, path string, value interface{}) Expr {
	return exprFunc(func() (bson.D, error) {
		if path == "" {
			return nil, errors.Errorf("filter: %s requires a field path", op)
		}
		return bson.D{{Key: path, Value: bson.D{{Key: op, Value: value}}}}, nil
	})
}

// Eq matches documents where path equals value. A nil value renders as
// {path: null}, which in MQL matches both an explicit null and a
// missing field; use Exists(path, false) to match only missing fields.
func Eq(path string, value interface{}) Expr {
	return exprFunc(func() (bson.D, error) {
		if path == "" {
			return nil, errors.New("filter: Eq requires a field path")
		}
		return bson.D{{Key: path, Value: value}}, nil
	})
}

// Ne matches documents where path does not equal value.
func Ne(path string, value interface{}) Expr { return compare("$ne", path, value) }

// Gt matches documents where path is greater than value.
func Gt(path string, value interface{}) Expr { return compare("$gt", path, value) }

// Gte matches documents where path is greater than or equal to value.
func Gte(path string, value interface{}) Expr { return compare("$gte", path, value) }

// Lt matches documents where path is less than value.
func Lt(path string, value interface{}) Expr { return compare("$lt", path, value) }

// Lte matches documents where path is less than or equal to value.
func Lte(path string, value interface{}) Expr { return compare("$lte", path, value) }

// In matches documents where path equals any of the given values.
func In(path string, values ...interface{}) Expr {
	return compare("$in", path, toArray(values))
}

// Nin matches documents where path equals none of the given values.
func Nin(path string, values ...interface{}) Expr {
	return compare("$nin", path, toArray(values))
}

// Exists matches on field presence, independent of the field's value.
func Exists(path string, exists bool) Expr { return compare("$exists", path, exists) }

// Type matches documents where the value at path has the named BSON
// type alias ("string", "double", "null", ...).
func Type(path string, alias string) Expr { return compare("$type", path, alias) }

// Size matches arrays with exactly n elements.
func Size(path string, n int32) Expr { return compare("$size", path, n) }

// All matches arrays containing every one of the given values.
func All(path string, values ...interface{}) Expr {
	return compare("$all", path, toArray(values))
}

// Mod matches numeric values v where v % divisor == remainder.
func Mod(path string, divisor, remainder int64) Expr {
	return compare("$mod", path, bson.A{divisor, remainder})
}

// Regex matches strings against the given pattern with the given
// options. The pattern must be a valid regular expression.
func Regex(path, pattern, options string) Expr {
	return exprFunc(func() (bson.D, error) {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, errors.Wrapf(err, "filter: invalid pattern %q", pattern)
		}
		rx := primitive.Regex{Pattern: pattern, Options: options}
		return bson.D{{Key: path, Value: rx}}, nil
	})
}

// Prefix matches strings starting with the given literal prefix.
func Prefix(path, prefix string) Expr {
	return Regex(path, "^"+regexp.QuoteMeta(prefix), "")
}

// Suffix matches strings ending with the given literal suffix.
func Suffix(path, suffix string) Expr {
	return Regex(path, regexp.QuoteMeta(suffix)+"$", "")
}

// Contains matches strings containing the given literal substring.
func Contains(path, substring string) Expr {
	return Regex(path, regexp.QuoteMeta(substring), "")
}

// ElemMatch matches arrays with at least one element satisfying all of
// the given predicates.
func ElemMatch(path string, exprs ...Expr) Expr {
	return exprFunc(func() (bson.D, error) {
		if len(exprs) == 0 {
			return nil, errors.New("filter: ElemMatch requires at least one predicate")
		}
		merged, err := mergeAll(exprs)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: path, Value: bson.D{{Key: "$elemMatch", Value: merged}}}}, nil
	})
}

// And matches documents satisfying every one of the given predicates.
func And(exprs ...Expr) Expr { return logical("$and", exprs) }

// Or matches documents satisfying at least one of the given predicates.
func Or(exprs ...Expr) Expr { return logical("$or", exprs) }

// Nor matches documents satisfying none of the given predicates.
func Nor(exprs ...Expr) Expr { return logical("$nor", exprs) }

// Not negates a single-field predicate. The inner expression must
// target exactly one field; MQL's $not applies per-field.
func Not(expr Expr) Expr {
	return exprFunc(func() (bson.D, error) {
		doc, err := expr.Build()
		if err != nil {
			return nil, err
		}
		if len(doc) != 1 {
			return nil, errors.Errorf("filter: Not requires a single-field predicate, got %d fields", len(doc))
		}
		elem := doc[0]
		if len(elem.Key) > 0 && elem.Key[0] == '$' {
			return nil, errors.Errorf("filter: Not cannot wrap the %s operator", elem.Key)
		}
		inner, ok := elem.Value.(bson.D)
		if !ok {
			// Bare equality has no operator form, so wrap it in $eq
			// before negating.
			inner = bson.D{{Key: "$eq", Value: elem.Value}}
		}
		if rx, isRegex := elem.Value.(primitive.Regex); isRegex {
			// $not accepts a regex value directly but not {$eq: /../}.
			return bson.D{{Key: elem.Key, Value: bson.D{{Key: "$not", Value: rx}}}}, nil
		}
		return bson.D{{Key: elem.Key, Value: bson.D{{Key: "$not", Value: inner}}}}, nil
	})
}

func logical(op string, exprs []Expr) Expr {
	return exprFunc(func() (bson.D, error) {
		if len(exprs) == 0 {
			return nil, errors.Errorf("filter: %s requires at least one predicate", op)
		}
		arr := make(bson.A, 0, len(exprs))
		for _, e := range exprs {
			doc, err := e.Build()
			if err != nil {
				return nil, err
			}
			arr = append(arr, doc)
		}
		return bson.D{{Key: op, Value: arr}}, nil
	})
}

// mergeAll flattens the given predicates into a single document. Used
// for $elemMatch bodies where an explicit $and is not wanted.
func mergeAll(exprs []Expr) (bson.D, error) {
	var merged bson.D
	for _, e := range exprs {
		doc, err := e.Build()
		if err != nil {
			return nil, err
		}
		merged = append(merged, doc...)
	}
	return merged, nil
}

func toArray(values []interface{}) bson.A {
	arr := make(bson.A, 0, len(values))
	arr = append(arr, values...)
	return arr
}
