// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package query

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// ProjectionField is one entry of a $project stage.
type ProjectionField struct {
	key  string
	v    interface{}
	err  error
	excl bool
}

// Include projects an existing field through unchanged.
func Include(path string) ProjectionField {
	if path == "" {
		return ProjectionField{err: errors.New("query: Include requires a field path")}
	}
	return ProjectionField{key: path, v: int32(1)}
}

// ExcludeID drops the _id field, which $project otherwise always keeps.
func ExcludeID() ProjectionField {
	return ProjectionField{key: "_id", v: int32(0), excl: true}
}

// Computed projects the result of a scalar expression under a new name.
func Computed(name string, e Expr) ProjectionField {
	if name == "" {
		return ProjectionField{err: errors.New("query: Computed requires a field name")}
	}
	if e.err != nil {
		return ProjectionField{err: e.err}
	}
	return ProjectionField{key: name, v: e.v}
}

func buildProjection(fields []ProjectionField) (bson.D, error) {
	doc := make(bson.D, 0, len(fields))
	seen := map[string]bool{}
	for _, f := range fields {
		if f.err != nil {
			return nil, f.err
		}
		if seen[f.key] {
			return nil, errors.Errorf("query: duplicate projection field %q", f.key)
		}
		seen[f.key] = true
		doc = append(doc, bson.E{Key: f.key, Value: f.v})
	}
	return doc, nil
}

// Accumulator is a named aggregation applied per group by GroupBy.
type Accumulator accumulator

// Sum accumulates $sum of the expression.
func Sum(field string, e Expr) Accumulator {
	return Accumulator{field: field, op: "$sum", expr: e}
}

// Avg accumulates $avg of the expression.
func Avg(field string, e Expr) Accumulator {
	return Accumulator{field: field, op: "$avg", expr: e}
}

// Min accumulates $min of the expression.
func Min(field string, e Expr) Accumulator {
	return Accumulator{field: field, op: "$min", expr: e}
}

// Max accumulates $max of the expression.
func Max(field string, e Expr) Accumulator {
	return Accumulator{field: field, op: "$max", expr: e}
}

// Push accumulates every group member's expression value into an array.
func Push(field string, e Expr) Accumulator {
	return Accumulator{field: field, op: "$push", expr: e}
}

// CountMembers counts group members, rendered as {$sum: 1}.
func CountMembers(field string) Accumulator {
	return Accumulator{field: field, op: "$sum", expr: Lit(int32(1))}
}
