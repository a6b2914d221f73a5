// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package query

import (
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Expr is a scalar aggregation expression usable in computed
// projections, group keys, and accumulators. Expressions are built
// eagerly; construction errors surface when the owning query builds.
type Expr struct {
	v   interface{}
	err error
}

// Path references a document field, rendering as "$path".
func Path(p string) Expr {
	if p == "" {
		return Expr{err: errors.New("query: empty field path")}
	}
	if strings.HasPrefix(p, "$") {
		return Expr{err: errors.Errorf("query: field path %q must not start with $", p)}
	}
	return Expr{v: "$" + p}
}

// Lit embeds a constant value in an expression position.
func Lit(v interface{}) Expr { return Expr{v: v} }

// Param is a named placeholder bound when a compiled query executes.
func Param(name string) Expr {
	if name == "" {
		return Expr{err: errors.New("query: empty parameter name")}
	}
	return Expr{v: param{name: name}}
}

// param is the placeholder value carried inside built stages until
// CompiledQuery.Bind substitutes it.
type param struct{ name string }

// Value exposes the expression's raw BSON value for positions that
// take a plain value rather than an Expr, such as filter predicates:
//
//	filter.Eq("status", query.Param("status").Value())
func (e Expr) Value() interface{} {
	if e.err != nil {
		return nil
	}
	return e.v
}

func op1(name string, e Expr) Expr {
	if e.err != nil {
		return e
	}
	return Expr{v: bson.D{{Key: name, Value: e.v}}}
}

func opN(name string, exprs ...Expr) Expr {
	arr := make(bson.A, 0, len(exprs))
	for _, e := range exprs {
		if e.err != nil {
			return e
		}
		arr = append(arr, e.v)
	}
	return Expr{v: bson.D{{Key: name, Value: arr}}}
}

// String functions.

// ToUpper renders $toUpper.
func ToUpper(e Expr) Expr { return op1("$toUpper", e) }

// ToLower renders $toLower.
func ToLower(e Expr) Expr { return op1("$toLower", e) }

// Trim renders $trim over the given input.
func Trim(e Expr) Expr {
	if e.err != nil {
		return e
	}
	return Expr{v: bson.D{{Key: "$trim", Value: bson.D{{Key: "input", Value: e.v}}}}}
}

// Concat renders $concat.
func Concat(exprs ...Expr) Expr { return opN("$concat", exprs...) }

// Substr renders $substrCP (code-point indexing).
func Substr(e Expr, start, length int32) Expr {
	return opN("$substrCP", e, Lit(start), Lit(length))
}

// StrLen renders $strLenCP.
func StrLen(e Expr) Expr { return op1("$strLenCP", e) }

// IndexOf renders $indexOfCP.
func IndexOf(e Expr, substring string) Expr { return opN("$indexOfCP", e, Lit(substring)) }

// Split renders $split.
func Split(e Expr, separator string) Expr { return opN("$split", e, Lit(separator)) }

// Math functions.

// Abs renders $abs.
func Abs(e Expr) Expr { return op1("$abs", e) }

// Ceil renders $ceil.
func Ceil(e Expr) Expr { return op1("$ceil", e) }

// Floor renders $floor.
func Floor(e Expr) Expr { return op1("$floor", e) }

// Sqrt renders $sqrt.
func Sqrt(e Expr) Expr { return op1("$sqrt", e) }

// Round renders $round at the given decimal place.
func Round(e Expr, place int32) Expr { return opN("$round", e, Lit(place)) }

// Trunc renders $trunc at the given decimal place.
func Trunc(e Expr, place int32) Expr { return opN("$trunc", e, Lit(place)) }

// Pow renders $pow.
func Pow(base, exponent Expr) Expr { return opN("$pow", base, exponent) }

// ModExpr renders $mod as an expression. The name avoids colliding
// with the filter package's predicate form.
func ModExpr(dividend, divisor Expr) Expr { return opN("$mod", dividend, divisor) }

// Add renders $add.
func Add(exprs ...Expr) Expr { return opN("$add", exprs...) }

// Subtract renders $subtract.
func Subtract(a, b Expr) Expr { return opN("$subtract", a, b) }

// Multiply renders $multiply.
func Multiply(exprs ...Expr) Expr { return opN("$multiply", exprs...) }

// Divide renders $divide.
func Divide(a, b Expr) Expr { return opN("$divide", a, b) }

// Conditionals.

// Cond renders $cond in document form.
func Cond(ifExpr, thenExpr, elseExpr Expr) Expr {
	for _, e := range []Expr{ifExpr, thenExpr, elseExpr} {
		if e.err != nil {
			return e
		}
	}
	return Expr{v: bson.D{{Key: "$cond", Value: bson.D{
		{Key: "if", Value: ifExpr.v},
		{Key: "then", Value: thenExpr.v},
		{Key: "else", Value: elseExpr.v},
	}}}}
}

// IfNull renders $ifNull.
func IfNull(e, replacement Expr) Expr { return opN("$ifNull", e, replacement) }

// Comparison expressions for use inside Cond.

// EqExpr renders $eq in expression form.
func EqExpr(a, b Expr) Expr { return opN("$eq", a, b) }

// GtExpr renders $gt in expression form.
func GtExpr(a, b Expr) Expr { return opN("$gt", a, b) }

// GteExpr renders $gte in expression form.
func GteExpr(a, b Expr) Expr { return opN("$gte", a, b) }

// LtExpr renders $lt in expression form.
func LtExpr(a, b Expr) Expr { return opN("$lt", a, b) }

// Date part extraction.

// Year renders $year.
func Year(e Expr) Expr { return op1("$year", e) }

// Month renders $month.
func Month(e Expr) Expr { return op1("$month", e) }

// DayOfMonth renders $dayOfMonth.
func DayOfMonth(e Expr) Expr { return op1("$dayOfMonth", e) }

// SearchScore references the relevance score produced by a leading
// $vectorSearch stage.
func SearchScore() Expr {
	return Expr{v: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}}
}
