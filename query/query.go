// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package query translates fluent, typed query descriptions into
// MongoDB aggregation pipelines. It is a stage builder, not an
// expression-tree compiler: each fluent call contributes one or more
// bson.D stages and Build fixes the stage order deterministically.
package query

import (
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ikmak/mqlconform/filter"
)

// NamedFilter is a global query filter attached to a collection. Every
// query over the collection carries the predicate unless it disables
// the filter by name.
type NamedFilter struct {
	Name      string
	Predicate filter.Expr
}

// Collection describes a query source: a named collection and the
// global filters applied to it.
type Collection struct {
	Name    string
	Filters []NamedFilter
}

// Pipeline is the built form of a query: the ordered aggregation
// stages plus the command-level comment carried by tagged queries.
type Pipeline struct {
	Collection string
	Stages     []bson.D
	Comment    string
}

type sortKey struct {
	path string
	desc bool
}

type lookupSpec struct {
	from         string
	localField   string
	foreignField string
	as           string
	unwindOne    bool
}

type unwindSpec struct {
	path          string
	preserveEmpty bool
}

type setOpKind int

const (
	setOpConcat setOpKind = iota
	setOpUnion
	setOpIntersect
	setOpExcept
)

type setOp struct {
	kind  setOpKind
	other *Query
}

type accumulator struct {
	field string
	op    string
	expr  Expr
}

type groupSpec struct {
	key    Expr
	accums []accumulator
}

// Query accumulates fluent operations until Build translates them.
// The zero value is not usable; construct with From or FromDocuments.
type Query struct {
	coll       Collection
	docs       bson.A
	keyless    bool
	vector     *VectorSearchOptions
	wheres     []filter.Expr
	sorts      []sortKey
	projection []ProjectionField
	skip       *int64
	limit      *int64
	distinct   bool
	count      bool
	group      *groupSpec
	lookups    []lookupSpec
	unwinds    []unwindSpec
	setOps     []setOp
	tags       []string
	disabled   map[string]bool
	err        error
}

// From starts a query over a collection.
func From(coll Collection) *Query {
	q := &Query{coll: coll, disabled: map[string]bool{}}
	if coll.Name == "" {
		q.err = errors.New("query: collection name is required")
	}
	return q
}

// FromDocuments starts a keyless query over inline documents, built on
// a leading $documents stage. Keyless queries run as database-level
// aggregations and carry no global filters.
func FromDocuments(docs ...bson.D) *Query {
	q := &Query{keyless: true, disabled: map[string]bool{}}
	q.docs = make(bson.A, 0, len(docs))
	for _, d := range docs {
		q.docs = append(q.docs, d)
	}
	return q
}

func (q *Query) fail(err error) *Query {
	if q.err == nil {
		q.err = err
	}
	return q
}

// Where adds a match predicate. Multiple calls combine with $and.
func (q *Query) Where(e filter.Expr) *Query {
	q.wheres = append(q.wheres, e)
	return q
}

// Select replaces the projection with the given fields.
func (q *Query) Select(fields ...ProjectionField) *Query {
	if len(fields) == 0 {
		return q.fail(errors.New("query: Select requires at least one field"))
	}
	q.projection = fields
	return q
}

// OrderBy sorts ascending by path, replacing any previous ordering.
func (q *Query) OrderBy(path string) *Query {
	q.sorts = []sortKey{{path: path}}
	return q
}

// OrderByDesc sorts descending by path, replacing any previous ordering.
func (q *Query) OrderByDesc(path string) *Query {
	q.sorts = []sortKey{{path: path, desc: true}}
	return q
}

// ThenBy appends a subordinate ascending sort key.
func (q *Query) ThenBy(path string) *Query {
	if len(q.sorts) == 0 {
		return q.fail(errors.New("query: ThenBy requires a preceding OrderBy"))
	}
	q.sorts = append(q.sorts, sortKey{path: path})
	return q
}

// ThenByDesc appends a subordinate descending sort key.
func (q *Query) ThenByDesc(path string) *Query {
	if len(q.sorts) == 0 {
		return q.fail(errors.New("query: ThenByDesc requires a preceding OrderBy"))
	}
	q.sorts = append(q.sorts, sortKey{path: path, desc: true})
	return q
}

// Skip drops the first n results.
func (q *Query) Skip(n int64) *Query {
	if n < 0 {
		return q.fail(errors.Errorf("query: negative skip %d", n))
	}
	q.skip = &n
	return q
}

// Limit caps the result count at n.
func (q *Query) Limit(n int64) *Query {
	if n < 0 {
		return q.fail(errors.Errorf("query: negative limit %d", n))
	}
	q.limit = &n
	return q
}

// Distinct removes duplicate result documents after projection.
func (q *Query) Distinct() *Query {
	q.distinct = true
	return q
}

// Count replaces the result shape with {"count": n}.
func (q *Query) Count() *Query {
	q.count = true
	return q
}

// GroupBy groups by the key expression with the given accumulators.
func (q *Query) GroupBy(key Expr, accums ...Accumulator) *Query {
	spec := &groupSpec{key: key}
	for _, a := range accums {
		spec.accums = append(spec.accums, accumulator(a))
	}
	q.group = spec
	return q
}

// Lookup joins documents from another collection as an array field,
// the translation of a collection navigation.
func (q *Query) Lookup(from, localField, foreignField, as string) *Query {
	q.lookups = append(q.lookups, lookupSpec{from: from, localField: localField, foreignField: foreignField, as: as})
	return q
}

// LookupOne joins at most one document from another collection as an
// embedded field, the translation of a reference navigation. A missing
// target leaves the field absent rather than dropping the document.
func (q *Query) LookupOne(from, localField, foreignField, as string) *Query {
	q.lookups = append(q.lookups, lookupSpec{from: from, localField: localField, foreignField: foreignField, as: as, unwindOne: true})
	return q
}

// Unwind flattens an array field to one result document per element.
// preserveEmpty keeps documents whose array is missing or empty.
func (q *Query) Unwind(path string, preserveEmpty bool) *Query {
	q.unwinds = append(q.unwinds, unwindSpec{path: path, preserveEmpty: preserveEmpty})
	return q
}

// ConcatWith appends the other query's results without deduplication.
func (q *Query) ConcatWith(other *Query) *Query {
	q.setOps = append(q.setOps, setOp{kind: setOpConcat, other: other})
	return q
}

// UnionWith appends the other query's results and removes duplicates.
func (q *Query) UnionWith(other *Query) *Query {
	q.setOps = append(q.setOps, setOp{kind: setOpUnion, other: other})
	return q
}

// IntersectWith keeps only results also produced by the other query.
func (q *Query) IntersectWith(other *Query) *Query {
	q.setOps = append(q.setOps, setOp{kind: setOpIntersect, other: other})
	return q
}

// ExceptWith removes results also produced by the other query.
func (q *Query) ExceptWith(other *Query) *Query {
	q.setOps = append(q.setOps, setOp{kind: setOpExcept, other: other})
	return q
}

// Tag annotates the query; tags travel as the aggregate command's
// comment and are surfaced by the recorder.
func (q *Query) Tag(tag string) *Query {
	if tag == "" {
		return q.fail(errors.New("query: empty tag"))
	}
	q.tags = append(q.tags, tag)
	return q
}

// WithFilterDisabled suppresses the named global filter for this query.
func (q *Query) WithFilterDisabled(name string) *Query {
	found := false
	for _, f := range q.coll.Filters {
		if f.Name == name {
			found = true
			break
		}
	}
	if !found {
		return q.fail(errors.Errorf("query: collection %q has no filter named %q", q.coll.Name, name))
	}
	q.disabled[name] = true
	return q
}

// Build translates the accumulated operations into a Pipeline. Stage
// order is fixed: $documents/$vectorSearch, $match, $lookup/$unwind,
// $group, set operations, $project, distinct dedupe, $sort, $skip,
// $limit, $count. Queries holding Param placeholders must go through
// Compile instead.
func (q *Query) Build() (Pipeline, error) {
	p, err := q.build()
	if err != nil {
		return Pipeline{}, err
	}
	if name := firstParam(p.Stages); name != "" {
		return Pipeline{}, errors.Errorf("query: parameter %q requires Compile and Bind", name)
	}
	return p, nil
}

func (q *Query) build() (Pipeline, error) {
	if q.err != nil {
		return Pipeline{}, q.err
	}

	var stages []bson.D

	if q.keyless {
		if q.vector != nil {
			return Pipeline{}, unsupported("vector search over inline documents", "MQL-102",
				"$vectorSearch requires an indexed collection")
		}
		stages = append(stages, bson.D{{Key: "$documents", Value: q.docs}})
	}

	if q.vector != nil {
		if len(q.setOps) > 0 {
			return Pipeline{}, unsupported("vector search combined with set operations", "MQL-103",
				"$vectorSearch must be the first stage of the pipeline")
		}
		stage, err := q.vector.stage()
		if err != nil {
			return Pipeline{}, err
		}
		stages = append(stages, stage)
	}

	match, err := q.buildMatch()
	if err != nil {
		return Pipeline{}, err
	}
	if match != nil {
		stages = append(stages, bson.D{{Key: "$match", Value: match}})
	}

	for _, l := range q.lookups {
		stages = append(stages, bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: l.from},
			{Key: "localField", Value: l.localField},
			{Key: "foreignField", Value: l.foreignField},
			{Key: "as", Value: l.as},
		}}})
		if l.unwindOne {
			stages = append(stages, bson.D{{Key: "$unwind", Value: bson.D{
				{Key: "path", Value: "$" + l.as},
				{Key: "preserveNullAndEmptyArrays", Value: true},
			}}})
		}
	}

	for _, u := range q.unwinds {
		if u.preserveEmpty {
			stages = append(stages, bson.D{{Key: "$unwind", Value: bson.D{
				{Key: "path", Value: "$" + u.path},
				{Key: "preserveNullAndEmptyArrays", Value: true},
			}}})
		} else {
			stages = append(stages, bson.D{{Key: "$unwind", Value: "$" + u.path}})
		}
	}

	if q.group != nil {
		if q.distinct {
			return Pipeline{}, unsupported("Distinct combined with GroupBy", "MQL-117",
				"group keys are already distinct")
		}
		stage, err := q.group.stage()
		if err != nil {
			return Pipeline{}, err
		}
		stages = append(stages, stage)
	}

	for _, op := range q.setOps {
		opStages, err := op.stages()
		if err != nil {
			return Pipeline{}, err
		}
		stages = append(stages, opStages...)
	}

	if len(q.projection) > 0 {
		proj, err := buildProjection(q.projection)
		if err != nil {
			return Pipeline{}, err
		}
		stages = append(stages, bson.D{{Key: "$project", Value: proj}})
	}

	if q.distinct {
		stages = append(stages, dedupeStages()...)
	}

	if len(q.sorts) > 0 {
		sort := make(bson.D, 0, len(q.sorts))
		for _, s := range q.sorts {
			dir := int32(1)
			if s.desc {
				dir = -1
			}
			sort = append(sort, bson.E{Key: s.path, Value: dir})
		}
		stages = append(stages, bson.D{{Key: "$sort", Value: sort}})
	}

	if q.skip != nil {
		stages = append(stages, bson.D{{Key: "$skip", Value: *q.skip}})
	}
	if q.limit != nil {
		stages = append(stages, bson.D{{Key: "$limit", Value: *q.limit}})
	}
	if q.count {
		stages = append(stages, bson.D{{Key: "$count", Value: "count"}})
	}

	return Pipeline{
		Collection: q.coll.Name,
		Stages:     stages,
		Comment:    strings.Join(q.tags, ", "),
	}, nil
}

// buildMatch combines active global filters and Where predicates into
// one match document, or nil when there is nothing to match.
func (q *Query) buildMatch() (bson.D, error) {
	var exprs []filter.Expr
	for _, f := range q.coll.Filters {
		if !q.disabled[f.Name] {
			exprs = append(exprs, f.Predicate)
		}
	}
	exprs = append(exprs, q.wheres...)

	switch len(exprs) {
	case 0:
		return nil, nil
	case 1:
		return exprs[0].Build()
	default:
		return filter.And(exprs...).Build()
	}
}

func (g *groupSpec) stage() (bson.D, error) {
	if g.key.err != nil {
		return nil, g.key.err
	}
	doc := bson.D{{Key: "_id", Value: g.key.v}}
	for _, a := range g.accums {
		if a.expr.err != nil {
			return nil, a.expr.err
		}
		doc = append(doc, bson.E{Key: a.field, Value: bson.D{{Key: a.op, Value: a.expr.v}}})
	}
	return bson.D{{Key: "$group", Value: doc}}, nil
}

// stages renders a set operation. Union and Concat build on
// $unionWith; Intersect and Except wrap each document under a "d"
// field so the join result can be compared against the whole document.
func (op setOp) stages() ([]bson.D, error) {
	other, err := op.other.build()
	if err != nil {
		return nil, errors.Wrap(err, "query: building set operand")
	}
	if other.Collection == "" {
		return nil, unsupported("set operation over inline documents", "MQL-108",
			"$unionWith and $lookup require a named collection")
	}

	switch op.kind {
	case setOpConcat, setOpUnion:
		stage := bson.D{{Key: "$unionWith", Value: bson.D{
			{Key: "coll", Value: other.Collection},
			{Key: "pipeline", Value: stagesToArray(other.Stages)},
		}}}
		if op.kind == setOpConcat {
			return []bson.D{stage}, nil
		}
		return append([]bson.D{stage}, dedupeStages()...), nil

	case setOpIntersect, setOpExcept:
		inExpr := bson.D{{Key: "$in", Value: bson.A{"$d", "$s"}}}
		var cond interface{} = inExpr
		if op.kind == setOpExcept {
			cond = bson.D{{Key: "$not", Value: bson.A{inExpr}}}
		}
		stages := []bson.D{
			{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: bson.D{{Key: "d", Value: "$$ROOT"}}}}}},
			{{Key: "$lookup", Value: bson.D{
				{Key: "from", Value: other.Collection},
				{Key: "pipeline", Value: stagesToArray(other.Stages)},
				{Key: "as", Value: "s"},
			}}},
			{{Key: "$match", Value: bson.D{{Key: "$expr", Value: cond}}}},
			{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$d"}}}},
		}
		return append(stages, dedupeStages()...), nil
	}
	return nil, errors.Errorf("query: unknown set operation %d", op.kind)
}

// dedupeStages implements set semantics: group whole documents by
// themselves, then restore the document shape.
func dedupeStages() []bson.D {
	return []bson.D{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$$ROOT"}}}},
		{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$_id"}}}},
	}
}

func stagesToArray(stages []bson.D) bson.A {
	arr := make(bson.A, 0, len(stages))
	for _, s := range stages {
		arr = append(arr, s)
	}
	return arr
}
