// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pipeval

import (
	"math"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// project applies a $project specification to one document.
func (ev *Evaluator) project(doc bson.D, spec bson.D) (bson.D, error) {
	inclusion := false
	excludeID := false
	for _, el := range spec {
		switch v := el.Value.(type) {
		case int32, int64, int, float64:
			f, _ := asFloat(v)
			if f == 0 {
				if el.Key == "_id" {
					excludeID = true
				}
			} else {
				inclusion = true
			}
		case bool:
			if v {
				inclusion = true
			} else if el.Key == "_id" {
				excludeID = true
			}
		default:
			inclusion = true
		}
	}

	if !inclusion {
		// Exclusion projection: copy the document minus the named
		// fields.
		excluded := map[string]bool{}
		for _, el := range spec {
			excluded[el.Key] = true
		}
		out := make(bson.D, 0, len(doc))
		for _, el := range doc {
			if !excluded[el.Key] {
				out = append(out, el)
			}
		}
		return out, nil
	}

	out := bson.D{}
	if !excludeID {
		if id, found := lookupPath(doc, "_id"); found {
			out = append(out, bson.E{Key: "_id", Value: id})
		}
	}
	for _, el := range spec {
		if el.Key == "_id" {
			continue
		}
		switch v := el.Value.(type) {
		case int32, int64, int, float64, bool:
			f, isNum := asFloat(v)
			include := isNum && f != 0
			if b, isBool := v.(bool); isBool {
				include = b
			}
			if !include {
				return nil, errors.Errorf("cannot exclude %q inside an inclusion projection", el.Key)
			}
			val, found := lookupPath(doc, el.Key)
			if !found {
				continue
			}
			out = mergeProjected(out, el.Key, val)
		default:
			val, err := ev.evalExpr(env{doc: doc, root: doc}, el.Value)
			if err != nil {
				return nil, err
			}
			if _, isMissing := val.(missing); isMissing {
				continue
			}
			out = append(out, bson.E{Key: el.Key, Value: val})
		}
	}
	return out, nil
}

// mergeProjected writes an included (possibly dotted) path into the
// output document, sharing intermediate documents with sibling paths.
func mergeProjected(out bson.D, path string, val interface{}) bson.D {
	segs := strings.Split(path, ".")
	if len(segs) == 1 {
		return append(out, bson.E{Key: path, Value: val})
	}
	for i, el := range out {
		if el.Key == segs[0] {
			sub, _ := el.Value.(bson.D)
			out[i].Value = mergeProjected(sub, strings.Join(segs[1:], "."), val)
			return out
		}
	}
	return append(out, bson.E{Key: segs[0], Value: mergeProjected(nil, strings.Join(segs[1:], "."), val)})
}

// group implements $group with first-seen key ordering, which keeps
// in-memory runs deterministic.
func (ev *Evaluator) group(docs []bson.D, spec bson.D) ([]bson.D, error) {
	var keyExpr interface{}
	var accums bson.D
	for _, el := range spec {
		if el.Key == "_id" {
			keyExpr = el.Value
		} else {
			accums = append(accums, el)
		}
	}

	type bucket struct {
		key     interface{}
		members []bson.D
	}
	var order []string
	buckets := map[string]*bucket{}

	for _, doc := range docs {
		key, err := ev.evalValue(env{doc: doc, root: doc}, keyExpr)
		if err != nil {
			return nil, err
		}
		id, err := canonicalKey(key)
		if err != nil {
			return nil, err
		}
		b, ok := buckets[id]
		if !ok {
			b = &bucket{key: key}
			buckets[id] = b
			order = append(order, id)
		}
		b.members = append(b.members, doc)
	}

	out := make([]bson.D, 0, len(order))
	for _, id := range order {
		b := buckets[id]
		result := bson.D{{Key: "_id", Value: b.key}}
		for _, acc := range accums {
			accSpec, ok := acc.Value.(bson.D)
			if !ok || len(accSpec) != 1 {
				return nil, errors.Errorf("accumulator %q must be a single-operator document", acc.Key)
			}
			v, err := ev.accumulate(b.members, accSpec[0].Key, accSpec[0].Value)
			if err != nil {
				return nil, err
			}
			result = append(result, bson.E{Key: acc.Key, Value: v})
		}
		out = append(out, result)
	}
	return out, nil
}

func (ev *Evaluator) accumulate(members []bson.D, op string, expr interface{}) (interface{}, error) {
	values := make([]interface{}, 0, len(members))
	for _, doc := range members {
		v, err := ev.evalExpr(env{doc: doc, root: doc}, expr)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	switch op {
	case "$sum":
		sum := 0.0
		allInt := true
		for _, v := range values {
			f, ok := asFloat(normalizeMissing(v))
			if !ok {
				continue
			}
			if _, isF := normalizeMissing(v).(float64); isF {
				allInt = false
			}
			sum += f
		}
		if allInt {
			return int64(sum), nil
		}
		return sum, nil
	case "$avg":
		sum, n := 0.0, 0
		for _, v := range values {
			if f, ok := asFloat(normalizeMissing(v)); ok {
				sum += f
				n++
			}
		}
		if n == 0 {
			return nil, nil
		}
		return sum / float64(n), nil
	case "$min", "$max":
		var best interface{}
		have := false
		for _, v := range values {
			vv := normalizeMissing(v)
			if isNullish(vv) {
				continue
			}
			if !have {
				best, have = vv, true
				continue
			}
			c := compareValues(vv, best)
			if (op == "$min" && c < 0) || (op == "$max" && c > 0) {
				best = vv
			}
		}
		if !have {
			return nil, nil
		}
		return best, nil
	case "$push":
		out := bson.A{}
		for _, v := range values {
			if _, isMissing := v.(missing); isMissing {
				continue
			}
			out = append(out, v)
		}
		return out, nil
	}
	return nil, &UnsupportedError{Feature: "accumulator " + op}
}

// unwind handles both the shorthand string form and the document form
// with preserveNullAndEmptyArrays.
func (ev *Evaluator) unwind(docs []bson.D, spec interface{}) ([]bson.D, error) {
	var path string
	preserve := false
	switch tv := spec.(type) {
	case string:
		path = tv
	case bson.D:
		for _, el := range tv {
			switch el.Key {
			case "path":
				path = asString(el.Value)
			case "preserveNullAndEmptyArrays":
				preserve, _ = el.Value.(bool)
			}
		}
	default:
		return nil, errors.Errorf("$unwind spec %T", spec)
	}
	if !strings.HasPrefix(path, "$") {
		return nil, errors.Errorf("$unwind path %q must start with $", path)
	}
	field := path[1:]

	var out []bson.D
	for _, doc := range docs {
		val, found := lookupPath(doc, field)
		arr, isArr := val.(bson.A)
		switch {
		case !found || isNullish(val) || (isArr && len(arr) == 0):
			if preserve {
				// Explicit nulls survive; only missing fields and
				// empty arrays drop the field.
				if found && isNullish(val) {
					out = append(out, doc)
				} else {
					out = append(out, removeField(doc, field))
				}
			}
		case isArr:
			for _, elem := range arr {
				out = append(out, setField(doc, field, elem))
			}
		default:
			out = append(out, doc)
		}
	}
	return out, nil
}

// lookup implements both the localField/foreignField form and the
// uncorrelated pipeline form.
func (ev *Evaluator) lookup(docs []bson.D, spec bson.D) ([]bson.D, error) {
	var from, localField, foreignField, as string
	hasPipeline := false
	for _, el := range spec {
		switch el.Key {
		case "from":
			from = asString(el.Value)
		case "localField":
			localField = asString(el.Value)
		case "foreignField":
			foreignField = asString(el.Value)
		case "as":
			as = asString(el.Value)
		case "pipeline":
			hasPipeline = true
		}
	}
	if as == "" {
		return nil, errors.New("$lookup requires as")
	}

	if hasPipeline {
		joined, err := ev.runSub(spec)
		if err != nil {
			return nil, err
		}
		arr := make(bson.A, 0, len(joined))
		for _, j := range joined {
			arr = append(arr, j)
		}
		out := make([]bson.D, 0, len(docs))
		for _, doc := range docs {
			out = append(out, setField(doc, as, arr))
		}
		return out, nil
	}

	foreign, ok := ev.Collections[from]
	if !ok {
		return nil, errors.Errorf("unknown lookup collection %q", from)
	}
	out := make([]bson.D, 0, len(docs))
	for _, doc := range docs {
		local, _ := lookupPath(doc, localField)
		matched := bson.A{}
		for _, fdoc := range foreign {
			fval, _ := lookupPath(fdoc, foreignField)
			if equalityMatch(fval, true, local) || equalityMatch(local, true, fval) {
				matched = append(matched, fdoc)
			}
		}
		out = append(out, setField(doc, as, matched))
	}
	return out, nil
}

// vectorSearch scores every candidate exactly; numCandidates only
// bounds approximate search on a real deployment, so it is ignored
// here.
func (ev *Evaluator) vectorSearch(docs []bson.D, spec bson.D) ([]bson.D, error) {
	var index, path string
	var queryVec []float64
	var limit int
	var filterDoc bson.D
	for _, el := range spec {
		switch el.Key {
		case "index":
			index = asString(el.Value)
		case "path":
			path = asString(el.Value)
		case "queryVector":
			arr, ok := el.Value.(bson.A)
			if !ok {
				return nil, errors.New("queryVector must be an array")
			}
			for _, v := range arr {
				f, ok := asFloat(v)
				if !ok {
					return nil, errors.Errorf("queryVector element %T is not numeric", v)
				}
				queryVec = append(queryVec, f)
			}
		case "limit":
			f, _ := asFloat(el.Value)
			limit = int(f)
		case "filter":
			filterDoc, _ = el.Value.(bson.D)
		}
	}
	idx, ok := ev.VectorIndexes[index]
	if !ok {
		return nil, errors.Errorf("unknown vector index %q", index)
	}

	type scored struct {
		doc   bson.D
		score float64
	}
	var candidates []scored
	for _, doc := range docs {
		if filterDoc != nil {
			hit, err := ev.matchDoc(doc, filterDoc)
			if err != nil {
				return nil, err
			}
			if !hit {
				continue
			}
		}
		val, found := lookupPath(doc, path)
		arr, isArr := val.(bson.A)
		if !found || !isArr || len(arr) != len(queryVec) {
			continue
		}
		vec := make([]float64, 0, len(arr))
		for _, v := range arr {
			f, ok := asFloat(v)
			if !ok {
				return nil, errors.Errorf("embedding element %T is not numeric", v)
			}
			vec = append(vec, f)
		}
		score, err := similarity(idx.Metric, queryVec, vec)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, scored{doc: setField(doc, scoreField, score), score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if limit < len(candidates) {
		candidates = candidates[:limit]
	}
	out := make([]bson.D, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.doc)
	}
	return out, nil
}

// similarity maps a metric's raw distance onto Atlas's (0, 1] score
// scale: euclidean uses 1/(1+d), cosine and dotProduct use (1+x)/2.
func similarity(metric string, a, b []float64) (float64, error) {
	switch metric {
	case "euclidean":
		d, err := stats.EuclideanDistance(a, b)
		if err != nil {
			return 0, errors.Wrap(err, "euclidean distance")
		}
		return 1 / (1 + d), nil
	case "cosine", "dotProduct":
		dot, na, nb := 0.0, 0.0, 0.0
		for i := range a {
			dot += a[i] * b[i]
			na += a[i] * a[i]
			nb += b[i] * b[i]
		}
		if metric == "dotProduct" {
			return (1 + dot) / 2, nil
		}
		if na == 0 || nb == 0 {
			return 0, errors.New("cosine similarity of zero vector")
		}
		return (1 + dot/(math.Sqrt(na)*math.Sqrt(nb))) / 2, nil
	}
	return 0, errors.Errorf("unknown vector metric %q", metric)
}

// setField returns a copy of doc with the (possibly dotted) field set.
func setField(doc bson.D, path string, val interface{}) bson.D {
	segs := strings.Split(path, ".")
	out := make(bson.D, 0, len(doc)+1)
	replaced := false
	for _, el := range doc {
		if el.Key == segs[0] {
			if len(segs) == 1 {
				out = append(out, bson.E{Key: el.Key, Value: val})
			} else {
				sub, _ := el.Value.(bson.D)
				out = append(out, bson.E{Key: el.Key, Value: setField(sub, strings.Join(segs[1:], "."), val)})
			}
			replaced = true
			continue
		}
		out = append(out, el)
	}
	if !replaced {
		if len(segs) == 1 {
			out = append(out, bson.E{Key: segs[0], Value: val})
		} else {
			out = append(out, bson.E{Key: segs[0], Value: setField(nil, strings.Join(segs[1:], "."), val)})
		}
	}
	return out
}

// removeField returns a copy of doc without the (possibly dotted)
// field.
func removeField(doc bson.D, path string) bson.D {
	segs := strings.Split(path, ".")
	out := make(bson.D, 0, len(doc))
	for _, el := range doc {
		if el.Key == segs[0] {
			if len(segs) == 1 {
				continue
			}
			if sub, ok := el.Value.(bson.D); ok {
				out = append(out, bson.E{Key: el.Key, Value: removeField(sub, strings.Join(segs[1:], "."))})
				continue
			}
		}
		out = append(out, el)
	}
	return out
}

// canonicalKey renders a group key to a stable string identity.
// Numeric values are bridged first: the server groups numerically
// equal keys together regardless of their BSON numeric type.
func canonicalKey(v interface{}) (string, error) {
	raw, err := bson.MarshalExtJSON(bson.D{{Key: "k", Value: bridgeNumerics(v)}}, true, false)
	if err != nil {
		return "", errors.Wrap(err, "canonical group key")
	}
	return string(raw), nil
}

func bridgeNumerics(v interface{}) interface{} {
	switch tv := v.(type) {
	case int, int32, int64:
		f, _ := asFloat(tv)
		return f
	case bson.D:
		out := make(bson.D, 0, len(tv))
		for _, el := range tv {
			out = append(out, bson.E{Key: el.Key, Value: bridgeNumerics(el.Value)})
		}
		return out
	case bson.A:
		out := make(bson.A, 0, len(tv))
		for _, el := range tv {
			out = append(out, bridgeNumerics(el))
		}
		return out
	}
	return v
}
