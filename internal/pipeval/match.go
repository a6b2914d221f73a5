// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pipeval

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// lookupPath resolves a dotted path against a document. Intermediate
// arrays fan out: the resolved value is the array of element
// resolutions, which is what MQL's array traversal produces.
func lookupPath(doc bson.D, path string) (interface{}, bool) {
	return resolveSegs(doc, strings.Split(path, "."))
}

func resolveSegs(v interface{}, segs []string) (interface{}, bool) {
	if len(segs) == 0 {
		return v, true
	}
	switch tv := v.(type) {
	case bson.D:
		for _, e := range tv {
			if e.Key == segs[0] {
				return resolveSegs(e.Value, segs[1:])
			}
		}
	case bson.A:
		out := bson.A{}
		found := false
		for _, e := range tv {
			if sub, ok := resolveSegs(e, segs); ok {
				found = true
				out = append(out, sub)
			}
		}
		if found {
			return out, true
		}
	}
	return nil, false
}

// anyValue applies pred to the resolved value and, when the value is
// an array, to each element: MQL field predicates match on either.
func anyValue(val interface{}, found bool, pred func(v interface{}, present bool) bool) bool {
	if !found {
		return pred(nil, false)
	}
	if arr, ok := val.(bson.A); ok {
		if pred(arr, true) {
			return true
		}
		for _, e := range arr {
			if pred(e, true) {
				return true
			}
		}
		return false
	}
	return pred(val, true)
}

func (ev *Evaluator) matchDoc(doc bson.D, cond bson.D) (bool, error) {
	for _, e := range cond {
		ok, err := ev.matchElement(doc, e)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (ev *Evaluator) matchElement(doc bson.D, e bson.E) (bool, error) {
	switch e.Key {
	case "$and", "$or", "$nor":
		arr, ok := e.Value.(bson.A)
		if !ok {
			return false, errors.Errorf("pipeval: %s requires an array", e.Key)
		}
		anyHit := false
		for _, sub := range arr {
			subDoc, ok := sub.(bson.D)
			if !ok {
				return false, errors.Errorf("pipeval: %s operand must be a document", e.Key)
			}
			hit, err := ev.matchDoc(doc, subDoc)
			if err != nil {
				return false, err
			}
			if hit {
				anyHit = true
			} else if e.Key == "$and" {
				return false, nil
			}
		}
		switch e.Key {
		case "$and":
			return true, nil
		case "$or":
			return anyHit, nil
		default:
			return !anyHit, nil
		}
	case "$expr":
		v, err := ev.evalExpr(env{doc: doc, root: doc}, e.Value)
		if err != nil {
			return false, err
		}
		return truthy(v), nil
	}

	val, found := lookupPath(doc, e.Key)
	return ev.matchFieldPred(doc, val, found, e.Value)
}

func (ev *Evaluator) matchFieldPred(doc bson.D, val interface{}, found bool, pred interface{}) (bool, error) {
	switch pv := pred.(type) {
	case primitive.Regex:
		return regexMatches(val, found, pv)
	case bson.D:
		if isOperatorDoc(pv) {
			for _, op := range pv {
				ok, err := ev.applyOperator(doc, val, found, op)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil
				}
			}
			return true, nil
		}
	}
	return equalityMatch(val, found, pred), nil
}

func isOperatorDoc(d bson.D) bool {
	return len(d) > 0 && strings.HasPrefix(d[0].Key, "$")
}

// equalityMatch implements {path: value}: nil matches null and
// missing, arrays match whole or per element.
func equalityMatch(val interface{}, found bool, expected interface{}) bool {
	if isNullish(expected) {
		return !found || isNullish(val) || arrayHasNull(val)
	}
	return anyValue(val, found, func(v interface{}, present bool) bool {
		return present && equalValues(v, expected)
	})
}

func arrayHasNull(val interface{}) bool {
	arr, ok := val.(bson.A)
	if !ok {
		return false
	}
	for _, e := range arr {
		if isNullish(e) {
			return true
		}
	}
	return false
}

func (ev *Evaluator) applyOperator(doc bson.D, val interface{}, found bool, op bson.E) (bool, error) {
	switch op.Key {
	case "$eq":
		return equalityMatch(val, found, op.Value), nil
	case "$ne":
		return !equalityMatch(val, found, op.Value), nil
	case "$gt", "$gte", "$lt", "$lte":
		return orderedMatch(val, found, op.Key, op.Value), nil
	case "$in":
		arr, ok := op.Value.(bson.A)
		if !ok {
			return false, errors.New("pipeval: $in requires an array")
		}
		for _, want := range arr {
			if rx, isRx := want.(primitive.Regex); isRx {
				hit, err := regexMatches(val, found, rx)
				if err != nil {
					return false, err
				}
				if hit {
					return true, nil
				}
				continue
			}
			if equalityMatch(val, found, want) {
				return true, nil
			}
		}
		return false, nil
	case "$nin":
		hit, err := ev.applyOperator(doc, val, found, bson.E{Key: "$in", Value: op.Value})
		return !hit, err
	case "$exists":
		want, _ := op.Value.(bool)
		return found == want, nil
	case "$type":
		alias, ok := op.Value.(string)
		if !ok {
			return false, errors.New("pipeval: $type requires a string alias")
		}
		return anyValue(val, found, func(v interface{}, present bool) bool {
			return present && typeAlias(v) == alias
		}), nil
	case "$size":
		want, ok := asFloat(op.Value)
		if !ok {
			return false, errors.New("pipeval: $size requires a number")
		}
		arr, isArr := val.(bson.A)
		return found && isArr && float64(len(arr)) == want, nil
	case "$all":
		wanted, ok := op.Value.(bson.A)
		if !ok {
			return false, errors.New("pipeval: $all requires an array")
		}
		// An empty $all matches no document on the server.
		if len(wanted) == 0 {
			return false, nil
		}
		for _, want := range wanted {
			if !equalityMatch(val, found, want) {
				return false, nil
			}
		}
		return true, nil
	case "$mod":
		spec, ok := op.Value.(bson.A)
		if !ok || len(spec) != 2 {
			return false, errors.New("pipeval: $mod requires [divisor, remainder]")
		}
		div, okD := asFloat(spec[0])
		rem, okR := asFloat(spec[1])
		if !okD || !okR || div == 0 {
			return false, errors.New("pipeval: invalid $mod operands")
		}
		return anyValue(val, found, func(v interface{}, present bool) bool {
			f, isNum := asFloat(v)
			return present && isNum && float64(int64(f)%int64(div)) == rem
		}), nil
	case "$elemMatch":
		sub, ok := op.Value.(bson.D)
		if !ok {
			return false, errors.New("pipeval: $elemMatch requires a document")
		}
		arr, isArr := val.(bson.A)
		if !found || !isArr {
			return false, nil
		}
		for _, elem := range arr {
			hit, err := ev.elemMatches(elem, sub)
			if err != nil {
				return false, err
			}
			if hit {
				return true, nil
			}
		}
		return false, nil
	case "$not":
		switch inner := op.Value.(type) {
		case primitive.Regex:
			hit, err := regexMatches(val, found, inner)
			return !hit, err
		case bson.D:
			for _, sub := range inner {
				hit, err := ev.applyOperator(doc, val, found, sub)
				if err != nil {
					return false, err
				}
				if hit {
					return false, nil
				}
			}
			return true, nil
		}
		return false, errors.New("pipeval: $not requires an operator document or regex")
	}
	return false, &UnsupportedError{Feature: "match operator " + op.Key}
}

// elemMatches applies an $elemMatch body to one array element. The
// body holds field predicates evaluated against the element document.
func (ev *Evaluator) elemMatches(elem interface{}, cond bson.D) (bool, error) {
	elemDoc, isDoc := elem.(bson.D)
	if !isDoc {
		// Scalar arrays: the body is an operator document applied to
		// the element itself.
		if isOperatorDoc(cond) {
			for _, op := range cond {
				hit, err := ev.applyOperator(nil, elem, true, op)
				if err != nil || !hit {
					return false, err
				}
			}
			return true, nil
		}
		return false, nil
	}
	return ev.matchDoc(elemDoc, cond)
}

func orderedMatch(val interface{}, found bool, op string, bound interface{}) bool {
	if isNullish(bound) {
		return false
	}
	return anyValue(val, found, func(v interface{}, present bool) bool {
		if !present || typeClass(v) != typeClass(bound) {
			return false
		}
		c := compareValues(v, bound)
		switch op {
		case "$gt":
			return c > 0
		case "$gte":
			return c >= 0
		case "$lt":
			return c < 0
		default:
			return c <= 0
		}
	})
}

func regexMatches(val interface{}, found bool, rx primitive.Regex) (bool, error) {
	pattern := rx.Pattern
	var flags string
	if strings.Contains(rx.Options, "i") {
		flags += "i"
	}
	if strings.Contains(rx.Options, "s") {
		flags += "s"
	}
	if strings.Contains(rx.Options, "m") {
		flags += "m"
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, errors.Wrapf(err, "pipeval: regex %q", rx.Pattern)
	}
	return anyValue(val, found, func(v interface{}, present bool) bool {
		s, isStr := v.(string)
		return present && isStr && re.MatchString(s)
	}), nil
}

func typeAlias(v interface{}) string {
	switch v.(type) {
	case nil, primitive.Null:
		return "null"
	case string:
		return "string"
	case float64:
		return "double"
	case int32:
		return "int"
	case int, int64:
		return "long"
	case bool:
		return "bool"
	case bson.A:
		return "array"
	case bson.D:
		return "object"
	case primitive.ObjectID:
		return "objectId"
	case primitive.Regex:
		return "regex"
	default:
		if _, ok := asTime(v); ok {
			return "date"
		}
		return ""
	}
}
