// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pipeval

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// env carries the current document and the pipeline root for variable
// resolution ($$ROOT) during expression evaluation.
type env struct {
	doc  bson.D
	root bson.D
}

// evalExpr evaluates an aggregation expression against a document.
// Supported operators are the subset the query package can emit.
func (ev *Evaluator) evalExpr(e env, expr interface{}) (interface{}, error) {
	switch tv := expr.(type) {
	case string:
		if strings.HasPrefix(tv, "$$") {
			if tv == "$$ROOT" {
				return e.root, nil
			}
			return nil, &UnsupportedError{Feature: "aggregation variable " + tv}
		}
		if strings.HasPrefix(tv, "$") {
			v, found := lookupPath(e.doc, tv[1:])
			if !found {
				return missing{}, nil
			}
			return v, nil
		}
		return tv, nil
	case bson.D:
		if isOperatorDoc(tv) {
			if len(tv) != 1 {
				return nil, errors.Errorf("pipeval: operator document with %d keys", len(tv))
			}
			return ev.evalOperator(e, tv[0].Key, tv[0].Value)
		}
		out := make(bson.D, 0, len(tv))
		for _, el := range tv {
			v, err := ev.evalExpr(e, el.Value)
			if err != nil {
				return nil, err
			}
			if _, isMissing := v.(missing); isMissing {
				continue
			}
			out = append(out, bson.E{Key: el.Key, Value: v})
		}
		return out, nil
	case bson.A:
		out := make(bson.A, 0, len(tv))
		for _, el := range tv {
			v, err := ev.evalExpr(e, el)
			if err != nil {
				return nil, err
			}
			out = append(out, normalizeMissing(v))
		}
		return out, nil
	default:
		return expr, nil
	}
}

// missing marks an unresolved field path; it collapses to null in
// value positions and disappears in document positions.
type missing struct{}

func normalizeMissing(v interface{}) interface{} {
	if _, ok := v.(missing); ok {
		return nil
	}
	return v
}

func (ev *Evaluator) evalOperator(e env, op string, arg interface{}) (interface{}, error) {
	switch op {
	case "$literal":
		return arg, nil

	case "$meta":
		if arg == "vectorSearchScore" {
			if v, found := lookupPath(e.doc, scoreField); found {
				return v, nil
			}
			return nil, nil
		}
		return nil, &UnsupportedError{Feature: "$meta " + asString(arg)}

	case "$toUpper", "$toLower", "$strLenCP":
		v, err := ev.evalExpr(e, arg)
		if err != nil {
			return nil, err
		}
		s, _ := normalizeMissing(v).(string)
		switch op {
		case "$toUpper":
			return strings.ToUpper(s), nil
		case "$toLower":
			return strings.ToLower(s), nil
		default:
			return int32(len([]rune(s))), nil
		}

	case "$trim":
		spec, ok := arg.(bson.D)
		if !ok {
			return nil, errors.New("pipeval: $trim requires a document")
		}
		var input interface{}
		for _, el := range spec {
			if el.Key == "input" {
				var err error
				input, err = ev.evalExpr(e, el.Value)
				if err != nil {
					return nil, err
				}
			}
		}
		if isNullish(normalizeMissing(input)) {
			return nil, nil
		}
		s, _ := input.(string)
		return strings.TrimSpace(s), nil

	case "$concat":
		args, err := ev.evalArgs(e, arg)
		if err != nil {
			return nil, err
		}
		var sb strings.Builder
		for _, v := range args {
			if isNullish(v) {
				return nil, nil
			}
			s, ok := v.(string)
			if !ok {
				return nil, errors.Errorf("pipeval: $concat operand %T is not a string", v)
			}
			sb.WriteString(s)
		}
		return sb.String(), nil

	case "$substrCP":
		args, err := ev.evalArgs(e, arg)
		if err != nil {
			return nil, err
		}
		if len(args) != 3 {
			return nil, errors.New("pipeval: $substrCP requires three operands")
		}
		s, _ := args[0].(string)
		start, _ := asFloat(args[1])
		length, _ := asFloat(args[2])
		runes := []rune(s)
		lo := int(start)
		if lo < 0 || lo >= len(runes) {
			return "", nil
		}
		hi := lo + int(length)
		if hi > len(runes) {
			hi = len(runes)
		}
		return string(runes[lo:hi]), nil

	case "$indexOfCP":
		args, err := ev.evalArgs(e, arg)
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, errors.New("pipeval: $indexOfCP requires two operands")
		}
		s, _ := args[0].(string)
		sub, _ := args[1].(string)
		idx := strings.Index(s, sub)
		if idx < 0 {
			return int32(-1), nil
		}
		// Code-point index, not byte offset.
		return int32(utf8.RuneCountInString(s[:idx])), nil

	case "$split":
		args, err := ev.evalArgs(e, arg)
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, errors.New("pipeval: $split requires two operands")
		}
		if isNullish(args[0]) {
			return nil, nil
		}
		s, _ := args[0].(string)
		sep, _ := args[1].(string)
		parts := strings.Split(s, sep)
		out := make(bson.A, 0, len(parts))
		for _, p := range parts {
			out = append(out, p)
		}
		return out, nil

	case "$abs", "$ceil", "$floor", "$sqrt":
		v, err := ev.evalExpr(e, arg)
		if err != nil {
			return nil, err
		}
		v = normalizeMissing(v)
		if isNullish(v) {
			return nil, nil
		}
		f, ok := asFloat(v)
		if !ok {
			return nil, errors.Errorf("pipeval: %s operand %T is not numeric", op, v)
		}
		switch op {
		case "$abs":
			return numericResult(v, math.Abs(f)), nil
		case "$ceil":
			return numericResult(v, math.Ceil(f)), nil
		case "$floor":
			return numericResult(v, math.Floor(f)), nil
		default:
			return math.Sqrt(f), nil
		}

	case "$round", "$trunc":
		args, err := ev.evalArgs(e, arg)
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, errors.Errorf("pipeval: %s requires two operands", op)
		}
		if isNullish(args[0]) {
			return nil, nil
		}
		f, _ := asFloat(args[0])
		place, _ := asFloat(args[1])
		scale := math.Pow(10, place)
		if op == "$round" {
			return math.Round(f*scale) / scale, nil
		}
		return math.Trunc(f*scale) / scale, nil

	case "$pow", "$mod", "$subtract", "$divide":
		args, err := ev.evalArgs(e, arg)
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, errors.Errorf("pipeval: %s requires two operands", op)
		}
		if isNullish(args[0]) || isNullish(args[1]) {
			return nil, nil
		}
		a, okA := asFloat(args[0])
		b, okB := asFloat(args[1])
		if !okA || !okB {
			return nil, errors.Errorf("pipeval: %s operands must be numeric", op)
		}
		switch op {
		case "$pow":
			return math.Pow(a, b), nil
		case "$mod":
			if b == 0 {
				return nil, errors.New("pipeval: $mod by zero")
			}
			return numericResult2(args[0], args[1], math.Mod(a, b)), nil
		case "$subtract":
			return numericResult2(args[0], args[1], a-b), nil
		default:
			if b == 0 {
				return nil, errors.New("pipeval: $divide by zero")
			}
			return a / b, nil
		}

	case "$add", "$multiply":
		args, err := ev.evalArgs(e, arg)
		if err != nil {
			return nil, err
		}
		acc := 0.0
		if op == "$multiply" {
			acc = 1.0
		}
		allInt := true
		for _, v := range args {
			if isNullish(v) {
				return nil, nil
			}
			f, ok := asFloat(v)
			if !ok {
				return nil, errors.Errorf("pipeval: %s operand %T is not numeric", op, v)
			}
			if _, isF := v.(float64); isF {
				allInt = false
			}
			if op == "$add" {
				acc += f
			} else {
				acc *= f
			}
		}
		if allInt {
			return int64(acc), nil
		}
		return acc, nil

	case "$cond":
		spec, ok := arg.(bson.D)
		if !ok {
			return nil, errors.New("pipeval: $cond requires document form")
		}
		var ifE, thenE, elseE interface{}
		for _, el := range spec {
			switch el.Key {
			case "if":
				ifE = el.Value
			case "then":
				thenE = el.Value
			case "else":
				elseE = el.Value
			}
		}
		condV, err := ev.evalExpr(e, ifE)
		if err != nil {
			return nil, err
		}
		if truthy(normalizeMissing(condV)) {
			return ev.evalValue(e, thenE)
		}
		return ev.evalValue(e, elseE)

	case "$ifNull":
		args, err := ev.evalArgs(e, arg)
		if err != nil {
			return nil, err
		}
		for _, v := range args {
			if !isNullish(v) {
				return v, nil
			}
		}
		return nil, nil

	case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
		args, err := ev.evalArgs(e, arg)
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, errors.Errorf("pipeval: %s requires two operands", op)
		}
		c := compareValues(args[0], args[1])
		switch op {
		case "$eq":
			return c == 0, nil
		case "$ne":
			return c != 0, nil
		case "$gt":
			return c > 0, nil
		case "$gte":
			return c >= 0, nil
		case "$lt":
			return c < 0, nil
		default:
			return c <= 0, nil
		}

	case "$in":
		args, err := ev.evalArgs(e, arg)
		if err != nil {
			return nil, err
		}
		if len(args) != 2 {
			return nil, errors.New("pipeval: $in requires two operands")
		}
		arr, ok := args[1].(bson.A)
		if !ok {
			return nil, errors.Errorf("pipeval: $in second operand %T is not an array", args[1])
		}
		for _, el := range arr {
			if equalValues(args[0], el) {
				return true, nil
			}
		}
		return false, nil

	case "$not":
		args, err := ev.evalArgs(e, arg)
		if err != nil {
			return nil, err
		}
		if len(args) != 1 {
			return nil, errors.New("pipeval: $not requires one operand")
		}
		return !truthy(args[0]), nil

	case "$year", "$month", "$dayOfMonth":
		v, err := ev.evalExpr(e, arg)
		if err != nil {
			return nil, err
		}
		v = normalizeMissing(v)
		if isNullish(v) {
			return nil, nil
		}
		t, ok := asTime(v)
		if !ok {
			return nil, errors.Errorf("pipeval: %s operand %T is not a date", op, v)
		}
		switch op {
		case "$year":
			return int32(t.UTC().Year()), nil
		case "$month":
			return int32(t.UTC().Month()), nil
		default:
			return int32(t.UTC().Day()), nil
		}
	}

	return nil, &UnsupportedError{Feature: "aggregation operator " + op}
}

// evalArgs evaluates an operand list; a single non-array operand is
// treated as a one-element list.
func (ev *Evaluator) evalArgs(e env, arg interface{}) ([]interface{}, error) {
	list, ok := arg.(bson.A)
	if !ok {
		list = bson.A{arg}
	}
	out := make([]interface{}, 0, len(list))
	for _, el := range list {
		v, err := ev.evalExpr(e, el)
		if err != nil {
			return nil, err
		}
		out = append(out, normalizeMissing(v))
	}
	return out, nil
}

func (ev *Evaluator) evalValue(e env, expr interface{}) (interface{}, error) {
	v, err := ev.evalExpr(e, expr)
	if err != nil {
		return nil, err
	}
	return normalizeMissing(v), nil
}

// numericResult keeps integer inputs integer for operators that
// preserve integrality.
func numericResult(in interface{}, f float64) interface{} {
	switch in.(type) {
	case int, int32, int64:
		return int64(f)
	}
	return f
}

func numericResult2(a, b interface{}, f float64) interface{} {
	switch a.(type) {
	case int, int32, int64:
		switch b.(type) {
		case int, int32, int64:
			return int64(f)
		}
	}
	return f
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
