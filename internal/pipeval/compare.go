// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package pipeval

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Canonical BSON comparison order for the types fixture data uses.
// Missing and null sort together, ahead of everything else.
const (
	classNull = iota
	classNumber
	classString
	classDocument
	classArray
	classObjectID
	classBool
	classDateTime
	classRegex
)

func typeClass(v interface{}) int {
	switch v.(type) {
	case nil, primitive.Null:
		return classNull
	case int, int32, int64, float64:
		return classNumber
	case string:
		return classString
	case bson.D:
		return classDocument
	case bson.A:
		return classArray
	case primitive.ObjectID:
		return classObjectID
	case bool:
		return classBool
	case time.Time, primitive.DateTime:
		return classDateTime
	case primitive.Regex:
		return classRegex
	default:
		return classNull
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	}
	return time.Time{}, false
}

// compareValues orders two BSON values canonically: first by type
// class, then by value. Numeric comparison bridges int32/int64/double.
func compareValues(a, b interface{}) int {
	ca, cb := typeClass(a), typeClass(b)
	if ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}

	switch ca {
	case classNull:
		return 0
	case classNumber:
		fa, _ := asFloat(a)
		fb, _ := asFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case classString:
		return strings.Compare(a.(string), b.(string))
	case classBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case classDateTime:
		ta, _ := asTime(a)
		tb, _ := asTime(b)
		switch {
		case ta.Before(tb):
			return -1
		case ta.After(tb):
			return 1
		}
		return 0
	case classObjectID:
		oa, ob := a.(primitive.ObjectID), b.(primitive.ObjectID)
		return strings.Compare(oa.Hex(), ob.Hex())
	case classDocument:
		return compareDocs(a.(bson.D), b.(bson.D))
	case classArray:
		return compareArrays(a.(bson.A), b.(bson.A))
	case classRegex:
		ra, rb := a.(primitive.Regex), b.(primitive.Regex)
		if c := strings.Compare(ra.Pattern, rb.Pattern); c != 0 {
			return c
		}
		return strings.Compare(ra.Options, rb.Options)
	}
	return 0
}

// compareDocs compares documents element-wise; BSON document
// comparison is field-order sensitive.
func compareDocs(a, b bson.D) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(a[i].Key, b[i].Key); c != 0 {
			return c
		}
		if c := compareValues(a[i].Value, b[i].Value); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func compareArrays(a, b bson.A) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := compareValues(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func equalValues(a, b interface{}) bool { return compareValues(a, b) == 0 }

func isNullish(v interface{}) bool { return typeClass(v) == classNull }

// truthy follows aggregation boolean coercion: null, missing, false
// and numeric zero are false, everything else true.
func truthy(v interface{}) bool {
	switch tv := v.(type) {
	case nil, primitive.Null:
		return false
	case bool:
		return tv
	default:
		if f, ok := asFloat(v); ok {
			return f != 0
		}
		return true
	}
}
