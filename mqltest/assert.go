// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mqltest

import (
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"github.com/pmezard/go-difflib/difflib"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ikmak/mqlconform/mql"
	"github.com/ikmak/mqlconform/query"
)

// AssertMQL asserts that the most recently recorded query emitted
// exactly the expected stage strings. The failure message carries a
// unified diff of the pretty-printed stages.
func AssertMQL(t testing.TB, r *Recorder, expected ...string) {
	t.Helper()
	rec, ok := r.Last()
	if !ok {
		t.Fatalf("AssertMQL: no query was recorded")
	}
	if stagesEqual(rec.Stages, expected) {
		return
	}
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        indentAll(expected),
		B:        indentAll(rec.Stages),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  3,
	})
	t.Errorf("emitted MQL does not match baseline (-expected +actual):\n%s\nrecorded: %s", diff, spew.Sdump(rec))
}

func stagesEqual(actual, expected []string) bool {
	if len(actual) != len(expected) {
		return false
	}
	for i := range actual {
		if actual[i] != expected[i] {
			return false
		}
	}
	return true
}

func indentAll(stages []string) []string {
	out := make([]string, 0, len(stages))
	for _, s := range stages {
		out = append(out, mql.Indent(s)+"\n")
	}
	return out
}

// AssertUnsupported asserts that err is the translator's typed
// unsupported-shape error for the given feature and that its message
// carries the given substring.
func AssertUnsupported(t testing.TB, err error, feature, substr string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an unsupported-shape error for %q, got nil", feature)
	}
	var ue *query.UnsupportedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *query.UnsupportedError, got %T: %v", err, err)
	}
	if ue.Feature != feature {
		t.Errorf("unsupported feature %q, expected %q", ue.Feature, feature)
	}
	if substr != "" && !strings.Contains(err.Error(), substr) {
		t.Errorf("error %q does not contain %q", err.Error(), substr)
	}
}

// AssertDocs asserts that actual equals expected. Field order inside
// documents is ignored and numeric values compare across BSON numeric
// types, matching how drivers surface server results.
func AssertDocs(t testing.TB, expected, actual []bson.D) {
	t.Helper()
	if diff := cmp.Diff(normalizeDocs(expected), normalizeDocs(actual)); diff != "" {
		t.Errorf("result documents mismatch (-expected +actual):\n%s", diff)
	}
}

// AssertDocSet is AssertDocs without order sensitivity between
// documents, for stages whose output order the server does not fix.
func AssertDocSet(t testing.TB, expected, actual []bson.D) {
	t.Helper()
	AssertDocs(t, sortDocs(expected), sortDocs(actual))
}

func sortDocs(docs []bson.D) []bson.D {
	out := append([]bson.D(nil), docs...)
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := bson.MarshalExtJSON(out[i], true, false)
		b, _ := bson.MarshalExtJSON(out[j], true, false)
		return string(a) < string(b)
	})
	return out
}

func normalizeDocs(docs []bson.D) []interface{} {
	out := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		out = append(out, normalizeValue(d))
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case bson.D:
		m := map[string]interface{}{}
		for _, el := range tv {
			m[el.Key] = normalizeValue(el.Value)
		}
		return m
	case bson.M:
		m := map[string]interface{}{}
		for k, el := range tv {
			m[k] = normalizeValue(el)
		}
		return m
	case bson.A:
		out := make([]interface{}, 0, len(tv))
		for _, el := range tv {
			out = append(out, normalizeValue(el))
		}
		return out
	case int:
		return float64(tv)
	case int32:
		return float64(tv)
	case int64:
		return float64(tv)
	case primitive.Null:
		return nil
	case primitive.DateTime:
		return tv.Time().UTC()
	default:
		return v
	}
}
