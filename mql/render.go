// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package mql renders aggregation pipeline stages into their textual
// MQL form. The rendered strings are the conformance contract:
// baselines store them and AssertMQL compares them byte for byte, so
// rendering is deterministic: relaxed extended JSON, compact, with
// keys in build order.
package mql

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/pretty"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ikmak/mqlconform/query"
)

// RenderStage renders one pipeline stage.
func RenderStage(stage bson.D) (string, error) {
	out, err := bson.MarshalExtJSON(stage, false, false)
	if err != nil {
		return "", errors.Wrap(err, "mql: rendering stage")
	}
	return string(out), nil
}

// RenderPipeline renders every stage of a built pipeline, one string
// per stage.
func RenderPipeline(p query.Pipeline) ([]string, error) {
	out := make([]string, 0, len(p.Stages))
	for i, stage := range p.Stages {
		s, err := RenderStage(stage)
		if err != nil {
			return nil, errors.Wrapf(err, "mql: stage %d", i)
		}
		out = append(out, s)
	}
	return out, nil
}

// Indent reformats a rendered stage for failure output. The compact
// form stays the contract; this is display only.
func Indent(stage string) string {
	return strings.TrimRight(string(pretty.PrettyOptions([]byte(stage), &pretty.Options{Indent: "  "})), "\n")
}
