// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package query

import "fmt"

// UnsupportedError reports a query shape the translator recognises but
// cannot express in MQL. Feature names the shape, Issue carries the
// tracking-issue identifier for the gap.
type UnsupportedError struct {
	Feature string
	Issue   string
	Reason  string
}

func (e *UnsupportedError) Error() string {
	msg := fmt.Sprintf("query: %s is not supported", e.Feature)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Issue != "" {
		msg += " (tracking issue " + e.Issue + ")"
	}
	return msg
}

func unsupported(feature, issue, reason string) error {
	return &UnsupportedError{Feature: feature, Issue: issue, Reason: reason}
}
