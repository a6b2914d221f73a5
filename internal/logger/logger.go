// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package logger provides component-scoped logging for the harness.
// Output is silenced unless MQLTEST_LOG_LEVEL is set, so conformance
// runs stay quiet by default.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Component names used across the harness.
const (
	ComponentRecorder  = "recorder"
	ComponentFixtures  = "fixtures"
	ComponentEvaluator = "evaluator"
	ComponentLive      = "live"
)

var (
	once sync.Once
	root *logrus.Logger
)

func rootLogger() *logrus.Logger {
	once.Do(func() {
		root = logrus.New()
		root.SetOutput(io.Discard)
		if lvl := os.Getenv("MQLTEST_LOG_LEVEL"); lvl != "" {
			if parsed, err := logrus.ParseLevel(lvl); err == nil {
				root.SetOutput(os.Stderr)
				root.SetLevel(parsed)
			}
		}
	})
	return root
}

// New returns an entry scoped to the given component.
func New(component string) *logrus.Entry {
	return rootLogger().WithField("component", component)
}
