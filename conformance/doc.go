// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package conformance holds the scenario suites: one file per query
// feature area, each scenario asserting the result documents and the
// exact MQL the translator emitted. The filtering suite reads its
// expectations from testdata/baselines; the other suites keep the
// expected stage strings inline next to the scenario.
package conformance
