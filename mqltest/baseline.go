// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mqltest

import (
	"encoding/json"
	"flag"
	"os"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/tidwall/pretty"
)

var updateBaselines = flag.Bool("update-baselines", false, "rewrite golden baseline files from the current run")

// Baselines is a golden-file store of expected MQL keyed by scenario
// name. One file holds one suite's scenarios as a JSON object mapping
// scenario name to stage strings.
type Baselines struct {
	path string

	mu      sync.Mutex
	entries map[string][]string
	dirty   bool
}

// LoadBaselines reads the golden file at path. A missing file is only
// tolerated under -update-baselines, where it starts empty. The file
// is rewritten on test cleanup when the flag is set.
func LoadBaselines(t *testing.T, path string) *Baselines {
	t.Helper()
	b := &Baselines{path: path, entries: map[string][]string{}}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &b.entries); err != nil {
			t.Fatalf("baselines %s: %v", path, err)
		}
	case os.IsNotExist(err) && *updateBaselines:
	default:
		t.Fatalf("baselines %s: %v (run with -update-baselines to create)", path, err)
	}

	t.Cleanup(func() {
		if err := b.save(); err != nil {
			t.Errorf("saving baselines: %v", err)
		}
	})
	return b
}

// Assert compares the last recorded query against the named scenario's
// stored stages. Under -update-baselines it records instead.
func (b *Baselines) Assert(t testing.TB, name string, r *Recorder) {
	t.Helper()
	if *updateBaselines {
		rec, ok := r.Last()
		if !ok {
			t.Fatalf("baseline %q: no query was recorded", name)
		}
		b.mu.Lock()
		b.entries[name] = rec.Stages
		b.dirty = true
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	expected, ok := b.entries[name]
	b.mu.Unlock()
	if !ok {
		t.Fatalf("baseline %q not found in %s (run with -update-baselines to add)", name, b.path)
	}
	AssertMQL(t, r, expected...)
}

func (b *Baselines) save() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dirty {
		return nil
	}
	raw, err := json.Marshal(b.entries)
	if err != nil {
		return errors.Wrap(err, "encoding baselines")
	}
	formatted := pretty.PrettyOptions(raw, &pretty.Options{Indent: "  ", SortKeys: true})
	if err := os.WriteFile(b.path, formatted, 0644); err != nil {
		return errors.Wrapf(err, "writing %s", b.path)
	}
	b.dirty = false
	return nil
}
