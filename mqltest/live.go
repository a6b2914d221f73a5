// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mqltest

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/ikmak/mqlconform/internal/logger"
	"github.com/ikmak/mqlconform/mql"
	"github.com/ikmak/mqlconform/query"
)

const liveTimeout = 10 * time.Second

type liveSession struct {
	client *mongo.Client
	db     *mongo.Database
	rec    *Recorder
	log    *logrus.Entry
}

// connectLive connects to the deployment, reseeds the dataset's
// database from scratch, and tears the connection down with the test.
func connectLive(t *testing.T, uri string, ds *Dataset, rec *Recorder) *liveSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), liveTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetMonitor(rec.CommandMonitor()))
	if err != nil {
		t.Fatalf("live mode: connecting to %s: %v", uri, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		t.Fatalf("live mode: pinging %s: %v", uri, err)
	}

	s := &liveSession{
		client: client,
		db:     client.Database("mqlconform_" + ds.Name),
		rec:    rec,
		log:    logger.New(logger.ComponentLive),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), liveTimeout)
		defer cancel()
		_ = s.client.Disconnect(ctx)
	})

	if err := s.seed(ds); err != nil {
		t.Fatalf("live mode: seeding %s: %v", ds.Name, err)
	}
	return s
}

// seed drops the dataset database and reinserts every collection,
// fanning out one goroutine per collection.
func (s *liveSession) seed(ds *Dataset) error {
	ctx, cancel := context.WithTimeout(context.Background(), liveTimeout)
	defer cancel()
	if err := s.db.Drop(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, docs := range ds.Collections {
		name, docs := name, docs
		g.Go(func() error {
			if len(docs) == 0 {
				return s.db.CreateCollection(gctx, name)
			}
			payload := make([]interface{}, 0, len(docs))
			for _, d := range docs {
				payload = append(payload, d)
			}
			_, err := s.db.Collection(name).InsertMany(gctx, payload)
			if err == nil {
				s.log.WithFields(logrus.Fields{"collection": name, "documents": len(docs)}).Debug("seeded")
			}
			return err
		})
	}
	return g.Wait()
}

// check replays the pipeline on the deployment and compares the
// result set with the in-memory run. Document order is not compared;
// the server does not guarantee it for unsorted stages.
func (s *liveSession) check(t *testing.T, p query.Pipeline, expected []bson.D) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), liveTimeout)
	defer cancel()

	opts := options.Aggregate()
	if p.Comment != "" {
		opts.SetComment(p.Comment)
	}

	var cur *mongo.Cursor
	var err error
	if p.Collection == "" {
		cur, err = s.db.Aggregate(ctx, mongo.Pipeline(p.Stages), opts)
	} else {
		cur, err = s.db.Collection(p.Collection).Aggregate(ctx, mongo.Pipeline(p.Stages), opts)
	}
	if err != nil {
		t.Fatalf("live aggregate: %v", err)
	}
	var docs []bson.D
	if err := cur.All(ctx, &docs); err != nil {
		t.Fatalf("live cursor: %v", err)
	}
	AssertDocSet(t, expected, docs)

	cmds := s.rec.WireCommands()
	if len(cmds) == 0 {
		t.Errorf("live aggregate was not captured on the wire")
		return
	}
	if err := verifyWireCommand(cmds[len(cmds)-1], p); err != nil {
		t.Errorf("wire command does not match the built pipeline: %v", err)
	}
}

// verifyWireCommand checks that a captured aggregate command carries
// exactly the stages and comment the builder rendered.
func verifyWireCommand(raw string, p query.Pipeline) error {
	var cmd bson.D
	if err := bson.UnmarshalExtJSON([]byte(raw), false, &cmd); err != nil {
		return errors.Wrap(err, "parsing captured command")
	}
	var sent bson.A
	var comment string
	for _, el := range cmd {
		switch el.Key {
		case "pipeline":
			sent, _ = el.Value.(bson.A)
		case "comment":
			comment, _ = el.Value.(string)
		}
	}

	expected, err := mql.RenderPipeline(p)
	if err != nil {
		return err
	}
	if len(sent) != len(expected) {
		return errors.Errorf("sent %d stages, built %d", len(sent), len(expected))
	}
	for i, stage := range sent {
		doc, ok := stage.(bson.D)
		if !ok {
			return errors.Errorf("sent stage %d is %T, not a document", i, stage)
		}
		got, err := mql.RenderStage(doc)
		if err != nil {
			return err
		}
		if got != expected[i] {
			return errors.Errorf("stage %d: sent %s, built %s", i, got, expected[i])
		}
	}
	if comment != p.Comment {
		return errors.Errorf("sent comment %q, built %q", comment, p.Comment)
	}
	return nil
}
