// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mqltest

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ikmak/mqlconform/filter"
	"github.com/ikmak/mqlconform/query"
)

// Dataset is a fixed fixture: named collections of literal documents,
// vector indexes over them, and the global query filters their
// collections carry. Datasets are seeded once per suite and never
// mutated.
type Dataset struct {
	Name        string
	Collections map[string][]bson.D
	// VectorIndexes maps index name to similarity metric.
	VectorIndexes map[string]string
	globalFilters map[string][]query.NamedFilter
}

// Collection returns the query source for a named collection,
// carrying the dataset's global filters for it.
func (d *Dataset) Collection(name string) query.Collection {
	return query.Collection{Name: name, Filters: d.globalFilters[name]}
}

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// Northwind is the relational-style dataset: customers with orders,
// orders with embedded line items, and suppliers guarded by a
// soft-delete global filter.
func Northwind() *Dataset {
	return &Dataset{
		Name: "northwind",
		Collections: map[string][]bson.D{
			"customers": {
				{{Key: "_id", Value: int32(1)}, {Key: "name", Value: "Alice"}, {Key: "city", Value: "Hartford"}, {Key: "state", Value: "CT"}, {Key: "vip", Value: true}},
				{{Key: "_id", Value: int32(2)}, {Key: "name", Value: "Bob"}, {Key: "city", Value: "Boston"}, {Key: "state", Value: "MA"}, {Key: "vip", Value: false}},
				{{Key: "_id", Value: int32(3)}, {Key: "name", Value: "Carla"}, {Key: "city", Value: "Hartford"}, {Key: "state", Value: "CT"}, {Key: "vip", Value: true}},
				{{Key: "_id", Value: int32(4)}, {Key: "name", Value: "Dan"}, {Key: "city", Value: "Providence"}, {Key: "state", Value: "RI"}, {Key: "vip", Value: false}},
			},
			"orders": {
				{{Key: "_id", Value: int32(101)}, {Key: "customerId", Value: int32(1)}, {Key: "status", Value: "shipped"}, {Key: "total", Value: 59.97},
					{Key: "placedAt", Value: date(2023, time.January, 15)},
					{Key: "items", Value: bson.A{
						bson.D{{Key: "sku", Value: "SKU-RED"}, {Key: "qty", Value: int32(3)}, {Key: "price", Value: 19.99}},
					}}},
				{{Key: "_id", Value: int32(102)}, {Key: "customerId", Value: int32(1)}, {Key: "status", Value: "pending"}, {Key: "total", Value: 9.5},
					{Key: "placedAt", Value: date(2023, time.February, 1)},
					{Key: "items", Value: bson.A{
						bson.D{{Key: "sku", Value: "SKU-BLU"}, {Key: "qty", Value: int32(1)}, {Key: "price", Value: 9.5}},
					}}},
				{{Key: "_id", Value: int32(103)}, {Key: "customerId", Value: int32(2)}, {Key: "status", Value: "shipped"}, {Key: "total", Value: 27.5},
					{Key: "placedAt", Value: date(2023, time.March, 9)},
					{Key: "items", Value: bson.A{
						bson.D{{Key: "sku", Value: "SKU-RED"}, {Key: "qty", Value: int32(1)}, {Key: "price", Value: 19.99}},
						bson.D{{Key: "sku", Value: "SKU-GRN"}, {Key: "qty", Value: int32(1)}, {Key: "price", Value: 7.51}},
					}}},
				{{Key: "_id", Value: int32(104)}, {Key: "customerId", Value: int32(3)}, {Key: "status", Value: "canceled"}, {Key: "total", Value: 102.75},
					{Key: "placedAt", Value: date(2023, time.March, 20)},
					{Key: "items", Value: bson.A{}}},
			},
			"suppliers": {
				{{Key: "_id", Value: int32(1)}, {Key: "name", Value: "Acme"}, {Key: "state", Value: "CT"}, {Key: "deleted", Value: false}},
				{{Key: "_id", Value: int32(2)}, {Key: "name", Value: "Globex"}, {Key: "state", Value: "MA"}, {Key: "deleted", Value: true}},
				{{Key: "_id", Value: int32(3)}, {Key: "name", Value: "Initech"}, {Key: "state", Value: "CT"}, {Key: "deleted", Value: false}},
			},
		},
		globalFilters: map[string][]query.NamedFilter{
			"suppliers": {
				{Name: "notDeleted", Predicate: filter.Eq("deleted", false)},
			},
		},
	}
}

// Library is the vector-search dataset: books carrying small embedding
// vectors, indexed under both cosine and euclidean metrics.
func Library() *Dataset {
	return &Dataset{
		Name: "library",
		Collections: map[string][]bson.D{
			"books": {
				{{Key: "_id", Value: int32(1)}, {Key: "title", Value: "Red Mars"}, {Key: "author", Value: "Robinson"}, {Key: "year", Value: int32(1992)},
					{Key: "embedding", Value: bson.A{0.9, 0.1, 0.05, 0.15}}},
				{{Key: "_id", Value: int32(2)}, {Key: "title", Value: "Green Mars"}, {Key: "author", Value: "Robinson"}, {Key: "year", Value: int32(1993)},
					{Key: "embedding", Value: bson.A{0.85, 0.15, 0.1, 0.2}}},
				{{Key: "_id", Value: int32(3)}, {Key: "title", Value: "Neuromancer"}, {Key: "author", Value: "Gibson"}, {Key: "year", Value: int32(1984)},
					{Key: "embedding", Value: bson.A{0.1, 0.9, 0.8, 0.05}}},
				{{Key: "_id", Value: int32(4)}, {Key: "title", Value: "Dune"}, {Key: "author", Value: "Herbert"}, {Key: "year", Value: int32(1965)},
					{Key: "embedding", Value: bson.A{0.2, 0.25, 0.9, 0.1}}},
			},
		},
		VectorIndexes: map[string]string{
			"books_vector_idx": "cosine",
			"books_vector_l2":  "euclidean",
		},
	}
}

// Optionals is the missing-and-null dataset: entities whose optional
// reference is present, explicitly null, or absent entirely.
func Optionals() *Dataset {
	return &Dataset{
		Name: "optionals",
		Collections: map[string][]bson.D{
			"entities": {
				{{Key: "_id", Value: int32(1)}, {Key: "name", Value: "alpha"},
					{Key: "required", Value: bson.D{{Key: "value", Value: int32(10)}}},
					{Key: "optional", Value: bson.D{{Key: "value", Value: int32(20)}}},
					{Key: "tags", Value: bson.A{"a", "b"}},
					{Key: "note", Value: "  keep me  "}},
				{{Key: "_id", Value: int32(2)}, {Key: "name", Value: "beta"},
					{Key: "required", Value: bson.D{{Key: "value", Value: int32(30)}}},
					{Key: "optional", Value: nil},
					{Key: "tags", Value: bson.A{}}},
				{{Key: "_id", Value: int32(3)}, {Key: "name", Value: "gamma"},
					{Key: "required", Value: bson.D{{Key: "value", Value: int32(50)}}}},
			},
		},
	}
}
