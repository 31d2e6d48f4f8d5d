// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storetest holds the behavioural contract every persistence.Store
// backend must satisfy, written as reusable ginkgo specs.
package storetest

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
)

// Factory creates a fresh, empty store for one spec.
type Factory func() persistence.Store

var readings = persistence.CollectionSpec{
	Name: "readings",
	Indexes: []persistence.IndexSpec{
		{Name: "deviceId", Fields: []string{"deviceId"}},
		{Name: "timestamp", Fields: []string{"timestamp"}},
		{Name: "deviceId_sensorType", Fields: []string{"deviceId", "sensorType"}},
	},
}

var settings = persistence.CollectionSpec{Name: "settings", KeyField: "key"}

func reading(deviceID int, sensorType string, value float64, ts int64) persistence.Document {
	return persistence.Document{"deviceId": deviceID, "sensorType": sensorType, "value": value, "timestamp": ts}
}

func drain(ctx context.Context, cur persistence.Cursor) []int64 {
	defer func() { _ = cur.Close() }()

	var ids []int64
	for cur.Next(ctx) {
		ids = append(ids, cur.ID())
	}

	Expect(cur.Err()).NotTo(HaveOccurred())

	return ids
}

// DescribeContract registers the store contract specs for a backend.
func DescribeContract(backend string, factory Factory) bool {
	return Describe(backend+" store contract", func() {
		var (
			ctx   context.Context
			store persistence.Store
		)

		BeforeEach(func() {
			ctx = context.Background()
			store = factory()
			Expect(store.CreateCollection(ctx, readings)).To(Succeed())
			Expect(store.CreateCollection(ctx, settings)).To(Succeed())

			DeferCleanup(func() {
				_ = store.Close(context.Background())
			})
		})

		Context("collections", func() {
			It("should reject declaring a collection twice", func() {
				err := store.CreateCollection(ctx, readings)
				Expect(errors.Is(err, persistence.ErrConflict)).To(BeTrue())
			})

			It("should reject invalid names", func() {
				err := store.CreateCollection(ctx, persistence.CollectionSpec{Name: "bad-name"})
				Expect(errors.Is(err, persistence.ErrValidation)).To(BeTrue())
			})

			It("should classify unknown collections as validation failures", func() {
				_, err := store.Add(ctx, "missing", persistence.Document{})
				Expect(errors.Is(err, persistence.ErrUnknownCollection)).To(BeTrue())
				Expect(errors.Is(err, persistence.ErrValidation)).To(BeTrue())
			})

			It("should list declared collections with their indexes", func() {
				specs, err := store.Collections(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(specs).To(HaveLen(2))
				Expect(specs[0].Name).To(Equal("readings"))
				Expect(specs[0].Indexes).To(HaveLen(3))
				Expect(specs[1].KeyField).To(Equal("key"))
			})

			It("should start at schema version 0 and persist updates", func() {
				v, err := store.SchemaVersion(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(v).To(Equal(0))

				Expect(store.SetSchemaVersion(ctx, 3)).To(Succeed())
				v, err = store.SchemaVersion(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(v).To(Equal(3))
			})
		})

		Context("identities", func() {
			It("should assign increasing identities starting at 1", func() {
				for want := int64(1); want <= 3; want++ {
					id, err := store.Add(ctx, "readings", reading(1, "wind", 1, want))
					Expect(err).NotTo(HaveOccurred())
					Expect(id).To(Equal(want))
				}
			})

			It("should never reuse identities after delete or clear", func() {
				id1, _ := store.Add(ctx, "readings", reading(1, "wind", 1, 1))
				id2, _ := store.Add(ctx, "readings", reading(1, "wind", 2, 2))
				Expect(store.Delete(ctx, "readings", id2)).To(Succeed())

				id3, err := store.Add(ctx, "readings", reading(1, "wind", 3, 3))
				Expect(err).NotTo(HaveOccurred())
				Expect(id3).To(BeNumerically(">", id2))

				Expect(store.Clear(ctx, "readings")).To(Succeed())
				id4, err := store.Add(ctx, "readings", reading(1, "wind", 4, 4))
				Expect(err).NotTo(HaveOccurred())
				Expect(id4).To(BeNumerically(">", id3))
				Expect(id1).To(BeNumerically("<", id4))
			})

			It("should mirror the identity into the stored document", func() {
				id, _ := store.Add(ctx, "readings", reading(1, "wind", 1, 1))
				doc, err := store.Get(ctx, "readings", id)
				Expect(err).NotTo(HaveOccurred())
				Expect(doc.ID()).To(Equal(id))
			})

			It("should insert under explicit identities and advance the generator", func() {
				Expect(store.AddWithID(ctx, "readings", 10, reading(1, "wind", 1, 1))).To(Succeed())

				id, err := store.Add(ctx, "readings", reading(1, "wind", 2, 2))
				Expect(err).NotTo(HaveOccurred())
				Expect(id).To(Equal(int64(11)))

				err = store.AddWithID(ctx, "readings", 10, reading(1, "wind", 3, 3))
				Expect(errors.Is(err, persistence.ErrConflict)).To(BeTrue())
			})
		})

		Context("record operations", func() {
			It("should return ErrNotFound for unknown identities", func() {
				_, err := store.Get(ctx, "readings", 42)
				Expect(errors.Is(err, persistence.ErrNotFound)).To(BeTrue())
			})

			It("should never create a record on update", func() {
				err := store.Update(ctx, "readings", 42, reading(1, "wind", 1, 1))
				Expect(errors.Is(err, persistence.ErrNotFound)).To(BeTrue())

				n, err := store.Count(ctx, "readings")
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(0))
			})

			It("should replace records and their index entries on update", func() {
				id, _ := store.Add(ctx, "readings", reading(1, "wind", 1, 1))
				Expect(store.Update(ctx, "readings", id, reading(2, "wind", 9, 1))).To(Succeed())

				old, err := store.IndexLookup(ctx, "readings", "deviceId", persistence.Key{1})
				Expect(err).NotTo(HaveOccurred())
				Expect(old).To(BeEmpty())

				moved, err := store.IndexLookup(ctx, "readings", "deviceId", persistence.Key{2})
				Expect(err).NotTo(HaveOccurred())
				Expect(moved).To(HaveLen(1))
				Expect(moved[0]["value"]).To(BeNumerically("==", 9))
			})

			It("should delete idempotently", func() {
				id, _ := store.Add(ctx, "readings", reading(1, "wind", 1, 1))
				Expect(store.Delete(ctx, "readings", id)).To(Succeed())
				Expect(store.Delete(ctx, "readings", id)).To(Succeed())
				Expect(store.Delete(ctx, "readings", 999)).To(Succeed())
			})

			It("should not share memory with callers", func() {
				doc := reading(1, "wind", 1, 1)
				id, _ := store.Add(ctx, "readings", doc)
				doc["value"] = 100.0

				got, _ := store.Get(ctx, "readings", id)
				Expect(got["value"]).To(BeNumerically("==", 1))

				got["value"] = 200.0
				again, _ := store.Get(ctx, "readings", id)
				Expect(again["value"]).To(BeNumerically("==", 1))
			})

			It("should return all records in identity order", func() {
				for i := range 5 {
					_, err := store.Add(ctx, "readings", reading(1, "wind", float64(i), int64(i)))
					Expect(err).NotTo(HaveOccurred())
				}

				docs, err := store.GetAll(ctx, "readings")
				Expect(err).NotTo(HaveOccurred())
				Expect(docs).To(HaveLen(5))

				for i, d := range docs {
					Expect(d.ID()).To(Equal(int64(i + 1)))
				}
			})
		})

		Context("index lookups", func() {
			BeforeEach(func() {
				store.Add(ctx, "readings", reading(1, "wind", 1, 100))
				store.Add(ctx, "readings", reading(1, "solar", 2, 200))
				store.Add(ctx, "readings", reading(2, "wind", 3, 300))
				store.Add(ctx, "readings", persistence.Document{"sensorType": "wind", "value": 4.0})
			})

			It("should match single-field keys exactly", func() {
				docs, err := store.IndexLookup(ctx, "readings", "deviceId", persistence.Key{1})
				Expect(err).NotTo(HaveOccurred())
				Expect(docs).To(HaveLen(2))
			})

			It("should match every field of composite keys", func() {
				docs, err := store.IndexLookup(ctx, "readings", "deviceId_sensorType", persistence.Key{1, "wind"})
				Expect(err).NotTo(HaveOccurred())
				Expect(docs).To(HaveLen(1))
				Expect(docs[0]["value"]).To(BeNumerically("==", 1))
			})

			It("should leave records without the indexed field out of the index", func() {
				n, err := store.Count(ctx, "readings")
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(4))

				cur, err := store.OpenCursor(ctx, "readings", "deviceId", persistence.AllKeys(), persistence.Next)
				Expect(err).NotTo(HaveOccurred())
				Expect(drain(ctx, cur)).To(HaveLen(3))
			})

			It("should reject keys of the wrong arity", func() {
				_, err := store.IndexLookup(ctx, "readings", "deviceId_sensorType", persistence.Key{1})
				Expect(errors.Is(err, persistence.ErrValidation)).To(BeTrue())
			})

			It("should reject unknown indexes", func() {
				_, err := store.IndexLookup(ctx, "readings", "nope", persistence.Key{1})
				Expect(errors.Is(err, persistence.ErrUnknownIndex)).To(BeTrue())
			})
		})

		Context("cursors", func() {
			BeforeEach(func() {
				// ids 1..6
				store.Add(ctx, "readings", reading(1, "wind", 1, 100))
				store.Add(ctx, "readings", reading(1, "solar", 2, 150))
				store.Add(ctx, "readings", reading(1, "wind", 3, 200))
				store.Add(ctx, "readings", reading(2, "wind", 4, 250))
				store.Add(ctx, "readings", reading(1, "wind", 5, 300))
				store.Add(ctx, "readings", reading(3, "wind", 6, 350))
			})

			It("should walk a composite prefix backwards with equal keys newest identity first", func() {
				cur, err := store.OpenCursor(ctx, "readings", "deviceId_sensorType", persistence.Only(1, "wind"), persistence.Prev)
				Expect(err).NotTo(HaveOccurred())
				Expect(drain(ctx, cur)).To(Equal([]int64{5, 3, 1}))
			})

			It("should walk a leading-field prefix of a composite index", func() {
				cur, err := store.OpenCursor(ctx, "readings", "deviceId_sensorType", persistence.Prefix(1), persistence.Prev)
				Expect(err).NotTo(HaveOccurred())
				Expect(drain(ctx, cur)).To(Equal([]int64{5, 3, 1, 2}))

				cur, err = store.OpenCursor(ctx, "readings", "deviceId_sensorType", persistence.Prefix(1), persistence.Next)
				Expect(err).NotTo(HaveOccurred())
				Expect(drain(ctx, cur)).To(Equal([]int64{2, 1, 3, 5}))
			})

			It("should honour open and closed bounds", func() {
				r := persistence.Between(persistence.Key{150}, persistence.Key{300}, true, false)
				cur, err := store.OpenCursor(ctx, "readings", "timestamp", r, persistence.Next)
				Expect(err).NotTo(HaveOccurred())
				Expect(drain(ctx, cur)).To(Equal([]int64{3, 4, 5}))

				cur, err = store.OpenCursor(ctx, "readings", "timestamp", persistence.AtMost(persistence.Key{200}), persistence.Prev)
				Expect(err).NotTo(HaveOccurred())
				Expect(drain(ctx, cur)).To(Equal([]int64{3, 2, 1}))
			})

			It("should walk the primary key when no index is named", func() {
				cur, err := store.OpenCursor(ctx, "readings", "", persistence.AllKeys(), persistence.Prev)
				Expect(err).NotTo(HaveOccurred())
				Expect(drain(ctx, cur)).To(Equal([]int64{6, 5, 4, 3, 2, 1}))
			})

			It("should expose the index key of the current entry", func() {
				cur, err := store.OpenCursor(ctx, "readings", "deviceId_sensorType", persistence.Only(2, "wind"), persistence.Next)
				Expect(err).NotTo(HaveOccurred())
				defer func() { _ = cur.Close() }()

				Expect(cur.Next(ctx)).To(BeTrue())
				Expect(cur.Key()).To(Equal(persistence.Key{2.0, "wind"}))
				Expect(cur.Document()["value"]).To(BeNumerically("==", 4))
			})

			It("should stop early without visiting the rest", func() {
				cur, err := store.OpenCursor(ctx, "readings", "deviceId", persistence.Only(1), persistence.Prev)
				Expect(err).NotTo(HaveOccurred())
				Expect(cur.Next(ctx)).To(BeTrue())
				Expect(cur.ID()).To(Equal(int64(5)))
				Expect(cur.Close()).To(Succeed())
				Expect(cur.Next(ctx)).To(BeFalse())
			})

			It("should tolerate deleting the current record while iterating", func() {
				cur, err := store.OpenCursor(ctx, "readings", "deviceId", persistence.Only(1), persistence.Next)
				Expect(err).NotTo(HaveOccurred())

				deleted := 0
				for cur.Next(ctx) {
					Expect(store.Delete(ctx, "readings", cur.ID())).To(Succeed())
					deleted++
				}

				Expect(cur.Err()).NotTo(HaveOccurred())
				Expect(deleted).To(Equal(4))

				left, err := store.IndexLookup(ctx, "readings", "deviceId", persistence.Key{1})
				Expect(err).NotTo(HaveOccurred())
				Expect(left).To(BeEmpty())
			})

			It("should stop with the context error once cancelled", func() {
				cctx, cancel := context.WithCancel(ctx)
				cur, err := store.OpenCursor(cctx, "readings", "", persistence.AllKeys(), persistence.Next)
				Expect(err).NotTo(HaveOccurred())

				Expect(cur.Next(cctx)).To(BeTrue())
				cancel()
				Expect(cur.Next(cctx)).To(BeFalse())
				Expect(errors.Is(cur.Err(), context.Canceled)).To(BeTrue())
			})

			It("should reject ranges that do not fit the index", func() {
				_, err := store.OpenCursor(ctx, "readings", "deviceId", persistence.Only(1, "wind"), persistence.Prev)
				Expect(errors.Is(err, persistence.ErrValidation)).To(BeTrue())
			})
		})

		Context("range deletion", func() {
			It("should delete exactly the records in range", func() {
				store.Add(ctx, "readings", reading(1, "wind", 1, 100))
				store.Add(ctx, "readings", reading(2, "wind", 2, 200))
				store.Add(ctx, "readings", reading(1, "solar", 3, 300))

				n, err := store.DeleteRange(ctx, "readings", "deviceId", persistence.Only(1))
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(2))

				n, err = store.DeleteRange(ctx, "readings", "deviceId", persistence.Only(1))
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(0))

				left, _ := store.GetAll(ctx, "readings")
				Expect(left).To(HaveLen(1))
				Expect(left[0]["deviceId"]).To(BeNumerically("==", 2))
			})
		})

		Context("keyed collections", func() {
			It("should upsert, read and delete by key", func() {
				Expect(store.Put(ctx, "settings", "interval", persistence.Document{"value": 5000})).To(Succeed())
				Expect(store.Put(ctx, "settings", "interval", persistence.Document{"value": 1000})).To(Succeed())

				doc, err := store.GetByKey(ctx, "settings", "interval")
				Expect(err).NotTo(HaveOccurred())
				Expect(doc["key"]).To(Equal("interval"))
				Expect(doc["value"]).To(BeNumerically("==", 1000))

				Expect(store.DeleteByKey(ctx, "settings", "interval")).To(Succeed())
				Expect(store.DeleteByKey(ctx, "settings", "interval")).To(Succeed())

				_, err = store.GetByKey(ctx, "settings", "interval")
				Expect(errors.Is(err, persistence.ErrNotFound)).To(BeTrue())
			})

			It("should refuse identity operations on keyed collections", func() {
				_, err := store.Add(ctx, "settings", persistence.Document{"value": 1})
				Expect(errors.Is(err, persistence.ErrValidation)).To(BeTrue())

				err = store.Put(ctx, "readings", "x", persistence.Document{})
				Expect(errors.Is(err, persistence.ErrValidation)).To(BeTrue())
			})
		})

		Context("index management", func() {
			It("should back-fill indexes created after data exists", func() {
				store.Add(ctx, "readings", reading(1, "wind", 1, 100))
				store.Add(ctx, "readings", reading(1, "wind", 2, 200))

				idx := persistence.IndexSpec{Name: "value", Fields: []string{"value"}}
				Expect(store.CreateIndex(ctx, "readings", idx)).To(Succeed())

				docs, err := store.IndexLookup(ctx, "readings", "value", persistence.Key{2})
				Expect(err).NotTo(HaveOccurred())
				Expect(docs).To(HaveLen(1))

				err = store.CreateIndex(ctx, "readings", idx)
				Expect(errors.Is(err, persistence.ErrConflict)).To(BeTrue())
			})

			It("should enforce unique indexes", func() {
				Expect(store.CreateCollection(ctx, persistence.CollectionSpec{
					Name:    "devices",
					Indexes: []persistence.IndexSpec{{Name: "name", Fields: []string{"name"}, Unique: true}},
				})).To(Succeed())

				_, err := store.Add(ctx, "devices", persistence.Document{"name": "alpha"})
				Expect(err).NotTo(HaveOccurred())

				_, err = store.Add(ctx, "devices", persistence.Document{"name": "alpha"})
				Expect(errors.Is(err, persistence.ErrConflict)).To(BeTrue())
			})
		})

		Context("transactions", func() {
			It("should commit every change when the function succeeds", func() {
				err := store.RunInTx(ctx, func(tx persistence.Store) error {
					if _, err := tx.Add(ctx, "readings", reading(1, "wind", 1, 1)); err != nil {
						return err
					}

					return tx.Put(ctx, "settings", "a", persistence.Document{"value": true})
				})
				Expect(err).NotTo(HaveOccurred())

				n, _ := store.Count(ctx, "readings")
				Expect(n).To(Equal(1))
				_, err = store.GetByKey(ctx, "settings", "a")
				Expect(err).NotTo(HaveOccurred())
			})

			It("should discard every change when the function fails", func() {
				store.Add(ctx, "readings", reading(1, "wind", 1, 1))
				boom := errors.New("boom")

				err := store.RunInTx(ctx, func(tx persistence.Store) error {
					Expect(tx.Clear(ctx, "readings")).To(Succeed())
					_, err := tx.Add(ctx, "readings", reading(9, "wind", 9, 9))
					Expect(err).NotTo(HaveOccurred())
					Expect(tx.CreateIndex(ctx, "readings", persistence.IndexSpec{Name: "value", Fields: []string{"value"}})).To(Succeed())

					return boom
				})
				Expect(errors.Is(err, boom)).To(BeTrue())

				docs, _ := store.GetAll(ctx, "readings")
				Expect(docs).To(HaveLen(1))
				Expect(docs[0]["deviceId"]).To(BeNumerically("==", 1))

				_, err = store.IndexLookup(ctx, "readings", "value", persistence.Key{1})
				Expect(errors.Is(err, persistence.ErrUnknownIndex)).To(BeTrue())
			})

			It("should see its own writes through cursors", func() {
				err := store.RunInTx(ctx, func(tx persistence.Store) error {
					tx.Add(ctx, "readings", reading(1, "wind", 1, 1))
					tx.Add(ctx, "readings", reading(1, "wind", 2, 2))

					cur, err := tx.OpenCursor(ctx, "readings", "deviceId", persistence.Only(1), persistence.Prev)
					if err != nil {
						return err
					}

					Expect(drain(ctx, cur)).To(Equal([]int64{2, 1}))

					return nil
				})
				Expect(err).NotTo(HaveOccurred())
			})
		})

		Context("closing", func() {
			It("should fail every operation after close", func() {
				Expect(store.Close(ctx)).To(Succeed())

				_, err := store.Add(ctx, "readings", reading(1, "wind", 1, 1))
				Expect(errors.Is(err, persistence.ErrClosed)).To(BeTrue())
				Expect(errors.Is(err, persistence.ErrStorageFault)).To(BeTrue())
			})
		})
	})
}
