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

package persistence_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence/memory"
)

type sample struct {
	Name  string   `json:"name"`
	Tags  []string `json:"tags,omitempty"`
	ID    int64    `json:"id"`
	Value float64  `json:"value"`
}

var _ = Describe("Collection", func() {
	var (
		ctx     context.Context
		samples *persistence.Collection[sample]
	)

	BeforeEach(func() {
		ctx = context.Background()
		store := memory.NewStore()
		Expect(store.CreateCollection(ctx, persistence.CollectionSpec{
			Name: "samples",
			Indexes: []persistence.IndexSpec{
				{Name: "name", Fields: []string{"name"}},
				{Name: "name_value", Fields: []string{"name", "value"}},
			},
		})).To(Succeed())

		samples = persistence.NewCollection[sample](store, "samples")
	})

	It("should round-trip typed records including the identity", func() {
		id, err := samples.Add(ctx, sample{Name: "a", Value: 1.5, Tags: []string{"x"}})
		Expect(err).NotTo(HaveOccurred())

		got, err := samples.Get(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(sample{ID: id, Name: "a", Value: 1.5, Tags: []string{"x"}}))
	})

	It("should pass through store errors", func() {
		_, err := samples.Get(ctx, 99)
		Expect(errors.Is(err, persistence.ErrNotFound)).To(BeTrue())
	})

	It("should look up by composite index", func() {
		samples.Add(ctx, sample{Name: "a", Value: 1})
		samples.Add(ctx, sample{Name: "a", Value: 2})

		got, err := samples.IndexLookup(ctx, "name_value", "a", 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
		Expect(got[0].Value).To(Equal(2.0))
	})

	It("should decode while scanning", func() {
		samples.Add(ctx, sample{Name: "a", Value: 1})
		samples.Add(ctx, sample{Name: "a", Value: 2})
		samples.Add(ctx, sample{Name: "b", Value: 3})

		cur, err := samples.Cursor(ctx, "name", persistence.Only("a"), persistence.Prev)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = cur.Close() }()

		var values []float64
		for cur.Next(ctx) {
			values = append(values, cur.Value().Value)
		}

		Expect(cur.Err()).NotTo(HaveOccurred())
		Expect(values).To(Equal([]float64{2, 1}))
	})

	It("should report unencodable values as storage faults", func() {
		_, err := persistence.Encode(map[string]interface{}{"ch": make(chan int)})
		Expect(errors.Is(err, persistence.ErrStorageFault)).To(BeTrue())
	})
})
