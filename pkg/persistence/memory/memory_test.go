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

package memory_test

import (
	"context"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence/memory"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence/storetest"
)

func TestMemoryStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "MemoryStore Suite")
}

var _ = storetest.DescribeContract("memory", func() persistence.Store {
	return memory.NewStore()
})

var _ = Describe("MemoryStore", func() {
	var (
		ctx   context.Context
		store *memory.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = memory.NewStore()
		Expect(store.CreateCollection(ctx, persistence.CollectionSpec{
			Name:    "devices",
			Indexes: []persistence.IndexSpec{{Name: "name", Fields: []string{"name"}}},
		})).To(Succeed())
	})

	It("should restore the previous state when a transaction panics", func() {
		_, err := store.Add(ctx, "devices", persistence.Document{"name": "alpha"})
		Expect(err).NotTo(HaveOccurred())

		Expect(func() {
			_ = store.RunInTx(ctx, func(tx persistence.Store) error {
				_ = tx.Clear(ctx, "devices")

				panic("boom")
			})
		}).To(PanicWith("boom"))

		n, err := store.Count(ctx, "devices")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
	})

	It("should reject a nil context", func() {
		//nolint:staticcheck // exercising the nil guard
		_, err := store.Get(nil, "devices", 1)
		Expect(err).To(MatchError(ContainSubstring("context cannot be nil")))
	})

	It("should keep identities unique under concurrent writers", func() {
		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			ids = make(map[int64]bool)
		)

		for range 8 {
			wg.Add(1)

			go func() {
				defer GinkgoRecover()
				defer wg.Done()

				for range 25 {
					id, err := store.Add(ctx, "devices", persistence.Document{"name": "n"})
					Expect(err).NotTo(HaveOccurred())

					mu.Lock()
					Expect(ids[id]).To(BeFalse())
					ids[id] = true
					mu.Unlock()
				}
			}()
		}

		wg.Wait()
		Expect(ids).To(HaveLen(200))
	})

	It("should not block writers while a cursor is open", func() {
		for range 3 {
			_, err := store.Add(ctx, "devices", persistence.Document{"name": "n"})
			Expect(err).NotTo(HaveOccurred())
		}

		cur, err := store.OpenCursor(ctx, "devices", "name", persistence.Only("n"), persistence.Next)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = cur.Close() }()

		Expect(cur.Next(ctx)).To(BeTrue())

		id, err := store.Add(ctx, "devices", persistence.Document{"name": "n"})
		Expect(err).NotTo(HaveOccurred())

		var seen []int64
		for cur.Next(ctx) {
			seen = append(seen, cur.ID())
		}

		Expect(seen).To(Equal([]int64{2, 3, id}))
	})
})
