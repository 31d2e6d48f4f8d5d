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

package storetest

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence/memory"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence/sqlite"
)

// Backend names a store implementation that domain suites run against.
type Backend struct {
	Factory Factory
	Name    string
}

// Backends returns every store implementation. The SQLite factory must be
// called from inside a spec: it places the database in GinkgoT().TempDir()
// and closes it when the spec ends.
func Backends() []Backend {
	return []Backend{
		{Name: "memory", Factory: func() persistence.Store { return memory.NewStore() }},
		{Name: "sqlite", Factory: func() persistence.Store {
			store, err := sqlite.Open(context.Background(), filepath.Join(GinkgoT().TempDir(), "edgenode.db"), sqlite.Options{})
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(func() { _ = store.Close(context.Background()) })

			return store
		}},
	}
}
