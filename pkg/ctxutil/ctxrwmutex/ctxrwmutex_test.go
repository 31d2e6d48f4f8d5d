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

package ctxrwmutex_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/edgenode-hub/edgenode-core/pkg/ctxutil/ctxrwmutex"
)

func TestCtxRWMutex(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "CtxRWMutex Suite")
}

var _ = Describe("CtxRWMutex", func() {
	var (
		ctx context.Context
		mu  *ctxrwmutex.CtxRWMutex
	)

	BeforeEach(func() {
		ctx = context.Background()
		mu = ctxrwmutex.NewCtxRWMutex(4)
	})

	It("should admit several readers at once", func() {
		Expect(mu.RLock(ctx)).To(Succeed())
		Expect(mu.RLock(ctx)).To(Succeed())
		mu.RUnlock()
		mu.RUnlock()
	})

	It("should keep writers out while a reader holds the lock", func() {
		Expect(mu.RLock(ctx)).To(Succeed())
		Expect(mu.TryLock()).To(BeFalse())

		mu.RUnlock()
		Expect(mu.TryLock()).To(BeTrue())
		mu.Unlock()
	})

	It("should give up waiting when the context expires", func() {
		Expect(mu.Lock(ctx)).To(Succeed())
		defer mu.Unlock()

		short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		Expect(mu.RLock(short)).To(MatchError(context.DeadlineExceeded))
	})

	It("should fall back to the default reader count", func() {
		m := ctxrwmutex.NewCtxRWMutex(0)
		for range ctxrwmutex.DefaultReaders {
			Expect(m.RLock(ctx)).To(Succeed())
		}

		Expect(m.TryLock()).To(BeFalse())
	})
})
