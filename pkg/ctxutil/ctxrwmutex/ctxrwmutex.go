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

package ctxrwmutex

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultReaders is the number of readers admitted at the same time when
// NewCtxRWMutex is given a non-positive limit.
const DefaultReaders = 100

// CtxRWMutex is a reader/writer lock whose acquisition honours context
// cancellation.
//
// It is a weighted semaphore of size readers: a reader takes one unit, a
// writer takes all of them. Writers therefore wait for every reader to leave
// and block new readers while they hold the lock.
type CtxRWMutex struct {
	sem     *semaphore.Weighted
	readers int64
}

func NewCtxRWMutex(readers int64) *CtxRWMutex {
	if readers <= 0 {
		readers = DefaultReaders
	}

	return &CtxRWMutex{
		sem:     semaphore.NewWeighted(readers),
		readers: readers,
	}
}

// RLock locks the mutex for reading.
func (m *CtxRWMutex) RLock(ctx context.Context) error {
	return m.sem.Acquire(ctx, 1)
}

// RUnlock unlocks the mutex for reading.
func (m *CtxRWMutex) RUnlock() {
	m.sem.Release(1)
}

// Lock locks the mutex for writing.
func (m *CtxRWMutex) Lock(ctx context.Context) error {
	return m.sem.Acquire(ctx, m.readers)
}

// TryLock locks the mutex for writing if that is possible without waiting.
func (m *CtxRWMutex) TryLock() bool {
	return m.sem.TryAcquire(m.readers)
}

// Unlock unlocks the mutex for writing.
func (m *CtxRWMutex) Unlock() {
	m.sem.Release(m.readers)
}
