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

// Package datastore owns the record store of a running node. A Handle gates
// every operation on schema readiness and serializes access: many readers or
// one writer at a time, acquired with context cancellation.
package datastore

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/edgenode-hub/edgenode-core/pkg/ctxutil/ctxrwmutex"
	"github.com/edgenode-hub/edgenode-core/pkg/metrics"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/edgenode-hub/edgenode-core/pkg/schema"
)

// Accessor runs functions against a store with the right isolation.
//
// View admits concurrent readers. Update runs one writer exclusively; the
// individual writes inside are not atomic as a group. Transaction runs one
// writer exclusively inside a store transaction.
type Accessor interface {
	View(ctx context.Context, fn func(s persistence.Store) error) error
	Update(ctx context.Context, fn func(s persistence.Store) error) error
	Transaction(ctx context.Context, fn func(tx persistence.Store) error) error
}

// Handle is the Accessor of a live store.
type Handle struct {
	store   persistence.Store
	mu      *ctxrwmutex.CtxRWMutex
	schema  *schema.Manager
	log     *zap.SugaredLogger
	ready   atomic.Bool
	readers int64
}

var _ Accessor = (*Handle)(nil)

type Option func(*Handle)

// WithSchema replaces the schema manager used by Init.
func WithSchema(m *schema.Manager) Option {
	return func(h *Handle) {
		h.schema = m
	}
}

// WithReaders bounds the number of concurrent readers.
func WithReaders(n int64) Option {
	return func(h *Handle) {
		h.readers = n
	}
}

func New(store persistence.Store, log *zap.SugaredLogger, opts ...Option) *Handle {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	h := &Handle{store: store, log: log}
	for _, opt := range opts {
		opt(h)
	}

	if h.schema == nil {
		h.schema = schema.NewManager(store, log)
	}

	h.mu = ctxrwmutex.NewCtxRWMutex(h.readers)

	return h
}

// Init upgrades the schema and opens the gate. Calling Init on a ready
// handle is a no-op.
func (h *Handle) Init(ctx context.Context) error {
	if err := h.mu.Lock(ctx); err != nil {
		return err
	}
	defer h.mu.Unlock()

	if h.ready.Load() {
		return nil
	}

	if err := h.schema.Init(ctx); err != nil {
		metrics.IncErrorCount(metrics.ComponentSchema)

		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	h.ready.Store(true)
	metrics.SetStoreReady(true)

	return nil
}

// Ready reports whether Init completed and the handle is not closed.
func (h *Handle) Ready() bool {
	return h.ready.Load()
}

// SchemaVersion returns the stored structural version.
func (h *Handle) SchemaVersion(ctx context.Context) (int, error) {
	var version int

	err := h.View(ctx, func(s persistence.Store) error {
		var err error
		version, err = s.SchemaVersion(ctx)

		return err
	})

	return version, err
}

func (h *Handle) View(ctx context.Context, fn func(s persistence.Store) error) error {
	if err := h.mu.RLock(ctx); err != nil {
		return err
	}
	defer h.mu.RUnlock()

	if !h.ready.Load() {
		return persistence.ErrNotReady
	}

	return fn(h.store)
}

func (h *Handle) Update(ctx context.Context, fn func(s persistence.Store) error) error {
	if err := h.mu.Lock(ctx); err != nil {
		return err
	}
	defer h.mu.Unlock()

	if !h.ready.Load() {
		return persistence.ErrNotReady
	}

	return fn(h.store)
}

func (h *Handle) Transaction(ctx context.Context, fn func(tx persistence.Store) error) error {
	if err := h.mu.Lock(ctx); err != nil {
		return err
	}
	defer h.mu.Unlock()

	if !h.ready.Load() {
		return persistence.ErrNotReady
	}

	return h.store.RunInTx(ctx, fn)
}

// Close closes the gate, waits for running operations and closes the store.
func (h *Handle) Close(ctx context.Context) error {
	if err := h.mu.Lock(ctx); err != nil {
		return err
	}
	defer h.mu.Unlock()

	h.ready.Store(false)
	metrics.SetStoreReady(false)

	return h.store.Close(ctx)
}

// Bound returns an Accessor that runs every function directly against tx.
// It lets code written against an Accessor join a transaction that is
// already holding the handle's write lock.
func Bound(tx persistence.Store) Accessor {
	return bound{tx: tx}
}

type bound struct {
	tx persistence.Store
}

func (b bound) View(_ context.Context, fn func(s persistence.Store) error) error {
	return fn(b.tx)
}

func (b bound) Update(_ context.Context, fn func(s persistence.Store) error) error {
	return fn(b.tx)
}

func (b bound) Transaction(ctx context.Context, fn func(tx persistence.Store) error) error {
	return b.tx.RunInTx(ctx, fn)
}
