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

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/edgenode-hub/edgenode-core/pkg/datastore"
	"github.com/edgenode-hub/edgenode-core/pkg/models"
	"github.com/edgenode-hub/edgenode-core/pkg/persistence"
	"github.com/edgenode-hub/edgenode-core/pkg/schema"
)

type SettingsRepository struct {
	acc datastore.Accessor
	opt options
}

func NewSettingsRepository(acc datastore.Accessor, opts ...Option) *SettingsRepository {
	return &SettingsRepository{acc: acc, opt: newOptions(opts)}
}

// Bind returns a copy of the repository that runs against tx.
func (r *SettingsRepository) Bind(tx persistence.Store) *SettingsRepository {
	return &SettingsRepository{acc: datastore.Bound(tx), opt: r.opt}
}

func settings(s persistence.Store) *persistence.Collection[models.Setting] {
	return persistence.NewCollection[models.Setting](s, schema.Settings)
}

// Get returns the value stored under key. found is false for an unknown key.
func (r *SettingsRepository) Get(ctx context.Context, key string) (value interface{}, found bool, err error) {
	if err := models.ValidateSettingKey(key); err != nil {
		return nil, false, err
	}

	err = r.acc.View(ctx, func(s persistence.Store) error {
		setting, err := settings(s).GetByKey(ctx, key)
		if errors.Is(err, persistence.ErrNotFound) {
			return nil
		}

		if err != nil {
			return err
		}

		value, found = setting.Value, true

		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("setting %q: %w", key, err)
	}

	return value, found, nil
}

// Decode unmarshals the value stored under key into dest.
func (r *SettingsRepository) Decode(ctx context.Context, key string, dest interface{}) (bool, error) {
	value, found, err := r.Get(ctx, key)
	if err != nil || !found {
		return found, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return true, fmt.Errorf("setting %q: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return true, fmt.Errorf("%w: setting %q: %w", persistence.ErrValidation, key, err)
	}

	return true, nil
}

// Set inserts or replaces the value stored under key.
func (r *SettingsRepository) Set(ctx context.Context, key string, value interface{}) error {
	if err := models.ValidateSettingKey(key); err != nil {
		return err
	}

	err := r.acc.Update(ctx, func(s persistence.Store) error {
		return settings(s).Put(ctx, key, models.Setting{Key: key, Value: value})
	})
	if err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}

	return nil
}

// Delete removes key. Deleting an unknown key succeeds.
func (r *SettingsRepository) Delete(ctx context.Context, key string) error {
	if err := models.ValidateSettingKey(key); err != nil {
		return err
	}

	err := r.acc.Update(ctx, func(s persistence.Store) error {
		return settings(s).DeleteByKey(ctx, key)
	})
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}

	return nil
}

// GetAll returns every setting as a map.
func (r *SettingsRepository) GetAll(ctx context.Context) (map[string]interface{}, error) {
	out := make(map[string]interface{})

	err := r.acc.View(ctx, func(s persistence.Store) error {
		all, err := settings(s).GetAll(ctx)
		if err != nil {
			return err
		}

		for _, setting := range all {
			out[setting.Key] = setting.Value
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}
