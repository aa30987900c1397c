/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/bun"
)

// ErrNotFound is returned when the addressed row does not exist.
var ErrNotFound = errors.New("entity not found")

// DefaultTimeout bounds every repository call whose context has no earlier deadline.
const DefaultTimeout = 5 * time.Second

// CrudRepository defines basic CRUD operations for a generic entity type.
// Entities are addressed by their "id" column.
type CrudRepository[T any] interface {
	GetOne(ctx context.Context, id any) (*T, error)

	GetAll(ctx context.Context, orders ...string) ([]*T, error)

	Count(ctx context.Context) (int, error)

	Create(ctx context.Context, entity *T) error

	// Update writes entity by primary key. With columns given only those
	// columns are written.
	Update(ctx context.Context, entity *T, columns ...string) error

	Delete(ctx context.Context, id any) error
}

// Repository is a CrudRepository that can also run work in a transaction.
type Repository[T any] interface {
	CrudRepository[T]
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error
}

// Option configures a repository.
type Option func(*options)

type options struct {
	timeout time.Duration
}

// WithTimeout sets the per-call timeout. Zero or negative disables it.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}
