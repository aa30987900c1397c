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
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
)

type baseRepositoryImpl[T any] struct {
	db      *bun.DB
	timeout time.Duration
}

// NewRepository returns a generic repository backed by the provided Bun DB.
func NewRepository[T any](db *bun.DB, opts ...Option) Repository[T] {
	o := options{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &baseRepositoryImpl[T]{db: db, timeout: o.timeout}
}

func (r *baseRepositoryImpl[T]) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *baseRepositoryImpl[T]) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.db.RunInTx(ctx, nil, fn)
}

func (r *baseRepositoryImpl[T]) GetOne(ctx context.Context, id any) (*T, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	entity := new(T)
	err := r.db.NewSelect().Model(entity).Where("?TableAlias.id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entity, nil
}

func (r *baseRepositoryImpl[T]) GetAll(ctx context.Context, orders ...string) ([]*T, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	entities := make([]*T, 0)
	query := r.db.NewSelect().Model(&entities)
	if len(orders) > 0 {
		query = query.Order(orders...)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T]) Count(ctx context.Context) (int, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.db.NewSelect().Model((*T)(nil)).Count(ctx)
}

func (r *baseRepositoryImpl[T]) Create(ctx context.Context, entity *T) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	_, err := r.db.NewInsert().Model(entity).Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) Update(ctx context.Context, entity *T, columns ...string) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	query := r.db.NewUpdate().Model(entity).WherePK()
	if len(columns) > 0 {
		query = query.Column(columns...)
	}
	res, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *baseRepositoryImpl[T]) Delete(ctx context.Context, id any) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	res, err := r.db.NewDelete().Model((*T)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
