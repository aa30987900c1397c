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
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type note struct {
	bun.BaseModel `bun:"table:notes,alias:n"`

	ID    int64  `bun:"id,pk,autoincrement"`
	Title string `bun:"title,notnull"`
	Body  string `bun:"body"`
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	sqlDB, err := sql.Open(sqliteshim.ShimName, fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	db := bun.NewDB(sqlDB, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.NewCreateTable().Model((*note)(nil)).Exec(context.Background())
	require.NoError(t, err)
	return db
}

func TestRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository[note](newTestDB(t))

	first := &note{Title: "first", Body: "a"}
	require.NoError(t, repo.Create(ctx, first))
	require.NotZero(t, first.ID)
	require.NoError(t, repo.Create(ctx, &note{Title: "second"}))

	got, err := repo.GetOne(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Title)

	all, err := repo.GetAll(ctx, "id DESC")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "second", all[0].Title)

	got.Title = "renamed"
	got.Body = "ignored"
	require.NoError(t, repo.Update(ctx, got, "title"))
	reloaded, err := repo.GetOne(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", reloaded.Title)
	assert.Equal(t, "a", reloaded.Body)

	require.NoError(t, repo.Delete(ctx, first.ID))
	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRepositoryNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository[note](newTestDB(t))

	_, err := repo.GetOne(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Update(ctx, &note{ID: 42, Title: "x"}), ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, 42), ErrNotFound)
}

func TestRepositoryGetAllEmptyIsNotNil(t *testing.T) {
	all, err := NewRepository[note](newTestDB(t)).GetAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestRepositoryTimeout(t *testing.T) {
	repo := NewRepository[note](newTestDB(t), WithTimeout(time.Nanosecond))
	time.Sleep(time.Millisecond)

	_, err := repo.GetAll(context.Background())
	assert.Error(t, err)
}

func TestRepositoryRunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository[note](newTestDB(t))

	err := repo.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&note{Title: "tx"}).Exec(ctx); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.EqualError(t, err, "abort")

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
