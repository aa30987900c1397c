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

package users

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/userhub/apperrors"
	"github.com/tomoncle/userhub/database"
	"github.com/tomoncle/userhub/repository"
)

type testEnv struct {
	e       *echo.Echo
	manager database.AbstractDatabaseManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := database.DefaultConfig()
	cfg.ConnectionConfig.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	dm := database.NewDatabaseManager(cfg, database.NewModelRegistry(Model()))
	dm.SetLogger(database.NewLogger(quiet))
	require.NoError(t, dm.Connect(context.Background()))
	t.Cleanup(func() { _ = dm.Disconnect() })
	require.NoError(t, dm.SyncSchema(context.Background(), database.SyncRecreate))

	e := echo.New()
	e.Use(apperrors.Middleware(quiet, nil))
	NewHandler(NewService(repository.NewRepository[User](dm.GetDB()))).Register(e.Group("/api/users"))
	return &testEnv{e: e, manager: dm}
}

func (env *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decodeUser(t *testing.T, rec *httptest.ResponseRecorder) User {
	t.Helper()
	var u User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	return u
}

func TestUsersCRUDRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/users", `{"name":"Ada","email":"ada@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeUser(t, rec)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "Ada", created.Name)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Contains(t, rec.Body.String(), `"createdAt"`)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d", created.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada@example.com", decodeUser(t, rec).Email)

	rec = env.do(t, http.MethodPut, fmt.Sprintf("/api/users/%d", created.ID), `{"name":"Ada L."}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeUser(t, rec)
	assert.Equal(t, "Ada L.", updated.Name)
	assert.Equal(t, "ada@example.com", updated.Email)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/users/%d", created.ID), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d", created.ID), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsersListOrderedByID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	for _, name := range []string{"c", "a", "b"} {
		rec := env.do(t, http.MethodPost, "/api/users", fmt.Sprintf(`{"name":%q,"email":"%s@example.com"}`, name, name))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{list[0].Name, list[1].Name, list[2].Name})
	assert.Less(t, list[0].ID, list[1].ID)
	assert.Less(t, list[1].ID, list[2].ID)
}

func TestUsersDuplicateEmailConflict(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/users", `{"name":"a","email":"dup@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/users", `{"name":"b","email":"dup@example.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"email already exists","type":"conflict"}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/users", `{"name":"c","email":"other@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	other := decodeUser(t, rec)

	rec = env.do(t, http.MethodPut, fmt.Sprintf("/api/users/%d", other.ID), `{"email":"dup@example.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUsersBadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed create body", http.MethodPost, "/api/users", `{"name":`, http.StatusBadRequest},
		{"non numeric id", http.MethodGet, "/api/users/abc", "", http.StatusBadRequest},
		{"zero id", http.MethodDelete, "/api/users/0", "", http.StatusBadRequest},
		{"malformed update body", http.MethodPut, "/api/users/1", `[1,2`, http.StatusBadRequest},
		{"missing user", http.MethodGet, "/api/users/999", "", http.StatusNotFound},
		{"update missing user", http.MethodPut, "/api/users/999", `{"name":"x"}`, http.StatusNotFound},
		{"delete missing user", http.MethodDelete, "/api/users/999", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestUsersRequiredFields(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{`{}`, `{"name":"a"}`, `{"email":"a@example.com"}`} {
		rec := env.do(t, http.MethodPost, "/api/users", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.JSONEq(t, `{"error":"name and email are required","type":"validation"}`, rec.Body.String(), body)
	}

	rec := env.do(t, http.MethodPost, "/api/users", `{"name":"a","email":"a@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeUser(t, rec)

	rec = env.do(t, http.MethodPut, fmt.Sprintf("/api/users/%d", created.ID), `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/users", "")
	var list []User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].Name)
}

func TestUsersDatabaseUnavailable(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.manager.GetSQLDB().Close())

	rec := env.do(t, http.MethodGet, "/api/users", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"failed to list users","type":"internal"}`, rec.Body.String())
}
