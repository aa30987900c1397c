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

package apperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_errors_total"}, []string{"type"})
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, Validation("x").HTTPStatus())
	assert.Equal(t, http.StatusNotFound, NotFound("x").HTTPStatus())
	assert.Equal(t, http.StatusConflict, Conflict("x", nil).HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, Unavailable("x", nil).HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, Internal("x", nil).HTTPStatus())
}

func TestFromKeepsTypedErrorsAndWrapsOthers(t *testing.T) {
	assert.Nil(t, From(nil))

	typed := NotFound("user not found")
	assert.Same(t, typed, From(fmt.Errorf("lookup: %w", typed)))

	cause := errors.New("disk on fire")
	wrapped := From(cause)
	assert.Equal(t, TypeInternal, wrapped.Type)
	assert.Equal(t, "internal server error", wrapped.Message)
	assert.ErrorIs(t, wrapped, cause)
}

func TestMiddlewareRendersTypedError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/users", nil), rec)
	counter := newCounter()

	handler := Middleware(quietLogger(), counter)(func(c echo.Context) error {
		return Conflict("email already exists", errors.New("UNIQUE constraint failed")).With("email", "a@b.c")
	})

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "email already exists", resp.Error)
	assert.Equal(t, TypeConflict, resp.Type)
	assert.NotContains(t, rec.Body.String(), "UNIQUE")
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("conflict")))
}

func TestMiddlewareHidesPlainErrors(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	handler := Middleware(quietLogger(), nil)(func(c echo.Context) error {
		return errors.New("password=hunter2")
	})

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestMiddlewarePassesEchoErrorsThrough(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/nope", nil), httptest.NewRecorder())
	counter := newCounter()

	handler := Middleware(quietLogger(), counter)(func(c echo.Context) error {
		return echo.ErrNotFound
	})

	err := handler(c)
	assert.Same(t, echo.ErrNotFound, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues("not_found")))
}
