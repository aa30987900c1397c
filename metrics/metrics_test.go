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

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEcho(m *HTTPMetrics) *echo.Echo {
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/api/users/:id", func(c echo.Context) error { return c.String(http.StatusOK, c.Param("id")) })
	e.GET("/boom", func(c echo.Context) error { return echo.NewHTTPError(http.StatusBadRequest, "bad") })
	return e
}

func serve(e *echo.Echo, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	reg := NewRegistry()
	m := NewHTTPMetrics(reg)
	e := newTestEcho(m)

	serve(e, "/api/users/1")
	serve(e, "/api/users/2")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodGet, "/api/users/:id", "200")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlightGauge))
}

func TestMiddlewareRecordsErrorStatus(t *testing.T) {
	m := NewHTTPMetrics(NewRegistry())
	e := newTestEcho(m)

	rec := serve(e, "/boom")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodGet, "/boom", "400")))
}

func TestMiddlewarePassesErrorsOn(t *testing.T) {
	m := NewHTTPMetrics(NewRegistry())
	var seen error
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			seen = next(c)
			return seen
		}
	})
	e.Use(m.Middleware())
	e.GET("/boom", func(c echo.Context) error { return echo.NewHTTPError(http.StatusBadRequest, "bad") })

	rec := serve(e, "/boom")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":"bad"}`, rec.Body.String())
	var httpErr *echo.HTTPError
	require.ErrorAs(t, seen, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestMiddlewareSkipsHealth(t *testing.T) {
	m := NewHTTPMetrics(NewRegistry())
	e := newTestEcho(m)

	serve(e, "/health")

	assert.Equal(t, 0, testutil.CollectAndCount(m.RequestsTotal))
}

func TestHandlerExposesRegistry(t *testing.T) {
	reg := NewRegistry()
	m := NewHTTPMetrics(reg)
	m.ErrorsTotal.WithLabelValues("conflict").Inc()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `userhub_api_errors_total{type="conflict"} 1`))
	assert.Contains(t, string(body), "go_goroutines")
}
