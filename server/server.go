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

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tomoncle/userhub/apperrors"
	"github.com/tomoncle/userhub/database"
	"github.com/tomoncle/userhub/metrics"
	"github.com/tomoncle/userhub/repository"
	"github.com/tomoncle/userhub/users"
	"github.com/tomoncle/userhub/utils"
)

const readinessProbeTimeout = 5 * time.Second

var healthBody = []byte(`{"status":"ok"}`)

// HealthCheck is a named readiness check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options tunes the application. The zero value is usable.
type Options struct {
	// QueryTimeout bounds every repository call. Zero uses the repository default.
	QueryTimeout time.Duration
	// Registry receives the HTTP metrics. A fresh registry is created when nil.
	Registry *prometheus.Registry
	Logger   *logrus.Logger
}

// Server is the composed Echo application.
type Server struct {
	echo         *echo.Echo
	logger       *logrus.Logger
	registry     *prometheus.Registry
	healthChecks []HealthCheck
}

// New builds the application on top of an already connected and synced
// database manager.
func New(manager database.AbstractDatabaseManager, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = utils.NewLogger("server")
	}
	if opts.Registry == nil {
		opts.Registry = metrics.NewRegistry()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		logger:   opts.Logger,
		registry: opts.Registry,
		healthChecks: []HealthCheck{
			{Name: "database", Check: databaseCheck(manager)},
		},
	}

	httpMetrics := metrics.NewHTTPMetrics(opts.Registry)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger())
	e.Use(httpMetrics.Middleware())
	e.Use(apperrors.Middleware(opts.Logger, httpMetrics.ErrorsTotal))

	e.Any("/health", s.handleHealth)
	e.GET("/health/ready", s.handleReadiness)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(opts.Registry)))

	var repoOpts []repository.Option
	if opts.QueryTimeout > 0 {
		repoOpts = append(repoOpts, repository.WithTimeout(opts.QueryTimeout))
	}
	repo := repository.NewRepository[users.User](manager.GetDB(), repoOpts...)
	users.NewHandler(users.NewService(repo)).Register(e.Group("/api/users"))

	return s
}

// Handler returns the application as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"req_method":   v.Method,
				"req_uri":      v.URI,
				"status_code":  v.Status,
				"latency_time": v.Latency.Round(time.Microsecond).String(),
				"client_ip":    v.RemoteIP,
			}
			if v.RequestID != "" {
				fields["request_id"] = v.RequestID
			}
			if v.Error != nil {
				fields["error"] = v.Error
			}
			s.logger.WithFields(fields).Info("Request")
			return nil
		},
	})
}
