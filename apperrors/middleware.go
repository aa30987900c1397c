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
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Middleware renders *Error values returned by handlers and counts them by
// type on errorsTotal, which may be nil. *echo.HTTPError values, such as route
// misses and bind failures, are counted and handed back to Echo unchanged.
func Middleware(logger *logrus.Logger, errorsTotal *prometheus.CounterVec) echo.MiddlewareFunc {
	count := func(t ErrorType) {
		if errorsTotal != nil {
			errorsTotal.WithLabelValues(string(t)).Inc()
		}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				count(typeForStatus(httpErr.Code))
				return err
			}

			apiErr := From(err)
			count(apiErr.Type)
			logError(logger, c, apiErr)

			if c.Response().Committed {
				return nil
			}
			if err := c.JSON(apiErr.HTTPStatus(), apiErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

func typeForStatus(code int) ErrorType {
	switch {
	case code == http.StatusBadRequest:
		return TypeValidation
	case code == http.StatusNotFound, code == http.StatusMethodNotAllowed:
		return TypeNotFound
	case code == http.StatusConflict:
		return TypeConflict
	case code == http.StatusServiceUnavailable:
		return TypeUnavailable
	case code < http.StatusInternalServerError:
		return TypeValidation
	default:
		return TypeInternal
	}
}

func logError(logger *logrus.Logger, c echo.Context, err *Error) {
	if logger == nil {
		return
	}
	fields := logrus.Fields{
		"error_type": err.Type,
		"req_uri":    c.Request().URL.Path,
		"req_method": c.Request().Method,
		"status":     err.HTTPStatus(),
	}
	for k, v := range err.Fields {
		fields[k] = v
	}
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		fields["request_id"] = id
	}
	if err.Cause != nil {
		fields["cause"] = err.Cause.Error()
	}

	entry := logger.WithFields(fields)
	switch err.Type {
	case TypeValidation, TypeNotFound:
		entry.Info(err.Message)
	case TypeConflict, TypeUnavailable:
		entry.Warn(err.Message)
	default:
		entry.Error(err.Message)
	}
}
