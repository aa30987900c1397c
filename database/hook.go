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

package database

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
)

var operationColors = map[string]*color.Color{
	"SELECT": color.New(color.FgGreen),
	"INSERT": color.New(color.FgBlue),
	"UPDATE": color.New(color.FgYellow),
	"DELETE": color.New(color.FgMagenta),
}

var (
	otherOperationColor = color.New(color.FgRed)
	errorHighlight      = color.New(color.BgRed, color.FgWhite)
)

func colorQuery(event *bun.QueryEvent) string {
	c, ok := operationColors[event.Operation()]
	if !ok {
		c = otherOperationColor
	}
	return c.Sprint(event.Query)
}

// queryLogHook reports failed and slow queries through the database logger.
// sql.ErrNoRows is an expected outcome and is not reported.
type queryLogHook struct {
	logger   Logger
	slowTime time.Duration
}

var _ bun.QueryHook = (*queryLogHook)(nil)

func newQueryLogHook(logger Logger, slowTime time.Duration) *queryLogHook {
	if logger == nil {
		logger = nopLogger{}
	}
	return &queryLogHook{logger: logger, slowTime: slowTime}
}

func (h *queryLogHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *queryLogHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	duration := time.Since(event.StartTime)

	if event.Err != nil {
		if errors.Is(event.Err, sql.ErrNoRows) || errors.Is(event.Err, sql.ErrTxDone) {
			return
		}
		typ := reflect.TypeOf(event.Err).String()
		h.logger.Warn("Database query failed",
			"duration", duration.Round(time.Microsecond),
			"query", colorQuery(event),
			"error", errorHighlight.Sprintf(" %s: %s ", typ, event.Err.Error()),
		)
		return
	}

	if h.slowTime > 0 && duration > h.slowTime {
		h.logger.Warn("Database slow query detected",
			"duration", duration.Round(time.Microsecond),
			"slow_threshold", h.slowTime,
			"query", colorQuery(event),
		)
	}
}
