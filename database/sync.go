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
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
)

// ErrDestructiveSyncRefused is returned when recreate is requested in production.
var ErrDestructiveSyncRefused = errors.New("recreate schema sync is refused in production")

// syncSchema runs mode against the models in registry.
func syncSchema(ctx context.Context, db *bun.DB, registry ModelRegistry, mode SyncMode, config DataMigrateConfig, logger Logger) error {
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	switch mode {
	case SyncNone:
		logger.Info("Schema sync skipped", "mode", mode)
		return nil
	case SyncRecreate:
		if strings.EqualFold(strings.TrimSpace(config.Environment), EnvProduction) {
			return ErrDestructiveSyncRefused
		}
		return recreateTables(ctx, db, registry, logger)
	case SyncMigrate:
		return NewMigrationManager(db, registry, config, logger).RunMigrations(ctx)
	default:
		return fmt.Errorf("unsupported schema sync mode: %q", mode)
	}
}

// recreateTables drops every registered table in reverse priority order and
// creates them again in priority order. Existing rows are lost.
func recreateTables(ctx context.Context, db *bun.DB, registry ModelRegistry, logger Logger) error {
	models := modelInstances(registry)

	for i := len(models) - 1; i >= 0; i-- {
		if _, err := db.NewDropTable().Model(models[i]).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table %T: %w", models[i], err)
		}
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table %T: %w", model, err)
		}
	}

	logger.Warn("Schema recreated, existing rows were dropped", "tables", len(models))
	return nil
}
