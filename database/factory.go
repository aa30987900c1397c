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
	"fmt"
	"strings"
)

var supportedTypes = []string{"mysql", "postgres", "sqlite"}

// BaseDatabaseFactory builds a manager from configuration and drives it
// through connect, schema sync and seeding.
type BaseDatabaseFactory struct {
	manager AbstractDatabaseManager
	config  *Config
	logger  Logger
}

// NewDatabaseFactory returns a factory logging through logger, or through the
// shared DATABASE logger when logger is nil.
func NewDatabaseFactory(logger Logger) *BaseDatabaseFactory {
	if logger == nil {
		logger = GetLogger()
	}
	return &BaseDatabaseFactory{logger: logger}
}

// CreateFromConfig validates cfg and constructs a manager for registry.
func (f *BaseDatabaseFactory) CreateFromConfig(cfg *Config, registry ModelRegistry) (AbstractDatabaseManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	if err := ValidateType(cfg.ConnectionConfig.Type); err != nil {
		return nil, err
	}

	manager := NewDatabaseManager(cfg, registry)
	manager.SetLogger(f.logger)

	f.manager = manager
	f.config = cfg
	return manager, nil
}

// ValidateType accepts the supported database types and their aliases.
func ValidateType(typ string) error {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "mysql", "postgres", "postgresql", "sqlite", "sqlite3":
		return nil
	default:
		return fmt.Errorf("unsupported database type: %s, supported types: %v", typ, supportedTypes)
	}
}

// InitializeDatabase connects, syncs the schema with mode and applies seed
// files when a seed path is configured. A failure after connecting closes the
// connection again.
func (f *BaseDatabaseFactory) InitializeDatabase(ctx context.Context, mode SyncMode) error {
	if err := f.ConnectAndSync(ctx, mode); err != nil {
		return err
	}
	if err := f.Seed(ctx); err != nil {
		return err
	}
	f.logger.Info("Database initialization completed", "sync_mode", mode)
	return nil
}

// ConnectAndSync connects and syncs the schema with mode, closing the
// connection again when the sync fails.
func (f *BaseDatabaseFactory) ConnectAndSync(ctx context.Context, mode SyncMode) error {
	if f.manager == nil {
		return fmt.Errorf("database manager not created")
	}

	if err := f.manager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := f.manager.SyncSchema(ctx, mode); err != nil {
		_ = f.manager.Disconnect()
		return fmt.Errorf("failed to sync database schema: %w", err)
	}
	return nil
}

// Seed applies seed files when a seed path is configured, closing the
// connection when seeding fails.
func (f *BaseDatabaseFactory) Seed(ctx context.Context) error {
	if f.manager == nil {
		return fmt.Errorf("database manager not created")
	}
	if f.config == nil || f.config.DataInitConfig.Filepath == "" {
		return nil
	}
	if err := f.manager.SeedData(ctx); err != nil {
		_ = f.manager.Disconnect()
		return fmt.Errorf("failed to seed database: %w", err)
	}
	return nil
}

// GetManager returns the underlying database manager.
func (f *BaseDatabaseFactory) GetManager() AbstractDatabaseManager {
	return f.manager
}

// Close closes the database connection managed by the factory.
func (f *BaseDatabaseFactory) Close() error {
	if f.manager == nil {
		return nil
	}
	return f.manager.Disconnect()
}
