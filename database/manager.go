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
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

const healthCheckTimeout = 5 * time.Second

type defaultDatabaseManager struct {
	config    *Config
	registry  ModelRegistry
	db        *bun.DB
	sqlDB     *sql.DB
	logger    Logger
	mu        sync.RWMutex
	connected bool
	lastError error
}

// NewDatabaseManager returns a Bun backed manager for the models in registry.
// A nil config falls back to DefaultConfig.
func NewDatabaseManager(config *Config, registry ModelRegistry) AbstractDatabaseManager {
	if config == nil {
		config = DefaultConfig()
	}
	if registry == nil {
		registry = NewModelRegistry()
	}
	return &defaultDatabaseManager{
		config:   config,
		registry: registry,
		logger:   GetLogger(),
	}
}

func (dm *defaultDatabaseManager) Connect(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.connected && dm.db != nil {
		return nil
	}

	sqlDB, db, err := dm.createConnection()
	if err != nil {
		dm.lastError = err
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	dm.configureConnectionPool(sqlDB)

	timeout := dm.config.ConnectionConfig.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		dm.lastError = err
		return fmt.Errorf("database connection test failed: %w", err)
	}

	dm.sqlDB, dm.db = sqlDB, db
	dm.connected = true
	dm.lastError = nil

	dm.logger.Info("Database connected successfully", "type", dm.config.ConnectionConfig.Type, "target", dm.target())
	return nil
}

// target describes the connection without credentials.
func (dm *defaultDatabaseManager) target() string {
	c := dm.config.ConnectionConfig
	if c.DSN != "" {
		if u, err := url.Parse(c.DSN); err == nil && u.Host != "" {
			return u.Host + u.Path
		}
		if isSQLiteType(c.Type) {
			return c.DSN
		}
		return "dsn"
	}
	if isSQLiteType(c.Type) {
		return c.DBName + ".db"
	}
	return fmt.Sprintf("%s:%d/%s", c.Host, c.Port, c.DBName)
}

func isSQLiteType(typ string) bool {
	return typ == "sqlite" || typ == "sqlite3"
}

// isMemorySQLite reports whether dsn names an in-memory sqlite database, which
// only lives as long as its single connection.
func isMemorySQLite(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func (dm *defaultDatabaseManager) createConnection() (*sql.DB, *bun.DB, error) {
	c := dm.config.ConnectionConfig

	var (
		sqlDB *sql.DB
		db    *bun.DB
		err   error
	)
	switch strings.ToLower(c.Type) {
	case "mysql":
		sqlDB, err = sql.Open("mysql", mysqlDSN(c))
		if err == nil {
			db = bun.NewDB(sqlDB, mysqldialect.New())
		}
	case "postgres", "postgresql":
		sqlDB, err = sql.Open("postgres", postgresDSN(c))
		if err == nil {
			db = bun.NewDB(sqlDB, pgdialect.New())
		}
	case "sqlite", "sqlite3":
		sqlDB, err = sql.Open(sqliteshim.ShimName, sqliteDSN(c))
		if err == nil {
			db = bun.NewDB(sqlDB, sqlitedialect.New())
		}
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.Type)
	}
	if err != nil {
		return nil, nil, err
	}

	db.AddQueryHook(newQueryLogHook(dm.logger, c.SlowQueryTime))
	if c.EnableQueryLog {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	return sqlDB, db, nil
}

func mysqlDSN(c ConnectionConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&timeout=%s",
		c.Username, c.Password, c.Host, c.Port, c.DBName, c.ConnectTimeout)
}

func postgresDSN(c ConnectionConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("connect_timeout", fmt.Sprint(int(c.ConnectTimeout.Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}

func sqliteDSN(c ConnectionConfig) string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("file:%s.db?cache=shared", c.DBName)
}

func (dm *defaultDatabaseManager) configureConnectionPool(sqlDB *sql.DB) {
	c := dm.config.ConnectionConfig
	if isSQLiteType(c.Type) && isMemorySQLite(sqliteDSN(c)) {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
		return
	}
	sqlDB.SetMaxIdleConns(c.MaxIdleConns)
	sqlDB.SetMaxOpenConns(c.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(c.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(c.ConnMaxIdleTime)
}

func (dm *defaultDatabaseManager) Disconnect() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.db == nil {
		return nil
	}
	err := dm.db.Close()
	dm.db = nil
	dm.sqlDB = nil
	dm.connected = false

	if err != nil {
		dm.logger.Error("Failed to close database connection", "error", err)
	} else {
		dm.logger.Info("Database connection closed")
	}
	return err
}

func (dm *defaultDatabaseManager) Ping(ctx context.Context) error {
	dm.mu.RLock()
	db := dm.db
	dm.mu.RUnlock()

	if db == nil {
		return fmt.Errorf("database not connected")
	}
	return db.PingContext(ctx)
}

func (dm *defaultDatabaseManager) GetDB() *bun.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.db
}

func (dm *defaultDatabaseManager) GetSQLDB() *sql.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.sqlDB
}

func (dm *defaultDatabaseManager) HealthCheck(ctx context.Context) *HealthStatus {
	dm.mu.RLock()
	db, sqlDB := dm.db, dm.sqlDB
	dm.mu.RUnlock()

	start := time.Now()
	status := &HealthStatus{LastCheckTime: start}
	if db == nil {
		status.LastError = "database not initialized"
		return status
	}

	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	err := db.PingContext(pingCtx)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.LastError = err.Error()
	} else {
		status.Healthy = true
		status.Connected = true
	}

	stats := sqlDB.Stats()
	status.ActiveConns = stats.InUse
	status.IdleConns = stats.Idle
	status.MaxOpenConns = stats.MaxOpenConnections

	dm.mu.Lock()
	dm.lastError = err
	dm.connected = err == nil
	dm.mu.Unlock()
	return status
}

func (dm *defaultDatabaseManager) GetStats() *DBStats {
	dm.mu.RLock()
	sqlDB := dm.sqlDB
	dm.mu.RUnlock()

	if sqlDB == nil {
		return &DBStats{}
	}

	stats := sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

func (dm *defaultDatabaseManager) SyncSchema(ctx context.Context, mode SyncMode) error {
	start := time.Now()
	if err := syncSchema(ctx, dm.GetDB(), dm.registry, mode, dm.config.DataMigrateConfig, dm.currentLogger()); err != nil {
		return err
	}
	dm.currentLogger().Info("Schema sync completed", "mode", mode, "duration", time.Since(start).Round(time.Millisecond).String())
	return nil
}

func (dm *defaultDatabaseManager) SeedData(ctx context.Context) error {
	db := dm.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	_, err := NewSeedManager(db, dm.config.DataInitConfig, dm.currentLogger()).Run(ctx)
	return err
}

func (dm *defaultDatabaseManager) SetLogger(logger Logger) {
	if logger == nil {
		logger = nopLogger{}
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.logger = logger
}

func (dm *defaultDatabaseManager) currentLogger() Logger {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.logger
}
