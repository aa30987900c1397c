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
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// AbstractDatabaseManager owns one database connection pool, keeps the schema
// of the registered models in sync and reports pool health.
type AbstractDatabaseManager interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Ping(ctx context.Context) error
	HealthCheck(ctx context.Context) *HealthStatus
	GetDB() *bun.DB
	GetSQLDB() *sql.DB
	SyncSchema(ctx context.Context, mode SyncMode) error
	SeedData(ctx context.Context) error
	GetStats() *DBStats
	SetLogger(logger Logger)
}

// SyncMode selects what SyncSchema does to the registered tables.
type SyncMode string

const (
	// SyncRecreate drops and recreates every registered table. All rows are lost.
	SyncRecreate SyncMode = "recreate"
	// SyncMigrate creates missing tables and adds missing columns and unique
	// indexes without touching existing data.
	SyncMigrate SyncMode = "migrate"
	// SyncNone leaves the schema alone.
	SyncNone SyncMode = "none"
)

const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// ParseSyncMode validates s. An empty string resolves to the default for appEnv.
func ParseSyncMode(s string, appEnv string) (SyncMode, error) {
	switch SyncMode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultSyncMode(appEnv), nil
	case SyncRecreate:
		return SyncRecreate, nil
	case SyncMigrate:
		return SyncMigrate, nil
	case SyncNone:
		return SyncNone, nil
	default:
		return "", fmt.Errorf("unsupported schema sync mode: %q, supported modes: [recreate migrate none]", s)
	}
}

// DefaultSyncMode is recreate for test environments and migrate elsewhere.
func DefaultSyncMode(appEnv string) SyncMode {
	if strings.EqualFold(strings.TrimSpace(appEnv), EnvTest) {
		return SyncRecreate
	}
	return SyncMigrate
}

// HealthStatus holds the result of a health check against the database.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Connected     bool          `json:"connected"`
	ResponseTime  time.Duration `json:"response_time"`
	ActiveConns   int           `json:"active_conns"`
	IdleConns     int           `json:"idle_conns"`
	MaxOpenConns  int           `json:"max_open_conns"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
}

// DBStats mirrors database/sql pool stats.
type DBStats struct {
	MaxOpenConns      int           `json:"max_open_conns"`
	OpenConns         int           `json:"open_conns"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxIdleClosed     int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
}

// ConnectionConfig describes how to connect to a database and tune its pool.
// A non-empty DSN is handed to the driver as is and the host fields are ignored.
type ConnectionConfig struct {
	Type            string        `yaml:"type"` // postgres, mysql, sqlite
	DSN             string        `yaml:"dsn"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	EnableQueryLog  bool          `yaml:"enable_query_log"`
	SlowQueryTime   time.Duration `yaml:"slow_query_time"`
}

// DataMigrateConfig controls what SyncSchema is allowed to change.
type DataMigrateConfig struct {
	SyncMode       SyncMode `yaml:"sync_mode"`
	Environment    string   `yaml:"environment"`
	AllowColumnAdd bool     `yaml:"allow_column_add"`
	AllowIndexAdd  bool     `yaml:"allow_index_add"`
}

// DataInitConfig controls seeding. Seeding is off while Filepath is empty.
type DataInitConfig struct {
	Filepath    string `yaml:"filepath"`
	Environment string `yaml:"environment"`
}

// Config aggregates connection, migration and data initialization settings.
type Config struct {
	ConnectionConfig  ConnectionConfig  `yaml:"connection"`
	DataMigrateConfig DataMigrateConfig `yaml:"migrate"`
	DataInitConfig    DataInitConfig    `yaml:"init"`
}

// DefaultConnectionConfig returns a sqlite connection config with pool defaults.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Type:            "sqlite",
		DBName:          "userhub",
		SSLMode:         "disable",
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 30,
		ConnectTimeout:  time.Second * 10,
		QueryTimeout:    time.Second * 5,
		SlowQueryTime:   time.Second * 2,
	}
}

// DefaultConfig returns the connection defaults with additive migration enabled.
func DefaultConfig() *Config {
	return &Config{
		ConnectionConfig: *DefaultConnectionConfig(),
		DataMigrateConfig: DataMigrateConfig{
			Environment:    EnvDevelopment,
			AllowColumnAdd: true,
			AllowIndexAdd:  true,
		},
		DataInitConfig: DataInitConfig{Environment: EnvDevelopment},
	}
}
