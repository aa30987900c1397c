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

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
	"gopkg.in/yaml.v3"

	"github.com/tomoncle/userhub/database"
	"github.com/tomoncle/userhub/utils"
)

// Config is the process configuration. Values are resolved in three layers:
// built-in defaults, then the YAML file named by CONFIG_FILE, then the
// environment (including an optional .env file).
type Config struct {
	Port       string `env:"PORT" yaml:"port"`
	AppEnv     string `env:"APP_ENV" yaml:"app_env"`
	LogLevel   string `env:"LOG_LEVEL" yaml:"log_level"`
	LogFormat  string `env:"LOG_FORMAT" yaml:"log_format"`
	ConfigFile string `env:"CONFIG_FILE" yaml:"-"`

	// Database is the section read from the YAML file. Environment
	// overrides are applied to it by Load.
	Database database.Config `yaml:"database"`

	DBSyncMode       string        `env:"DB_SYNC_MODE" yaml:"-"`
	DBType           string        `env:"DB_TYPE" yaml:"-"`
	DBDSN            string        `env:"DB_DSN" yaml:"-"`
	DBHost           string        `env:"DB_HOST" yaml:"-"`
	DBPort           int           `env:"DB_PORT" yaml:"-"`
	DBUsername       string        `env:"DB_USERNAME" yaml:"-"`
	DBPassword       string        `env:"DB_PASSWORD" yaml:"-"`
	DBName           string        `env:"DB_NAME" yaml:"-"`
	DBSSLMode        string        `env:"DB_SSLMODE" yaml:"-"`
	DBMaxIdleConns   int           `env:"DB_MAX_IDLE_CONNS" yaml:"-"`
	DBMaxOpenConns   int           `env:"DB_MAX_OPEN_CONNS" yaml:"-"`
	DBQueryTimeout   time.Duration `env:"DB_QUERY_TIMEOUT" yaml:"-"`
	DBEnableQueryLog bool          `env:"DB_ENABLE_QUERY_LOG" yaml:"-"`
	DBSeedPath       string        `env:"DB_SEED_PATH" yaml:"-"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:      "3000",
		AppEnv:    database.EnvDevelopment,
		LogLevel:  "info",
		LogFormat: "text",
		Database:  *database.DefaultConfig(),
	}
}

var logger = utils.NewLogger("config")

// Load reads .env (when present), the optional YAML file and the environment,
// and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.exportDatabase()
	if err := env.Load(cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg.importDatabase()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.ConfigFile = path
	return nil
}

// exportDatabase copies the database section onto the flat DB_* fields so that
// variables absent from the environment keep the file or default value.
func (c *Config) exportDatabase() {
	conn := c.Database.ConnectionConfig
	c.DBSyncMode = string(c.Database.DataMigrateConfig.SyncMode)
	c.DBType = conn.Type
	c.DBDSN = conn.DSN
	c.DBHost = conn.Host
	c.DBPort = conn.Port
	c.DBUsername = conn.Username
	c.DBPassword = conn.Password
	c.DBName = conn.DBName
	c.DBSSLMode = conn.SSLMode
	c.DBMaxIdleConns = conn.MaxIdleConns
	c.DBMaxOpenConns = conn.MaxOpenConns
	c.DBQueryTimeout = conn.QueryTimeout
	c.DBEnableQueryLog = conn.EnableQueryLog
	c.DBSeedPath = c.Database.DataInitConfig.Filepath
}

func (c *Config) importDatabase() {
	conn := &c.Database.ConnectionConfig
	c.Database.DataMigrateConfig.SyncMode = database.SyncMode(c.DBSyncMode)
	conn.Type = c.DBType
	conn.DSN = c.DBDSN
	conn.Host = c.DBHost
	conn.Port = c.DBPort
	conn.Username = c.DBUsername
	conn.Password = c.DBPassword
	conn.DBName = c.DBName
	conn.SSLMode = c.DBSSLMode
	conn.MaxIdleConns = c.DBMaxIdleConns
	conn.MaxOpenConns = c.DBMaxOpenConns
	conn.QueryTimeout = c.DBQueryTimeout
	conn.EnableQueryLog = c.DBEnableQueryLog
	c.Database.DataInitConfig.Filepath = c.DBSeedPath
	c.Database.DataMigrateConfig.Environment = c.AppEnv
	c.Database.DataInitConfig.Environment = c.AppEnv
}

// Validate checks the values Load cannot type-check on its own.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 0 and 65535, got %q", c.Port)
	}
	switch c.AppEnv {
	case database.EnvDevelopment, database.EnvTest, database.EnvProduction:
	default:
		return fmt.Errorf("APP_ENV must be one of development, test, production, got %q", c.AppEnv)
	}
	if err := database.ValidateType(c.Database.ConnectionConfig.Type); err != nil {
		return err
	}
	if _, err := c.SyncMode(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return errors.New("LOG_FORMAT must be text or json")
	}
	if c.Database.ConnectionConfig.QueryTimeout <= 0 {
		return errors.New("DB_QUERY_TIMEOUT must be positive")
	}
	return nil
}

// SyncMode resolves DB_SYNC_MODE, falling back to the default for APP_ENV.
func (c *Config) SyncMode() (database.SyncMode, error) {
	return database.ParseSyncMode(string(c.Database.DataMigrateConfig.SyncMode), c.AppEnv)
}

// DatabaseConfig returns a copy of the database section for the database
// factory.
func (c *Config) DatabaseConfig() *database.Config {
	db := c.Database
	return &db
}
