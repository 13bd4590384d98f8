// config.go
//
// Dynamic document type schema and table lifecycle engine
// Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC
//
// This file is part of doctypesdb.
// doctypesdb is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// doctypesdb is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with doctypesdb.
// If not, see <https://www.gnu.org/licenses/>.
// Additional terms under GNU AGPL version 3 section 7:
// a) The reasonable legal notice of original copyright and author attribution must be preserved
//    by including the string: "Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC"
//    in this material, copies, or source code of derived works.

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Port string

	// Database configuration
	DBType            string // mysql, mariadb, postgres, sqlite, sqlite3, sqlserver
	DBHost            string
	DBPort            string
	DBDatabase        string
	DBUser            string
	DBPassword        string
	DBConnectionLimit int
	DBLogLevel        string

	// Table naming
	TablePrefix     string
	IdentifierLimit int

	// Redis configuration, empty host keeps locks and cache in process
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Lifecycle coordination
	LockTTL     time.Duration
	LockRefresh time.Duration
	CacheTTL    time.Duration

	// Reconciliation
	ReconcileSchedule     string
	ReconcileDropNonEmpty bool
}

var prefixPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*_$`)

var dbTypes = map[string]string{
	"mysql":      "3306",
	"mariadb":    "3306",
	"postgres":   "5432",
	"postgresql": "5432",
	"sqlite":     "",
	"sqlite3":    "",
	"sqlserver":  "1433",
	"mssql":      "1433",
}

// LoadFile loads a .env file into the environment, then loads configuration.
func LoadFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}
	return Load()
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	dbType := strings.ToLower(getEnv("DB_TYPE", "mysql"))
	defaultPort, known := dbTypes[dbType]
	if !known {
		return nil, fmt.Errorf("DB_TYPE %q is not supported", dbType)
	}

	cfg := &Config{
		Port:                  getEnv("PORT", "3000"),
		DBType:                dbType,
		DBHost:                getEnv("DB_HOST", "localhost"),
		DBPort:                getEnv("DB_PORT", defaultPort),
		DBDatabase:            getEnv("DB_DATABASE", ""),
		DBUser:                getEnv("DB_USER", ""),
		DBPassword:            getEnv("DB_PASSWORD", ""),
		DBConnectionLimit:     getEnvAsInt("DB_CONNECTION_LIMIT", 5),
		DBLogLevel:            strings.ToLower(getEnv("DB_LOG_LEVEL", "warn")),
		TablePrefix:           getEnv("TABLE_PREFIX", "dt_"),
		IdentifierLimit:       getEnvAsInt("IDENTIFIER_LIMIT", 0),
		RedisHost:             getEnv("REDIS_HOST", ""),
		RedisPort:             getEnv("REDIS_PORT", "6379"),
		RedisPassword:         getEnv("REDIS_PASSWORD", ""),
		RedisDB:               getEnvAsInt("REDIS_DB", 0),
		LockTTL:               getEnvAsDuration("LOCK_TTL", 60*time.Second),
		LockRefresh:           getEnvAsDuration("LOCK_REFRESH", 20*time.Second),
		CacheTTL:              getEnvAsDuration("CACHE_TTL", 5*time.Minute),
		ReconcileSchedule:     getEnv("RECONCILE_SCHEDULE", "@every 15m"),
		ReconcileDropNonEmpty: getEnvAsBool("RECONCILE_DROP_NON_EMPTY", false),
	}
	if v, ok := os.LookupEnv("RECONCILE_SCHEDULE"); ok && v == "" {
		cfg.ReconcileSchedule = ""
	}

	// Validate required fields
	if cfg.DBDatabase == "" {
		return nil, fmt.Errorf("DB_DATABASE is required")
	}
	if !cfg.IsSQLite() && cfg.DBUser == "" {
		return nil, fmt.Errorf("DB_USER is required")
	}
	if cfg.DBConnectionLimit < 1 {
		return nil, fmt.Errorf("DB_CONNECTION_LIMIT must be at least 1")
	}
	switch cfg.DBLogLevel {
	case "silent", "error", "warn", "info":
	default:
		return nil, fmt.Errorf("DB_LOG_LEVEL %q must be one of silent, error, warn, info", cfg.DBLogLevel)
	}
	if !prefixPattern.MatchString(cfg.TablePrefix) || strings.Contains(cfg.TablePrefix, "__") {
		return nil, fmt.Errorf("TABLE_PREFIX %q must be lower-case, start with a letter, end with _ and not contain __", cfg.TablePrefix)
	}
	if cfg.IdentifierLimit < 0 {
		return nil, fmt.Errorf("IDENTIFIER_LIMIT must not be negative")
	}
	if cfg.LockTTL <= 0 {
		return nil, fmt.Errorf("LOCK_TTL must be positive")
	}
	if cfg.LockRefresh <= 0 || cfg.LockRefresh >= cfg.LockTTL {
		return nil, fmt.Errorf("LOCK_REFRESH must be positive and shorter than LOCK_TTL")
	}

	return cfg, nil
}

// IsSQLite reports whether the configured database is SQLite.
func (c *Config) IsSQLite() bool {
	return c.DBType == "sqlite" || c.DBType == "sqlite3"
}

// RedisAddr returns host:port, or empty when Redis is not configured.
func (c *Config) RedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return c.RedisHost + ":" + c.RedisPort
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration or returns a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
