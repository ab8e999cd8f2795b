package db

import (
	"os"
	"strconv"
)

// Drivers understood by Open
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds database configuration
type Config struct {
	Driver     string
	Host       string
	Port       int
	Database   string
	User       string
	Password   string
	SSLMode    string
	MinConns   int32
	MaxConns   int32
	SQLitePath string
}

// LoadConfigFromEnv loads database configuration from environment variables
func LoadConfigFromEnv() *Config {
	port, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	minConns, _ := strconv.Atoi(getEnv("DB_MIN_CONNS", "2"))
	maxConns, _ := strconv.Atoi(getEnv("DB_MAX_CONNS", "10"))

	return &Config{
		Driver:     getEnv("DB_DRIVER", DriverSQLite),
		Host:       getEnv("DB_HOST", "localhost"),
		Port:       port,
		Database:   getEnv("DB_NAME", "railsim"),
		User:       getEnv("DB_USER", "postgres"),
		Password:   getEnv("DB_PASSWORD", ""),
		SSLMode:    getEnv("DB_SSLMODE", "disable"),
		MinConns:   int32(minConns),
		MaxConns:   int32(maxConns),
		SQLitePath: getEnv("SQLITE_DATABASE", "railsim.db"),
	}
}

// getEnv retrieves an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
