// Package config loads engine configuration from the environment and
// policy documents from YAML files.
package config

import "os"

// Config holds engine configuration.
type Config struct {
	DBDriver     string // "sqlite" or "postgres"
	DBDSN        string
	LogLevel     string
	Environment  string
	OTLPEndpoint string
	OTelEnabled  bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	driver := os.Getenv("ENGINE_DB_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}

	dsn := os.Getenv("ENGINE_DB_DSN")
	if dsn == "" {
		dsn = "file:voxaudit.db?_pragma=busy_timeout(5000)"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	environment := os.Getenv("ENGINE_ENV")
	if environment == "" {
		environment = "development"
	}

	otlp := os.Getenv("OTLP_ENDPOINT")
	if otlp == "" {
		otlp = "localhost:4317"
	}

	return &Config{
		DBDriver:     driver,
		DBDSN:        dsn,
		LogLevel:     logLevel,
		Environment:  environment,
		OTLPEndpoint: otlp,
		OTelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
	}
}
