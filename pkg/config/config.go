// Package config provides the unified configuration for the Conveyor
// pipeline. A single Config structure covers the database connection, the
// synthetic data generator, pipeline execution, report paths, and retention.
//
// Configuration is resolved in three layers:
//  1. named defaults (Default)
//  2. the YAML config file, with ${VAR} substitution
//  3. DB_* environment variables, which always win for database settings
//
// Example usage:
//
//	cfg, err := config.Load("config/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	db, err := store.Open(ctx, cfg.Database)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	DataGeneration DataGenerationConfig `yaml:"data_generation"`
	Pipeline       PipelineConfig       `yaml:"pipeline"`
	Paths          PathsConfig          `yaml:"paths"`
	Retention      RetentionConfig      `yaml:"retention"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the connection string for the pgx stdlib driver.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

// EntityCount configures how many records the generator produces for one entity.
type EntityCount struct {
	RecordCount int `yaml:"record_count"`
}

// DataGenerationConfig holds record-count parameters for the generator.
type DataGenerationConfig struct {
	Customers EntityCount `yaml:"customers"`
	Products  EntityCount `yaml:"products"`
	Orders    EntityCount `yaml:"orders"`
}

// PipelineConfig holds execution settings for the orchestrator and scheduler.
type PipelineConfig struct {
	// MaxRetries is the total number of attempts per stage
	MaxRetries int `yaml:"max_retries"`
	// ScheduleAt is the daily trigger time in HH:MM (24h)
	ScheduleAt string `yaml:"schedule_at"`
}

// PathsConfig holds the data directory layout. Reports are partitioned by
// stage and overwritten each run.
type PathsConfig struct {
	RawDir       string `yaml:"raw_dir"`
	StagingDir   string `yaml:"staging_dir"`
	QualityDir   string `yaml:"quality_dir"`
	ProcessedDir string `yaml:"processed_dir"`
	LogsDir      string `yaml:"logs_dir"`
}

// RetentionConfig holds disk retention settings for the cleanup job.
type RetentionConfig struct {
	Days int `yaml:"days"`
}

// Default returns the nominal configuration used when the config file or
// individual keys are absent.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Name:     "ecommerce_db",
			User:     "admin",
			Password: "password",
			SSLMode:  "disable",
		},
		DataGeneration: DataGenerationConfig{
			Customers: EntityCount{RecordCount: 1000},
			Products:  EntityCount{RecordCount: 200},
			Orders:    EntityCount{RecordCount: 5000},
		},
		Pipeline: PipelineConfig{
			MaxRetries: 3,
			ScheduleAt: "10:00",
		},
		Paths: PathsConfig{
			RawDir:       "data/raw",
			StagingDir:   "data/staging",
			QualityDir:   "data/quality",
			ProcessedDir: "data/processed",
			LogsDir:      "logs",
		},
		Retention: RetentionConfig{Days: 7},
	}
}

// Load reads the YAML config file, substitutes ${VAR} references, applies
// environment overrides, and validates the result. A missing file is not an
// error; defaults plus environment overrides are returned.
func Load(filePath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path is operator-supplied
	if err == nil {
		content := substituteEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", filePath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func Save(filePath string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnv applies DB_* environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.Name = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Pipeline.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive")
	}
	if c.DataGeneration.Customers.RecordCount <= 0 ||
		c.DataGeneration.Products.RecordCount <= 0 ||
		c.DataGeneration.Orders.RecordCount <= 0 {
		return fmt.Errorf("data_generation record counts must be positive")
	}
	if c.Retention.Days < 0 {
		return fmt.Errorf("retention days cannot be negative")
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
