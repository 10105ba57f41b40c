package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// validateIdentifier ensures an identifier contains only safe characters for SQL.
// Returns an error if the identifier contains characters that could be used for SQL injection.
func validateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, and underscores (got: %s)", fieldName, name)
	}
	return nil
}

// validateConfig validates all configuration values to prevent SQL injection.
func validateConfig(config *Config) error {
	if err := validateIdentifier(config.ItemsTable, "ItemsTable"); err != nil {
		return err
	}
	if err := validateIdentifier(config.AssignmentsTable, "AssignmentsTable"); err != nil {
		return err
	}
	return nil
}

// Config configures migration generation for the allocation tables.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// ItemsTable is the name of the work items table
	ItemsTable string

	// AssignmentsTable is the name of the assignment index table
	AssignmentsTable string
}

// DefaultConfig returns the default configuration for allocation migrations.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:     "migrations",
		OutputFilename:   fmt.Sprintf("%s_init_workalloc.sql", timestamp),
		ItemsTable:       "workalloc_items",
		AssignmentsTable: "workalloc_assignments",
	}
}

func writeMigration(config *Config, sql string) error {
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}
	return nil
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	// Validate configuration to prevent SQL injection
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return writeMigration(config, GeneratePostgresSQL(config))
}

// GeneratePostgresSQL returns the PostgreSQL DDL for the allocation tables.
func GeneratePostgresSQL(config *Config) string {
	return fmt.Sprintf(`-- Work Item Allocation Migration
-- Generated: %s
-- Database: PostgreSQL

-- Work items: the authoritative documents. Every write mints a new
-- version_token; conditional writes compare it server-side.
CREATE TABLE IF NOT EXISTS %s (
    id TEXT NOT NULL,
    dataset_name TEXT NOT NULL,
    partition_key TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    assigned_to TEXT NOT NULL DEFAULT '',
    assigned_at TIMESTAMPTZ,
    version_token UUID NOT NULL,
    fields JSONB NOT NULL DEFAULT '{}',
    PRIMARY KEY (dataset_name, partition_key, id)
);

-- Index for sampling unassigned candidates per dataset
CREATE INDEX IF NOT EXISTS idx_items_sampling ON %s(dataset_name, status, assigned_to);

-- Index for finding the items held by one owner
CREATE INDEX IF NOT EXISTS idx_items_assigned_to ON %s(assigned_to) WHERE assigned_to <> '';

-- Assignment index: denormalized per-owner view, never authoritative
CREATE TABLE IF NOT EXISTS %s (
    owner_id TEXT NOT NULL,
    dataset_name TEXT NOT NULL,
    partition_key TEXT NOT NULL,
    work_item_id TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (owner_id, dataset_name, partition_key, work_item_id)
);
`, time.Now().Format(time.RFC3339), config.ItemsTable, config.ItemsTable, config.ItemsTable, config.AssignmentsTable)
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return writeMigration(config, GenerateMySQLSQL(config))
}

// GenerateMySQLSQL returns the MySQL DDL for the allocation tables.
func GenerateMySQLSQL(config *Config) string {
	return fmt.Sprintf(`-- Work Item Allocation Migration
-- Generated: %s
-- Database: MySQL/MariaDB

CREATE TABLE IF NOT EXISTS %s (
    id VARCHAR(191) NOT NULL,
    dataset_name VARCHAR(191) NOT NULL,
    partition_key VARCHAR(191) NOT NULL,
    status VARCHAR(32) NOT NULL DEFAULT 'draft',
    assigned_to VARCHAR(191) NOT NULL DEFAULT '',
    assigned_at TIMESTAMP NULL,
    version_token CHAR(36) NOT NULL,
    fields JSON NOT NULL,
    PRIMARY KEY (dataset_name, partition_key, id)
);

CREATE INDEX idx_items_sampling ON %s(dataset_name, status, assigned_to);

CREATE INDEX idx_items_assigned_to ON %s(assigned_to);

CREATE TABLE IF NOT EXISTS %s (
    owner_id VARCHAR(191) NOT NULL,
    dataset_name VARCHAR(191) NOT NULL,
    partition_key VARCHAR(191) NOT NULL,
    work_item_id VARCHAR(191) NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (owner_id, dataset_name, partition_key, work_item_id)
);
`, time.Now().Format(time.RFC3339), config.ItemsTable, config.ItemsTable, config.ItemsTable, config.AssignmentsTable)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return writeMigration(config, GenerateSQLiteSQL(config))
}

// GenerateSQLiteSQL returns the SQLite DDL for the allocation tables.
func GenerateSQLiteSQL(config *Config) string {
	return fmt.Sprintf(`-- Work Item Allocation Migration
-- Generated: %s
-- Database: SQLite

CREATE TABLE IF NOT EXISTS %s (
    id TEXT NOT NULL,
    dataset_name TEXT NOT NULL,
    partition_key TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    assigned_to TEXT NOT NULL DEFAULT '',
    assigned_at TIMESTAMP,
    version_token TEXT NOT NULL,
    fields TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (dataset_name, partition_key, id)
);

CREATE INDEX IF NOT EXISTS idx_items_sampling ON %s(dataset_name, status, assigned_to);

CREATE TABLE IF NOT EXISTS %s (
    owner_id TEXT NOT NULL,
    dataset_name TEXT NOT NULL,
    partition_key TEXT NOT NULL,
    work_item_id TEXT NOT NULL,
    PRIMARY KEY (owner_id, dataset_name, partition_key, work_item_id)
);
`, time.Now().Format(time.RFC3339), config.ItemsTable, config.ItemsTable, config.AssignmentsTable)
}
