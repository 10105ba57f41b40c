package postgres

import "fmt"

// TableConfig configures the table names used by the work item store.
type TableConfig struct {
	// ItemsTable is the name of the table storing work items.
	ItemsTable string

	// AssignmentsTable is the name of the table storing the per-owner
	// assignment index.
	AssignmentsTable string
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		ItemsTable:       "workalloc_items",
		AssignmentsTable: "workalloc_assignments",
	}
}

// MigrationUp returns the SQL to create the work item and assignment index
// tables, with the indexes the sampler and the index reads rely on.
func MigrationUp(config TableConfig) string {
	return fmt.Sprintf(`-- Create work items table
CREATE TABLE %s (
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
CREATE INDEX idx_items_sampling ON %s(dataset_name, status, assigned_to);

-- Index for finding the items held by one owner
CREATE INDEX idx_items_assigned_to ON %s(assigned_to) WHERE assigned_to <> '';

-- Create assignment index table (denormalized, per-owner view; never authoritative)
CREATE TABLE %s (
    owner_id TEXT NOT NULL,
    dataset_name TEXT NOT NULL,
    partition_key TEXT NOT NULL,
    work_item_id TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (owner_id, dataset_name, partition_key, work_item_id)
);
`, config.ItemsTable, config.ItemsTable, config.ItemsTable, config.AssignmentsTable)
}

// MigrationDown returns the SQL to drop the work item and assignment index
// tables.
func MigrationDown(config TableConfig) string {
	return fmt.Sprintf(`-- Drop assignment index table
DROP TABLE IF EXISTS %s;

-- Drop work items table
DROP TABLE IF EXISTS %s;
`, config.AssignmentsTable, config.ItemsTable)
}
