// Package sqlite provides a SQLite implementation of store.WorkItemStore
// for local development and constrained deployments. It is a degraded-tier
// backend: there is no server-side conditional patch, so mutations go
// through the guard's client-side compare-and-swap fallback.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/curately/workalloc"
	"github.com/curately/workalloc/store"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite implementation of store.WorkItemStore.
type Store struct {
	db               *sql.DB
	itemsTable       string
	assignmentsTable string
}

var _ store.WorkItemStore = (*Store)(nil)

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

// Open opens (or creates) a SQLite database file and returns a connection
// handle usable with New.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite handles one writer at a time; serialize access through a
	// single connection to avoid SQLITE_BUSY under concurrent callers.
	db.SetMaxOpenConns(1)
	return db, nil
}

// New creates a new SQLite store with default table names.
func New(db *sql.DB) *Store {
	return NewWithConfig(db, DefaultTableConfig())
}

// NewWithConfig creates a new SQLite store with custom table names.
func NewWithConfig(db *sql.DB, config TableConfig) *Store {
	return &Store{
		db:               db,
		itemsTable:       config.ItemsTable,
		assignmentsTable: config.AssignmentsTable,
	}
}

// Tier reports TierDegraded: SQLite supports token-guarded replaces but not
// predicate-carrying patches.
func (s *Store) Tier() store.Tier {
	return store.TierDegraded
}

// MigrationUp returns the SQL to create the work item and assignment index
// tables.
func MigrationUp(config TableConfig) string {
	return fmt.Sprintf(`-- Create work items table
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

-- Create assignment index table
CREATE TABLE IF NOT EXISTS %s (
    owner_id TEXT NOT NULL,
    dataset_name TEXT NOT NULL,
    partition_key TEXT NOT NULL,
    work_item_id TEXT NOT NULL,
    PRIMARY KEY (owner_id, dataset_name, partition_key, work_item_id)
);
`, config.ItemsTable, config.ItemsTable, config.AssignmentsTable)
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	ddl := MigrationUp(TableConfig{ItemsTable: s.itemsTable, AssignmentsTable: s.assignmentsTable})
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to migrate sqlite store: %w", err)
	}
	return nil
}

const itemColumns = "id, dataset_name, partition_key, status, assigned_to, assigned_at, version_token, fields"

func scanItem(row interface{ Scan(...any) error }) (workalloc.WorkItem, error) {
	var (
		item       workalloc.WorkItem
		assignedAt sql.NullTime
		fields     string
	)
	err := row.Scan(
		&item.ID,
		&item.DatasetName,
		&item.PartitionKey,
		&item.Status,
		&item.AssignedTo,
		&assignedAt,
		&item.VersionToken,
		&fields,
	)
	if err != nil {
		return workalloc.WorkItem{}, err
	}
	if assignedAt.Valid {
		t := assignedAt.Time
		item.AssignedAt = &t
	}
	if fields != "" {
		if err := json.Unmarshal([]byte(fields), &item.Fields); err != nil {
			return workalloc.WorkItem{}, fmt.Errorf("failed to decode fields: %w", err)
		}
	}
	return item, nil
}

func marshalFields(fields map[string]any) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// GetItem returns the item at ref.
// Returns workalloc.ErrNotFound if it does not exist.
func (s *Store) GetItem(ctx context.Context, ref workalloc.ItemRef) (workalloc.WorkItem, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE dataset_name = ? AND partition_key = ? AND id = ?
	`, itemColumns, s.itemsTable)

	item, err := scanItem(s.db.QueryRowContext(ctx, query, ref.DatasetName, ref.PartitionKey, ref.ID))
	if err == sql.ErrNoRows {
		return workalloc.WorkItem{}, workalloc.ErrNotFound
	}
	if err != nil {
		return workalloc.WorkItem{}, fmt.Errorf("failed to get work item: %w", err)
	}
	return item, nil
}

// InsertItem creates a new item, minting its first version token.
// Returns workalloc.ErrAlreadyExists on a duplicate ref.
func (s *Store) InsertItem(ctx context.Context, item workalloc.WorkItem) (workalloc.WorkItem, error) {
	fields, err := marshalFields(item.Fields)
	if err != nil {
		return workalloc.WorkItem{}, fmt.Errorf("failed to encode fields: %w", err)
	}

	item.VersionToken = uuid.New().String()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, dataset_name, partition_key, status, assigned_to, assigned_at, version_token, fields)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.itemsTable)

	_, err = s.db.ExecContext(ctx, query,
		item.ID, item.DatasetName, item.PartitionKey, string(item.Status),
		item.AssignedTo, nullTime(item.AssignedAt), item.VersionToken, fields,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return workalloc.WorkItem{}, workalloc.ErrAlreadyExists
		}
		return workalloc.WorkItem{}, fmt.Errorf("failed to insert work item: %w", err)
	}
	return item, nil
}

// ReplaceItem overwrites the item guarded by the expected version token.
func (s *Store) ReplaceItem(ctx context.Context, item workalloc.WorkItem, expectedToken string) (workalloc.WorkItem, error) {
	fields, err := marshalFields(item.Fields)
	if err != nil {
		return workalloc.WorkItem{}, fmt.Errorf("failed to encode fields: %w", err)
	}

	newToken := uuid.New().String()

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = ?, assigned_to = ?, assigned_at = ?, fields = ?, version_token = ?
		WHERE dataset_name = ? AND partition_key = ? AND id = ? AND version_token = ?
	`, s.itemsTable)

	result, err := s.db.ExecContext(ctx, query,
		string(item.Status), item.AssignedTo, nullTime(item.AssignedAt), fields, newToken,
		item.DatasetName, item.PartitionKey, item.ID, expectedToken,
	)
	if err != nil {
		return workalloc.WorkItem{}, fmt.Errorf("failed to replace work item: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return workalloc.WorkItem{}, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetItem(ctx, item.Ref()); err != nil {
			return workalloc.WorkItem{}, err
		}
		return workalloc.WorkItem{}, workalloc.ErrVersionConflict
	}

	item.VersionToken = newToken
	return item, nil
}

// PatchItem is not available on SQLite.
func (s *Store) PatchItem(ctx context.Context, ref workalloc.ItemRef, ops []store.FieldOp, expectedToken string, pred store.Predicate) (workalloc.WorkItem, error) {
	return workalloc.WorkItem{}, store.ErrPatchUnsupported
}

// QueryCandidates returns eligible items ordered by dataset name and id.
func (s *Store) QueryCandidates(ctx context.Context, q store.CandidateQuery) ([]workalloc.WorkItem, error) {
	if err := store.ValidateCandidateQuery(q); err != nil {
		return nil, err
	}

	args := []any{q.DatasetName, q.DatasetName, q.OwnerID}
	// Exclusions match the full ref; ids alone repeat across datasets.
	exclusion := strings.TrimSuffix(
		strings.Repeat("AND NOT (dataset_name = ? AND partition_key = ? AND id = ?)\n\t\t  ", len(q.ExcludeRefs)), "\n\t\t  ")
	for _, ref := range q.ExcludeRefs {
		args = append(args, ref.DatasetName, ref.PartitionKey, ref.ID)
	}
	args = append(args, q.Limit)

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE (? = '' OR dataset_name = ?)
		  AND ((status = 'draft' AND assigned_to = '') OR (status = 'skipped' AND assigned_to <> ?))
		  %s
		ORDER BY dataset_name, id
		LIMIT ?
	`, itemColumns, s.itemsTable, exclusion)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var items []workalloc.WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}
	return items, nil
}

// UpsertAssignment writes an assignment index entry. Idempotent.
func (s *Store) UpsertAssignment(ctx context.Context, entry workalloc.AssignmentIndexEntry) error {
	query := fmt.Sprintf(`
		INSERT OR IGNORE INTO %s (owner_id, dataset_name, partition_key, work_item_id)
		VALUES (?, ?, ?, ?)
	`, s.assignmentsTable)

	_, err := s.db.ExecContext(ctx, query, entry.OwnerID, entry.DatasetName, entry.PartitionKey, entry.WorkItemID)
	if err != nil {
		return fmt.Errorf("failed to upsert assignment: %w", err)
	}
	return nil
}

// DeleteAssignment removes an assignment index entry if present.
func (s *Store) DeleteAssignment(ctx context.Context, entry workalloc.AssignmentIndexEntry) error {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE owner_id = ? AND dataset_name = ? AND partition_key = ? AND work_item_id = ?
	`, s.assignmentsTable)

	_, err := s.db.ExecContext(ctx, query, entry.OwnerID, entry.DatasetName, entry.PartitionKey, entry.WorkItemID)
	if err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	return nil
}

// ListAssignments returns all index entries for one owner.
func (s *Store) ListAssignments(ctx context.Context, ownerID string) ([]workalloc.AssignmentIndexEntry, error) {
	query := fmt.Sprintf(`
		SELECT owner_id, dataset_name, partition_key, work_item_id FROM %s
		WHERE owner_id = ?
		ORDER BY dataset_name, work_item_id
	`, s.assignmentsTable)

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// QueryAssignments returns up to limit index entries across all owners.
func (s *Store) QueryAssignments(ctx context.Context, limit int) ([]workalloc.AssignmentIndexEntry, error) {
	if limit <= 0 {
		return nil, store.ErrLimitRequired
	}

	query := fmt.Sprintf(`
		SELECT owner_id, dataset_name, partition_key, work_item_id FROM %s
		ORDER BY owner_id, dataset_name, work_item_id
		LIMIT ?
	`, s.assignmentsTable)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]workalloc.AssignmentIndexEntry, error) {
	var entries []workalloc.AssignmentIndexEntry
	for rows.Next() {
		var entry workalloc.AssignmentIndexEntry
		if err := rows.Scan(&entry.OwnerID, &entry.DatasetName, &entry.PartitionKey, &entry.WorkItemID); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assignments: %w", err)
	}
	return entries, nil
}
