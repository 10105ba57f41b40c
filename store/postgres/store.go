// Package postgres provides a PostgreSQL implementation of
// store.WorkItemStore. It is an atomic-tier backend: conditional patches
// execute as a single UPDATE carrying both the version token check and the
// domain predicate.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/curately/workalloc"
	"github.com/curately/workalloc/store"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Store is a PostgreSQL implementation of store.WorkItemStore. Work items
// live in a relational table with their domain content in a JSONB column;
// assignment index entries live in a separate table keyed by owner.
type Store struct {
	db               *sql.DB
	itemsTable       string
	assignmentsTable string
}

var _ store.WorkItemStore = (*Store)(nil)

// New creates a new PostgreSQL store with default table names.
func New(db *sql.DB) *Store {
	return NewWithConfig(db, DefaultTableConfig())
}

// NewWithConfig creates a new PostgreSQL store with custom table names.
func NewWithConfig(db *sql.DB, config TableConfig) *Store {
	return &Store{
		db:               db,
		itemsTable:       config.ItemsTable,
		assignmentsTable: config.AssignmentsTable,
	}
}

// Tier reports TierAtomic: PostgreSQL evaluates patch preconditions
// server-side in one round trip.
func (s *Store) Tier() store.Tier {
	return store.TierAtomic
}

const itemColumns = "id, dataset_name, partition_key, status, assigned_to, assigned_at, version_token, fields"

func scanItem(row interface{ Scan(...any) error }) (workalloc.WorkItem, error) {
	var (
		item       workalloc.WorkItem
		assignedAt sql.NullTime
		fields     []byte
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
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &item.Fields); err != nil {
			return workalloc.WorkItem{}, fmt.Errorf("failed to decode fields: %w", err)
		}
	}
	return item, nil
}

func marshalFields(fields map[string]any) ([]byte, error) {
	if fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(fields)
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
		WHERE dataset_name = $1 AND partition_key = $2 AND id = $3
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.itemsTable)

	_, err = s.db.ExecContext(ctx, query,
		item.ID, item.DatasetName, item.PartitionKey, string(item.Status),
		item.AssignedTo, nullTime(item.AssignedAt), item.VersionToken, fields,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
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
		SET status = $1, assigned_to = $2, assigned_at = $3, fields = $4, version_token = $5
		WHERE dataset_name = $6 AND partition_key = $7 AND id = $8 AND version_token = $9
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
		return workalloc.WorkItem{}, s.classifyMiss(ctx, item.Ref(), expectedToken, store.Predicate{})
	}

	item.VersionToken = newToken
	return item, nil
}

// PatchItem applies field operations as one UPDATE whose WHERE clause
// carries the version token check and the predicate. A miss is classified
// by a follow-up read.
func (s *Store) PatchItem(ctx context.Context, ref workalloc.ItemRef, ops []store.FieldOp, expectedToken string, pred store.Predicate) (workalloc.WorkItem, error) {
	newToken := uuid.New().String()

	args := []any{newToken}
	sets := []string{"version_token = $1"}
	contentOps := make(map[string]any)

	for _, op := range ops {
		switch op.Field {
		case store.FieldStatus:
			args = append(args, fmt.Sprint(op.Value))
			sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
		case store.FieldAssignedTo:
			args = append(args, fmt.Sprint(op.Value))
			sets = append(sets, fmt.Sprintf("assigned_to = $%d", len(args)))
		case store.FieldAssignedAt:
			var val sql.NullTime
			switch v := op.Value.(type) {
			case nil:
			case time.Time:
				val = sql.NullTime{Time: v, Valid: true}
			case *time.Time:
				val = nullTime(v)
			default:
				return workalloc.WorkItem{}, fmt.Errorf("field %s: unsupported value type %T", op.Field, op.Value)
			}
			args = append(args, val)
			sets = append(sets, fmt.Sprintf("assigned_at = $%d", len(args)))
		default:
			contentOps[op.Field] = op.Value
		}
	}

	if len(contentOps) > 0 {
		merged, err := json.Marshal(contentOps)
		if err != nil {
			return workalloc.WorkItem{}, fmt.Errorf("failed to encode content changes: %w", err)
		}
		args = append(args, merged)
		sets = append(sets, fmt.Sprintf("fields = fields || $%d::jsonb", len(args)))
	}

	args = append(args, ref.DatasetName, ref.PartitionKey, ref.ID, expectedToken)
	where := fmt.Sprintf(
		"dataset_name = $%d AND partition_key = $%d AND id = $%d AND version_token = $%d",
		len(args)-3, len(args)-2, len(args)-1, len(args),
	)

	predSQL, predArgs := renderPredicate(pred, len(args))
	if predSQL != "" {
		where += " AND " + predSQL
		args = append(args, predArgs...)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET %s WHERE %s
		RETURNING %s
	`, s.itemsTable, strings.Join(sets, ", "), where, itemColumns)

	item, err := scanItem(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return workalloc.WorkItem{}, s.classifyMiss(ctx, ref, expectedToken, pred)
	}
	if err != nil {
		return workalloc.WorkItem{}, fmt.Errorf("failed to patch work item: %w", err)
	}
	return item, nil
}

// renderPredicate converts a predicate to SQL. offset is the number of
// placeholders already consumed.
func renderPredicate(pred store.Predicate, offset int) (string, []any) {
	if pred.Empty() {
		return "", nil
	}

	var (
		clauses []string
		args    []any
	)
	for _, cond := range pred.AnyOf {
		var column string
		switch cond.Field {
		case store.FieldStatus:
			column = "status"
		case store.FieldAssignedTo:
			column = "assigned_to"
		default:
			// Unknown fields make the clause false, matching EvalPredicate.
			clauses = append(clauses, "FALSE")
			continue
		}

		switch cond.Op {
		case store.CondEq:
			args = append(args, cond.Value)
			clauses = append(clauses, fmt.Sprintf("%s = $%d", column, offset+len(args)))
		case store.CondNotEq:
			args = append(args, cond.Value)
			clauses = append(clauses, fmt.Sprintf("%s <> $%d", column, offset+len(args)))
		case store.CondEmpty:
			clauses = append(clauses, fmt.Sprintf("%s = ''", column))
		}
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args
}

// renderExclusion converts exclusion refs to SQL, appending their values to
// args. Refs match on the full (dataset, partition, id) key; bare ids would
// suppress identically named items in other datasets.
func renderExclusion(refs []workalloc.ItemRef, args *[]any) string {
	var sb strings.Builder
	for _, ref := range refs {
		sb.WriteString(fmt.Sprintf(" AND NOT (dataset_name = $%d AND partition_key = $%d AND id = $%d)",
			len(*args)+1, len(*args)+2, len(*args)+3))
		*args = append(*args, ref.DatasetName, ref.PartitionKey, ref.ID)
	}
	return sb.String()
}

// classifyMiss distinguishes not-found, version conflict, and predicate
// failure after a conditional write matched no rows.
func (s *Store) classifyMiss(ctx context.Context, ref workalloc.ItemRef, expectedToken string, pred store.Predicate) error {
	current, err := s.GetItem(ctx, ref)
	if err != nil {
		return err
	}
	if current.VersionToken != expectedToken {
		return workalloc.ErrVersionConflict
	}
	if !store.EvalPredicate(current, pred) {
		return store.ErrPredicateNotSatisfied
	}
	// The row reappeared with a matching token; treat as a conflict so the
	// caller re-reads.
	return workalloc.ErrVersionConflict
}

// QueryCandidates returns eligible items ordered by dataset name and id.
func (s *Store) QueryCandidates(ctx context.Context, q store.CandidateQuery) ([]workalloc.WorkItem, error) {
	if err := store.ValidateCandidateQuery(q); err != nil {
		return nil, err
	}

	args := []any{q.DatasetName, q.OwnerID}
	exclusion := renderExclusion(q.ExcludeRefs, &args)
	args = append(args, q.Limit)

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE ($1 = '' OR dataset_name = $1)
		  AND ((status = 'draft' AND assigned_to = '') OR (status = 'skipped' AND assigned_to <> $2))
		  %s
		ORDER BY dataset_name, id
		LIMIT $%d
	`, itemColumns, s.itemsTable, exclusion, len(args))

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
		INSERT INTO %s (owner_id, dataset_name, partition_key, work_item_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
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
		WHERE owner_id = $1 AND dataset_name = $2 AND partition_key = $3 AND work_item_id = $4
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
		WHERE owner_id = $1
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
		LIMIT $1
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
