package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	CollectionUsers         = "users"
	CollectionProjects      = "projects"
	CollectionApplications  = "applications"
	CollectionInvoices      = "invoices"
	CollectionMessages      = "messages"
	CollectionNotifications = "notifications"

	FieldID        = "id"
	FieldCreatedAt = "createdAt"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflicts with an existing record")
)

// Record is one document. The id is duplicated under the "id" key.
type Record map[string]any

// ID returns the record's id field, or "" when absent.
func (r Record) ID() string {
	id, _ := r[FieldID].(string)
	return id
}

// Query selects records from a collection. Filter is matched by JSON
// containment. OrderBy names a data field; createdAt and "" order by the
// insertion time of the row.
type Query struct {
	Filter     Record
	OrderBy    string
	Descending bool
	Limit      int
}

// Documents is the read/write surface over named collections.
type Documents interface {
	// CreateRecord writes rec and returns it with its final id. A real id is
	// upserted, a missing or temporary one is replaced by a generated id.
	CreateRecord(ctx context.Context, collection string, rec Record) (Record, error)
	// UpdateRecord merges fields into the stored record. Last write wins.
	UpdateRecord(ctx context.Context, collection, id string, fields Record) error
	GetRecord(ctx context.Context, collection, id string) (Record, error)
	// LockRecord is GetRecord holding a row lock until the transaction ends.
	LockRecord(ctx context.Context, collection, id string) (Record, error)
	FindRecords(ctx context.Context, collection string, q Query) ([]Record, error)
	// UpdateWhere merges fields into every record matching filter and
	// returns the number of records changed.
	UpdateWhere(ctx context.Context, collection string, filter, fields Record) (int64, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type store struct {
	q querier
}

// StripUndefined returns a copy of rec without nil-valued fields.
func StripUndefined(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

// IsTemporaryID reports whether id is a client-side placeholder rather than
// a store key: empty, prefixed with temp/tmp, or purely numeric.
func IsTemporaryID(id string) bool {
	if id == "" {
		return true
	}
	lower := strings.ToLower(id)
	if strings.HasPrefix(lower, "temp") || strings.HasPrefix(lower, "tmp") {
		return true
	}
	for _, r := range id {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func (s *store) CreateRecord(ctx context.Context, collection string, rec Record) (Record, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	doc := StripUndefined(rec)

	id, _ := doc[FieldID].(string)
	upsert := !IsTemporaryID(id)
	if !upsert {
		id = uuid.NewString()
	}
	doc[FieldID] = id

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s record: %w", collection, err)
	}

	query := `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW(), NOW())
		RETURNING data`
	if upsert {
		query = `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW(), NOW())
		ON CONFLICT (collection, id)
		DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = NOW()
		RETURNING data`
	}

	var raw []byte
	if err := s.q.QueryRow(ctx, query, collection, id, string(data)).Scan(&raw); err != nil {
		return nil, fmt.Errorf("failed to create %s record: %w", collection, mapError(err))
	}
	return decodeRecord(raw)
}

func (s *store) UpdateRecord(ctx context.Context, collection, id string, fields Record) error {
	patch := StripUndefined(fields)
	delete(patch, FieldID)
	if len(patch) == 0 {
		return nil
	}

	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to encode %s update: %w", collection, err)
	}

	query := `
		UPDATE documents
		SET data = data || $3::jsonb, updated_at = NOW()
		WHERE collection = $1 AND id = $2`

	tag, err := s.q.Exec(ctx, query, collection, id, string(data))
	if err != nil {
		return fmt.Errorf("failed to update %s record: %w", collection, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", collection, id, ErrNotFound)
	}
	return nil
}

func (s *store) GetRecord(ctx context.Context, collection, id string) (Record, error) {
	return s.getRecord(ctx, `SELECT data FROM documents WHERE collection = $1 AND id = $2`, collection, id)
}

func (s *store) LockRecord(ctx context.Context, collection, id string) (Record, error) {
	return s.getRecord(ctx, `SELECT data FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`, collection, id)
}

func (s *store) getRecord(ctx context.Context, query, collection, id string) (Record, error) {
	var raw []byte
	err := s.q.QueryRow(ctx, query, collection, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", collection, id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s record: %w", collection, err)
	}
	return decodeRecord(raw)
}

func (s *store) FindRecords(ctx context.Context, collection string, q Query) ([]Record, error) {
	var sb strings.Builder
	args := []any{collection}

	sb.WriteString(`SELECT data FROM documents WHERE collection = $1`)

	if filter := StripUndefined(q.Filter); len(filter) > 0 {
		data, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s filter: %w", collection, err)
		}
		args = append(args, string(data))
		fmt.Fprintf(&sb, ` AND data @> $%d::jsonb`, len(args))
	}

	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}
	if q.OrderBy == "" || q.OrderBy == FieldCreatedAt {
		fmt.Fprintf(&sb, ` ORDER BY created_at %s, id %s`, dir, dir)
	} else {
		args = append(args, q.OrderBy)
		fmt.Fprintf(&sb, ` ORDER BY data -> $%d::text %s NULLS LAST, created_at %s`, len(args), dir, dir)
	}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}

	rows, err := s.q.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", collection, err)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", collection, err)
	}
	return records, nil
}

func (s *store) UpdateWhere(ctx context.Context, collection string, filter, fields Record) (int64, error) {
	patch := StripUndefined(fields)
	delete(patch, FieldID)
	if len(patch) == 0 {
		return 0, nil
	}

	filterData, err := json.Marshal(StripUndefined(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s filter: %w", collection, err)
	}
	patchData, err := json.Marshal(patch)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s update: %w", collection, err)
	}

	query := `
		UPDATE documents
		SET data = data || $3::jsonb, updated_at = NOW()
		WHERE collection = $1 AND data @> $2::jsonb`

	tag, err := s.q.Exec(ctx, query, collection, string(filterData), string(patchData))
	if err != nil {
		return 0, fmt.Errorf("failed to update %s records: %w", collection, mapError(err))
	}
	return tag.RowsAffected(), nil
}

func decodeRecord(raw []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	rec := Record{}
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}
