package models

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bizmatch/internal/database"
)

// ErrNotFound is returned by managers when no record matches.
var ErrNotFound = database.ErrNotFound

// checker is implemented by entities that validate themselves after decoding.
type checker interface {
	Check() error
}

// manager provides the common Django-like accessors for one collection.
type manager[T any] struct {
	docs       database.Documents
	collection string
}

// Get retrieves a record by id
func (m *manager[T]) Get(ctx context.Context, id string) (*T, error) {
	rec, err := m.docs.GetRecord(ctx, m.collection, id)
	if err != nil {
		return nil, err
	}
	return decode[T](m.collection, rec)
}

// Lock retrieves a record by id and holds it until the surrounding
// transaction ends.
func (m *manager[T]) Lock(ctx context.Context, id string) (*T, error) {
	rec, err := m.docs.LockRecord(ctx, m.collection, id)
	if err != nil {
		return nil, err
	}
	return decode[T](m.collection, rec)
}

// Filter retrieves records matching the query
func (m *manager[T]) Filter(ctx context.Context, q database.Query) ([]T, error) {
	recs, err := m.docs.FindRecords(ctx, m.collection, q)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := decode[T](m.collection, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// Where is Filter narrowed by a predicate on the decoded entity. Enumerated
// fields are matched here rather than in the query, since stored values may
// differ in spelling from their normalized form.
func (m *manager[T]) Where(ctx context.Context, q database.Query, keep func(*T) bool) ([]T, error) {
	items, err := m.Filter(ctx, q)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for i := range items {
		if keep(&items[i]) {
			out = append(out, items[i])
		}
	}
	return out, nil
}

// First returns the oldest record matching filter.
func (m *manager[T]) First(ctx context.Context, filter database.Record) (*T, error) {
	items, err := m.Filter(ctx, database.Query{Filter: filter, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s: %w", m.collection, ErrNotFound)
	}
	return &items[0], nil
}

// Exists reports whether any record matches filter.
func (m *manager[T]) Exists(ctx context.Context, filter database.Record) (bool, error) {
	_, err := m.First(ctx, filter)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Create persists v and refreshes it from the stored record, picking up the
// generated id.
func (m *manager[T]) Create(ctx context.Context, v *T) error {
	rec, err := Encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", m.collection, err)
	}
	stored, err := m.docs.CreateRecord(ctx, m.collection, rec)
	if err != nil {
		return err
	}
	fresh, err := decode[T](m.collection, stored)
	if err != nil {
		return err
	}
	*v = *fresh
	return nil
}

// Update merges fields into the record with the given id
func (m *manager[T]) Update(ctx context.Context, id string, fields database.Record) error {
	return m.docs.UpdateRecord(ctx, m.collection, id, fields)
}

// Encode converts an entity into a document record.
func Encode(v any) (database.Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	rec := database.Record{}
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Decode converts a document record into an entity, validating enumerations.
func Decode[T any](rec database.Record) (*T, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if c, ok := any(&v).(checker); ok {
		if err := c.Check(); err != nil {
			return nil, err
		}
	}
	return &v, nil
}

func decode[T any](collection string, rec database.Record) (*T, error) {
	v, err := Decode[T](rec)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s %s: %w", collection, rec.ID(), err)
	}
	return v, nil
}
