package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/storage"
)

var _ storage.Adapter = (*Store)(nil)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// storedRow is a decoded row plus its storage sequence.
type storedRow struct {
	seq  int64
	data ir.Object
}

// Find returns rows of className matching where.
func (s *Store) Find(ctx context.Context, className string, where ir.Object, opts storage.FindOptions) (*storage.FindResult, error) {
	if opts.MaxTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.MaxTime)
		defer cancel()
	}

	rows, err := s.scan(ctx, s.db, className, where, opts.CaseInsensitive)
	if err != nil {
		return nil, err
	}

	var visible []ir.Object
	for _, r := range rows {
		if canRead(r.data, opts.ACL) {
			visible = append(visible, r.data)
		}
	}

	if opts.Count {
		return &storage.FindResult{Count: len(visible)}, nil
	}

	if len(opts.Sort) > 0 {
		sortRows(visible, opts.Sort)
	}
	if opts.Skip > 0 {
		if opts.Skip >= len(visible) {
			visible = nil
		} else {
			visible = visible[opts.Skip:]
		}
	}
	if opts.Limit != nil && *opts.Limit >= 0 && *opts.Limit < len(visible) {
		visible = visible[:*opts.Limit]
	}

	results := make([]ir.Object, 0, len(visible))
	for _, row := range visible {
		results = append(results, project(row, opts.Keys))
	}
	return &storage.FindResult{Results: results, Count: len(results)}, nil
}

// Create inserts a fully stamped row.
func (s *Store) Create(ctx context.Context, className string, obj ir.Object) error {
	objectID := ir.ObjectID(obj)
	if objectID == "" {
		return apierr.New(apierr.MissingObjectID, "objectId is required")
	}
	data, err := encodeRow(obj)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO objects (class_name, object_id, data) VALUES (?, ?, ?)
		`, className, objectID, data)
		if err != nil {
			if isUniqueViolation(err) {
				return apierr.Duplicate(ir.FieldObjectID)
			}
			return fmt.Errorf("insert object: %w", err)
		}
		return s.indexUnique(ctx, tx, className, obj)
	})
}

// Update applies patch to matching writable rows.
func (s *Store) Update(ctx context.Context, className string, where ir.Object, patch ir.Object, opts storage.WriteOptions) (ir.Object, error) {
	var updated ir.Object
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := s.scan(ctx, tx, className, where, false)
		if err != nil {
			return err
		}
		var targets []storedRow
		for _, r := range rows {
			if canWrite(r.data, opts.ACL) {
				targets = append(targets, r)
				if !opts.Many {
					break
				}
			}
		}
		if len(targets) == 0 {
			return apierr.New(apierr.ObjectNotFound, "Object not found.")
		}

		for _, r := range targets {
			row := r.data
			if err := ir.ApplyPatch(row, patch); err != nil {
				return apierr.Wrap(apierr.InvalidJSON, err, "invalid update: %v", err)
			}
			data, err := encodeRow(row)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE objects SET data = ? WHERE seq = ?`, data, r.seq); err != nil {
				return fmt.Errorf("update object: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM unique_values WHERE class_name = ? AND object_id = ?
			`, className, ir.ObjectID(row)); err != nil {
				return fmt.Errorf("clear unique values: %w", err)
			}
			if err := s.indexUnique(ctx, tx, className, row); err != nil {
				return err
			}
			updated = row
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Destroy removes every writable row matching where.
func (s *Store) Destroy(ctx context.Context, className string, where ir.Object, opts storage.WriteOptions) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := s.scan(ctx, tx, className, where, false)
		if err != nil {
			return err
		}
		deleted := 0
		for _, r := range rows {
			if !canWrite(r.data, opts.ACL) {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE seq = ?`, r.seq); err != nil {
				return fmt.Errorf("delete object: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM unique_values WHERE class_name = ? AND object_id = ?
			`, className, ir.ObjectID(r.data)); err != nil {
				return fmt.Errorf("clear unique values: %w", err)
			}
			deleted++
		}
		if deleted == 0 {
			return apierr.New(apierr.ObjectNotFound, "Object not found.")
		}
		return nil
	})
}

// scan loads and filters the rows of className in insertion order.
func (s *Store) scan(ctx context.Context, q queryer, className string, where ir.Object, caseInsensitive bool) ([]storedRow, error) {
	query := `SELECT seq, data FROM objects WHERE class_name = ?`
	args := []any{className}
	if id, ok := where[ir.FieldObjectID].(string); ok {
		query += ` AND object_id = ?`
		args = append(args, id)
	}
	query += ` ORDER BY seq ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apierr.Wrap(apierr.InternalServerError, err, "query exceeded maxTimeMS")
		}
		return nil, fmt.Errorf("query objects: %w", err)
	}
	defer rows.Close()

	m := newMatcher(caseInsensitive)
	var out []storedRow
	for rows.Next() {
		var r storedRow
		var data string
		if err := rows.Scan(&r.seq, &data); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &r.data); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		ok, err := m.matches(r.data, where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objects: %w", err)
	}
	return out, nil
}

// indexUnique records the unique field values of obj. A collision is
// reported as DuplicateValue naming the field.
func (s *Store) indexUnique(ctx context.Context, tx *sql.Tx, className string, obj ir.Object) error {
	s.mu.RLock()
	c, ok := s.schemas.Get(className)
	var unique []string
	if ok {
		unique = append(unique, c.Unique...)
	}
	s.mu.RUnlock()

	for _, field := range unique {
		value, present := obj[field]
		if !present || value == nil {
			continue
		}
		key, err := ir.MarshalCanonical(value)
		if err != nil {
			return apierr.Wrap(apierr.InvalidJSON, err, "invalid value for %s", field)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO unique_values (class_name, field, value, object_id) VALUES (?, ?, ?, ?)
		`, className, field, string(key), ir.ObjectID(obj))
		if err != nil {
			if isUniqueViolation(err) {
				return apierr.Duplicate(field)
			}
			return fmt.Errorf("index unique value: %w", err)
		}
	}
	return nil
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func encodeRow(obj ir.Object) (string, error) {
	normalized, err := ir.Normalize(obj)
	if err != nil {
		return "", apierr.Wrap(apierr.InvalidJSON, err, "invalid object: %v", err)
	}
	data, err := ir.MarshalCanonical(normalized)
	if err != nil {
		return "", apierr.Wrap(apierr.InvalidJSON, err, "invalid object: %v", err)
	}
	return string(data), nil
}

func canRead(row ir.Object, subjects []string) bool {
	if subjects == nil {
		return true
	}
	raw, ok := row[ir.FieldACL]
	if !ok || raw == nil {
		return true
	}
	return ir.ParseACL(raw).CanRead(subjects)
}

func canWrite(row ir.Object, subjects []string) bool {
	if subjects == nil {
		return true
	}
	raw, ok := row[ir.FieldACL]
	if !ok || raw == nil {
		return true
	}
	return ir.ParseACL(raw).CanWrite(subjects)
}

// reservedKeys are returned regardless of projection.
var reservedKeys = []string{ir.FieldObjectID, ir.FieldCreatedAt, ir.FieldUpdatedAt, ir.FieldACL}

// project keeps the top-level fields named by keys plus reserved fields.
func project(row ir.Object, keys []string) ir.Object {
	if keys == nil {
		return row
	}
	out := make(ir.Object, len(keys)+len(reservedKeys))
	for _, k := range reservedKeys {
		if v, ok := row[k]; ok {
			out[k] = v
		}
	}
	for _, k := range keys {
		root := ir.RootField(k)
		if v, ok := row[root]; ok {
			out[root] = v
		}
	}
	return out
}
