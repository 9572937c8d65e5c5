package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/restcore/internal/schema"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on unique_values(class_name, object_id)
const currentSchemaVersion = 1

// Store provides durable document storage for every class of a tenant.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB

	mu      sync.RWMutex
	schemas *schema.Set
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically, then loads the
// persisted class schemas on top of the system classes.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.loadSchemas(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load class schemas: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 indexes unique values by owner so row rewrites can clear them.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_unique_values_object
		ON unique_values(class_name, object_id)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// loadSchemas reads persisted class definitions into memory.
func (s *Store) loadSchemas() error {
	set := schema.NewSet()
	rows, err := s.db.Query(`SELECT class_name, definition FROM schemas ORDER BY class_name`)
	if err != nil {
		return fmt.Errorf("query schemas: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, definition string
		if err := rows.Scan(&name, &definition); err != nil {
			return fmt.Errorf("scan schema: %w", err)
		}
		var c schema.Class
		if err := json.Unmarshal([]byte(definition), &c); err != nil {
			return fmt.Errorf("decode schema %s: %w", name, err)
		}
		set.Put(&c)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate schemas: %w", err)
	}

	s.mu.Lock()
	s.schemas = set
	s.mu.Unlock()
	return nil
}

// RegisterClasses persists class definitions, merging fields into any
// existing class of the same name.
func (s *Store) RegisterClasses(ctx context.Context, classes ...*schema.Class) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range classes {
		merged := c.Clone()
		if existing, ok := s.schemas.Get(c.Name); ok {
			merged = existing.Clone()
			for name, f := range c.Fields {
				merged.Fields[name] = f
			}
			for _, u := range c.Unique {
				if !merged.IsUnique(u) {
					merged.Unique = append(merged.Unique, u)
				}
			}
		}
		if err := s.saveSchemaLocked(ctx, merged); err != nil {
			return err
		}
		slog.Debug("registered class", "class_name", c.Name, "fields", len(merged.Fields))
	}
	return nil
}

// saveSchemaLocked persists c and installs it in memory. Caller holds s.mu.
func (s *Store) saveSchemaLocked(ctx context.Context, c *schema.Class) error {
	definition, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode schema %s: %w", c.Name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schemas (class_name, definition) VALUES (?, ?)
		ON CONFLICT(class_name) DO UPDATE SET definition = excluded.definition
	`, c.Name, string(definition))
	if err != nil {
		return fmt.Errorf("save schema %s: %w", c.Name, err)
	}
	s.schemas.Put(c)
	return nil
}
