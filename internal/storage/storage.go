// Package storage defines the persistence contract consumed by the query and
// write pipelines. Any engine satisfying Adapter is substitutable.
//
// Adapters report failures with *apierr.Error values. Two codes are part of
// the contract: apierr.DuplicateValue, with Field naming the collided unique
// field, and apierr.ObjectNotFound, for updates and deletes that match no
// writable row.
package storage

import (
	"context"
	"time"

	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/schema"
)

// SortKey orders results by one field.
type SortKey struct {
	Field      string
	Descending bool
}

// FindOptions controls a Find call.
type FindOptions struct {
	Skip  int
	Limit *int
	Sort  []SortKey
	// Keys restricts returned fields. Reserved fields are always returned.
	// Nil returns every field.
	Keys []string
	// ReadPreference is passed through opaquely.
	ReadPreference string
	// ACL lists the subjects whose read permission grants visibility. Nil
	// disables row filtering (master).
	ACL []string
	// Count requests only the number of matching rows.
	Count bool
	// CaseInsensitive compares string equality constraints case-insensitively.
	CaseInsensitive bool
	// MaxTime bounds the call. Zero means no bound.
	MaxTime time.Duration
}

// FindResult is the outcome of Find.
type FindResult struct {
	Results []ir.Object
	Count   int
}

// WriteOptions controls Update and Destroy.
type WriteOptions struct {
	// ACL lists the subjects whose write permission grants access. Nil
	// disables row filtering (master).
	ACL []string
	// Many updates every matching row instead of the first.
	Many bool
}

// Schema is a read-only view of the class schemas.
type Schema interface {
	// GetOneSchema returns the schema of className.
	GetOneSchema(className string) (*schema.Class, error)
	// HasClass reports whether className exists.
	HasClass(className string) bool
}

// Adapter is the storage contract.
type Adapter interface {
	// Find returns rows of className matching where.
	Find(ctx context.Context, className string, where ir.Object, opts FindOptions) (*FindResult, error)

	// Create inserts a fully stamped row.
	Create(ctx context.Context, className string, obj ir.Object) error

	// Update applies patch to the first row matching where, or to every
	// matching row when opts.Many is set, and returns the updated row.
	Update(ctx context.Context, className string, where ir.Object, patch ir.Object, opts WriteOptions) (ir.Object, error)

	// Destroy removes every row matching where.
	Destroy(ctx context.Context, className string, where ir.Object, opts WriteOptions) error

	// ValidateObject checks obj against the schema of className and
	// records new fields. query is nil on create.
	ValidateObject(ctx context.Context, className string, obj ir.Object, query ir.Object) error

	// LoadSchema returns the current class schemas.
	LoadSchema(ctx context.Context) (Schema, error)

	// RedirectClassNameForKey returns the class that values of key on
	// className live in. It returns className when there is no redirect.
	RedirectClassNameForKey(ctx context.Context, className, key string) (string, error)
}

// Limit returns a pointer to n, for FindOptions.Limit.
func Limit(n int) *int {
	return &n
}
