package store

import (
	"context"
	"log/slog"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/ir"
	"github.com/roach88/restcore/internal/schema"
	"github.com/roach88/restcore/internal/storage"
)

// schemaView is an immutable snapshot of the class schemas.
type schemaView struct {
	set *schema.Set
}

func (v schemaView) GetOneSchema(className string) (*schema.Class, error) {
	c, ok := v.set.Get(className)
	if !ok {
		return nil, apierr.New(apierr.InvalidClassName, "Class %s does not exist.", className)
	}
	return c, nil
}

func (v schemaView) HasClass(className string) bool {
	return v.set.Has(className)
}

// LoadSchema returns a snapshot of the current class schemas.
func (s *Store) LoadSchema(ctx context.Context) (storage.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return schemaView{set: s.schemas.Clone()}, nil
}

// RedirectClassNameForKey returns the target class of a Relation field.
func (s *Store) RedirectClassNameForKey(ctx context.Context, className, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.schemas.Get(className)
	if !ok {
		return className, nil
	}
	if f, ok := c.Field(key); ok && f.Type == schema.TypeRelation {
		return f.TargetClass, nil
	}
	return className, nil
}

// ValidateObject checks obj against the schema of className. Fields not yet
// in the schema are added with the type inferred from their value; a class
// that does not exist yet is created.
func (s *Store) ValidateObject(ctx context.Context, className string, obj ir.Object, query ir.Object) error {
	if !schema.IsValidClassName(className) {
		return apierr.New(apierr.InvalidClassName, "Invalid class name: %s", className)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.schemas.Get(className)
	var c *schema.Class
	if ok {
		c = existing.Clone()
	} else {
		c = schema.NewClass(className, nil)
	}

	changed := !ok
	for _, key := range ir.SortedKeys(obj) {
		if schema.IsInternalField(key) {
			continue
		}
		root := ir.RootField(key)
		if !schema.IsValidFieldName(root) {
			return apierr.New(apierr.InvalidKeyName, "Invalid field name: %s.", key)
		}
		if _, known := c.Field(root); known {
			continue
		}
		value := obj[key]
		if root != key {
			value = ir.Object{}
		}
		f, ok := schema.InferField(value)
		if !ok {
			continue
		}
		c.Fields[root] = f
		changed = true
		slog.Debug("adding field", "class_name", className, "field", root, "type", string(f.Type))
	}

	if err := c.Validate(obj); err != nil {
		return err
	}
	if changed {
		return s.saveSchemaLocked(ctx, c)
	}
	return nil
}
