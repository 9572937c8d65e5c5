// Package store is a SQLite-backed implementation of storage.Adapter.
//
// Rows are stored as canonical JSON documents, one table for all classes.
// Constraint trees are evaluated in Go against decoded rows, so the full
// operator set understood by the pipelines works without translating
// queries to SQL. Only objectId equality is pushed down to SQLite.
//
// # Uniqueness
//
// Fields listed in a class schema's Unique set are mirrored into the
// unique_values table inside the same transaction as the row write. A
// primary-key violation there is reported as apierr.DuplicateValue with Field
// set to the colliding field, which is what lets concurrent creates of the
// same username resolve to exactly one winner.
//
// # Row security
//
// Rows carrying an ACL are visible to Find only when one of the
// FindOptions.ACL subjects may read, and writable by Update/Destroy only when
// one of WriteOptions.ACL may write. Rows without an ACL are public. A nil
// subject list disables filtering.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - single connection: writes are serialized
package store
