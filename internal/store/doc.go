// Package store provides SQLite-backed durable storage for parley documents.
//
// The store holds four collections, each behind its own sub-store:
//   - Guidelines: condition/action rules, with tag links
//   - Relationships: directed edges between guidelines, tags and tools
//   - Sessions: customer sessions and their append-only event logs
//   - Tags: named labels
//
// # Locking
//
// Every sub-store owns one rwlock.RWLock. Reads take the reader side and
// mutations take the writer side. There is no lock spanning sub-stores, so a
// sequence of calls across collections is not atomic.
//
// # Event Offsets
//
// Event offsets are assigned at append time inside a transaction, starting
// at 0 and increasing by one per event within a session. A UNIQUE constraint
// on (session_id, event_offset) backs this up at the schema level.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Schema changes are applied through PRAGMA user_version migrations in
// store.go.
package store
