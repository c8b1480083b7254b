// Package store implements the persistent local state of the messenger
// client: contacts, messages, file transfers, and groups, backed by SQLite.
//
// The store supports concurrent readers; callers that must preserve
// per-entity write ordering serialize writes themselves (see the reconcile
// package). All queries filter by id sets, status sets, and boolean flags
// only.
package store
