// Package persistence provides the SQLite-backed workflow record store.
// Workflow documents are stored whole as JSON, the id is a generated column extracted from the
// document and is the only index. All statements go through a single shared connection guarded
// by one lock, held for the full duration of each logical operation.
package persistence
