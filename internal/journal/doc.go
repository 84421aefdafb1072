// Package journal persists conversion runs in SQLite.
//
// A run is one pipeline invocation against a converter node; each completed
// output buffer adds a frame row carrying its stream, status, device sequence
// and the completion latency of the input it was produced from. The journal
// backs the history command and is safe to delete: schema changes bump the
// version in schema.go and refuse older databases with ErrSchemaMismatch.
package journal
