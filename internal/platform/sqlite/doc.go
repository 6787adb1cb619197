// Package sqlite runs the task ledger and the SQL record index on an embedded
// SQLite database (modernc.org/sqlite, no cgo). It reuses the stores of the
// postgres package with a SQLite error mapper and its own migrations, and is
// meant for single-node deployments and tests.
package sqlite
