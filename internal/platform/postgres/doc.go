// Package postgres implements the task ledger and the SQL record index on top
// of database/sql. It is written against PostgreSQL through the pgx stdlib
// driver, and the SQL sticks to the subset SQLite also accepts so the sqlite
// package can reuse these stores with its own error mapper.
package postgres
