package store

import "database/sql"

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Store methods take it explicitly so the caller decides whether an
// operation runs inside a row-locking transaction or standalone.
type Querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}
