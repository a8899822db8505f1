package db

import "context"

// Database is the storage handle used by the test case and submission repositories.
type Database interface {
	Querier

	// Transaction runs fn inside a transaction, committing on nil and rolling back otherwise
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Querier abstracts statements shared by the database and an open transaction.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// Transaction is a Querier bound to a transaction owned by Database.Transaction.
type Transaction interface {
	Querier
}

// Rows is an iterator over a query result.
type Rows interface {
	Scanner
	Next() bool
	Close() error
	Err() error
}

// Row is the result of QueryRow.
type Row interface {
	Scanner
}

// Scanner is satisfied by both Row and Rows so scan helpers can serve either.
type Scanner interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an executed statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
