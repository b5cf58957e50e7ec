// Package dbutil holds the sqlite connection, migration and retry plumbing
// shared by the membership, placement and state stores. Each store package
// owns its own schema and embedded migrations but leans on this package for
// opening the database, applying them, and retrying on sqlite's
// serialization/deadlock errors.
package dbutil

import (
	"context"
	"database/sql"
)

// DefaultNumTxRetries is the default number of times we'll retry a
// transaction if it fails with an error that permits transaction repetition.
const DefaultNumTxRetries = 10

// TxOptions represents a set of options one can use to control what type of
// database transaction is created. Transaction can either be read or write.
type TxOptions interface {
	// ReadOnly returns true if the transaction should be read-only.
	ReadOnly() bool
}

// BaseTxOptions defines the set of db txn options the database understands.
type BaseTxOptions struct {
	readOnly bool
}

// ReadOnly returns true if the transaction should be read only.
func (a *BaseTxOptions) ReadOnly() bool {
	return a.readOnly
}

// ReadTxOption returns a TxOptions that indicates a read-only transaction.
func ReadTxOption() *BaseTxOptions {
	return &BaseTxOptions{readOnly: true}
}

// WriteTxOption returns a TxOptions that indicates a write transaction.
func WriteTxOption() *BaseTxOptions {
	return &BaseTxOptions{readOnly: false}
}

// QueryCreator is a generic function used to wrap a *sql.Tx into whatever
// query surface a store package wants its transaction body to see.
type QueryCreator[Q any] func(*sql.Tx) Q

// BatchedQuerier is the minimal surface ExecTx needs from a concrete store:
// the ability to begin a transaction given a TxOptions.
type BatchedQuerier interface {
	BeginTx(ctx context.Context, options TxOptions) (*sql.Tx, error)
}

// BaseDB embeds a *sql.DB and implements BatchedQuerier, mapping the
// abstract TxOptions interface onto the concrete database/sql options.
type BaseDB struct {
	*sql.DB
}

// NewBaseDB wraps a raw *sql.DB connection.
func NewBaseDB(db *sql.DB) *BaseDB {
	return &BaseDB{DB: db}
}

// BeginTx implements BatchedQuerier.
func (b *BaseDB) BeginTx(ctx context.Context, opts TxOptions) (*sql.Tx, error) {
	return b.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: opts.ReadOnly()})
}
