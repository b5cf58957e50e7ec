package dbutil

import (
	"context"
	"log/slog"
	"math"
	prand "math/rand"
	"time"
)

// txExecutorOptions holds the options for the transaction executor.
type txExecutorOptions struct {
	numRetries        int
	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
}

func defaultTxExecutorOptions() *txExecutorOptions {
	return &txExecutorOptions{
		numRetries:        DefaultNumTxRetries,
		initialRetryDelay: 40 * time.Millisecond,
		maxRetryDelay:     3 * time.Second,
	}
}

// randRetryDelay returns a random retry delay between -50% and +50% of the
// configured delay that is doubled for each attempt and capped at a max
// value.
func (t *txExecutorOptions) randRetryDelay(attempt int) time.Duration {
	halfDelay := t.initialRetryDelay / 2
	randDelay := prand.Int63n(int64(t.initialRetryDelay)) //nolint:gosec

	initialDelay := halfDelay + time.Duration(randDelay)
	if attempt == 0 {
		return initialDelay
	}

	factor := time.Duration(math.Pow(2, math.Min(float64(attempt), 32)))
	//nolint:durationcheck
	actualDelay := initialDelay * factor

	if actualDelay > t.maxRetryDelay {
		return t.maxRetryDelay
	}

	return actualDelay
}

// TxExecutorOption is a functional option for the executor.
type TxExecutorOption func(*txExecutorOptions)

// WithTxRetries overrides the number of retries attempted on a serialization
// or deadlock error.
func WithTxRetries(numRetries int) TxExecutorOption {
	return func(o *txExecutorOptions) { o.numRetries = numRetries }
}

// TransactionExecutor abstracts away the type of query a store runs under a
// transaction, retrying automatically on sqlite busy/locked errors.
type TransactionExecutor[Query any] struct {
	BatchedQuerier

	createQuery QueryCreator[Query]
	opts        *txExecutorOptions
	log         *slog.Logger
}

// NewTransactionExecutor builds an executor around a BatchedQuerier and a
// QueryCreator that turns a raw *sql.Tx into the store's query type.
func NewTransactionExecutor[Querier any](db BatchedQuerier,
	createQuery QueryCreator[Querier], log *slog.Logger,
	opts ...TxExecutorOption,
) *TransactionExecutor[Querier] {

	txOpts := defaultTxExecutorOptions()
	for _, optFunc := range opts {
		optFunc(txOpts)
	}

	return &TransactionExecutor[Querier]{
		BatchedQuerier: db,
		createQuery:    createQuery,
		opts:           txOpts,
		log:            log,
	}
}

// ExecTx runs txBody inside a transaction, retrying with capped exponential
// backoff whenever sqlite reports a serialization or deadlock error.
func (t *TransactionExecutor[Q]) ExecTx(ctx context.Context,
	txOptions TxOptions, txBody func(Q) error,
) error {

	waitBeforeRetry := func(attempt int) {
		delay := t.opts.randRetryDelay(attempt)
		t.log.DebugContext(
			ctx, "retrying transaction after serialization error",
			"attempt", attempt, "delay", delay,
		)
		time.Sleep(delay)
	}

	for i := 0; i < t.opts.numRetries; i++ {
		tx, err := t.BeginTx(ctx, txOptions)
		if err != nil {
			dbErr := MapSQLError(err)
			if IsSerializationOrDeadlockError(dbErr) {
				waitBeforeRetry(i)
				continue
			}

			return dbErr
		}

		defer func() {
			_ = tx.Rollback()
		}()

		if err := txBody(t.createQuery(tx)); err != nil {
			dbErr := MapSQLError(err)
			if IsSerializationOrDeadlockError(dbErr) {
				_ = tx.Rollback()
				waitBeforeRetry(i)
				continue
			}

			return dbErr
		}

		if err := tx.Commit(); err != nil {
			dbErr := MapSQLError(err)
			if IsSerializationOrDeadlockError(dbErr) {
				_ = tx.Rollback()
				waitBeforeRetry(i)
				continue
			}

			return dbErr
		}

		return nil
	}

	return ErrRetriesExceeded
}
