package txn

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/idokutela/sqltx/core/future"
	"github.com/idokutela/sqltx/core/shape"
	"github.com/idokutela/sqltx/core/store"
	internaltelemetry "github.com/idokutela/sqltx/internal/telemetry"
)

// Tx is the transaction-scoped context handed to a transaction body. It
// tracks the latest handle the store delivered (the store may hand back a
// fresh handle with every callback) and is the only way to issue
// statements. A Tx belongs to exactly one running transaction and is dead
// once Run returns.
type Tx struct {
	mu     sync.Mutex
	handle store.Handle
	closed bool

	// pendingErr is the most recent statement's error, nil after a
	// success. While it is set the store considers the transaction
	// failed and will roll it back at settle; only the body goroutine
	// touches it.
	pendingErr error

	logger  *zap.Logger
	metrics *internaltelemetry.TxnMetrics
	ctx     context.Context
}

// statement outcome as delivered by the store's callback pair.
type outcome struct {
	raw *store.RawResult
	err error
}

func (tx *Tx) currentHandle() store.Handle {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		panic("txn: statement issued outside an active transaction")
	}
	return tx.handle
}

func (tx *Tx) updateHandle(h store.Handle) {
	tx.mu.Lock()
	if h != nil && !tx.closed {
		tx.handle = h
	}
	tx.mu.Unlock()
}

// issue runs one statement against the current handle and blocks until the
// store reports its outcome. Both store callbacks refresh the
// transaction-scoped handle before the outcome is delivered.
func (tx *Tx) issue(sqlText string, params []any) outcome {
	h := tx.currentHandle()
	pending := future.Wrap(func(deliver func(outcome)) {
		h.ExecuteStatement(sqlText, params,
			func(nh store.Handle, raw *store.RawResult) {
				tx.updateHandle(nh)
				deliver(outcome{raw: raw})
			},
			func(nh store.Handle, err error) {
				tx.updateHandle(nh)
				deliver(outcome{err: err})
			},
		)
	})
	out := pending.Await()
	tx.pendingErr = out.err
	if tx.metrics != nil {
		tx.metrics.StmtExecutedCounter.Add(tx.ctx, 1)
	}
	return out
}

// uncommitted reports the error that will make the store roll the
// transaction back at settle, nil if the transaction is clean.
func (tx *Tx) uncommitted() error {
	return tx.pendingErr
}

// Execute runs one statement and shapes its result per opts. A store error
// is returned for the body to handle or let propagate; a transform error
// during shaping is returned the same way. Execute is only valid while the
// owning transaction body is running.
func (tx *Tx) Execute(sqlText string, params []any, opts shape.QueryOptions) (*shape.Result, error) {
	out := tx.issue(sqlText, params)
	if out.err != nil {
		tx.logger.Debug("statement failed", zap.String("sql", sqlText), zap.Error(out.err))
		return nil, out.err
	}
	return shape.Shape(out.raw, opts)
}

// Query runs a statement and returns all shaped rows in store order. At
// most one QueryOptions may be given; its Mode is overridden.
func (tx *Tx) Query(sqlText string, params []any, opts ...shape.QueryOptions) ([]shape.Row, error) {
	res, err := tx.Execute(sqlText, params, fixMode(shape.ModeRows, opts))
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// First runs a statement and returns the first shaped row, or nil if the
// result has none.
func (tx *Tx) First(sqlText string, params []any, opts ...shape.QueryOptions) (shape.Row, error) {
	res, err := tx.Execute(sqlText, params, fixMode(shape.ModeFirst, opts))
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}
	return res.Rows[0], nil
}

// Exec runs a statement for effect only; no row data is materialized.
func (tx *Tx) Exec(sqlText string, params []any) error {
	_, err := tx.Execute(sqlText, params, shape.QueryOptions{Mode: shape.ModeNone})
	return err
}

// RowsAffected runs a statement and returns the store-reported
// affected-row count, nil when the store reported none.
func (tx *Tx) RowsAffected(sqlText string, params []any) (*int64, error) {
	res, err := tx.Execute(sqlText, params, shape.QueryOptions{Mode: shape.ModeRowsAffected})
	if err != nil {
		return nil, err
	}
	return res.RowsAffected, nil
}

// InsertID runs a statement and returns the store-reported inserted row
// id, nil when the store reported none.
func (tx *Tx) InsertID(sqlText string, params []any) (*int64, error) {
	res, err := tx.Execute(sqlText, params, shape.QueryOptions{Mode: shape.ModeInsertID})
	if err != nil {
		return nil, err
	}
	return res.InsertID, nil
}

// Full runs a statement and returns rows, insert id and rows-affected
// together.
func (tx *Tx) Full(sqlText string, params []any, opts ...shape.QueryOptions) (*shape.Result, error) {
	return tx.Execute(sqlText, params, fixMode(shape.ModeFull, opts))
}

func fixMode(m shape.OutputMode, opts []shape.QueryOptions) shape.QueryOptions {
	var o shape.QueryOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	o.Mode = m
	return o
}

// rollback forces the store to abandon the transaction by failing a
// statement on purpose, then settles. The poison statement's error is
// swallowed: the caller of Run only ever sees the error that triggered the
// rollback.
func (tx *Tx) rollback() {
	out := tx.issue(poisonStatement, nil)
	if out.err == nil {
		// Store misbehavior: the rollback statement is unparsable and must
		// never succeed. Nothing sensible to do beyond flagging it.
		tx.logger.Warn("rollback statement unexpectedly succeeded; transaction may have committed")
	}
	tx.settleAndClose()
}

// settleAndClose delivers the drain signal to the store and retires the
// transaction-scoped context. Any later statement through this Tx panics.
func (tx *Tx) settleAndClose() {
	h := tx.currentHandle()
	tx.mu.Lock()
	tx.closed = true
	tx.handle = nil
	tx.mu.Unlock()
	h.Settle()
}
