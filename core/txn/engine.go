package txn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/idokutela/sqltx/core/future"
	"github.com/idokutela/sqltx/core/store"
)

// Run opens a transaction on db, executes body against it, and returns the
// body's result. On clean return the store commits by itself once the
// transaction settles; if an error escapes body, Run issues one rollback
// statement, settles, and returns that error unchanged (never the rollback
// statement's own error).
//
// body receives the transaction handle wrapper and must issue every
// statement through it. The body may loop, branch, and locally catch
// statement errors to continue the transaction — continuing means issuing
// a further statement. If the body returns cleanly while its last
// statement failed, the store rolls the transaction back and Run returns
// ErrUncommitted wrapping that statement's error. It must not block on
// anything other than Tx statement execution: the store discards
// transactions whose work does not run to completion promptly, and the
// engine cannot enforce this.
//
// The Tx is only valid until Run returns; retaining or using it afterwards
// panics. A change-version transaction missing either version panics: that
// is API misuse, not a runtime failure.
func Run[T any](db store.DB, opts Options, body func(*Tx) (T, error)) (T, error) {
	var zero T
	if opts.Kind == KindChangeVersion && (opts.FromVersion == "" || opts.ToVersion == "") {
		panic("txn: change-version transaction requires FromVersion and ToVersion")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(
		zap.String("txn_id", uuid.NewString()),
		zap.Stringer("kind", opts.Kind),
	)

	ctx := context.Background()
	if opts.Tracer != nil {
		var span trace.Span
		ctx, span = opts.Tracer.Start(ctx, "sqltx.txn",
			trace.WithAttributes(attribute.String("sqltx.kind", opts.Kind.String())))
		defer span.End()
	}
	kindAttr := metric.WithAttributes(attribute.String("kind", opts.Kind.String()))
	if opts.Metrics != nil {
		opts.Metrics.TxnStartedCounter.Add(ctx, 1, kindAttr)
	}
	start := time.Now()

	// The open primitive delivers the handle asynchronously; the first
	// delivery is what unblocks the body.
	opened := future.Wrap(func(deliver func(store.Handle)) {
		switch opts.Kind {
		case KindReadOnly:
			db.OpenSharedRead(deliver)
		case KindChangeVersion:
			db.OpenChangeVersion(opts.FromVersion, opts.ToVersion, deliver)
		default:
			db.OpenExclusive(deliver)
		}
	})
	tx := &Tx{
		handle:  opened.Await(),
		logger:  logger,
		metrics: opts.Metrics,
		ctx:     ctx,
	}
	logger.Debug("transaction open")

	value, err := body(tx)
	if err != nil {
		tx.rollback()
		logger.Debug("transaction rolled back", zap.Error(err))
		if opts.Metrics != nil {
			opts.Metrics.TxnRolledBackCounter.Add(ctx, 1, kindAttr)
			opts.Metrics.TxnDurationHistogram.Record(ctx, time.Since(start).Milliseconds(), kindAttr)
		}
		return zero, err
	}

	// A clean return with the last statement failed still rolls back at
	// settle; the caller must hear about that, not a fake commit.
	if stmtErr := tx.uncommitted(); stmtErr != nil {
		tx.settleAndClose()
		logger.Debug("transaction rolled back", zap.Error(stmtErr))
		if opts.Metrics != nil {
			opts.Metrics.TxnRolledBackCounter.Add(ctx, 1, kindAttr)
			opts.Metrics.TxnDurationHistogram.Record(ctx, time.Since(start).Milliseconds(), kindAttr)
		}
		return zero, fmt.Errorf("%w: %w", ErrUncommitted, stmtErr)
	}

	tx.settleAndClose()
	logger.Debug("transaction settled clean")
	if opts.Metrics != nil {
		opts.Metrics.TxnCommittedCounter.Add(ctx, 1, kindAttr)
		opts.Metrics.TxnDurationHistogram.Record(ctx, time.Since(start).Milliseconds(), kindAttr)
	}
	return value, nil
}
