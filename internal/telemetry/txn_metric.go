package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// TxnMetrics holds all the metric instruments for the transaction engine.
type TxnMetrics struct {
	TxnStartedCounter    metric.Int64Counter
	TxnCommittedCounter  metric.Int64Counter
	TxnRolledBackCounter metric.Int64Counter
	StmtExecutedCounter  metric.Int64Counter
	TxnDurationHistogram metric.Int64Histogram
}

// NewTxnMetrics creates and registers all the metrics for the transaction
// engine.
func NewTxnMetrics(meter metric.Meter) (*TxnMetrics, error) {
	txnStartedCounter, err := meter.Int64Counter(
		"sqltx.txn.started_total",
		metric.WithDescription("Total number of transactions opened."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	txnCommittedCounter, err := meter.Int64Counter(
		"sqltx.txn.committed_total",
		metric.WithDescription("Total number of transactions that settled clean."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	txnRolledBackCounter, err := meter.Int64Counter(
		"sqltx.txn.rolled_back_total",
		metric.WithDescription("Total number of transactions rolled back."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	stmtExecutedCounter, err := meter.Int64Counter(
		"sqltx.stmt.executed_total",
		metric.WithDescription("Total number of statements issued, rollback statements included."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	txnDurationHistogram, err := meter.Int64Histogram(
		"sqltx.txn.duration",
		metric.WithDescription("Wall time from transaction open to settle."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &TxnMetrics{
		TxnStartedCounter:    txnStartedCounter,
		TxnCommittedCounter:  txnCommittedCounter,
		TxnRolledBackCounter: txnRolledBackCounter,
		StmtExecutedCounter:  stmtExecutedCounter,
		TxnDurationHistogram: txnDurationHistogram,
	}, nil
}
