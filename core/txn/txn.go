// Package txn runs sequences of dependent SQL statements against a
// callback-only transactional store as ordinary sequential code. It owns
// the transaction handle for the duration of one transaction, serializes
// statement execution (the store accepts a single in-flight statement per
// handle), and synthesizes rollback by issuing a deliberately invalid
// statement, because the underlying store protocol has no rollback
// primitive of its own.
package txn

import (
	"errors"

	"go.uber.org/zap"

	internaltelemetry "github.com/idokutela/sqltx/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// ErrUncommitted is returned by Run when the body finishes cleanly but its
// last statement failed: the store rolls such a transaction back at settle
// time, so reporting the body's value as a committed result would be a
// lie. A body that handles a statement error and wants the transaction to
// survive must issue a further statement.
var ErrUncommitted = errors.New("transaction rolled back: its last statement failed")

// Kind selects how a transaction is opened.
type Kind int

const (
	// KindReadWrite opens under the store's exclusive lock. The default.
	KindReadWrite Kind = iota
	// KindReadOnly opens under the store's shared lock; read-only
	// transactions may overlap per store policy.
	KindReadOnly
	// KindChangeVersion opens a version-gated exclusive transaction that
	// moves the store from Options.FromVersion to Options.ToVersion on
	// commit.
	//
	// Known limitation: the version change rides on statement execution.
	// A change-version transaction whose body executes no statements
	// commits without changing the version.
	KindChangeVersion
)

func (k Kind) String() string {
	switch k {
	case KindReadWrite:
		return "readWrite"
	case KindReadOnly:
		return "readOnly"
	case KindChangeVersion:
		return "changeVersion"
	}
	return "unknown"
}

// Options configure one transaction. FromVersion and ToVersion are
// required for KindChangeVersion and ignored otherwise.
//
// Logger, Metrics and Tracer are ambient wiring; all three may be nil.
type Options struct {
	Kind        Kind
	FromVersion string
	ToVersion   string

	Logger  *zap.Logger
	Metrics *internaltelemetry.TxnMetrics
	Tracer  trace.Tracer
}

// poisonStatement can never parse in any SQL dialect (it opens with a NUL
// byte). Executing it forces the store to fail the transaction, which is
// the only way to make a store without a rollback primitive abandon one.
const poisonStatement = "\x00sqltx rollback"
