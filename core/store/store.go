// Package store defines the contract between the transaction engine and a
// callback-based transactional SQL store. The engine never talks to a
// concrete database directly; it only drives these callbacks.
package store

// Row is one result row, keyed by column name. Column-name casing is
// whatever the store reports; key normalization is a shaping concern.
type Row map[string]any

// RawResult is the unshaped outcome of a single statement as reported by
// the store. InsertID and RowsAffected are nil when the store has nothing
// to report for the statement (a SELECT has neither, DDL has neither);
// absence is a value, not an error.
type RawResult struct {
	Rows         []Row
	InsertID     *int64
	RowsAffected *int64
}

// DB opens transactions. Each open primitive acquires the appropriate lock
// and hands a Handle to onHandle exactly once, synchronously or
// asynchronously. There is no open-error path: a store that cannot honor
// the request (for example a change-version open against the wrong
// version) must still deliver a handle and fail every statement on it.
type DB interface {
	// OpenExclusive opens a read-write transaction under the store's
	// exclusive lock.
	OpenExclusive(onHandle func(Handle))

	// OpenSharedRead opens a read-only transaction. Shared-read
	// transactions may overlap per store policy.
	OpenSharedRead(onHandle func(Handle))

	// OpenChangeVersion opens an exclusive transaction that, on commit,
	// moves the store's version from fromVersion to toVersion. The version
	// change only takes effect if at least one statement executed inside
	// the transaction; see txn.KindChangeVersion.
	OpenChangeVersion(fromVersion, toVersion string, onHandle func(Handle))
}

// Handle identifies one open transaction. At most one statement may be in
// flight against a handle at a time; the engine serializes statements
// itself. The store may pass a fresh Handle into each callback and callers
// must always use the most recently delivered one.
type Handle interface {
	// ExecuteStatement runs one statement. Exactly one of onSuccess or
	// onError is invoked, exactly once, synchronously or asynchronously.
	// Both callbacks carry the handle to use for subsequent statements.
	//
	// A failed statement leaves the transaction in a failed state. Issuing
	// a further statement clears that state: it is the caller's way of
	// electing to continue after handling the error. A transaction settled
	// while failed is rolled back.
	ExecuteStatement(sqlText string, params []any, onSuccess func(Handle, *RawResult), onError func(Handle, error))

	// Settle tells the store that no further statements will be issued.
	// It carries no verdict: the store commits on its own unless the
	// transaction is in a failed state, in which case it rolls back and
	// discards all staged work. The store has no explicit commit or
	// rollback primitive beyond this; forcing a rollback from a clean
	// state requires failing a statement on purpose.
	//
	// Settle must be called exactly once per transaction, after every
	// issued statement has reported its outcome. Statements issued after
	// Settle are a programming error.
	Settle()
}
