// Package memstore is an in-memory transactional store speaking the
// callback contract in core/store. It understands a small SQL subset
// (CREATE/DROP/ALTER TABLE, INSERT, SELECT, UPDATE, DELETE with ?
// placeholders and single-equality WHERE), enough to exercise the
// transaction engine end to end. It is a reference store, not a SQL
// engine: anything outside the subset fails with ErrSyntax.
package memstore

import (
	"sync"

	"go.uber.org/zap"

	"github.com/idokutela/sqltx/core/store"
)

// queueDepth bounds how many statements a transaction may have enqueued
// before ExecuteStatement blocks. The engine issues one at a time, so the
// bound is never hit in practice.
const queueDepth = 16

type txKind int

const (
	txWrite txKind = iota
	txRead
	txVersion
)

// DB is an in-memory database. Exclusive (write and change-version)
// transactions serialize on a write lock; shared-read transactions overlap
// under the read lock. The zero value is not usable; construct with Open.
type DB struct {
	lock    sync.RWMutex // transaction lock, held for a transaction's whole life
	version string
	tables  map[string]*table
	logger  *zap.Logger
}

type table struct {
	cols   []string
	rows   [][]any // each row aligned to cols
	nextID int64   // next rowid handed out by INSERT
}

func (t *table) clone() *table {
	c := &table{
		cols:   append([]string(nil), t.cols...),
		rows:   make([][]any, len(t.rows)),
		nextID: t.nextID,
	}
	for i, r := range t.rows {
		c.rows[i] = append([]any(nil), r...)
	}
	return c
}

// Open creates an empty database at the given version. logger may be nil.
func Open(version string, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{
		version: version,
		tables:  make(map[string]*table),
		logger:  logger.With(zap.String("component", "memstore")),
	}
}

// Version reports the current database version.
func (db *DB) Version() string {
	db.lock.RLock()
	defer db.lock.RUnlock()
	return db.version
}

// OpenExclusive implements store.DB.
func (db *DB) OpenExclusive(onHandle func(store.Handle)) {
	db.open(txWrite, "", "", onHandle)
}

// OpenSharedRead implements store.DB.
func (db *DB) OpenSharedRead(onHandle func(store.Handle)) {
	db.open(txRead, "", "", onHandle)
}

// OpenChangeVersion implements store.DB. A mismatched fromVersion still
// delivers a handle; every statement on it fails with ErrVersionMismatch.
func (db *DB) OpenChangeVersion(fromVersion, toVersion string, onHandle func(store.Handle)) {
	db.open(txVersion, fromVersion, toVersion, onHandle)
}

func (db *DB) open(kind txKind, fromVersion, toVersion string, onHandle func(store.Handle)) {
	go func() {
		if kind == txRead {
			db.lock.RLock()
		} else {
			db.lock.Lock()
		}
		h := &handle{
			db:        db,
			kind:      kind,
			toVersion: toVersion,
			queue:     make(chan statement, queueDepth),
			overlay:   make(map[string]*table),
			dropped:   make(map[string]bool),
		}
		if kind == txVersion && db.version != fromVersion {
			h.versionBad = true
		}
		go h.run()
		onHandle(h)
	}()
}

// statement is one queued ExecuteStatement call.
type statement struct {
	sqlText   string
	params    []any
	onSuccess func(store.Handle, *store.RawResult)
	onError   func(store.Handle, error)
}

// handle is one open transaction. All statement execution happens on the
// run goroutine; write statements stage into the overlay, which is applied
// to the database only if the transaction settles clean.
type handle struct {
	db         *DB
	kind       txKind
	toVersion  string
	versionBad bool

	queue chan statement

	// run-goroutine state, never touched elsewhere
	overlay  map[string]*table
	dropped  map[string]bool
	failed   error
	executed bool
}

// ExecuteStatement implements store.Handle.
func (h *handle) ExecuteStatement(sqlText string, params []any, onSuccess func(store.Handle, *store.RawResult), onError func(store.Handle, error)) {
	h.queue <- statement{sqlText: sqlText, params: params, onSuccess: onSuccess, onError: onError}
}

// Settle implements store.Handle. Closing the queue is the drain signal;
// the run goroutine then commits or rolls back and releases the lock.
func (h *handle) Settle() {
	close(h.queue)
}

func (h *handle) run() {
	for s := range h.queue {
		if h.versionBad {
			h.failed = ErrVersionMismatch
			s.onError(h, ErrVersionMismatch)
			continue
		}
		raw, err := h.exec(s.sqlText, s.params)
		if err != nil {
			h.failed = err
			s.onError(h, err)
			continue
		}
		// A successful statement after a failed one means the caller
		// handled the error and elected to continue.
		h.failed = nil
		h.executed = true
		s.onSuccess(h, raw)
	}
	h.finish()
}

// finish runs once the queue has drained: apply staged work unless the
// transaction is failed, then release the transaction lock.
func (h *handle) finish() {
	db := h.db
	if h.failed != nil {
		db.logger.Debug("transaction rolled back", zap.Error(h.failed))
	} else if h.kind != txRead {
		for name := range h.dropped {
			delete(db.tables, name)
		}
		for name, t := range h.overlay {
			db.tables[name] = t
		}
		if h.kind == txVersion && h.executed {
			db.version = h.toVersion
		}
		db.logger.Debug("transaction committed")
	}
	if h.kind == txRead {
		db.lock.RUnlock()
	} else {
		db.lock.Unlock()
	}
}

// lookup resolves a table through the overlay. Safe on the run goroutine:
// read transactions hold the shared lock, write transactions hold the
// exclusive lock, so db.tables cannot change underneath.
func (h *handle) lookup(name string) (*table, bool) {
	if h.dropped[name] {
		return nil, false
	}
	if t, ok := h.overlay[name]; ok {
		return t, true
	}
	t, ok := h.db.tables[name]
	return t, ok
}

// writable returns the overlay copy of a table, staging one on first
// write.
func (h *handle) writable(name string) (*table, bool) {
	if h.dropped[name] {
		return nil, false
	}
	if t, ok := h.overlay[name]; ok {
		return t, true
	}
	t, ok := h.db.tables[name]
	if !ok {
		return nil, false
	}
	c := t.clone()
	h.overlay[name] = c
	return c, true
}
