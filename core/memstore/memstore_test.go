package memstore_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/idokutela/sqltx/core/memstore"
	"github.com/idokutela/sqltx/core/shape"
	"github.com/idokutela/sqltx/core/txn"
)

// The engine is the intended consumer of a memstore, so these tests drive
// it through txn.Run rather than hand-rolling callback plumbing.

func setup(t *testing.T, stmts ...string) *memstore.DB {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	db := memstore.Open("1.0", logger)
	if len(stmts) > 0 {
		exec(t, db, stmts...)
	}
	return db
}

func exec(t *testing.T, db *memstore.DB, stmts ...string) {
	t.Helper()
	_, err := txn.Run(db, txn.Options{}, func(tx *txn.Tx) (struct{}, error) {
		for _, s := range stmts {
			if err := tx.Exec(s, nil); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	require.NoError(t, err)
}

func query(t *testing.T, db *memstore.DB, sqlText string, params ...any) []shape.Row {
	t.Helper()
	rows, err := txn.Run(db, txn.Options{Kind: txn.KindReadOnly}, func(tx *txn.Tx) ([]shape.Row, error) {
		return tx.Query(sqlText, params)
	})
	require.NoError(t, err)
	return rows
}

func TestInsertSelectRoundTrip(t *testing.T) {
	db := setup(t,
		"CREATE TABLE books (id, title, pages)",
		"INSERT INTO books VALUES (1, 'sicp', 657)",
		"INSERT INTO books (id, title) VALUES (2, 'k''r')",
	)

	rows := query(t, db, "SELECT * FROM books")
	require.Len(t, rows, 2)
	require.Equal(t, "sicp", rows[0]["title"])
	require.Equal(t, int64(657), rows[0]["pages"])
	require.Equal(t, "k'r", rows[1]["title"], "doubled quotes escape")
	require.Nil(t, rows[1]["pages"], "unlisted columns default to NULL")
}

func TestWhereAndParams(t *testing.T) {
	db := setup(t,
		"CREATE TABLE books (id, title)",
		"INSERT INTO books VALUES (1, 'sicp')",
		"INSERT INTO books VALUES (2, 'taocp')",
	)

	rows := query(t, db, "SELECT title FROM books WHERE id = ?", 2)
	require.Len(t, rows, 1)
	require.Equal(t, "taocp", rows[0]["title"])

	rows = query(t, db, "SELECT * FROM books WHERE id = 3")
	require.Empty(t, rows)
}

func TestUpdateAndDeleteReportAffectedRows(t *testing.T) {
	db := setup(t,
		"CREATE TABLE books (id, shelf)",
		"INSERT INTO books VALUES (1, 'a')",
		"INSERT INTO books VALUES (2, 'a')",
		"INSERT INTO books VALUES (3, 'b')",
	)

	affected, err := txn.Run(db, txn.Options{}, func(tx *txn.Tx) (*int64, error) {
		return tx.RowsAffected("UPDATE books SET shelf = 'c' WHERE shelf = 'a'", nil)
	})
	require.NoError(t, err)
	require.NotNil(t, affected)
	require.Equal(t, int64(2), *affected)

	affected, err = txn.Run(db, txn.Options{}, func(tx *txn.Tx) (*int64, error) {
		return tx.RowsAffected("DELETE FROM books WHERE shelf = 'c'", nil)
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), *affected)
	require.Len(t, query(t, db, "SELECT * FROM books"), 1)
}

func TestInsertIDsAreSequential(t *testing.T) {
	db := setup(t, "CREATE TABLE t (v)")

	for want := int64(1); want <= 3; want++ {
		id, err := txn.Run(db, txn.Options{}, func(tx *txn.Tx) (*int64, error) {
			return tx.InsertID("INSERT INTO t VALUES (?)", []any{want * 10})
		})
		require.NoError(t, err)
		require.NotNil(t, id)
		require.Equal(t, want, *id)
	}
}

func TestDDL(t *testing.T) {
	db := setup(t, "CREATE TABLE t (a)")

	exec(t, db, "CREATE TABLE IF NOT EXISTS t (a)")
	exec(t, db, "ALTER TABLE t ADD COLUMN b TEXT", "INSERT INTO t VALUES (1, 2)")
	require.Equal(t, int64(2), query(t, db, "SELECT b FROM t")[0]["b"])

	_, err := txn.Run(db, txn.Options{}, func(tx *txn.Tx) (struct{}, error) {
		return struct{}{}, tx.Exec("CREATE TABLE t (a)", nil)
	})
	require.ErrorIs(t, err, memstore.ErrTableExists)

	exec(t, db, "DROP TABLE t")
	_, err = txn.Run(db, txn.Options{Kind: txn.KindReadOnly}, func(tx *txn.Tx) (struct{}, error) {
		return struct{}{}, tx.Exec("SELECT * FROM t", nil)
	})
	require.ErrorIs(t, err, memstore.ErrNoSuchTable)
}

func TestStatementErrors(t *testing.T) {
	db := setup(t, "CREATE TABLE t (a)")

	cases := []struct {
		name    string
		sqlText string
		params  []any
		want    error
	}{
		{"garbage", "HELLO WORLD", nil, memstore.ErrSyntax},
		{"unterminated string", "INSERT INTO t VALUES ('oops)", nil, memstore.ErrSyntax},
		{"unknown column", "SELECT b FROM t", nil, memstore.ErrNoSuchColumn},
		{"column count", "INSERT INTO t VALUES (1, 2)", nil, memstore.ErrColumnCount},
		{"missing params", "INSERT INTO t VALUES (?)", nil, memstore.ErrParamCount},
		{"trailing junk", "DROP TABLE t t", nil, memstore.ErrSyntax},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := txn.Run(db, txn.Options{}, func(tx *txn.Tx) (struct{}, error) {
				return struct{}{}, tx.Exec(tc.sqlText, tc.params)
			})
			require.ErrorIs(t, err, tc.want)
		})
	}
}

// TestSharedReadsOverlap: two read-only transactions must be able to be
// active at the same time.
func TestSharedReadsOverlap(t *testing.T) {
	db := setup(t, "CREATE TABLE t (a)")

	release := make(chan struct{})
	firstActive := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := txn.Run(db, txn.Options{Kind: txn.KindReadOnly}, func(tx *txn.Tx) (struct{}, error) {
			close(firstActive)
			<-release
			return struct{}{}, tx.Exec("SELECT * FROM t", nil)
		})
		done <- err
	}()

	<-firstActive
	// With the first reader still open, a second reader must complete.
	rows := query(t, db, "SELECT * FROM t")
	require.Empty(t, rows)

	close(release)
	require.NoError(t, <-done)
}

// TestExclusiveTransactionsSerialize: a second read-write transaction may
// not open while an exclusive one is active.
func TestExclusiveTransactionsSerialize(t *testing.T) {
	db := setup(t, "CREATE TABLE t (a)")

	release := make(chan struct{})
	firstActive := make(chan struct{})
	var secondOpened atomic.Bool
	firstDone := make(chan error, 1)
	secondDone := make(chan error, 1)

	go func() {
		_, err := txn.Run(db, txn.Options{}, func(tx *txn.Tx) (struct{}, error) {
			close(firstActive)
			<-release
			return struct{}{}, tx.Exec("INSERT INTO t VALUES (1)", nil)
		})
		firstDone <- err
	}()

	<-firstActive
	go func() {
		_, err := txn.Run(db, txn.Options{}, func(tx *txn.Tx) (struct{}, error) {
			secondOpened.Store(true)
			return struct{}{}, tx.Exec("INSERT INTO t VALUES (2)", nil)
		})
		secondDone <- err
	}()

	time.Sleep(100 * time.Millisecond)
	require.False(t, secondOpened.Load(), "second exclusive transaction opened while the first held the lock")

	close(release)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)
	require.True(t, secondOpened.Load())
	require.Len(t, query(t, db, "SELECT * FROM t"), 2)
}

// TestVersionGate: only a change-version transaction moves the version,
// and only from the expected starting version.
func TestVersionGate(t *testing.T) {
	db := setup(t, "CREATE TABLE t (a)")
	require.Equal(t, "1.0", db.Version())

	exec(t, db, "INSERT INTO t VALUES (1)")
	require.Equal(t, "1.0", db.Version(), "ordinary transactions leave the version alone")

	opts := txn.Options{Kind: txn.KindChangeVersion, FromVersion: "1.0", ToVersion: "2.0"}
	_, err := txn.Run(db, opts, func(tx *txn.Tx) (struct{}, error) {
		return struct{}{}, tx.Exec("INSERT INTO t VALUES (2)", nil)
	})
	require.NoError(t, err)
	require.Equal(t, "2.0", db.Version())
}
