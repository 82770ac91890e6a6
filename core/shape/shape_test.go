package shape

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/idokutela/sqltx/core/store"
)

// rawWithRows builds a raw result whose rows carry upper-cased column
// names, so key normalization is observable, plus insert id and affected
// count.
func rawWithRows(n int) *store.RawResult {
	rows := make([]store.Row, n)
	for i := range rows {
		rows[i] = store.Row{"ID": int64(i + 1), "Name": "row"}
	}
	id := int64(99)
	affected := int64(n)
	return &store.RawResult{Rows: rows, InsertID: &id, RowsAffected: &affected}
}

// countingTransform wraps a transform and counts invocations, so tests can
// observe whether row data was materialized at all.
func countingTransform(calls *int, inner Transform) Transform {
	return func(r Row) (Row, error) {
		*calls++
		if inner == nil {
			return r, nil
		}
		return inner(r)
	}
}

func TestModeRowsNormalizesAndKeepsOrder(t *testing.T) {
	res, err := Shape(rawWithRows(3), QueryOptions{Mode: ModeRows})
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
	for i, row := range res.Rows {
		require.Equal(t, int64(i+1), row["id"], "keys should be lower-cased, order preserved")
		require.NotContains(t, row, "ID")
	}
	require.Nil(t, res.InsertID, "rows mode carries no insert id")
	require.Nil(t, res.RowsAffected)
}

func TestRawKeysLeaveColumnNamesAlone(t *testing.T) {
	res, err := Shape(rawWithRows(1), QueryOptions{Mode: ModeRows, RawKeys: true})
	require.NoError(t, err)
	require.Contains(t, res.Rows[0], "ID")
	require.NotContains(t, res.Rows[0], "id")
}

func TestModeFirst(t *testing.T) {
	res, err := Shape(rawWithRows(3), QueryOptions{Mode: ModeFirst})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, int64(1), res.Rows[0]["id"])
}

func TestModeFirstOfNoRows(t *testing.T) {
	res, err := Shape(&store.RawResult{}, QueryOptions{Mode: ModeFirst})
	require.NoError(t, err)
	require.Empty(t, res.Rows)
}

// TestScalarModesNeverMaterializeRows: none, rowsAffected and insertId
// structurally cannot return row data, so the per-row pipeline must not
// run even when the raw result carries rows.
func TestScalarModesNeverMaterializeRows(t *testing.T) {
	for _, mode := range []OutputMode{ModeNone, ModeRowsAffected, ModeInsertID} {
		t.Run(mode.String(), func(t *testing.T) {
			calls := 0
			res, err := Shape(rawWithRows(5), QueryOptions{
				Mode:      mode,
				Transform: countingTransform(&calls, nil),
			})
			require.NoError(t, err)
			require.Zero(t, calls, "transform must not run for %s", mode)
			require.Empty(t, res.Rows)
		})
	}
}

func TestModeRowsAffectedAndInsertID(t *testing.T) {
	raw := rawWithRows(4)

	res, err := Shape(raw, QueryOptions{Mode: ModeRowsAffected})
	require.NoError(t, err)
	require.NotNil(t, res.RowsAffected)
	require.Equal(t, int64(4), *res.RowsAffected)

	res, err = Shape(raw, QueryOptions{Mode: ModeInsertID})
	require.NoError(t, err)
	require.NotNil(t, res.InsertID)
	require.Equal(t, int64(99), *res.InsertID)

	// Absent values stay absent, they never become errors.
	res, err = Shape(&store.RawResult{}, QueryOptions{Mode: ModeInsertID})
	require.NoError(t, err)
	require.Nil(t, res.InsertID)
}

// TestModeFullMatchesModeRows: the rows inside a full result must equal
// the result of the same raw data shaped in rows mode with an identical
// transform.
func TestModeFullMatchesModeRows(t *testing.T) {
	keepEven := func(r Row) (Row, error) {
		if r["id"].(int64)%2 != 0 {
			return nil, nil
		}
		return r, nil
	}
	raw := rawWithRows(6)

	full, err := Shape(raw, QueryOptions{Mode: ModeFull, Transform: keepEven})
	require.NoError(t, err)
	rows, err := Shape(raw, QueryOptions{Mode: ModeRows, Transform: keepEven})
	require.NoError(t, err)

	require.Equal(t, rows.Rows, full.Rows)
	require.NotNil(t, full.InsertID)
	require.NotNil(t, full.RowsAffected)
}

// TestTransformRunsBeforeTruncation: a filtering transform composes ahead
// of the output-mode truncation, so ModeFirst yields the first row the
// transform kept, not an empty result because the first raw row was
// dropped.
func TestTransformRunsBeforeTruncation(t *testing.T) {
	calls := 0
	keepEven := countingTransform(&calls, func(r Row) (Row, error) {
		if r["id"].(int64)%2 != 0 {
			return nil, nil
		}
		return r, nil
	})

	res, err := Shape(rawWithRows(6), QueryOptions{Mode: ModeFirst, Transform: keepEven})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, int64(2), res.Rows[0]["id"])
	require.Equal(t, 2, calls, "shaping should stop as soon as one row is kept")
}

func TestTransformErrorAbortsShaping(t *testing.T) {
	boom := errors.New("bad row")
	_, err := Shape(rawWithRows(3), QueryOptions{
		Mode:      ModeRows,
		Transform: func(Row) (Row, error) { return nil, boom },
	})
	require.ErrorIs(t, err, boom)
}
