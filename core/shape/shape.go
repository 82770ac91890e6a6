// Package shape turns raw store results into the caller-visible value for
// a statement. Everything here is pure and synchronous: no I/O, no
// knowledge of transactions.
package shape

import (
	"strings"

	"github.com/idokutela/sqltx/core/store"
)

// Row is re-exported so callers shaping results do not need to import the
// store contract package.
type Row = store.Row

// OutputMode selects the shape of a statement's result.
type OutputMode int

const (
	// ModeRows yields every shaped row, in store order. The default.
	ModeRows OutputMode = iota
	// ModeFirst yields the first shaped row, or nil if there is none.
	ModeFirst
	// ModeNone yields nothing; row data is never materialized.
	ModeNone
	// ModeRowsAffected yields the store-reported affected-row count.
	ModeRowsAffected
	// ModeInsertID yields the store-reported inserted row id.
	ModeInsertID
	// ModeFull yields rows, insert id and rows-affected together.
	ModeFull
)

func (m OutputMode) String() string {
	switch m {
	case ModeRows:
		return "rows"
	case ModeFirst:
		return "first"
	case ModeNone:
		return "none"
	case ModeRowsAffected:
		return "rowsAffected"
	case ModeInsertID:
		return "insertId"
	case ModeFull:
		return "full"
	}
	return "unknown"
}

// Transform is a caller-supplied per-row stage, run after key
// normalization and before any truncation derived from the output mode.
// Returning a nil row drops the row; returning an error aborts shaping and
// is surfaced exactly like a store error.
type Transform func(Row) (Row, error)

// QueryOptions configure how a single statement's result is shaped. The
// zero value means: all rows, normalized keys, no transform.
type QueryOptions struct {
	Mode OutputMode
	// RawKeys disables column-key normalization, leaving keys exactly as
	// the store reports them. By default keys are lower-cased.
	RawKeys   bool
	Transform Transform
}

// Result is the shaped outcome of one statement. Which fields are
// populated depends on the output mode; InsertID and RowsAffected are nil
// whenever the store reported nothing.
type Result struct {
	Rows         []Row
	InsertID     *int64
	RowsAffected *int64
}

// rowLimit is the truncation stage derived from the output mode: modes
// that structurally cannot carry row data take zero rows, ModeFirst takes
// one, everything else is unbounded. Callers must never pay for rows they
// cannot receive.
func rowLimit(m OutputMode) int {
	switch m {
	case ModeNone, ModeRowsAffected, ModeInsertID:
		return 0
	case ModeFirst:
		return 1
	}
	return -1
}

// Shape dispatches on the output mode and produces the final result for a
// successfully executed statement.
func Shape(raw *store.RawResult, opts QueryOptions) (*Result, error) {
	switch opts.Mode {
	case ModeNone:
		return &Result{}, nil
	case ModeRowsAffected:
		return &Result{RowsAffected: raw.RowsAffected}, nil
	case ModeInsertID:
		return &Result{InsertID: raw.InsertID}, nil
	case ModeFull:
		rows, err := shapeRows(raw, opts, -1)
		if err != nil {
			return nil, err
		}
		return &Result{Rows: rows, InsertID: raw.InsertID, RowsAffected: raw.RowsAffected}, nil
	}
	rows, err := shapeRows(raw, opts, rowLimit(opts.Mode))
	if err != nil {
		return nil, err
	}
	return &Result{Rows: rows}, nil
}

// shapeRows runs the per-row pipeline: normalize keys, apply the
// transform, stop once limit rows have been kept. A limit of zero skips
// row extraction entirely.
func shapeRows(raw *store.RawResult, opts QueryOptions, limit int) ([]Row, error) {
	if limit == 0 || len(raw.Rows) == 0 {
		return nil, nil
	}
	out := make([]Row, 0, len(raw.Rows))
	for _, item := range raw.Rows {
		row := item
		if !opts.RawKeys {
			row = normalizeRow(item)
		}
		if opts.Transform != nil {
			var err error
			row, err = opts.Transform(row)
			if err != nil {
				return nil, err
			}
			if row == nil {
				continue
			}
		}
		out = append(out, row)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func normalizeRow(in Row) Row {
	out := make(Row, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
