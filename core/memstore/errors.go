package memstore

import "errors"

// --- Error Definitions ---

var (
	ErrSyntax          = errors.New("statement could not be parsed")
	ErrNoSuchTable     = errors.New("no such table")
	ErrTableExists     = errors.New("table already exists")
	ErrNoSuchColumn    = errors.New("no such column")
	ErrColumnExists    = errors.New("column already exists")
	ErrColumnCount     = errors.New("value count does not match column count")
	ErrParamCount      = errors.New("not enough parameters for placeholders")
	ErrReadOnly        = errors.New("write statement in a read-only transaction")
	ErrVersionMismatch = errors.New("database version does not match expected version")
)
