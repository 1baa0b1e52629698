package engine

import "errors"

var (
	// ErrSchemaError covers any reference to an unknown table, column, or
	// index: the facade-level counterpart to recordstore's narrower
	// ErrInvalidTuple.
	ErrSchemaError = errors.New("engine: schema error")
	// ErrDuplicateKey is returned by Insert when a unique index (PRIMARY or
	// otherwise) already holds the row's key. The just-inserted record is
	// compensated away (deleted) before this error returns, so the table
	// never ends up holding an orphaned row with no index entry.
	ErrDuplicateKey = errors.New("engine: duplicate key")
)
