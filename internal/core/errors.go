package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a point lookup matches nothing.
var ErrNotFound = errors.New("record not found")

// FormatError means the upload is not a readable CSV with a header row.
// Nothing has been written when it is returned.
type FormatError struct {
	Line   int
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	msg := "invalid CSV format: " + e.Reason
	if e.Line > 0 {
		msg = fmt.Sprintf("%s (line %d)", msg, e.Line)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

// RowLimitError means the file holds more data rows than allowed.
type RowLimitError struct {
	Limit int
}

func (e *RowLimitError) Error() string {
	return fmt.Sprintf("CSV file exceeds the limit of %d data rows", e.Limit)
}

// PersistenceError aborts an import. Chunks committed before it stay committed.
type PersistenceError struct {
	// Line is the first line of the failing write, 0 when unknown.
	Line  int
	Chunk int
	Err   error
}

func (e *PersistenceError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("import aborted at line %d (chunk %d): %v", e.Line, e.Chunk, e.Err)
	}
	return fmt.Sprintf("import aborted in chunk %d: %v", e.Chunk, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// StreamWriteError means the export destination stopped accepting bytes,
// typically because the client went away.
type StreamWriteError struct {
	Rows int
	Err  error
}

func (e *StreamWriteError) Error() string {
	return fmt.Sprintf("export stream write failed after %d rows: %v", e.Rows, e.Err)
}

func (e *StreamWriteError) Unwrap() error { return e.Err }

// errEmailExists is the per-row message for a create-strategy collision.
func errEmailExists(email string) string {
	return fmt.Sprintf("email %q already exists", email)
}
