package core

import (
	"context"
	"time"
)

// UserStore is the persistence port used by import, duplicate check and export.
// Lookups that match nothing return ErrNotFound.
type UserStore interface {
	// FindByEmails returns every user whose email is in emails, in one query.
	FindByEmails(ctx context.Context, emails []string) ([]User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id int64) (User, error)

	// InTx runs fn in a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(tx UserTx) error) error

	// FetchBatch returns up to limit users matching spec with id > afterID,
	// ordered by id.
	FetchBatch(ctx context.Context, spec CursorSpec, afterID int64, limit int) ([]User, error)

	// StreamRaw walks users matching spec in id order with a forward-only
	// cursor. fn receives the ExportHeader columns as text, already rendered
	// the way the export writes them; nil means NULL. The slices are only
	// valid during the call.
	StreamRaw(ctx context.Context, spec CursorSpec, fn func(fields [][]byte) error) error
}

// UserTx is the subset of store operations available inside an import chunk.
type UserTx interface {
	FindByID(ctx context.Context, id int64) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)

	// InsertUsers bulk-inserts new users. IDs on the input are ignored.
	InsertUsers(ctx context.Context, users []User) error

	// UpdateUser overwrites the record with u.ID. CreatedAt is never written;
	// PasswordHash is written only when setPassword is true.
	UpdateUser(ctx context.Context, u User, setPassword bool) error
}

// PasswordHasher hashes plaintext passwords for storage.
type PasswordHasher interface {
	Hash(plain string) (string, error)
}

// Recorder receives import and export counters. A nil Recorder is allowed.
type Recorder interface {
	ImportRows(outcome Outcome, n int)
	ImportAborted()
	ExportFinished(variant string, rows int, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ImportRows(Outcome, int)                   {}
func (nopRecorder) ImportAborted()                            {}
func (nopRecorder) ExportFinished(string, int, time.Duration) {}
