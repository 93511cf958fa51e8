package core

// merge.go applies parsed rows to the store.
//
// Flow for one import:
//
//  1. Rows the parser could not map become row errors.
//  2. Every email in the file is looked up in one query to build the index.
//  3. Rows are processed in chunks; each chunk is one transaction that
//     classifies its rows, applies the strategy, bulk-inserts the creates
//     and updates the matches one by one.
//  4. A store failure aborts the import. Earlier chunks stay committed.
//
// Row-level problems (validation, create-strategy conflicts) never abort.

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/JonMunkholm/userdir/internal/logging"
)

const (
	defaultSecretLength = 32

	// progressEvery is the row interval between progress log lines.
	progressEvery = 500
)

// importRun carries the state shared by every chunk of one import.
type importRun struct {
	id       string
	strategy Strategy
	now      time.Time
	hasher   PasswordHasher
	log      *slog.Logger

	// byEmail is the pre-fetched match index. Users created earlier in this
	// run are added with ID 0 and resolved on demand.
	byEmail map[string]User

	// defaultHash is computed at most once per run, on the first created
	// row without a password.
	defaultHash string

	result     *ImportResult
	errorLimit int
}

// chunkOutcome is what one chunk transaction produced. Either the counts are
// valid (abort is nil) or nothing from the chunk was committed.
type chunkOutcome struct {
	created   int
	updated   int
	skipped   int
	rowErrors []RowError
	newEmails []string
	abort     *PersistenceError
}

// Import merges parsed rows into the store with the given strategy.
//
// On a persistence failure it returns the partial result of the committed
// chunks together with a *PersistenceError.
func (s *Service) Import(ctx context.Context, parsed *ParsedFile, strategy Strategy) (*ImportResult, error) {
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}

	run := &importRun{
		id:         s.newID(),
		strategy:   strategy,
		now:        s.now(),
		hasher:     s.hasher,
		byEmail:    make(map[string]User),
		errorLimit: s.imports.ErrorLimit,
	}
	run.result = &ImportResult{ImportID: run.id, Strategy: strategy}
	run.log = logging.WithFields(ctx, "import_id", run.id, "strategy", strategy)
	if run.errorLimit <= 0 {
		run.errorLimit = 100
	}

	run.log.Info("import started", "rows", len(parsed.Rows))
	start := time.Now()

	rows := make([]*ImportRow, 0, len(parsed.Rows))
	for i := range parsed.Rows {
		row := &parsed.Rows[i]
		if row.Problem != "" {
			run.fail(row, row.Problem)
			continue
		}
		rows = append(rows, row)
	}

	if err := s.prefetch(ctx, run, rows); err != nil {
		s.rec.ImportAborted()
		return run.result, err
	}

	size := s.imports.ChunkSize
	processed := 0
	for chunk, lo := 0, 0; lo < len(rows); chunk, lo = chunk+1, lo+size {
		if err := ctx.Err(); err != nil {
			s.rec.ImportAborted()
			return run.result, fmt.Errorf("import cancelled before chunk %d: %w", chunk, err)
		}

		hi := min(lo+size, len(rows))
		out := s.runChunk(ctx, run, rows[lo:hi], chunk)
		if out.abort != nil {
			s.rec.ImportAborted()
			run.log.Error("import aborted",
				"chunk", chunk,
				"line", out.abort.Line,
				"imported", run.result.Imported,
				"updated", run.result.Updated,
				logging.Err(out.abort.Err),
			)
			return run.result, out.abort
		}
		run.commit(out)
		s.rec.ImportRows(OutcomeCreated, out.created)
		s.rec.ImportRows(OutcomeUpdated, out.updated)
		s.rec.ImportRows(OutcomeSkipped, out.skipped)
		s.rec.ImportRows(OutcomeErrored, len(out.rowErrors))

		before := processed
		processed = hi
		if processed/progressEvery > before/progressEvery {
			run.log.Info("import progress", "processed", processed, "total", len(rows))
		}
	}

	res := run.result
	run.log.Info("import completed",
		"imported", res.Imported,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"errors", res.Errors,
		"duration", time.Since(start),
	)
	return res, nil
}

// prefetch builds the email index with a single bulk lookup.
func (s *Service) prefetch(ctx context.Context, run *importRun, rows []*ImportRow) error {
	seen := make(map[string]struct{}, len(rows))
	emails := make([]string, 0, len(rows))
	for _, row := range rows {
		email := row.Get(FieldEmail)
		if email == "" {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		emails = append(emails, email)
	}
	if len(emails) == 0 {
		return nil
	}

	users, err := s.store.FindByEmails(ctx, emails)
	if err != nil {
		return &PersistenceError{Err: fmt.Errorf("prefetch existing users: %w", err)}
	}
	for _, u := range users {
		run.byEmail[u.Email] = u
	}
	return nil
}

// runChunk executes one chunk in its own transaction.
func (s *Service) runChunk(ctx context.Context, run *importRun, rows []*ImportRow, chunk int) chunkOutcome {
	var out chunkOutcome

	err := s.store.InTx(ctx, func(tx UserTx) error {
		out = chunkOutcome{}
		var (
			creates     []User
			createLines []int
			pending     = make(map[string]int)
		)

		for _, row := range rows {
			email := row.Get(FieldEmail)
			if email == "" {
				out.reject(row, "email is required")
				continue
			}

			if idx, ok := pending[email]; ok {
				// Same email earlier in this chunk, not yet inserted.
				row.Classification = ClassExistingByEmail
				switch run.strategy {
				case StrategySkip:
					out.skip(row)
				case StrategyCreate:
					out.reject(row, errEmailExists(email))
				case StrategyUpdate:
					// Build over the staged record so an empty password keeps its hash.
					u, _, reason, err := run.build(row, &creates[idx])
					if err != nil {
						return &PersistenceError{Line: row.Line, Chunk: chunk, Err: err}
					}
					if reason != "" {
						out.reject(row, reason)
						continue
					}
					creates[idx] = u
					row.Outcome = OutcomeUpdated
					out.updated++
				}
				continue
			}

			existing, found, err := run.match(ctx, tx, row)
			if err != nil {
				return &PersistenceError{Line: row.Line, Chunk: chunk, Err: err}
			}

			if found {
				switch run.strategy {
				case StrategySkip:
					out.skip(row)
					continue
				case StrategyCreate:
					out.reject(row, errEmailExists(email))
					continue
				}
			}

			var target *User
			if found {
				target = &existing
			}
			u, setPassword, reason, err := run.build(row, target)
			if err != nil {
				return &PersistenceError{Line: row.Line, Chunk: chunk, Err: err}
			}
			if reason != "" {
				out.reject(row, reason)
				continue
			}

			if !found {
				pending[email] = len(creates)
				creates = append(creates, u)
				createLines = append(createLines, row.Line)
				row.Outcome = OutcomeCreated
				out.created++
				continue
			}

			if err := tx.UpdateUser(ctx, u, setPassword); err != nil {
				return &PersistenceError{Line: row.Line, Chunk: chunk, Err: fmt.Errorf("update user %d: %w", u.ID, err)}
			}
			row.Outcome = OutcomeUpdated
			out.updated++
		}

		if len(creates) > 0 {
			if err := tx.InsertUsers(ctx, creates); err != nil {
				return &PersistenceError{Line: createLines[0], Chunk: chunk, Err: fmt.Errorf("insert %d users: %w", len(creates), err)}
			}
			for _, u := range creates {
				out.newEmails = append(out.newEmails, u.Email)
			}
		}
		return nil
	})

	if err != nil {
		var perr *PersistenceError
		if !errors.As(err, &perr) {
			perr = &PersistenceError{Chunk: chunk, Err: err}
		}
		return chunkOutcome{abort: perr}
	}
	return out
}

// match finds the record a row refers to: the index by email first, then a
// point lookup by the row's numeric id.
func (run *importRun) match(ctx context.Context, tx UserTx, row *ImportRow) (User, bool, error) {
	email := row.Get(FieldEmail)
	if u, ok := run.byEmail[email]; ok {
		row.Classification = ClassExistingByEmail
		if u.ID == 0 && run.strategy == StrategyUpdate {
			// Created by an earlier chunk of this run; load the stored record.
			stored, err := tx.FindByEmail(ctx, email)
			if err != nil {
				return User{}, false, fmt.Errorf("find user created earlier in this import: %w", err)
			}
			u = stored
			run.byEmail[email] = u
		}
		return u, true, nil
	}

	idText := row.Get(FieldID)
	if idText == "" {
		return User{}, false, nil
	}
	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil || id <= 0 {
		return User{}, false, nil
	}
	u, err := tx.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("find user %d: %w", id, err)
	}
	row.Classification = ClassExistingByID
	return u, true, nil
}

// build turns a row into the record to write. reason is set for row-level
// validation failures; err only for hashing failures.
func (run *importRun) build(row *ImportRow, existing *User) (u User, setPassword bool, reason string, err error) {
	in := userInputFrom(row)
	if reason = validateUserInput(in); reason != "" {
		return User{}, false, reason, nil
	}

	u = User{
		Name:             in.Name,
		Email:            in.Email,
		PhoneNumber:      optional(in.PhoneNumber),
		Address:          optional(in.Address),
		MembershipStatus: StatusPending,
		Notes:            optional(in.Notes),
		ProfileImage:     optional(in.ProfileImage),
		CreatedAt:        run.now,
		UpdatedAt:        run.now,
	}
	if in.Gender != "" {
		g := Gender(in.Gender)
		u.Gender = &g
	}
	if in.MembershipStatus != "" {
		u.MembershipStatus = MembershipStatus(in.MembershipStatus)
	}

	if v := row.Get(FieldPoints); v != "" {
		if u.Points, err = ParsePoints(v); err != nil {
			return User{}, false, err.Error(), nil
		}
	}
	if v := row.Get(FieldBirthDate); v != "" {
		t, perr := ParseDate(v)
		if perr != nil {
			return User{}, false, "birth_date: " + perr.Error(), nil
		}
		u.BirthDate = &t
	}
	if v := row.Get(FieldLastLoginAt); v != "" {
		t, perr := ParseTimestamp(v)
		if perr != nil {
			return User{}, false, "last_login_at: " + perr.Error(), nil
		}
		u.LastLoginAt = &t
	}
	if v := row.Get(FieldUpdatedAt); v != "" {
		t, perr := ParseTimestamp(v)
		if perr != nil {
			return User{}, false, "updated_at: " + perr.Error(), nil
		}
		u.UpdatedAt = t
	}

	if existing != nil {
		u.ID = existing.ID
		u.CreatedAt = existing.CreatedAt
		u.PasswordHash = existing.PasswordHash
	} else if v := row.Get(FieldCreatedAt); v != "" {
		t, perr := ParseTimestamp(v)
		if perr != nil {
			return User{}, false, "created_at: " + perr.Error(), nil
		}
		u.CreatedAt = t
	}

	switch plain := row.Get(FieldPassword); {
	case plain != "":
		if u.PasswordHash, err = run.hasher.Hash(plain); err != nil {
			return User{}, false, "", fmt.Errorf("hash password: %w", err)
		}
		setPassword = true
	case existing == nil:
		if u.PasswordHash, err = run.defaultPasswordHash(); err != nil {
			return User{}, false, "", err
		}
		setPassword = true
	}

	return u, setPassword, "", nil
}

// defaultPasswordHash returns the hash of a random secret, generated on
// first use and reused for the rest of the run.
func (run *importRun) defaultPasswordHash() (string, error) {
	if run.defaultHash != "" {
		return run.defaultHash, nil
	}
	secret, err := randomSecret(defaultSecretLength)
	if err != nil {
		return "", fmt.Errorf("generate default password: %w", err)
	}
	hash, err := run.hasher.Hash(secret)
	if err != nil {
		return "", fmt.Errorf("hash default password: %w", err)
	}
	run.defaultHash = hash
	run.log.Info("generated random default password for import")
	return hash, nil
}

// fail records a row error that happened outside any chunk.
func (run *importRun) fail(row *ImportRow, reason string) {
	row.Outcome = OutcomeErrored
	row.Reason = reason
	run.addError(RowError{Line: row.Line, Error: reason})
}

func (run *importRun) addError(e RowError) {
	run.result.Errors++
	if len(run.result.RowErrors) < run.errorLimit {
		run.result.RowErrors = append(run.result.RowErrors, e)
	}
}

// commit folds a successful chunk into the run totals and index.
func (run *importRun) commit(out chunkOutcome) {
	run.result.Imported += out.created
	run.result.Updated += out.updated
	run.result.Skipped += out.skipped
	for _, e := range out.rowErrors {
		run.addError(e)
	}
	for _, email := range out.newEmails {
		if _, ok := run.byEmail[email]; !ok {
			run.byEmail[email] = User{Email: email}
		}
	}
}

func (out *chunkOutcome) skip(row *ImportRow) {
	row.Outcome = OutcomeSkipped
	out.skipped++
}

func (out *chunkOutcome) reject(row *ImportRow, reason string) {
	row.Outcome = OutcomeErrored
	row.Reason = reason
	out.rowErrors = append(out.rowErrors, RowError{Line: row.Line, Error: reason})
}

const secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomSecret(n int) (string, error) {
	b := make([]byte, n)
	limit := big.NewInt(int64(len(secretAlphabet)))
	for i := range b {
		k, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = secretAlphabet[k.Int64()]
	}
	return string(b), nil
}
