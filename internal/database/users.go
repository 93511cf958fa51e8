package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/userdir/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, name, email, password, phone_number, address, birth_date, gender,
	membership_status, notes, profile_image, points, last_login_at, created_at, updated_at`

// exportColumns renders the export columns as text in ExportHeader order.
// NULLs stay NULL.
const exportColumns = `id, name, email, phone_number, address,
	to_char(birth_date, 'YYYY-MM-DD'), gender, membership_status, notes, profile_image, points,
	to_char(last_login_at, 'YYYY-MM-DD HH24:MI:SS'),
	to_char(created_at, 'YYYY-MM-DD HH24:MI:SS'),
	to_char(updated_at, 'YYYY-MM-DD HH24:MI:SS')`

var insertColumns = []string{
	"name", "email", "password", "phone_number", "address", "birth_date", "gender",
	"membership_status", "notes", "profile_image", "points", "last_login_at",
	"created_at", "updated_at",
}

// Queries runs user statements against a pool or a transaction.
type Queries struct {
	db DBTX
}

// New returns Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// FindByEmail returns the user with the given email or core.ErrNotFound.
func (q *Queries) FindByEmail(ctx context.Context, email string) (core.User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanOne(row)
}

// FindByID returns the user with the given id or core.ErrNotFound.
func (q *Queries) FindByID(ctx context.Context, id int64) (core.User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanOne(row)
}

// FindByEmails loads every user whose email is listed, in one round trip.
func (q *Queries) FindByEmails(ctx context.Context, emails []string) ([]core.User, error) {
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE email = ANY($1)`, emails)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

// InsertUsers bulk-loads users with COPY.
func (q *Queries) InsertUsers(ctx context.Context, users []core.User) error {
	src := pgx.CopyFromSlice(len(users), func(i int) ([]any, error) {
		u := &users[i]
		return []any{
			u.Name,
			u.Email,
			u.PasswordHash,
			toPgText(u.PhoneNumber),
			toPgText(u.Address),
			toPgDate(u.BirthDate),
			toPgGender(u.Gender),
			string(u.MembershipStatus),
			toPgText(u.Notes),
			toPgText(u.ProfileImage),
			int32(u.Points),
			toPgTimestamptz(u.LastLoginAt),
			u.CreatedAt,
			u.UpdatedAt,
		}, nil
	})

	n, err := q.db.CopyFrom(ctx, pgx.Identifier{"users"}, insertColumns, src)
	if err != nil {
		return err
	}
	if int(n) != len(users) {
		return fmt.Errorf("copied %d of %d users", n, len(users))
	}
	return nil
}

// UpdateUser overwrites every column except id and created_at. The password
// is written only when setPassword is true.
func (q *Queries) UpdateUser(ctx context.Context, u core.User, setPassword bool) error {
	sql := `UPDATE users SET
		name = $2, email = $3, phone_number = $4, address = $5, birth_date = $6,
		gender = $7, membership_status = $8, notes = $9, profile_image = $10,
		points = $11, last_login_at = $12, updated_at = $13`
	args := []any{
		u.ID,
		u.Name,
		u.Email,
		toPgText(u.PhoneNumber),
		toPgText(u.Address),
		toPgDate(u.BirthDate),
		toPgGender(u.Gender),
		string(u.MembershipStatus),
		toPgText(u.Notes),
		toPgText(u.ProfileImage),
		int32(u.Points),
		toPgTimestamptz(u.LastLoginAt),
		u.UpdatedAt,
	}
	if setPassword {
		sql += `, password = $14`
		args = append(args, u.PasswordHash)
	}
	sql += ` WHERE id = $1`

	tag, err := q.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Store implements core.UserStore on a connection pool.
type Store struct {
	*Queries
	pool *pgxpool.Pool
}

var _ core.UserStore = (*Store)(nil)

// NewStore wraps pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Queries: New(pool), pool: pool}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InTx runs fn in a transaction and commits when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx core.UserTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(New(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FetchBatch returns the next keyset page of the selection.
func (s *Store) FetchBatch(ctx context.Context, spec core.CursorSpec, afterID int64, limit int) ([]core.User, error) {
	if spec.Empty {
		return nil, nil
	}
	n := len(spec.Args)
	sql := fmt.Sprintf(`SELECT %s FROM users WHERE (%s) AND id > $%d ORDER BY id LIMIT $%d`,
		userColumns, whereOrTrue(spec.Where), n+1, n+2)
	args := append(append([]any{}, spec.Args...), afterID, limit)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

// StreamRaw walks the selection with one forward-only query. Values come
// back in the text format and are handed to fn without decoding.
func (s *Store) StreamRaw(ctx context.Context, spec core.CursorSpec, fn func(fields [][]byte) error) error {
	if spec.Empty {
		return nil
	}
	sql := fmt.Sprintf(`SELECT %s FROM users WHERE (%s) ORDER BY id`, exportColumns, whereOrTrue(spec.Where))
	args := append([]any{pgx.QueryResultFormats{pgx.TextFormatCode}}, spec.Args...)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows.RawValues()); err != nil {
			return err
		}
	}
	return rows.Err()
}

func whereOrTrue(where string) string {
	if where == "" {
		return "TRUE"
	}
	return where
}

func scanOne(row pgx.Row) (core.User, error) {
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.User{}, core.ErrNotFound
	}
	return u, err
}

func collectUsers(rows pgx.Rows) ([]core.User, error) {
	defer rows.Close()
	var users []core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
