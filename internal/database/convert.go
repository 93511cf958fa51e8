package database

// convert.go maps between core.User fields and pgtype values.
//
// Optional columns use pgtype values with Valid=false for NULL, so a nil
// pointer on the Go side is always written as NULL and read back as nil.

import (
	"time"

	"github.com/JonMunkholm/userdir/internal/core"
	"github.com/jackc/pgx/v5/pgtype"
)

func toPgText(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func toPgGender(g *core.Gender) pgtype.Text {
	if g == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: string(*g), Valid: true}
}

func toPgDate(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{Valid: false}
	}
	y, m, d := t.Date()
	return pgtype.Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Valid: true}
}

func toPgTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func fromPgText(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

// fromPgDate returns the calendar date at midnight local time.
func fromPgDate(d pgtype.Date) *time.Time {
	if !d.Valid {
		return nil
	}
	y, m, day := d.Time.Date()
	t := time.Date(y, m, day, 0, 0, 0, 0, time.Local)
	return &t
}

func fromPgTimestamptz(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

// scanUser reads one row selected with userColumns.
func scanUser(row interface{ Scan(dest ...any) error }) (core.User, error) {
	var (
		u            core.User
		phone        pgtype.Text
		address      pgtype.Text
		birthDate    pgtype.Date
		gender       pgtype.Text
		status       string
		notes        pgtype.Text
		profileImage pgtype.Text
		points       int32
		lastLogin    pgtype.Timestamptz
	)

	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &phone, &address, &birthDate, &gender,
		&status, &notes, &profileImage, &points, &lastLogin, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return core.User{}, err
	}

	u.PhoneNumber = fromPgText(phone)
	u.Address = fromPgText(address)
	u.BirthDate = fromPgDate(birthDate)
	if gender.Valid {
		g := core.Gender(gender.String)
		u.Gender = &g
	}
	u.MembershipStatus = core.MembershipStatus(status)
	u.Notes = fromPgText(notes)
	u.ProfileImage = fromPgText(profileImage)
	u.Points = int(points)
	u.LastLoginAt = fromPgTimestamptz(lastLogin)
	return u, nil
}
