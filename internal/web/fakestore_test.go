package web

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/JonMunkholm/userdir/internal/core"
)

// fakeStore is a small in-memory core.UserStore for handler tests.
type fakeStore struct {
	mu      sync.Mutex
	users   []core.User
	nextID  int64
	pingErr error
}

func newFakeStore(users ...core.User) *fakeStore {
	s := &fakeStore{}
	for _, u := range users {
		s.insert(u)
	}
	return s
}

func (s *fakeStore) insert(u core.User) {
	s.nextID++
	u.ID = s.nextID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
		u.UpdatedAt = u.CreatedAt
	}
	if u.MembershipStatus == "" {
		u.MembershipStatus = core.StatusPending
	}
	s.users = append(s.users, u)
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStore) FindByEmails(_ context.Context, emails []string) ([]core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.User
	for _, u := range s.users {
		if slices.Contains(emails, u.Email) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeStore) FindByEmail(_ context.Context, email string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(func(u core.User) bool { return u.Email == email })
}

func (s *fakeStore) FindByID(_ context.Context, id int64) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(func(u core.User) bool { return u.ID == id })
}

func (s *fakeStore) find(match func(core.User) bool) (core.User, error) {
	for _, u := range s.users {
		if match(u) {
			return u, nil
		}
	}
	return core.User{}, core.ErrNotFound
}

func (s *fakeStore) InTx(_ context.Context, fn func(tx core.UserTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved, savedID := slices.Clone(s.users), s.nextID
	if err := fn(fakeTx{s}); err != nil {
		s.users, s.nextID = saved, savedID
		return err
	}
	return nil
}

// matching returns users selected by spec, in id order.
func (s *fakeStore) matching(spec core.CursorSpec) []core.User {
	var out []core.User
	for _, u := range s.users {
		sel := spec.Source
		switch sel.Mode {
		case core.SelectIDs:
			if !slices.Contains(sel.IDs, u.ID) {
				continue
			}
		case core.SelectFiltered:
			if len(sel.Filter.Statuses) > 0 && !slices.Contains(sel.Filter.Statuses, u.MembershipStatus) {
				continue
			}
		}
		out = append(out, u)
	}
	return out
}

func (s *fakeStore) FetchBatch(_ context.Context, spec core.CursorSpec, afterID int64, limit int) ([]core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.User
	for _, u := range s.matching(spec) {
		if u.ID > afterID && len(out) < limit {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeStore) StreamRaw(_ context.Context, spec core.CursorSpec, fn func(fields [][]byte) error) error {
	s.mu.Lock()
	users := s.matching(spec)
	s.mu.Unlock()

	for _, u := range users {
		fields := make([][]byte, len(core.ExportHeader))
		fields[0] = []byte(strconv.FormatInt(u.ID, 10))
		fields[1] = []byte(u.Name)
		fields[2] = []byte(u.Email)
		fields[7] = []byte(u.MembershipStatus)
		fields[10] = []byte(strconv.Itoa(u.Points))
		if err := fn(fields); err != nil {
			return err
		}
	}
	return nil
}

type fakeTx struct{ s *fakeStore }

func (tx fakeTx) FindByID(_ context.Context, id int64) (core.User, error) {
	return tx.s.find(func(u core.User) bool { return u.ID == id })
}

func (tx fakeTx) FindByEmail(_ context.Context, email string) (core.User, error) {
	return tx.s.find(func(u core.User) bool { return u.Email == email })
}

func (tx fakeTx) InsertUsers(_ context.Context, users []core.User) error {
	for _, u := range users {
		if _, err := tx.s.find(func(x core.User) bool { return x.Email == u.Email }); err == nil {
			return errors.New(`duplicate key value violates unique constraint "users_email_key"`)
		}
		tx.s.insert(u)
	}
	return nil
}

func (tx fakeTx) UpdateUser(_ context.Context, u core.User, setPassword bool) error {
	for i, x := range tx.s.users {
		if x.ID != u.ID {
			continue
		}
		u.CreatedAt = x.CreatedAt
		if !setPassword {
			u.PasswordHash = x.PasswordHash
		}
		tx.s.users[i] = u
		return nil
	}
	return core.ErrNotFound
}

type plainHasher struct{}

func (plainHasher) Hash(plain string) (string, error) { return "hashed:" + plain, nil }
