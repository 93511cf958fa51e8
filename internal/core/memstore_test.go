package core

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/userdir/internal/config"
)

// memStore is an in-memory UserStore. Transactions snapshot the whole map
// and restore it when fn fails.
type memStore struct {
	mu     sync.Mutex
	users  map[int64]User
	nextID int64

	// failInsertAt makes the nth InsertUsers call (1-based) fail.
	failInsertAt int
	fetchErr     error

	insertCalls  int
	txCount      int
	prefetches   int
	fetchCalls   int
	pointLookups int
}

func newMemStore(users ...User) *memStore {
	s := &memStore{users: make(map[int64]User)}
	for _, u := range users {
		s.put(u)
	}
	return s
}

func (s *memStore) put(u User) User {
	if u.ID == 0 {
		s.nextID++
		u.ID = s.nextID
	} else if u.ID > s.nextID {
		s.nextID = u.ID
	}
	s.users[u.ID] = u
	return u
}

func (s *memStore) sortedIDs() []int64 {
	ids := slices.Collect(maps.Keys(s.users))
	slices.Sort(ids)
	return ids
}

func (s *memStore) byEmail(email string) (User, bool) {
	for _, id := range s.sortedIDs() {
		if u := s.users[id]; u.Email == email {
			return u, true
		}
	}
	return User{}, false
}

// get returns a user by email for assertions.
func (s *memStore) get(t *testing.T, email string) User {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byEmail(email)
	if !ok {
		t.Fatalf("no user with email %q", email)
	}
	return u
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *memStore) FindByEmails(_ context.Context, emails []string) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefetches++
	var out []User
	for _, id := range s.sortedIDs() {
		if u := s.users[id]; slices.Contains(emails, u.Email) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *memStore) FindByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pointLookups++
	if u, ok := s.byEmail(email); ok {
		return u, nil
	}
	return User{}, ErrNotFound
}

func (s *memStore) FindByID(_ context.Context, id int64) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pointLookups++
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return User{}, ErrNotFound
}

func (s *memStore) InTx(_ context.Context, fn func(tx UserTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++

	snapshot := maps.Clone(s.users)
	next := s.nextID
	if err := fn(memTx{s}); err != nil {
		s.users = snapshot
		s.nextID = next
		return err
	}
	return nil
}

func (s *memStore) FetchBatch(_ context.Context, spec CursorSpec, afterID int64, limit int) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []User
	for _, id := range s.sortedIDs() {
		if id <= afterID {
			continue
		}
		if u := s.users[id]; specMatches(spec, u) {
			out = append(out, u)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) StreamRaw(_ context.Context, spec CursorSpec, fn func(fields [][]byte) error) error {
	s.mu.Lock()
	var matched []User
	for _, id := range s.sortedIDs() {
		if u := s.users[id]; specMatches(spec, u) {
			matched = append(matched, u)
		}
	}
	s.fetchCalls++
	fetchErr := s.fetchErr
	s.mu.Unlock()
	if fetchErr != nil {
		return fetchErr
	}

	record := make([]string, len(ExportHeader))
	fields := make([][]byte, len(ExportHeader))
	for i := range matched {
		fillRecord(record, &matched[i])
		for j, v := range record {
			fields[j] = nil
			if v != "" {
				fields[j] = []byte(v)
			}
		}
		if err := fn(fields); err != nil {
			return err
		}
	}
	return nil
}

// specMatches evaluates the selection a CursorSpec was built from.
func specMatches(spec CursorSpec, u User) bool {
	if spec.Empty {
		return false
	}
	sel := spec.Source
	switch sel.Mode {
	case SelectIDs:
		return slices.Contains(sel.IDs, u.ID)
	case SelectFiltered:
		f := sel.Filter
		if q := strings.ToLower(f.Query); q != "" &&
			!strings.Contains(strings.ToLower(u.Name), q) &&
			!strings.Contains(strings.ToLower(u.Email), q) &&
			!strings.Contains(strings.ToLower(deref(u.PhoneNumber)), q) {
			return false
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, u.MembershipStatus) {
			return false
		}
		if f.Created != "" {
			from, to := f.Created.Range(spec.At)
			if u.CreatedAt.Before(from) || !u.CreatedAt.Before(to) {
				return false
			}
		}
	}
	return true
}

// memTx runs with the store lock already held by InTx.
type memTx struct {
	s *memStore
}

func (tx memTx) FindByID(_ context.Context, id int64) (User, error) {
	if u, ok := tx.s.users[id]; ok {
		return u, nil
	}
	return User{}, ErrNotFound
}

func (tx memTx) FindByEmail(_ context.Context, email string) (User, error) {
	if u, ok := tx.s.byEmail(email); ok {
		return u, nil
	}
	return User{}, ErrNotFound
}

func (tx memTx) InsertUsers(_ context.Context, users []User) error {
	tx.s.insertCalls++
	if tx.s.failInsertAt > 0 && tx.s.insertCalls == tx.s.failInsertAt {
		return errors.New("connection reset by peer")
	}
	for _, u := range users {
		if _, ok := tx.s.byEmail(u.Email); ok {
			return fmt.Errorf(`ERROR: duplicate key value violates unique constraint "users_email_key" (%s)`, u.Email)
		}
		u.ID = 0
		tx.s.put(u)
	}
	return nil
}

func (tx memTx) UpdateUser(_ context.Context, u User, setPassword bool) error {
	existing, ok := tx.s.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	if other, ok := tx.s.byEmail(u.Email); ok && other.ID != u.ID {
		return fmt.Errorf(`ERROR: duplicate key value violates unique constraint "users_email_key" (%s)`, u.Email)
	}
	u.CreatedAt = existing.CreatedAt
	if !setPassword {
		u.PasswordHash = existing.PasswordHash
	}
	tx.s.users[u.ID] = u
	return nil
}

// countingHasher is a reversible stand-in for bcrypt.
type countingHasher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (h *countingHasher) Hash(plain string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.err != nil {
		return "", h.err
	}
	return "hashed:" + plain, nil
}

func (h *countingHasher) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// testNow is a Friday.
var testNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.Local)

func testConfig() *config.Config {
	return &config.Config{
		Import: config.ImportConfig{
			MaxFileSize:   10 << 20,
			MaxRows:       DefaultMaxRows,
			ChunkSize:     100,
			ErrorLimit:    100,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
		},
		Export: config.ExportConfig{
			BatchSize:         500,
			FastFlushRows:     1000,
			MemorySampleEvery: 100,
			MemoryWarnBytes:   200 << 20,
		},
	}
}

func newTestService(store UserStore, cfg *config.Config) (*Service, *countingHasher) {
	if cfg == nil {
		cfg = testConfig()
	}
	hasher := &countingHasher{}
	svc := NewService(store, hasher, cfg)
	svc.now = func() time.Time { return testNow }
	svc.newID = func() string { return "test-import" }
	return svc, hasher
}

// csvInput joins lines into a file body with a trailing newline.
func csvInput(lines ...string) *strings.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}

func strPtr(s string) *string { return &s }
