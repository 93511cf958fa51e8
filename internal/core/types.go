package core

import (
	"fmt"
	"time"
)

// Gender is the optional gender attribute of a user.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Valid reports whether g is one of the known genders.
func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

// MembershipStatus is the lifecycle state of a user's membership.
type MembershipStatus string

const (
	StatusActive   MembershipStatus = "active"
	StatusInactive MembershipStatus = "inactive"
	StatusPending  MembershipStatus = "pending"
	StatusExpired  MembershipStatus = "expired"
)

// Valid reports whether s is one of the known statuses.
func (s MembershipStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusPending, StatusExpired:
		return true
	}
	return false
}

// User is a persisted user record.
type User struct {
	ID               int64
	Name             string
	Email            string
	PasswordHash     string
	PhoneNumber      *string
	Address          *string
	BirthDate        *time.Time
	Gender           *Gender
	MembershipStatus MembershipStatus
	Notes            *string
	ProfileImage     *string
	Points           int
	LastLoginAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Strategy decides what an import does with a row whose email (or id)
// already exists in the store.
type Strategy string

const (
	StrategyCreate Strategy = "create"
	StrategyUpdate Strategy = "update"
	StrategySkip   Strategy = "skip"
)

// ParseStrategy validates a strategy name from a request.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyCreate, StrategyUpdate, StrategySkip:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown import strategy %q (want create, update or skip)", s)
}

// Classification records how a row was matched against the store.
type Classification int

const (
	ClassNew Classification = iota
	ClassExistingByEmail
	ClassExistingByID
)

func (c Classification) String() string {
	switch c {
	case ClassExistingByEmail:
		return "existing-by-email"
	case ClassExistingByID:
		return "existing-by-id"
	default:
		return "new"
	}
}

// Outcome is the final disposition of an import row.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeCreated
	OutcomeUpdated
	OutcomeSkipped
	OutcomeErrored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeErrored:
		return "errored"
	default:
		return "pending"
	}
}

// ImportRow is one parsed data row. Line is 1-based with the header on line 1.
// Fields are keyed by canonical field name and already normalized, so a
// missing, empty or "?" cell is simply absent.
type ImportRow struct {
	Line   int
	Fields map[string]string

	// Problem is set when the row could not be mapped at all
	// (for example a column count that differs from the header).
	Problem string

	Classification Classification
	Outcome        Outcome
	Reason         string
}

// Get returns the normalized value of a canonical field, or "".
func (r *ImportRow) Get(field string) string {
	return r.Fields[field]
}

// ParsedFile is the output of the row parser.
type ParsedFile struct {
	// Header holds the canonical key for every column, in file order.
	Header []string
	Rows   []ImportRow
}

// RowError is a per-row problem reported back to the client.
type RowError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// ImportResult summarizes an import run.
type ImportResult struct {
	ImportID  string
	Strategy  Strategy
	Imported  int
	Updated   int
	Skipped   int
	Errors    int
	RowErrors []RowError
}

// TotalProcessed is the number of rows that reached a final outcome.
func (r *ImportResult) TotalProcessed() int {
	return r.Imported + r.Updated + r.Skipped + r.Errors
}

// DuplicateMatch pairs a submitted row with the record it collides with.
type DuplicateMatch struct {
	Line     int
	Name     string
	Email    string
	Phone    string
	Existing User
}

// NewUserLine summarizes a row that would create a new record.
type NewUserLine struct {
	Line  int
	Name  string
	Email string
	Phone string
}

// DuplicateReport is the read-only analysis produced before an import.
type DuplicateReport struct {
	TotalRecords        int
	NewRecords          int
	DuplicateRecords    int
	RecommendedStrategy Strategy
	Recommendations     []string
	Duplicates          []DuplicateMatch
	NewUsers            []NewUserLine
}

// ExportStats describes a finished export stream.
type ExportStats struct {
	Rows     int
	Duration time.Duration
}
