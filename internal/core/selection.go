package core

// selection.go resolves an export request into a store cursor.
//
// Three modes exist:
//   - SelectIDs: an explicit id list (an empty list exports the header only)
//   - SelectAll: every user
//   - SelectFiltered: free-text, status and creation-date filters combined with AND
//
// The resolved CursorSpec is a parameterized WHERE fragment. Ordering is
// always by id so both exporters and the keyset pagination agree.

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SelectionMode is how an export chooses its rows.
type SelectionMode int

const (
	SelectAll SelectionMode = iota
	SelectIDs
	SelectFiltered
)

func (m SelectionMode) String() string {
	switch m {
	case SelectIDs:
		return "ids"
	case SelectFiltered:
		return "filtered"
	default:
		return "all"
	}
}

// CreatedBucket is a creation-date window relative to now.
type CreatedBucket string

const (
	CreatedToday CreatedBucket = "today"
	CreatedWeek  CreatedBucket = "week"
	CreatedMonth CreatedBucket = "month"
	CreatedYear  CreatedBucket = "year"
)

// Valid reports whether b is empty or a known bucket.
func (b CreatedBucket) Valid() bool {
	switch b {
	case "", CreatedToday, CreatedWeek, CreatedMonth, CreatedYear:
		return true
	}
	return false
}

// Filter narrows a SelectFiltered export.
type Filter struct {
	Query    string
	Statuses []MembershipStatus
	Created  CreatedBucket
}

// Selection is a resolved export selection.
type Selection struct {
	Mode   SelectionMode
	IDs    []int64
	Filter Filter

	// Bulk is true when the selection came from an explicit request body
	// rather than a plain "export everything" call. It only affects the filename.
	Bulk bool
}

// SelectionRequest is the transport-neutral form of an export request body.
type SelectionRequest struct {
	UserIDs    []int64
	SelectAll  bool
	SelectType string
	Filter     *Filter
}

// ResolveSelection validates a request and turns it into a Selection.
func ResolveSelection(req SelectionRequest) (Selection, error) {
	if !req.SelectAll {
		return Selection{Mode: SelectIDs, IDs: req.UserIDs, Bulk: true}, nil
	}

	switch req.SelectType {
	case "all":
		return Selection{Mode: SelectAll, Bulk: true}, nil
	case "filtered":
		// No filters matches everyone.
		var f Filter
		if req.Filter != nil {
			f = *req.Filter
		}
		f.Query = strings.TrimSpace(f.Query)
		for _, s := range f.Statuses {
			if !s.Valid() {
				return Selection{}, fmt.Errorf("unknown membership status %q", s)
			}
		}
		if !f.Created.Valid() {
			return Selection{}, fmt.Errorf("unknown created filter %q (want today, week, month or year)", f.Created)
		}
		return Selection{Mode: SelectFiltered, Filter: f, Bulk: true}, nil
	case "":
		return Selection{}, fmt.Errorf("select_type is required when select_all is true")
	default:
		return Selection{}, fmt.Errorf("unknown select_type %q (want all or filtered)", req.SelectType)
	}
}

// ParseStatusList splits a comma-separated status filter.
func ParseStatusList(s string) []MembershipStatus {
	var out []MembershipStatus
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, MembershipStatus(part))
		}
	}
	return out
}

// CursorSpec is a parameterized WHERE clause over the users table.
// Placeholders are numbered from $1.
type CursorSpec struct {
	Where string
	Args  []any

	// Empty means the selection cannot match anything and the store
	// should not be queried.
	Empty bool

	// Source and At are what the clause was built from.
	Source Selection
	At     time.Time
}

// Cursor builds the store filter for s at the given instant. With fullText
// the free-text filter uses Postgres text search instead of ILIKE.
func (s Selection) Cursor(now time.Time, fullText bool) CursorSpec {
	var wb whereBuilder

	switch s.Mode {
	case SelectIDs:
		if len(s.IDs) == 0 {
			return CursorSpec{Empty: true, Source: s, At: now}
		}
		wb.add("id = ANY(%s)", s.IDs)

	case SelectFiltered:
		f := s.Filter
		if f.Query != "" {
			if fullText {
				wb.add("to_tsvector('simple', name || ' ' || email || ' ' || coalesce(phone_number, '')) @@ plainto_tsquery('simple', %s)", f.Query)
			} else {
				p := wb.param("%" + EscapeLike(f.Query) + "%")
				wb.clauses = append(wb.clauses, fmt.Sprintf(
					`(name ILIKE %[1]s ESCAPE '\' OR email ILIKE %[1]s ESCAPE '\' OR phone_number ILIKE %[1]s ESCAPE '\')`, p))
			}
		}
		if len(f.Statuses) > 0 {
			statuses := make([]string, len(f.Statuses))
			for i, st := range f.Statuses {
				statuses[i] = string(st)
			}
			wb.add("membership_status::text = ANY(%s)", statuses)
		}
		if f.Created != "" {
			from, to := f.Created.Range(now)
			wb.add("created_at >= %s", from)
			wb.add("created_at < %s", to)
		}
	}

	return CursorSpec{Where: wb.where(), Args: wb.args, Source: s, At: now}
}

// Range returns the half-open window [from, to) for the bucket, in now's zone.
// Weeks start on Monday.
func (b CreatedBucket) Range(now time.Time) (time.Time, time.Time) {
	y, m, d := now.Date()
	loc := now.Location()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)

	switch b {
	case CreatedWeek:
		offset := (int(today.Weekday()) + 6) % 7
		start := today.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	case CreatedMonth:
		start := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	case CreatedYear:
		start := time.Date(y, 1, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(1, 0, 0)
	default:
		return today, today.AddDate(0, 0, 1)
	}
}

// Filename is the attachment name for an export started at now.
func (s Selection) Filename(now time.Time, fast bool) string {
	prefix := "users"
	if s.Bulk {
		switch s.Mode {
		case SelectAll:
			prefix = "all_users"
		case SelectFiltered:
			prefix = "filtered_users"
		default:
			prefix = "selected_users"
		}
	}
	if fast {
		return prefix + "_fast_" + now.Format("20060102150405") + ".csv"
	}
	return prefix + "_" + now.Format("2006-01-02_150405") + ".csv"
}

// EscapeLike escapes LIKE wildcards so user input matches literally.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// whereBuilder accumulates AND-ed clauses with numbered placeholders.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) param(v any) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

// add appends a clause whose single %s is replaced by a new placeholder for v.
func (w *whereBuilder) add(format string, v any) {
	w.clauses = append(w.clauses, fmt.Sprintf(format, w.param(v)))
}

func (w *whereBuilder) where() string {
	return strings.Join(w.clauses, " AND ")
}
