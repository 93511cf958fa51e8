package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

const (
	recommendCreate = "No duplicates found. The create strategy is recommended."
	recommendUpdate = "The file mixes existing and new users. The update strategy is recommended."
	recommendSkip   = "Every user in the file already exists. The skip strategy is recommended."
)

// CheckDuplicates reports which rows of parsed would collide with existing
// users and recommends a strategy. It never writes.
//
// Rows with a column-count problem or without an email are ignored, and only
// the first row for each email is considered. A row's numeric id, when it
// names an existing user, takes precedence over the email match.
func (s *Service) CheckDuplicates(ctx context.Context, parsed *ParsedFile) (*DuplicateReport, error) {
	report := &DuplicateReport{
		Duplicates: []DuplicateMatch{},
		NewUsers:   []NewUserLine{},
	}
	seen := make(map[string]struct{})

	for i := range parsed.Rows {
		row := &parsed.Rows[i]
		if row.Problem != "" {
			continue
		}
		email := row.Get(FieldEmail)
		if email == "" {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}

		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		existing, found, err := s.lookupExisting(ctx, row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", row.Line, err)
		}

		if found {
			row.Classification = ClassExistingByEmail
			if existing.Email != email {
				row.Classification = ClassExistingByID
			}
			report.Duplicates = append(report.Duplicates, DuplicateMatch{
				Line:     row.Line,
				Name:     row.Get(FieldName),
				Email:    email,
				Phone:    row.Get(FieldPhoneNumber),
				Existing: existing,
			})
			continue
		}
		row.Classification = ClassNew
		report.NewUsers = append(report.NewUsers, NewUserLine{
			Line:  row.Line,
			Name:  row.Get(FieldName),
			Email: email,
			Phone: row.Get(FieldPhoneNumber),
		})
	}

	report.DuplicateRecords = len(report.Duplicates)
	report.NewRecords = len(report.NewUsers)
	report.TotalRecords = report.DuplicateRecords + report.NewRecords
	report.RecommendedStrategy, report.Recommendations = recommend(report.DuplicateRecords, report.NewRecords)

	return report, nil
}

// lookupExisting matches a row by email, then lets a matching id override.
func (s *Service) lookupExisting(ctx context.Context, row *ImportRow) (User, bool, error) {
	var (
		existing User
		found    bool
	)

	u, err := s.store.FindByEmail(ctx, row.Get(FieldEmail))
	switch {
	case err == nil:
		existing, found = u, true
	case !errors.Is(err, ErrNotFound):
		return User{}, false, fmt.Errorf("find by email: %w", err)
	}

	if id, err := strconv.ParseInt(row.Get(FieldID), 10, 64); err == nil && id > 0 {
		u, err := s.store.FindByID(ctx, id)
		switch {
		case err == nil:
			existing, found = u, true
		case !errors.Is(err, ErrNotFound):
			return User{}, false, fmt.Errorf("find by id: %w", err)
		}
	}

	return existing, found, nil
}

func recommend(duplicates, fresh int) (Strategy, []string) {
	switch {
	case duplicates == 0:
		return StrategyCreate, []string{recommendCreate}
	case fresh > 0:
		return StrategyUpdate, []string{recommendUpdate}
	default:
		return StrategySkip, []string{recommendSkip}
	}
}
