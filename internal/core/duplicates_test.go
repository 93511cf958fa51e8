package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkString(t *testing.T, svc *Service, lines ...string) *DuplicateReport {
	t.Helper()
	report, err := svc.CheckDuplicatesCSV(context.Background(), csvInput(lines...))
	require.NoError(t, err)
	return report
}

func TestCheckDuplicates_HeaderOnly(t *testing.T) {
	svc, _ := newTestService(newMemStore(), nil)

	report := checkString(t, svc, "ID,Name,Email")

	assert.Zero(t, report.TotalRecords)
	assert.Zero(t, report.NewRecords)
	assert.Zero(t, report.DuplicateRecords)
	assert.Equal(t, StrategyCreate, report.RecommendedStrategy)
	assert.NotNil(t, report.Duplicates)
	assert.NotNil(t, report.NewUsers)
}

func TestCheckDuplicates_Recommendations(t *testing.T) {
	store := newMemStore(
		User{Name: "Taro", Email: "taro@example.com"},
		User{Name: "Hanako", Email: "hanako@example.com"},
	)
	svc, _ := newTestService(store, nil)

	tests := []struct {
		name      string
		rows      []string
		wantDup   int
		wantNew   int
		wantStrat Strategy
		wantText  string
	}{
		{
			name:      "all new",
			rows:      []string{"jiro@example.com,Jiro"},
			wantNew:   1,
			wantStrat: StrategyCreate,
			wantText:  recommendCreate,
		},
		{
			name:      "mixed",
			rows:      []string{"taro@example.com,Taro", "jiro@example.com,Jiro"},
			wantDup:   1,
			wantNew:   1,
			wantStrat: StrategyUpdate,
			wantText:  recommendUpdate,
		},
		{
			name:      "all existing",
			rows:      []string{"taro@example.com,Taro", "hanako@example.com,Hanako"},
			wantDup:   2,
			wantStrat: StrategySkip,
			wantText:  recommendSkip,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := checkString(t, svc, append([]string{"Email,Name"}, tt.rows...)...)

			assert.Equal(t, tt.wantDup, report.DuplicateRecords)
			assert.Equal(t, tt.wantNew, report.NewRecords)
			assert.Equal(t, tt.wantDup+tt.wantNew, report.TotalRecords)
			assert.Equal(t, tt.wantStrat, report.RecommendedStrategy)
			assert.Equal(t, []string{tt.wantText}, report.Recommendations)
		})
	}
}

func TestCheckDuplicates_Details(t *testing.T) {
	store := newMemStore(User{ID: 10, Name: "Taro", Email: "taro@example.com", MembershipStatus: StatusActive})
	svc, _ := newTestService(store, nil)

	report := checkString(t, svc,
		"Email,Name,Phone",
		"taro@example.com,Taro Yamada,090-0000-0000",
		"jiro@example.com,Jiro,",
	)

	require.Len(t, report.Duplicates, 1)
	dup := report.Duplicates[0]
	assert.Equal(t, 2, dup.Line)
	assert.Equal(t, "Taro Yamada", dup.Name)
	assert.Equal(t, "090-0000-0000", dup.Phone)
	assert.Equal(t, int64(10), dup.Existing.ID)
	assert.Equal(t, "Taro", dup.Existing.Name)

	require.Len(t, report.NewUsers, 1)
	assert.Equal(t, NewUserLine{Line: 3, Name: "Jiro", Email: "jiro@example.com"}, report.NewUsers[0])
}

func TestCheckDuplicates_IDOverridesEmail(t *testing.T) {
	store := newMemStore(
		User{ID: 1, Email: "a@example.com"},
		User{ID: 2, Email: "b@example.com"},
	)
	svc, _ := newTestService(store, nil)

	parsed, err := ParseCSV(csvInput("ID,Email", "2,a@example.com", "1,new@example.com"), 0)
	require.NoError(t, err)

	report, err := svc.CheckDuplicates(context.Background(), parsed)
	require.NoError(t, err)

	require.Len(t, report.Duplicates, 2)
	assert.Equal(t, int64(2), report.Duplicates[0].Existing.ID)
	assert.Equal(t, int64(1), report.Duplicates[1].Existing.ID)
	assert.Equal(t, ClassExistingByID, parsed.Rows[0].Classification)
	assert.Equal(t, ClassExistingByID, parsed.Rows[1].Classification)
}

func TestCheckDuplicates_IgnoresUnusableRows(t *testing.T) {
	svc, _ := newTestService(newMemStore(), nil)

	report := checkString(t, svc,
		"Email,Name",
		",No Email",
		"a@example.com,A,extra",
		"b@example.com,B",
		"b@example.com,B again",
	)

	assert.Equal(t, 1, report.TotalRecords)
	assert.Equal(t, 1, report.NewRecords)
	assert.Equal(t, 4, report.NewUsers[0].Line)
}

func TestCheckDuplicates_NeverWrites(t *testing.T) {
	store := newMemStore(User{Email: "taro@example.com"})
	svc, _ := newTestService(store, nil)

	checkString(t, svc, "Email", "taro@example.com", "jiro@example.com")

	assert.Equal(t, 1, store.count())
	assert.Zero(t, store.txCount)
}
