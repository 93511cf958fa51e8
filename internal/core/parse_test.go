package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSV_MapsHeadersAndLines(t *testing.T) {
	parsed, err := ParseCSV(csvInput(
		"ID,Name,Email,Phone,Points",
		",Taro,taro@example.com,090-1234-5678,100",
		"7,Hanako,hanako@example.com,,",
	), 0)
	require.NoError(t, err)

	assert.Equal(t, []string{FieldID, FieldName, FieldEmail, FieldPhoneNumber, FieldPoints}, parsed.Header)
	require.Len(t, parsed.Rows, 2)

	first := parsed.Rows[0]
	assert.Equal(t, 2, first.Line)
	assert.Equal(t, "taro@example.com", first.Get(FieldEmail))
	assert.Equal(t, "090-1234-5678", first.Get(FieldPhoneNumber))
	assert.Empty(t, first.Get(FieldID))

	second := parsed.Rows[1]
	assert.Equal(t, 3, second.Line)
	assert.Equal(t, "7", second.Get(FieldID))
	_, hasPhone := second.Fields[FieldPhoneNumber]
	assert.False(t, hasPhone, "empty cells are omitted")
}

func TestParseCSV_JapaneseHeaders(t *testing.T) {
	parsed, err := ParseCSV(csvInput(
		"ID,名前,メールアドレス,電話番号,会員状態,ポイント",
		"1,山田 太郎,taro@example.com,090-1234-5678,active,100",
	), 0)
	require.NoError(t, err)
	require.Len(t, parsed.Rows, 1)

	row := parsed.Rows[0]
	assert.Equal(t, "山田 太郎", row.Get(FieldName))
	assert.Equal(t, "taro@example.com", row.Get(FieldEmail))
	assert.Equal(t, "active", row.Get(FieldMembershipStatus))
	assert.Equal(t, "100", row.Get(FieldPoints))
}

func TestParseCSV_StripsBOM(t *testing.T) {
	parsed, err := ParseCSV(strings.NewReader(UTF8BOM+"Email,Name\ntaro@example.com,Taro\n"), 0)
	require.NoError(t, err)
	assert.Equal(t, FieldEmail, parsed.Header[0], "BOM must not stick to the first header cell")
	assert.Equal(t, "taro@example.com", parsed.Rows[0].Get(FieldEmail))
}

func TestParseCSV_InvalidUTF8Replaced(t *testing.T) {
	parsed, err := ParseCSV(strings.NewReader("Email,Name\ntaro@example.com,Ta\x80ro\n"), 0)
	require.NoError(t, err)
	assert.Equal(t, "Ta\uFFFDro", parsed.Rows[0].Get(FieldName))
}

func TestParseCSV_NullSentinelAndExcelWrapper(t *testing.T) {
	parsed, err := ParseCSV(csvInput(
		"Email,Phone,Address",
		`taro@example.com,"=""090-1234-5678""",?`,
	), 0)
	require.NoError(t, err)

	row := parsed.Rows[0]
	assert.Equal(t, "090-1234-5678", row.Get(FieldPhoneNumber))
	_, hasAddress := row.Fields[FieldAddress]
	assert.False(t, hasAddress)
}

func TestParseCSV_QuotedMultilineCell(t *testing.T) {
	parsed, err := ParseCSV(csvInput(
		"Email,Notes",
		`taro@example.com,"line one`,
		`line two"`,
		"hanako@example.com,plain",
	), 0)
	require.NoError(t, err)
	require.Len(t, parsed.Rows, 2)
	assert.Equal(t, "line one\nline two", parsed.Rows[0].Get(FieldNotes))
}

func TestParseCSV_ColumnMismatchFlagsRow(t *testing.T) {
	parsed, err := ParseCSV(csvInput(
		"Email,Name",
		"taro@example.com,Taro,extra",
		"hanako@example.com,Hanako",
	), 0)
	require.NoError(t, err)
	require.Len(t, parsed.Rows, 2)

	assert.Equal(t, problemColumnCount, parsed.Rows[0].Problem)
	assert.Nil(t, parsed.Rows[0].Fields)
	assert.Empty(t, parsed.Rows[1].Problem)
}

func TestParseCSV_HeaderOnly(t *testing.T) {
	parsed, err := ParseCSV(csvInput("ID,Name,Email"), 0)
	require.NoError(t, err)
	assert.Empty(t, parsed.Rows)
}

func TestParseCSV_FormatErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty file", input: ""},
		{name: "BOM only", input: UTF8BOM},
		{name: "blank header", input: ",,\n"},
		{name: "no email column", input: "ID,Name\n1,Taro\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(tt.input), 0)
			var ferr *FormatError
			require.True(t, errors.As(err, &ferr), "got %v", err)
			assert.Equal(t, 1, ferr.Line)
		})
	}
}

func TestParseCSV_RowLimit(t *testing.T) {
	build := func(n int) *strings.Reader {
		var b strings.Builder
		b.WriteString("Email\n")
		for i := range n {
			fmt.Fprintf(&b, "user%d@example.com\n", i)
		}
		return strings.NewReader(b.String())
	}

	parsed, err := ParseCSV(build(DefaultMaxRows), DefaultMaxRows)
	require.NoError(t, err)
	assert.Len(t, parsed.Rows, DefaultMaxRows)

	_, err = ParseCSV(build(DefaultMaxRows+1), DefaultMaxRows)
	var lerr *RowLimitError
	require.True(t, errors.As(err, &lerr), "got %v", err)
	assert.Equal(t, DefaultMaxRows, lerr.Limit)
}

func TestCanonicalField(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Email", FieldEmail},
		{" Email ", FieldEmail},
		{"email", FieldEmail},
		{"メールアドレス", FieldEmail},
		{"Last Login", FieldLastLoginAt},
		{"最終ログイン", FieldLastLoginAt},
		{"パスワード", FieldPassword},
		{"Nickname", "Nickname"},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalField(tt.header))
		})
	}
}

func TestExportHeaderRoundTrips(t *testing.T) {
	header := CanonicalHeader(ExportHeader)
	assert.Equal(t, []string{
		FieldID, FieldName, FieldEmail, FieldPhoneNumber, FieldAddress,
		FieldBirthDate, FieldGender, FieldMembershipStatus, FieldNotes,
		FieldProfileImage, FieldPoints, FieldLastLoginAt, FieldCreatedAt,
		FieldUpdatedAt,
	}, header)
}
