package core

import "strings"

// Canonical field names used throughout import and export.
const (
	FieldID               = "id"
	FieldName             = "name"
	FieldEmail            = "email"
	FieldPassword         = "password"
	FieldPhoneNumber      = "phone_number"
	FieldAddress          = "address"
	FieldBirthDate        = "birth_date"
	FieldGender           = "gender"
	FieldMembershipStatus = "membership_status"
	FieldNotes            = "notes"
	FieldProfileImage     = "profile_image"
	FieldPoints           = "points"
	FieldLastLoginAt      = "last_login_at"
	FieldCreatedAt        = "created_at"
	FieldUpdatedAt        = "updated_at"
)

// ExportHeader is the fixed column order of every export and the sample template.
var ExportHeader = []string{
	"ID", "Name", "Email", "Phone", "Address", "Birth Date", "Gender",
	"Membership Status", "Notes", "Profile Image", "Points", "Last Login",
	"Created At", "Updated At",
}

// headerAliases maps display headers to canonical keys. Both the English
// export headers and the Japanese headers of older exports are accepted so
// any file this service ever produced can be re-imported.
var headerAliases = map[string]string{
	"ID":                FieldID,
	"Name":              FieldName,
	"Email":             FieldEmail,
	"Password":          FieldPassword,
	"Phone":             FieldPhoneNumber,
	"Address":           FieldAddress,
	"Birth Date":        FieldBirthDate,
	"Gender":            FieldGender,
	"Membership Status": FieldMembershipStatus,
	"Notes":             FieldNotes,
	"Profile Image":     FieldProfileImage,
	"Points":            FieldPoints,
	"Last Login":        FieldLastLoginAt,
	"Created At":        FieldCreatedAt,
	"Updated At":        FieldUpdatedAt,

	"名前":       FieldName,
	"メールアドレス":  FieldEmail,
	"パスワード":    FieldPassword,
	"電話番号":     FieldPhoneNumber,
	"住所":       FieldAddress,
	"生年月日":     FieldBirthDate,
	"性別":       FieldGender,
	"会員状態":     FieldMembershipStatus,
	"メモ":       FieldNotes,
	"プロフィール画像": FieldProfileImage,
	"ポイント":     FieldPoints,
	"最終ログイン":   FieldLastLoginAt,
	"作成日":      FieldCreatedAt,
	"更新日":      FieldUpdatedAt,
}

// CanonicalField maps a header cell to its canonical key. Canonical keys map
// to themselves; anything unknown is returned trimmed and unchanged.
func CanonicalField(header string) string {
	h := strings.TrimSpace(header)
	if key, ok := headerAliases[h]; ok {
		return key
	}
	return h
}

// CanonicalHeader maps a whole header row.
func CanonicalHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = CanonicalField(h)
	}
	return out
}
