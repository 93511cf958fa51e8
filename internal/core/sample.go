package core

import (
	"encoding/csv"
	"io"
)

// SampleFilename is the attachment name of the import template.
const SampleFilename = "sample_users.csv"

// sampleRows are illustrative users for the import template. IDs are blank
// because new users get theirs from the store.
var sampleRows = [][]string{
	{"", "山田 太郎", "taro@example.com", "090-1234-5678", "東京都渋谷区神宮前1-2-3", "1990-01-15", "male", "active", "サンプルユーザーです", "", "100", "", "", ""},
	{"", "佐藤 花子", "hanako@example.com", "080-9876-5432", "大阪府大阪市中央区1-1-1", "1985-05-20", "female", "pending", "テストユーザー", "", "50", "", "", ""},
	{"", "田中 次郎", "jiro@example.com", "", "", "", "", "inactive", "", "", "0", "", "", ""},
}

// WriteSample writes the import template: BOM, header and three example rows.
func WriteSample(w io.Writer) error {
	if _, err := io.WriteString(w, UTF8BOM); err != nil {
		return &StreamWriteError{Err: err}
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return &StreamWriteError{Err: err}
	}
	if err := cw.WriteAll(sampleRows); err != nil {
		return &StreamWriteError{Err: err}
	}
	return nil
}
