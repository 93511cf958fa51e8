package web

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/userdir/internal/core"
	"github.com/JonMunkholm/userdir/internal/logging"
	"github.com/go-chi/render"
)

// multipartOverhead is the body allowance on top of the file size for
// boundaries and the other form fields.
const multipartOverhead = 1 << 20

var uploadTypes = map[string]bool{
	"text/csv":                 true,
	"text/plain":               true,
	"application/csv":          true,
	"application/vnd.ms-excel": true,
}

type importResults struct {
	Imported       int           `json:"imported"`
	Updated        int           `json:"updated"`
	Skipped        int           `json:"skipped"`
	Errors         int           `json:"errors"`
	TotalProcessed int           `json:"total_processed"`
	Strategy       core.Strategy `json:"strategy"`
}

type importResponse struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	ImportID string          `json:"import_id"`
	Results  importResults   `json:"results"`
	Errors   []core.RowError `json:"errors"`
}

// handleImport runs an import of the uploaded csv_file with import_strategy.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	file, err := s.openUpload(w, r)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	defer file.Close()

	strategy, err := core.ParseStrategy(strings.TrimSpace(r.FormValue("import_strategy")))
	if err != nil {
		s.respondInvalid(w, r, err)
		return
	}

	res, err := s.service.ImportCSV(r.Context(), file, strategy)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	rowErrors := res.RowErrors
	if rowErrors == nil {
		rowErrors = []core.RowError{}
	}
	render.JSON(w, r, importResponse{
		Success:  true,
		Message:  importMessage(res),
		ImportID: res.ImportID,
		Results: importResults{
			Imported:       res.Imported,
			Updated:        res.Updated,
			Skipped:        res.Skipped,
			Errors:         res.Errors,
			TotalProcessed: res.TotalProcessed(),
			Strategy:       res.Strategy,
		},
		Errors: rowErrors,
	})
}

// importMessage summarizes the non-zero counts, e.g. "2 created, 1 skipped".
func importMessage(res *core.ImportResult) string {
	var parts []string
	if res.Imported > 0 {
		parts = append(parts, fmt.Sprintf("%d created", res.Imported))
	}
	if res.Updated > 0 {
		parts = append(parts, fmt.Sprintf("%d updated", res.Updated))
	}
	if res.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", res.Skipped))
	}
	if res.Errors > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", res.Errors))
	}
	if len(parts) == 0 {
		return "no rows to import"
	}
	return strings.Join(parts, ", ")
}

type csvUser struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
}

type existingUser struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type duplicateDetail struct {
	Line         int          `json:"line"`
	CSVData      csvUser      `json:"csv_data"`
	ExistingUser existingUser `json:"existing_user"`
}

type newUserDetail struct {
	Line int `json:"line"`
	csvUser
}

type duplicateAnalysis struct {
	TotalRecords        int           `json:"total_records"`
	NewRecords          int           `json:"new_records"`
	DuplicateRecords    int           `json:"duplicate_records"`
	RecommendedStrategy core.Strategy `json:"recommended_strategy"`
	Recommendations     []string      `json:"recommendations"`
}

type duplicateResponse struct {
	Success  bool              `json:"success"`
	Analysis duplicateAnalysis `json:"analysis"`
	Details  struct {
		Duplicates []duplicateDetail `json:"duplicates"`
		NewUsers   []newUserDetail   `json:"new_users"`
	} `json:"details"`
}

// handleCheckDuplicates reports how the uploaded file would merge. Nothing is written.
func (s *Server) handleCheckDuplicates(w http.ResponseWriter, r *http.Request) {
	file, err := s.openUpload(w, r)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	defer file.Close()

	report, err := s.service.CheckDuplicatesCSV(r.Context(), file)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	render.JSON(w, r, newDuplicateResponse(report))
}

func newDuplicateResponse(report *core.DuplicateReport) duplicateResponse {
	resp := duplicateResponse{
		Success: true,
		Analysis: duplicateAnalysis{
			TotalRecords:        report.TotalRecords,
			NewRecords:          report.NewRecords,
			DuplicateRecords:    report.DuplicateRecords,
			RecommendedStrategy: report.RecommendedStrategy,
			Recommendations:     report.Recommendations,
		},
	}
	resp.Details.Duplicates = make([]duplicateDetail, 0, len(report.Duplicates))
	for _, d := range report.Duplicates {
		resp.Details.Duplicates = append(resp.Details.Duplicates, duplicateDetail{
			Line:    d.Line,
			CSVData: csvUser{Name: d.Name, Email: d.Email, PhoneNumber: d.Phone},
			ExistingUser: existingUser{
				ID:          d.Existing.ID,
				Name:        d.Existing.Name,
				Email:       d.Existing.Email,
				PhoneNumber: deref(d.Existing.PhoneNumber),
				CreatedAt:   formatTime(d.Existing.CreatedAt),
				UpdatedAt:   formatTime(d.Existing.UpdatedAt),
			},
		})
	}
	resp.Details.NewUsers = make([]newUserDetail, 0, len(report.NewUsers))
	for _, n := range report.NewUsers {
		resp.Details.NewUsers = append(resp.Details.NewUsers, newUserDetail{
			Line:    n.Line,
			csvUser: csvUser{Name: n.Name, Email: n.Email, PhoneNumber: n.Phone},
		})
	}
	return resp
}

// handleSample serves the import template.
func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	setCSVHeaders(w, core.SampleFilename)
	if err := core.WriteSample(w); err != nil {
		logging.FromContext(r.Context()).Warn("sample download interrupted", logging.Err(err))
	}
}

// openUpload enforces the size limit and returns the csv_file part once its
// name and content type look like CSV.
func (s *Server) openUpload(w http.ResponseWriter, r *http.Request) (multipart.File, error) {
	maxSize := s.service.MaxFileSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var merr *http.MaxBytesError
		if errors.As(err, &merr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errNoFile, err)
	}

	file, header, err := r.FormFile("csv_file")
	if err != nil {
		return nil, errNoFile
	}
	if header.Size > maxSize {
		file.Close()
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", errFileTooLarge, header.Size, maxSize)
	}
	if err := checkUploadType(header, file); err != nil {
		file.Close()
		return nil, err
	}
	return file, nil
}

// checkUploadType accepts .csv and .txt files whose declared type is a text
// type. Generic binary types are sniffed from the first 512 bytes.
func checkUploadType(header *multipart.FileHeader, file multipart.File) error {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".csv" && ext != ".txt" {
		return fmt.Errorf("%w: extension %q", errUnsupportedType, ext)
	}

	declared, _, _ := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if uploadTypes[declared] {
		return nil
	}
	if declared != "" && declared != "application/octet-stream" {
		return fmt.Errorf("%w: %s", errUnsupportedType, declared)
	}

	buf := make([]byte, 512)
	n, err := io.ReadFull(file, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read upload: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind upload: %w", err)
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(buf[:n]))
	if !uploadTypes[sniffed] {
		return fmt.Errorf("%w: %s", errUnsupportedType, sniffed)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(time.Local).Format(core.TimestampLayout)
}
