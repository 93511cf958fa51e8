package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err, statusCode), or statusFor(err) picks the code
//  3. Error is mapped via core.MapError to get user-friendly message
//  4. Technical error + context is logged with request ID for correlation
//  5. The client gets an ErrorResponse as JSON

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/userdir/internal/core"
	"github.com/JonMunkholm/userdir/internal/logging"
	"github.com/go-chi/render"
)

var (
	errNoFile          = errors.New("no file provided")
	errUnsupportedType = errors.New("unsupported file type")
	errFileTooLarge    = errors.New("file too large")
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`

	// Line is the CSV line an aborted import stopped at.
	Line int `json:"line,omitempty"`
}

// statusFor picks the HTTP status for an error returned by the service.
func statusFor(err error) int {
	var (
		ferr *core.FormatError
		lerr *core.RowLimitError
		merr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &merr), errors.Is(err, errFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &ferr), errors.As(err, &lerr),
		errors.Is(err, errNoFile):
		return http.StatusBadRequest
	case errors.Is(err, errUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs the technical error server-side and returns the
// user-facing message as JSON.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := core.MapError(err)

	resp := ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	}
	var perr *core.PersistenceError
	if errors.As(err, &perr) {
		resp.Line = perr.Line
	}

	level := slog.LevelWarn
	if statusCode >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"code", userMsg.Code,
		logging.Err(err),
	)

	render.Status(r, statusCode)
	render.JSON(w, r, resp)
}

// respondInvalid answers 422 for a request that parsed but failed validation.
// The validator's message is returned as is, since it names the bad field.
func (s *Server) respondInvalid(w http.ResponseWriter, r *http.Request, err error) {
	userMsg := core.MapError(err)
	code := userMsg.Code
	if code == "ERR000" {
		code = "VALIDATION"
	}

	logging.FromContext(r.Context()).Warn("request rejected",
		"path", r.URL.Path,
		"method", r.Method,
		"code", code,
		logging.Err(err),
	)

	render.Status(r, http.StatusUnprocessableEntity)
	render.JSON(w, r, ErrorResponse{
		Error:   err.Error(),
		Message: err.Error(),
		Action:  userMsg.Action,
		Code:    code,
	})
}
