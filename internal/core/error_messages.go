package core

// error_messages.go maps technical errors to messages with support codes.
//
// # Error Codes Reference
//
// File errors (FILE001-FILE099), raised before anything is written:
//
//	FILE001 - File too large: upload exceeds the size limit
//	FILE002 - Invalid CSV: no header row, no email column or a broken record
//	FILE003 - Too many rows: more data rows than the import allows
//	FILE004 - No file: the request carried no csv_file part
//	FILE005 - Unsupported type: the upload is not CSV or plain text
//
// Import errors (IMP001-IMP099):
//
//	IMP001 - System busy: every import slot is taken
//	IMP002 - Import aborted: a chunk failed to commit; earlier chunks were kept
//	IMP003 - Unknown strategy: import_strategy is not create, update or skip
//
// Export errors (EXP001-EXP099):
//
//	EXP001 - Stream interrupted: the client stopped reading the download
//	EXP002 - Invalid selection: the export request body is inconsistent
//
// Database errors (DB001-DB099), matched on the driver's message:
//
//	DB001 - Duplicate email: a unique constraint rejected the write
//	DB002 - Invalid value: a check or enum constraint rejected the write
//	DB003 - Connection refused
//	DB004 - Connection reset
//	DB005 - Timeout
//	DB006 - Deadlock
//
// Anything else is ERR000; the original error is in the server log.
//
// Typed errors are matched first with errors.As, then the message patterns
// are tried in order (case-insensitive substring, first match wins).

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgInvalidCSV = UserMessage{
		Message: "The file is not a valid CSV",
		Action:  "Save the file as comma-separated UTF-8 with a header row that includes Email",
		Code:    "FILE002",
	}
	msgTooManyRows = UserMessage{
		Message: "The file has too many rows",
		Action:  "Split the file into parts of at most 10,000 rows",
		Code:    "FILE003",
	}
	msgBusy = UserMessage{
		Message: "Too many imports are running",
		Action:  "Please wait a moment and try again",
		Code:    "IMP001",
	}
	msgAborted = UserMessage{
		Message: "The import stopped part way through",
		Action:  "Rows before the reported line were saved; fix the line and re-run with the skip strategy",
		Code:    "IMP002",
	}
	msgStreamClosed = UserMessage{
		Message: "The download was interrupted",
		Action:  "Start the export again",
		Code:    "EXP001",
	}
)

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"file too large", UserMessage{"File exceeds the maximum upload size (10MB)", "Split the file into smaller parts", "FILE001"}},
	{"request body too large", UserMessage{"File exceeds the maximum upload size (10MB)", "Split the file into smaller parts", "FILE001"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a CSV file to upload", "FILE004"}},
	{"unsupported file type", UserMessage{"Only CSV files can be uploaded", "Upload a .csv or .txt file", "FILE005"}},

	{"unknown import strategy", UserMessage{"Unknown import strategy", "Use create, update or skip", "IMP003"}},
	{"select_type", UserMessage{"The export selection is incomplete", "Choose all or filtered when selecting every user", "EXP002"}},
	{"unknown membership status", UserMessage{"Unknown membership status in filter", "Use active, inactive, pending or expired", "EXP002"}},
	{"unknown created filter", UserMessage{"Unknown creation date filter", "Use today, week, month or year", "EXP002"}},

	{"duplicate key", UserMessage{"A user with this email already exists", "Re-run the import with the update or skip strategy", "DB001"}},
	{"violates unique", UserMessage{"A user with this email already exists", "Re-run the import with the update or skip strategy", "DB001"}},
	{"violates check constraint", UserMessage{"A value is outside the allowed range", "Check the gender, status and points columns", "DB002"}},
	{"invalid input value for enum", UserMessage{"A value is not in the allowed list", "Check the gender and membership status columns", "DB002"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB003"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB004"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB005"}},
	{"deadline exceeded", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB005"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB006"}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var (
		ferr *FormatError
		lerr *RowLimitError
		perr *PersistenceError
		werr *StreamWriteError
	)
	switch {
	case errors.As(err, &ferr):
		return msgInvalidCSV
	case errors.As(err, &lerr):
		return msgTooManyRows
	case errors.Is(err, ErrTooManyImports):
		return msgBusy
	case errors.As(err, &werr):
		return msgStreamClosed
	case errors.As(err, &perr):
		// Prefer the specific database cause when there is one.
		if msg := matchPattern(perr.Err); msg.Code != defaultMessage.Code {
			return msg
		}
		return msgAborted
	}

	return matchPattern(err)
}

func matchPattern(err error) UserMessage {
	if err == nil {
		return defaultMessage
	}
	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
