package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/JonMunkholm/userdir/internal/core"
	"github.com/JonMunkholm/userdir/internal/logging"
	"github.com/go-chi/render"
)

// exportRequest is the optional JSON body of an export.
type exportRequest struct {
	UserIDs    []int64        `json:"user_ids" validate:"omitempty,dive,gt=0"`
	SelectAll  bool           `json:"select_all"`
	SelectType string         `json:"select_type" validate:"omitempty,oneof=all filtered"`
	Filters    *exportFilters `json:"filters"`
}

type exportFilters struct {
	Q       string     `json:"q" validate:"max=255"`
	Status  statusList `json:"status" validate:"omitempty,dive,oneof=active inactive pending expired"`
	Created string     `json:"created" validate:"omitempty,oneof=today week month year"`
}

// statusList accepts either "active,pending" or ["active","pending"].
type statusList []string

func (l *statusList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = nil
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err == nil {
		*l = nil
		for _, s := range core.ParseStatusList(joined) {
			*l = append(*l, string(s))
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("status must be a string or a list of strings")
	}
	*l = nil
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			*l = append(*l, s)
		}
	}
	return nil
}

func (req exportRequest) selectionRequest() core.SelectionRequest {
	out := core.SelectionRequest{
		UserIDs:    req.UserIDs,
		SelectAll:  req.SelectAll,
		SelectType: req.SelectType,
	}
	if req.Filters != nil {
		f := &core.Filter{
			Query:   req.Filters.Q,
			Created: core.CreatedBucket(req.Filters.Created),
		}
		for _, s := range req.Filters.Status {
			f.Statuses = append(f.Statuses, core.MembershipStatus(s))
		}
		out.Filter = f
	}
	return out
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, false)
}

func (s *Server) handleExportFast(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, true)
}

// export resolves the selection, then streams it. Once the first byte is
// out the status is 200; a later failure only truncates the file and is logged.
func (s *Server) export(w http.ResponseWriter, r *http.Request, fast bool) {
	sel, err := s.decodeSelection(r)
	if err != nil {
		s.respondInvalid(w, r, err)
		return
	}

	setCSVHeaders(w, s.service.ExportFilename(sel, fast))

	run := s.service.Export
	if fast {
		run = s.service.ExportFast
	}
	stats, err := run(r.Context(), newFlushWriter(w), sel)

	log := logging.FromContext(r.Context())
	var werr *core.StreamWriteError
	switch {
	case errors.As(err, &werr), errors.Is(err, context.Canceled):
		log.Info("export abandoned by client", "rows", stats.Rows, "fast", fast, logging.Err(err))
	case err != nil:
		log.Error("export failed after headers were sent", "rows", stats.Rows, "fast", fast,
			"code", core.MapError(err).Code, logging.Err(err))
	}
}

// decodeSelection reads the optional JSON body. GET and an empty POST both
// export every user.
func (s *Server) decodeSelection(r *http.Request) (core.Selection, error) {
	if r.Method == http.MethodGet || r.Body == nil {
		return core.Selection{Mode: core.SelectAll}, nil
	}

	var req exportRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		if errors.Is(err, io.EOF) {
			return core.Selection{Mode: core.SelectAll}, nil
		}
		return core.Selection{}, fmt.Errorf("invalid export request body: %w", err)
	}
	if err := s.validate.Struct(req); err != nil {
		return core.Selection{}, err
	}
	return core.ResolveSelection(req.selectionRequest())
}

func setCSVHeaders(w http.ResponseWriter, filename string) {
	h := w.Header()
	h.Set("Content-Type", "text/csv; charset=UTF-8")
	h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Content-Type-Options", "nosniff")
}

// flushWriter lets the exporters flush through middleware wrappers. A failed
// flush is kept and fails the next Write, so a gone client stops the export.
type flushWriter struct {
	w   io.Writer
	rc  *http.ResponseController
	err error
}

func newFlushWriter(w http.ResponseWriter) *flushWriter {
	return &flushWriter{w: w, rc: http.NewResponseController(w)}
}

func (f *flushWriter) Write(p []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.w.Write(p)
}

func (f *flushWriter) Flush() {
	if f.err != nil {
		return
	}
	if err := f.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		f.err = fmt.Errorf("flush response: %w", err)
	}
}
