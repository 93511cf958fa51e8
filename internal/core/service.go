package core

import (
	"context"
	"io"
	"time"

	"github.com/JonMunkholm/userdir/internal/config"
	"github.com/JonMunkholm/userdir/internal/logging"
	"github.com/google/uuid"
)

// Service is the entry point for CSV import, duplicate check and export.
type Service struct {
	store   UserStore
	hasher  PasswordHasher
	imports config.ImportConfig
	exports config.ExportConfig
	limiter *ImportLimiter
	rec     Recorder

	now   func() time.Time
	newID func() string
}

// NewService wires a Service to its store and password hasher.
func NewService(store UserStore, hasher PasswordHasher, cfg *config.Config) *Service {
	imports := cfg.Import
	if imports.ChunkSize <= 0 {
		imports.ChunkSize = 100
	}
	if imports.MaxFileSize <= 0 {
		imports.MaxFileSize = 10 << 20
	}
	if imports.MaxRows <= 0 {
		imports.MaxRows = DefaultMaxRows
	}
	exports := cfg.Export
	if exports.BatchSize <= 0 {
		exports.BatchSize = 500
	}
	if exports.FastFlushRows <= 0 {
		exports.FastFlushRows = 1000
	}
	if exports.MemorySampleEvery <= 0 {
		exports.MemorySampleEvery = 100
	}

	return &Service{
		store:   store,
		hasher:  hasher,
		imports: imports,
		exports: exports,
		limiter: NewImportLimiter(imports.MaxConcurrent, imports.MaxWaitTime),
		rec:     nopRecorder{},
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// SetRecorder installs a metrics recorder.
func (s *Service) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	s.rec = r
}

// Limiter exposes the import limiter for shutdown draining and health output.
func (s *Service) Limiter() *ImportLimiter {
	return s.limiter
}

// MaxFileSize is the upload size ceiling in bytes.
func (s *Service) MaxFileSize() int64 {
	return s.imports.MaxFileSize
}

// Parse reads an uploaded CSV with the configured row limit.
func (s *Service) Parse(r io.Reader) (*ParsedFile, error) {
	return ParseCSV(r, s.imports.MaxRows)
}

// ImportCSV parses r and imports it with the given strategy. It waits for
// an import slot first and fails with ErrTooManyImports when none frees up.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader, strategy Strategy) (*ImportResult, error) {
	parsed, err := s.Parse(r)
	if err != nil {
		return nil, err
	}

	if !s.limiter.TryAcquire() {
		logging.FromContext(ctx).Info("import waiting for a slot",
			"active", s.limiter.ActiveCount(),
			"max_concurrent", s.limiter.MaxConcurrent(),
		)
		if err := s.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}
	defer s.limiter.Release()

	if s.imports.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.imports.Timeout)
		defer cancel()
	}

	return s.Import(ctx, parsed, strategy)
}

// CheckDuplicatesCSV parses r and reports how it would merge.
func (s *Service) CheckDuplicatesCSV(ctx context.Context, r io.Reader) (*DuplicateReport, error) {
	parsed, err := s.Parse(r)
	if err != nil {
		return nil, err
	}
	return s.CheckDuplicates(ctx, parsed)
}

// cursorFor resolves a selection against the current clock.
func (s *Service) cursorFor(sel Selection) CursorSpec {
	return sel.Cursor(s.now(), s.exports.FullTextSearch)
}

// ExportFilename names the attachment for sel.
func (s *Service) ExportFilename(sel Selection, fast bool) string {
	return sel.Filename(s.now(), fast)
}
