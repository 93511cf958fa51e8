package core

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"runtime/metrics"
	"strconv"
	"time"

	"github.com/JonMunkholm/userdir/internal/logging"
)

// UTF8BOM prefixes every CSV this service writes so spreadsheet tools
// detect the encoding.
const UTF8BOM = "\xEF\xBB\xBF"

const (
	variantStandard = "standard"
	variantFast     = "fast"
)

// flusher is satisfied by http.ResponseWriter implementations that stream.
type flusher interface {
	Flush()
}

// Export streams the selected users as CSV in keyset batches.
//
// Output is a BOM, the header row, then one row per user in id order.
// Each batch is flushed to w before the next one is fetched. If writing
// fails the export stops with *StreamWriteError and no further batches are
// read.
func (s *Service) Export(ctx context.Context, w io.Writer, sel Selection) (ExportStats, error) {
	var stats ExportStats
	start := time.Now()
	spec := s.cursorFor(sel)
	log := logging.WithFields(ctx, "export", variantStandard, "mode", sel.Mode)

	if _, err := io.WriteString(w, UTF8BOM); err != nil {
		return stats, &StreamWriteError{Err: err}
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return stats, &StreamWriteError{Err: err}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return stats, &StreamWriteError{Err: err}
	}

	mem := newMemorySampler(s.exports.MemoryWarnBytes)
	record := make([]string, len(ExportHeader))
	limit := s.exports.BatchSize
	var afterID int64

	for !spec.Empty {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		batch, err := s.store.FetchBatch(ctx, spec, afterID, limit)
		if err != nil {
			return stats, fmt.Errorf("fetch export batch after id %d: %w", afterID, err)
		}

		for i := range batch {
			fillRecord(record, &batch[i])
			if err := cw.Write(record); err != nil {
				return stats, &StreamWriteError{Rows: stats.Rows, Err: err}
			}
			stats.Rows++
			if stats.Rows%s.exports.MemorySampleEvery == 0 {
				mem.sample(log, stats.Rows)
			}
		}

		cw.Flush()
		if err := cw.Error(); err != nil {
			log.Warn("export stream closed", "rows", stats.Rows, logging.Err(err))
			return stats, &StreamWriteError{Rows: stats.Rows, Err: err}
		}
		if f, ok := w.(flusher); ok {
			f.Flush()
		}

		if len(batch) < limit {
			break
		}
		afterID = batch[len(batch)-1].ID
	}

	stats.Duration = time.Since(start)
	s.rec.ExportFinished(variantStandard, stats.Rows, stats.Duration)
	log.Info("export completed",
		"rows", stats.Rows,
		"duration", stats.Duration,
		"peak_memory_bytes", mem.peak,
	)
	return stats, nil
}

// fillRecord renders u into record in ExportHeader order.
func fillRecord(record []string, u *User) {
	record[0] = strconv.FormatInt(u.ID, 10)
	record[1] = u.Name
	record[2] = u.Email
	record[3] = deref(u.PhoneNumber)
	record[4] = deref(u.Address)
	record[5] = formatDate(u.BirthDate)
	record[6] = ""
	if u.Gender != nil {
		record[6] = string(*u.Gender)
	}
	record[7] = string(u.MembershipStatus)
	record[8] = deref(u.Notes)
	record[9] = deref(u.ProfileImage)
	record[10] = strconv.Itoa(u.Points)
	record[11] = formatTimestamp(u.LastLoginAt)
	record[12] = formatTimestamp(&u.CreatedAt)
	record[13] = formatTimestamp(&u.UpdatedAt)
}

// memoryMetric is all memory the runtime has mapped from the OS, the
// closest runtime/metrics figure to resident size.
const memoryMetric = "/memory/classes/total:bytes"

// memorySampler watches process memory during a standard export and warns
// once when it crosses warnAt.
type memorySampler struct {
	warnAt  int64
	warned  bool
	peak    uint64
	samples []metrics.Sample
}

func newMemorySampler(warnAt int64) *memorySampler {
	return &memorySampler{
		warnAt:  warnAt,
		samples: []metrics.Sample{{Name: memoryMetric}},
	}
}

func (m *memorySampler) sample(log *slog.Logger, rows int) {
	metrics.Read(m.samples)
	if m.samples[0].Value.Kind() != metrics.KindUint64 {
		return
	}
	used := m.samples[0].Value.Uint64()
	if used > m.peak {
		m.peak = used
	}
	if m.warnAt > 0 && used > uint64(m.warnAt) && !m.warned {
		m.warned = true
		log.Warn("export memory above threshold",
			"rows", rows,
			"memory_bytes", used,
			"threshold_bytes", m.warnAt,
		)
	}
}
