// Package export writes the monthly usage report consumed by finance.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/DukeRupert/lectgen/internal/storage"
)

// Header is the first row of every usage export.
var Header = []string{"account_id", "actions", "successes", "failures", "total_cost"}

// Summarizer aggregates billable actions over a period.
type Summarizer interface {
	SummarizeActions(ctx context.Context, from, to time.Time) ([]domain.ActionSummary, error)
}

// Result describes a written export.
type Result struct {
	Month    time.Time
	Key      string
	URL      string
	Accounts int
}

// Exporter renders action summaries as CSV and stores them.
type Exporter struct {
	actions Summarizer
	store   storage.Storage
	logger  *slog.Logger
}

// NewExporter creates a new Exporter.
func NewExporter(actions Summarizer, store storage.Storage, logger *slog.Logger) *Exporter {
	return &Exporter{actions: actions, store: store, logger: logger}
}

// ExportMonth writes the usage report for the calendar month containing
// month. A previous export for the same month is replaced.
func (e *Exporter) ExportMonth(ctx context.Context, month time.Time) (*Result, error) {
	const op = "export.month"

	from := domain.CycleStart(month)
	to := domain.CycleEnd(month)

	summaries, err := e.actions.SummarizeActions(ctx, from, to)
	if err != nil {
		return nil, err
	}

	body, err := encode(summaries)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to encode export")
	}

	key := storage.UsageExportKey(from)
	if err := e.store.Put(ctx, key, bytes.NewReader(body), storage.PutOptions{
		ContentType: "text/csv; charset=utf-8",
		Overwrite:   true,
	}); err != nil {
		return nil, domain.Internal(err, op, "failed to store export")
	}

	url, err := e.store.URL(ctx, key, 0)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to link export")
	}

	e.logger.Info("usage export written",
		"month", from.Format("2006-01"),
		"key", key,
		"accounts", len(summaries),
		"bytes", len(body),
	)

	return &Result{
		Month:    from,
		Key:      key,
		URL:      url,
		Accounts: len(summaries),
	}, nil
}

func encode(summaries []domain.ActionSummary) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return nil, err
	}
	for _, s := range summaries {
		row := []string{
			s.AccountID.String(),
			strconv.FormatInt(s.Actions, 10),
			strconv.FormatInt(s.Successes, 10),
			strconv.FormatInt(s.Failures, 10),
			strconv.FormatInt(s.TotalCost, 10),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write row for %s: %w", s.AccountID, err)
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
