package scheduler

import (
	"context"
	"time"

	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/DukeRupert/lectgen/internal/export"
)

const (
	JobCycleSweep  = "cycle_sweep"
	JobUsageExport = "usage_export"
)

// DefaultSweepBatch is how many accounts one sweep pass resets.
const DefaultSweepBatch = 500

// Sweeper resets counters left over from earlier cycles.
type Sweeper interface {
	SweepStaleCycles(ctx context.Context, batch int) (int, error)
}

// MonthExporter writes a month's usage report.
type MonthExporter interface {
	ExportMonth(ctx context.Context, month time.Time) (*export.Result, error)
}

// CycleSweepJob resets stale counters in batches until none remain. It only
// saves work at read time; the lazy reset keeps decisions correct without it.
type CycleSweepJob struct {
	sweeper Sweeper
	batch   int
}

// NewCycleSweepJob creates a CycleSweepJob. A non-positive batch uses
// DefaultSweepBatch.
func NewCycleSweepJob(sweeper Sweeper, batch int) *CycleSweepJob {
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	return &CycleSweepJob{sweeper: sweeper, batch: batch}
}

func (j *CycleSweepJob) Name() string { return JobCycleSweep }

func (j *CycleSweepJob) Run(ctx context.Context) error {
	for {
		n, err := j.sweeper.SweepStaleCycles(ctx, j.batch)
		if err != nil {
			return err
		}
		if n < j.batch {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// UsageExportJob exports the calendar month before the one it runs in.
type UsageExportJob struct {
	exporter MonthExporter
	now      func() time.Time
}

// NewUsageExportJob creates a UsageExportJob.
func NewUsageExportJob(exporter MonthExporter) *UsageExportJob {
	return &UsageExportJob{exporter: exporter, now: time.Now}
}

func (j *UsageExportJob) Name() string { return JobUsageExport }

func (j *UsageExportJob) Run(ctx context.Context) error {
	previous := domain.CycleStart(j.now()).AddDate(0, -1, 0)
	_, err := j.exporter.ExportMonth(ctx, previous)
	return err
}
