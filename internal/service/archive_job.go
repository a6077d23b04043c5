package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// ArchiveJob moves records older than the retention window from the
// durable store to cold storage.
type ArchiveJob struct {
	archiver  domain.Archiver
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiveJob creates an ArchiveJob keeping retentionDays of history.
func NewArchiveJob(archiver domain.Archiver, retentionDays int, logger *slog.Logger) *ArchiveJob {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &ArchiveJob{
		archiver:  archiver,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archive")),
	}
}

// Run executes one archive pass.
func (j *ArchiveJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	j.logger.Info("starting archive run", slog.Time("cutoff", cutoff))

	opps, err := j.archiver.ArchiveOpportunities(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("service: archive opportunities before %v: %w", cutoff, err)
	}
	trades, err := j.archiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("service: archive trades before %v: %w", cutoff, err)
	}

	j.logger.Info("archive run complete",
		slog.Int64("opportunities_archived", opps),
		slog.Int64("trades_archived", trades),
	)
	return nil
}

// RunEvery runs the job once at start and then every interval until ctx
// is cancelled. Failed runs are logged and retried on the next tick.
func (j *ArchiveJob) RunEvery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	j.logger.Info("archive job started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := j.Run(ctx); err != nil && ctx.Err() == nil {
			j.logger.Error("archive run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			j.logger.Info("archive job stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
