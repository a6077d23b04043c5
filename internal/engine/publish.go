package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
	memstore "github.com/alanyoungcy/arbsim/internal/store/memory"
)

// notify schedules a publish. Calls made while one is pending coalesce into
// it; the most recent reason wins.
func (e *Engine) notify(reason domain.UpdateReason) {
	e.pubMu.Lock()
	e.pubReason = reason
	e.pubMu.Unlock()
	select {
	case e.pubCh <- struct{}{}:
	default:
	}
}

// runPublisher publishes at most one update per publish interval.
func (e *Engine) runPublisher(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.pubCh:
		}

		e.pubMu.Lock()
		reason := e.pubReason
		e.pubMu.Unlock()
		e.publish(ctx, reason)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.PublishInterval):
		}
	}
}

func (e *Engine) publish(ctx context.Context, reason domain.UpdateReason) {
	update := domain.Update{
		Reason:   reason,
		Snapshot: e.Snapshot(),
		Spreads:  e.spreads.Recent(memstore.DefaultSpreadWindow),
	}
	payload, err := json.Marshal(update)
	if err != nil {
		e.logger.Error("marshal update failed", slog.String("error", err.Error()))
		return
	}
	if err := e.bus.Publish(ctx, domain.ChannelUpdates, payload); err != nil {
		e.metrics.PublishErrors.Inc()
		e.logger.Warn("publish update failed", slog.String("error", err.Error()))
	}
}
