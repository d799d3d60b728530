package reconcile

import (
	"context"
	"fmt"
	"log/slog"
)

// cleanup removes expired articles and compacts the file, at most once per
// CleanupInterval.
func (e *Engine) cleanup(ctx context.Context) error {
	now := e.now()

	e.mu.Lock()
	due := e.lastCleanup.IsZero() || now.Sub(e.lastCleanup) >= e.cfg.CleanupInterval
	e.mu.Unlock()
	if !due {
		return nil
	}

	feeds, err := e.deps.Feeds.List(ctx)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	subscribed := make([]string, len(feeds))
	for i, f := range feeds {
		subscribed[i] = f.ID
	}

	result, err := e.deps.Articles.Cleanup(ctx, subscribed, now.Add(-e.cfg.Retention))
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	if result.ArticlesDeleted > 0 || result.StatusesDeleted > 0 {
		e.logger.Info("expired articles removed",
			slog.Int64("articles", result.ArticlesDeleted),
			slog.Int64("statuses", result.StatusesDeleted))
	}

	if e.deps.Vacuumer != nil {
		vacuumed, err := e.deps.Vacuumer.VacuumIfNeeded(ctx, e.cfg.VacuumInterval)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		if vacuumed {
			e.logger.Info("database vacuumed")
		}
	}

	e.mu.Lock()
	e.lastCleanup = now
	e.mu.Unlock()
	return nil
}
