package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"feedsync/internal/domain/entity"
	"feedsync/internal/observability/metrics"
	"feedsync/internal/observability/tracing"
	"feedsync/internal/resilience/retry"
)

// pushGroup is the outbox rows of one batch sharing key and flag.
type pushGroup struct {
	key  entity.StatusKey
	flag bool
	rows []entity.SyncStatus
}

func (g pushGroup) articleIDs() []string {
	ids := make([]string, len(g.rows))
	for i, r := range g.rows {
		ids[i] = r.ArticleID
	}
	return ids
}

// groupRows splits a batch by (key, flag) keeping first-seen order.
func groupRows(rows []entity.SyncStatus) []pushGroup {
	type groupKey struct {
		key  entity.StatusKey
		flag bool
	}
	index := make(map[groupKey]int)
	var groups []pushGroup
	for _, r := range rows {
		k := groupKey{r.Key, r.Flag}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, pushGroup{key: r.Key, flag: r.Flag})
		}
		groups[i].rows = append(groups[i].rows, r)
	}
	return groups
}

// drain pushes the outbox batch by batch until it is empty or a push fails
// in a way that needs a later attempt.
//
//   - success: rows are removed
//   - transient failure or suspended storage: rows are released and draining stops
//   - authentication failure: rows are released, draining stops and the
//     error halts the account
//   - anything else: the change can never be applied remotely, so the rows
//     are removed and the loss is logged and counted
func (e *Engine) drain(ctx context.Context) (DrainResult, error) {
	ctx, span := tracing.GetTracer().Start(ctx, "reconcile.drain")
	defer span.End()

	var res DrainResult
	defer func() {
		span.SetAttributes(
			attribute.Int("pushed", res.Pushed),
			attribute.Int("failed", res.Failed),
			attribute.Int("dropped", res.Dropped))
		e.reportPending(context.WithoutCancel(ctx))
	}()

	for {
		rows, err := e.deps.Outbox.SelectBatch(ctx, e.cfg.PushBatchSize)
		if err != nil {
			return res, fmt.Errorf("drain: %w", err)
		}
		if len(rows) == 0 {
			return res, nil
		}

		groups := groupRows(rows)
		for i, g := range groups {
			err := e.push(ctx, g)
			switch {
			case err == nil:
				if err := e.deps.Outbox.MarkSucceeded(ctx, g.rows); err != nil {
					e.release(ctx, groups[i:])
					return res, fmt.Errorf("drain: %w", err)
				}
				res.Pushed += len(g.rows)
				metrics.RecordStatusPush(e.account.ID, "success", len(g.rows))

			case e.keepForLater(ctx, err):
				failed := e.release(ctx, groups[i:])
				res.Failed += failed
				metrics.RecordStatusPush(e.account.ID, "retry", failed)
				e.logger.Warn("status push deferred",
					slog.String("key", string(g.key)),
					slog.Bool("flag", g.flag),
					slog.Int("rows", failed),
					slog.Any("error", err))
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				return res, fmt.Errorf("drain: %w", err)

			default:
				if err := e.deps.Outbox.MarkSucceeded(ctx, g.rows); err != nil {
					e.release(ctx, groups[i:])
					return res, fmt.Errorf("drain: %w", err)
				}
				res.Dropped += len(g.rows)
				metrics.RecordStatusPush(e.account.ID, "dropped", len(g.rows))
				e.logger.Error("status push rejected, dropping changes",
					slog.String("key", string(g.key)),
					slog.Bool("flag", g.flag),
					slog.Int("rows", len(g.rows)),
					slog.Any("error", err))
			}
		}
	}
}

func (e *Engine) push(ctx context.Context, g pushGroup) error {
	start := time.Now()
	err := e.deps.Provider.PushStatus(ctx, g.articleIDs(), g.key, g.flag)
	e.logger.Debug("status push",
		slog.String("key", string(g.key)),
		slog.Bool("flag", g.flag),
		slog.Int("rows", len(g.rows)),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("ok", err == nil))
	return err
}

// keepForLater reports whether rows whose push failed with err stay queued.
func (e *Engine) keepForLater(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, entity.ErrSuspended) ||
		retry.IsRetryable(err) ||
		entity.IsAuthFailure(err)
}

// release makes the rows of groups eligible again. It runs even when ctx is
// cancelled so no row stays selected.
func (e *Engine) release(ctx context.Context, groups []pushGroup) int {
	var rows []entity.SyncStatus
	for _, g := range groups {
		rows = append(rows, g.rows...)
	}
	if len(rows) == 0 {
		return 0
	}
	if err := e.deps.Outbox.MarkFailed(context.WithoutCancel(ctx), rows); err != nil {
		e.logger.Warn("failed to release outbox rows, they are reset at next start",
			slog.Int("rows", len(rows)),
			slog.Any("error", err))
	}
	return len(rows)
}
