package sqlite_test

import (
	"context"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsync/internal/domain/entity"
	"feedsync/internal/infra/adapter/persistence/sqlite"
	"feedsync/internal/infra/db"
)

func pending(t *testing.T, o *sqlite.Outbox) int {
	t.Helper()
	n, err := o.PendingCount(context.Background())
	require.NoError(t, err)
	return n
}

/* ──────────────────────────── 1. Enqueue ──────────────────────────── */

func TestOutbox_EnqueueOverwritesSameKey(t *testing.T) {
	o := sqlite.NewOutbox(openQueue(t))
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, []entity.SyncStatus{{ArticleID: "a1", Key: entity.StatusRead, Flag: true}}))
	require.NoError(t, o.Enqueue(ctx, []entity.SyncStatus{
		{ArticleID: "a1", Key: entity.StatusRead, Flag: false},
		{ArticleID: "a1", Key: entity.StatusStarred, Flag: true},
	}))
	assert.Equal(t, 2, pending(t, o))

	batch, err := o.SelectBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []entity.SyncStatus{
		{ArticleID: "a1", Key: entity.StatusRead, Flag: false, Selected: true},
		{ArticleID: "a1", Key: entity.StatusStarred, Flag: true, Selected: true},
	}, batch)
}

/* ──────────────────────────── 2. SelectBatch ──────────────────────────── */

func TestOutbox_SelectBatch_MutualExclusion(t *testing.T) {
	o := sqlite.NewOutbox(openQueue(t))
	ctx := context.Background()

	ids := make([]string, 100)
	for i := range ids {
		ids[i] = string(rune('A'+i%26)) + string(rune('a'+i/26))
	}
	require.NoError(t, o.Enqueue(ctx, entity.NewSyncStatuses(ids, entity.StatusRead, true)))

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := o.SelectBatch(ctx, 7)
				if err != nil || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, s := range batch {
					seen[s.ArticleID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 100)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestOutbox_MarkFailedMakesRowsEligibleAgain(t *testing.T) {
	o := sqlite.NewOutbox(openQueue(t))
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, entity.NewSyncStatuses([]string{"a1", "a2"}, entity.StatusStarred, true)))

	batch, err := o.SelectBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	again, err := o.SelectBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "selected rows are not handed out twice")

	require.NoError(t, o.MarkFailed(ctx, batch))
	again, err = o.SelectBatch(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, again, 2)
	assert.Equal(t, 2, pending(t, o))
}

func TestOutbox_MarkSucceededRemovesRows(t *testing.T) {
	o := sqlite.NewOutbox(openQueue(t))
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, entity.NewSyncStatuses([]string{"a1", "a2"}, entity.StatusRead, true)))
	batch, err := o.SelectBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	require.NoError(t, o.MarkSucceeded(ctx, batch))
	assert.Equal(t, 1, pending(t, o))

	rest, err := o.SelectBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.NotEqual(t, batch[0].ArticleID, rest[0].ArticleID)
}

func TestOutbox_ChangeDuringPushSurvivesSuccess(t *testing.T) {
	o := sqlite.NewOutbox(openQueue(t))
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, []entity.SyncStatus{{ArticleID: "a1", Key: entity.StatusRead, Flag: true}}))
	inFlight, err := o.SelectBatch(ctx, 10)
	require.NoError(t, err)

	// The user flips the article back while the push is in flight.
	require.NoError(t, o.Enqueue(ctx, []entity.SyncStatus{{ArticleID: "a1", Key: entity.StatusRead, Flag: false}}))
	none, err := o.SelectBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, o.MarkSucceeded(ctx, inFlight))

	next, err := o.SelectBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []entity.SyncStatus{{ArticleID: "a1", Key: entity.StatusRead, Flag: false, Selected: true}}, next)
}

func TestOutbox_ResetAllSelected(t *testing.T) {
	o := sqlite.NewOutbox(openQueue(t))
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, entity.NewSyncStatuses([]string{"a1", "a2", "a3"}, entity.StatusRead, false)))
	_, err := o.SelectBatch(ctx, 3)
	require.NoError(t, err)

	require.NoError(t, o.ResetAllSelected(ctx))

	batch, err := o.SelectBatch(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, batch, 3)
}

func TestOutbox_PendingArticleIDs(t *testing.T) {
	o := sqlite.NewOutbox(openQueue(t))
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, []entity.SyncStatus{
		{ArticleID: "a1", Key: entity.StatusRead, Flag: true},
		{ArticleID: "a2", Key: entity.StatusStarred, Flag: true},
	}))

	read, err := o.PendingArticleIDs(ctx, entity.StatusRead)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, read)

	starred, err := o.PendingArticleIDs(ctx, entity.StatusStarred)
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, starred)
}

func TestOutbox_SelectBatch_QueryError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = mockDB.Close() }()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT article_id, key, flag FROM outbox").
		WithArgs(5).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	o := sqlite.NewOutbox(db.NewQueue(mockDB, nil))
	_, err = o.SelectBatch(context.Background(), 5)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}
