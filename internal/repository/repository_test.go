package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vipul43/ledgersync/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// a single connection keeps every statement on the same in-memory database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.LedgerRecord{}, &models.SyncJob{}, &models.Connection{}))
	return db
}

func ptr[T any](v T) *T { return &v }

func record(kind models.EntityKind, remoteID, status, fingerprint string) models.LedgerRecord {
	return models.LedgerRecord{
		Kind:         kind,
		RemoteID:     remoteID,
		RemoteStatus: status,
		LocalStatus:  status,
		Fingerprint:  fingerprint,
		Payload:      models.JSONB{"id": remoteID},
	}
}

func TestRecordRepository_UpsertCreatesThenLeavesUnchanged(t *testing.T) {
	repo := NewRecordRepository(newTestDB(t))
	ctx := context.Background()

	outcome, err := repo.Upsert(ctx, record(models.KindInvoice, "inv-1", "authorised", "f1"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreated, outcome)

	before, err := repo.GetByRemoteID(ctx, models.KindInvoice, "inv-1")
	require.NoError(t, err)

	outcome, err = repo.Upsert(ctx, record(models.KindInvoice, "inv-1", "authorised", "f1"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeUnchanged, outcome)

	after, err := repo.GetByRemoteID(ctx, models.KindInvoice, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.True(t, before.LastSyncedAt.Equal(after.LastSyncedAt), "unchanged upsert must not touch the row")
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
}

func TestRecordRepository_ConcurrentUpsertSameKey(t *testing.T) {
	db := newTestDB(t)
	repo := NewRecordRepository(db)
	ctx := context.Background()

	const writers = 8
	outcomes := make(chan models.UpsertOutcome, writers)
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := repo.Upsert(ctx, record(models.KindInvoice, "inv-1", "authorised", "f1"))
			assert.NoError(t, err)
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	created := 0
	for outcome := range outcomes {
		if outcome == models.OutcomeCreated {
			created++
		} else {
			assert.Equal(t, models.OutcomeUnchanged, outcome)
		}
	}
	assert.Equal(t, 1, created)

	var rows int64
	require.NoError(t, db.Model(&models.LedgerRecord{}).
		Where("kind = ? AND remote_id = ?", models.KindInvoice, "inv-1").
		Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestRecordRepository_UpsertUpdatesOnChange(t *testing.T) {
	repo := NewRecordRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Upsert(ctx, record(models.KindInvoice, "inv-1", "authorised", "f1"))
	require.NoError(t, err)

	outcome, err := repo.Upsert(ctx, record(models.KindInvoice, "inv-1", "paid", "f2"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeUpdated, outcome)

	got, err := repo.GetByRemoteID(ctx, models.KindInvoice, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "paid", got.LocalStatus)
	assert.Equal(t, "f2", got.Fingerprint)
}

func TestRecordRepository_UpsertSkipsStaleEntity(t *testing.T) {
	repo := NewRecordRepository(newTestDB(t))
	ctx := context.Background()

	newer := time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	current := record(models.KindBankTransaction, "tx-1", "authorised", "f-new")
	current.RemoteUpdatedAt = &newer
	_, err := repo.Upsert(ctx, current)
	require.NoError(t, err)

	stale := record(models.KindBankTransaction, "tx-1", "authorised", "f-old")
	stale.RemoteUpdatedAt = &older
	outcome, err := repo.Upsert(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeUnchanged, outcome)

	got, err := repo.GetByRemoteID(ctx, models.KindBankTransaction, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "f-new", got.Fingerprint)
}

func TestRecordRepository_MarkRemovedAndRestore(t *testing.T) {
	repo := NewRecordRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Upsert(ctx, record(models.KindBankTransaction, "tx-1", "authorised", "f1"))
	require.NoError(t, err)

	removed, err := repo.MarkRemoved(ctx, models.KindBankTransaction, "tx-1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.MarkRemoved(ctx, models.KindBankTransaction, "tx-1")
	require.NoError(t, err)
	assert.False(t, removed, "second removal is a no-op")

	removed, err = repo.MarkRemoved(ctx, models.KindBankTransaction, "missing")
	require.NoError(t, err)
	assert.False(t, removed)

	got, err := repo.GetByRemoteID(ctx, models.KindBankTransaction, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.LocalStatusRemoved, got.LocalStatus)
	assert.NotNil(t, got.RemovedAt)

	outcome, err := repo.Upsert(ctx, record(models.KindBankTransaction, "tx-1", "authorised", "f1"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeUpdated, outcome)

	got, err = repo.GetByRemoteID(ctx, models.KindBankTransaction, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "authorised", got.LocalStatus)
	assert.Nil(t, got.RemovedAt)
}

func TestRecordRepository_ListActiveIDs(t *testing.T) {
	repo := NewRecordRepository(newTestDB(t))
	ctx := context.Background()

	jan := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	jun := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	for _, r := range []struct {
		id   string
		date time.Time
	}{{"inv-old", jan}, {"inv-new", jun}, {"inv-gone", jun}} {
		rec := record(models.KindInvoice, r.id, "authorised", "f")
		rec.EntityDate = ptr(r.date)
		_, err := repo.Upsert(ctx, rec)
		require.NoError(t, err)
	}
	_, err := repo.Upsert(ctx, record(models.KindAccount, "acc-1", "active", "f"))
	require.NoError(t, err)
	_, err = repo.MarkRemoved(ctx, models.KindInvoice, "inv-gone")
	require.NoError(t, err)

	ids, err := repo.ListActiveIDs(ctx, models.KindInvoice, models.Scope{})
	require.NoError(t, err)
	assert.Equal(t, []string{"inv-new", "inv-old"}, ids)

	since := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	ids, err = repo.ListActiveIDs(ctx, models.KindInvoice, models.Scope{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, []string{"inv-new"}, ids)

	counts, err := repo.CountByStatus(ctx, models.KindInvoice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["authorised"])
	assert.Equal(t, int64(1), counts[models.LocalStatusRemoved])
}

func TestRecordRepository_LocalIDByRemoteID(t *testing.T) {
	repo := NewRecordRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.LocalIDByRemoteID(ctx, models.KindBankAccount, "ba-1")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	_, err = repo.Upsert(ctx, record(models.KindBankAccount, "ba-1", "active", "f"))
	require.NoError(t, err)

	id, err := repo.LocalIDByRemoteID(ctx, models.KindBankAccount, "ba-1")
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)
}

func newPendingJob(kind models.SyncJobKind) models.SyncJob {
	return models.SyncJob{
		ID:     uuid.New().String(),
		Kind:   kind,
		Status: models.SyncStatusPending,
	}
}

func TestSyncJobRepository_Lifecycle(t *testing.T) {
	repo := NewSyncJobRepository(newTestDB(t))
	ctx := context.Background()

	job := newPendingJob(models.SyncKindFull)
	require.NoError(t, repo.Create(ctx, job))

	active, err := repo.HasActiveJob(ctx)
	require.NoError(t, err)
	assert.True(t, active)

	pending, err := repo.GetPendingJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, repo.MarkRunning(ctx, job.ID))
	assert.ErrorIs(t, repo.MarkRunning(ctx, job.ID), ErrJobNotClaimable, "only one claim wins")

	require.NoError(t, repo.UpdateCounts(ctx, job.ID, models.SyncCounts{Created: 2}))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusRunning, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, 2, got.CreatedCount)
	assert.NotNil(t, got.StartedAt)

	counts := models.SyncCounts{Created: 3, Updated: 1, Unchanged: 5, Removed: 2}
	require.NoError(t, repo.Finish(ctx, job.ID, models.SyncStatusSucceeded, counts, nil))

	msg := "late failure"
	assert.ErrorIs(t, repo.Finish(ctx, job.ID, models.SyncStatusFailed, counts, &msg), ErrJobNotClaimable,
		"terminal transition happens exactly once")

	got, err = repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSucceeded, got.Status)
	assert.Equal(t, counts, got.Counts())
	assert.Nil(t, got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)

	active, err = repo.HasActiveJob(ctx)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestSyncJobRepository_FinishRejectsNonTerminal(t *testing.T) {
	repo := NewSyncJobRepository(newTestDB(t))
	ctx := context.Background()

	job := newPendingJob(models.SyncKindFull)
	require.NoError(t, repo.Create(ctx, job))
	assert.Error(t, repo.Finish(ctx, job.ID, models.SyncStatusRunning, models.SyncCounts{}, nil))
}

func TestSyncJobRepository_GetByIDNotFound(t *testing.T) {
	repo := NewSyncJobRepository(newTestDB(t))
	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSyncJobRepository_Cancellation(t *testing.T) {
	repo := NewSyncJobRepository(newTestDB(t))
	ctx := context.Background()

	job := newPendingJob(models.SyncKindTargeted)
	require.NoError(t, repo.Create(ctx, job))

	assert.ErrorIs(t, repo.RequestCancel(ctx, job.ID), ErrJobNotClaimable, "pending jobs are not flagged")

	require.NoError(t, repo.MarkRunning(ctx, job.ID))
	requested, err := repo.IsCancelRequested(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, requested)

	require.NoError(t, repo.RequestCancel(ctx, job.ID))
	requested, err = repo.IsCancelRequested(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, requested)

	_, err = repo.IsCancelRequested(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSyncJobRepository_LastSucceeded(t *testing.T) {
	repo := NewSyncJobRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.LastSucceeded(ctx, models.SyncKindFull, models.SyncKindIncremental)
	assert.ErrorIs(t, err, ErrJobNotFound)

	first := newPendingJob(models.SyncKindFull)
	second := newPendingJob(models.SyncKindIncremental)
	targeted := newPendingJob(models.SyncKindTargeted)
	for _, j := range []models.SyncJob{first, second, targeted} {
		require.NoError(t, repo.Create(ctx, j))
		require.NoError(t, repo.MarkRunning(ctx, j.ID))
		time.Sleep(2 * time.Millisecond)
		require.NoError(t, repo.Finish(ctx, j.ID, models.SyncStatusSucceeded, models.SyncCounts{}, nil))
	}

	last, err := repo.LastSucceeded(ctx, models.SyncKindFull, models.SyncKindIncremental)
	require.NoError(t, err)
	assert.Equal(t, second.ID, last.ID)
}

func TestSyncJobRepository_GetStaleRunningJobs(t *testing.T) {
	repo := NewSyncJobRepository(newTestDB(t))
	ctx := context.Background()

	job := newPendingJob(models.SyncKindFull)
	require.NoError(t, repo.Create(ctx, job))
	require.NoError(t, repo.MarkRunning(ctx, job.ID))

	stale, err := repo.GetStaleRunningJobs(ctx, time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	stale, err = repo.GetStaleRunningJobs(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, job.ID, stale[0].ID)
}

func TestConnectionRepository_SeedAndRotate(t *testing.T) {
	repo := NewConnectionRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.GetByTenantID(ctx, "tenant-1")
	assert.ErrorIs(t, err, ErrConnectionNotFound)

	require.NoError(t, repo.Seed(ctx, "tenant-1", "refresh-1"))
	require.NoError(t, repo.Seed(ctx, "tenant-1", "ignored"), "seeding twice keeps the first token")

	conn, err := repo.GetByTenantID(ctx, "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, conn.RefreshToken)
	assert.Equal(t, "refresh-1", *conn.RefreshToken)
	assert.Nil(t, conn.AccessToken)

	expiry := time.Now().UTC().Add(30 * time.Minute).Truncate(time.Second)
	require.NoError(t, repo.UpdateTokens(ctx, "tenant-1", "access-2", "refresh-2", expiry))

	conn, err = repo.GetByTenantID(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", *conn.AccessToken)
	assert.Equal(t, "refresh-2", *conn.RefreshToken)
	assert.True(t, expiry.Equal(*conn.AccessTokenExpiresAt))

	assert.ErrorIs(t, repo.UpdateTokens(ctx, "other", "a", "r", expiry), ErrConnectionNotFound)
}
