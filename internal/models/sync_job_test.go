package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSyncJobStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   SyncJobStatus
		expected bool
	}{
		{SyncStatusPending, false},
		{SyncStatusRunning, false},
		{SyncStatusSucceeded, true},
		{SyncStatusFailed, true},
		{SyncStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.IsTerminal())
		})
	}
}

func TestSyncJob_Kinds(t *testing.T) {
	t.Run("empty means all kinds in dependency order", func(t *testing.T) {
		job := SyncJob{}
		assert.Equal(t, AllKinds, job.Kinds())
	})

	t.Run("subset is reordered by dependency", func(t *testing.T) {
		job := SyncJob{EntityKinds: "invoice, bank_account"}
		assert.Equal(t, []EntityKind{KindBankAccount, KindInvoice}, job.Kinds())
	})

	t.Run("unknown kinds are dropped", func(t *testing.T) {
		job := SyncJob{EntityKinds: "contact,account"}
		assert.Equal(t, []EntityKind{KindAccount}, job.Kinds())
	})

	t.Run("join round-trips", func(t *testing.T) {
		kinds := []EntityKind{KindAccount, KindInvoice}
		job := SyncJob{EntityKinds: JoinKinds(kinds)}
		assert.Equal(t, kinds, job.Kinds())
	})
}

func TestSyncJob_ScopeAndCounts(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	job := SyncJob{
		ScopeSince:     &since,
		CreatedCount:   3,
		UpdatedCount:   2,
		UnchangedCount: 7,
		RemovedCount:   1,
	}

	assert.Equal(t, &since, job.Scope().Since)
	assert.Nil(t, job.Scope().ModifiedSince)
	assert.Equal(t, SyncCounts{Created: 3, Updated: 2, Unchanged: 7, Removed: 1}, job.Counts())
	assert.Equal(t, SyncCounts{Created: 4, Updated: 2, Unchanged: 7, Removed: 3},
		job.Counts().Add(SyncCounts{Created: 1, Removed: 2}))
}

func TestSyncJobKind_Valid(t *testing.T) {
	assert.True(t, SyncKindFull.Valid())
	assert.True(t, SyncKindIncremental.Valid())
	assert.True(t, SyncKindTargeted.Valid())
	assert.False(t, SyncJobKind("partial").Valid())
}
