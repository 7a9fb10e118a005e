package models

import (
	"strings"
	"time"
)

type SyncJobKind string

const (
	SyncKindFull        SyncJobKind = "full"        // every kind, sweep included
	SyncKindIncremental SyncJobKind = "incremental" // modified since last successful sync, no sweep
	SyncKindTargeted    SyncJobKind = "targeted"    // named kinds only, sweep included
)

// Valid reports whether k is a known sync job kind.
func (k SyncJobKind) Valid() bool {
	switch k {
	case SyncKindFull, SyncKindIncremental, SyncKindTargeted:
		return true
	}
	return false
}

type SyncJobStatus string

const (
	SyncStatusPending   SyncJobStatus = "pending"   // Queued, waiting for a worker
	SyncStatusRunning   SyncJobStatus = "running"   // Claimed by a worker
	SyncStatusSucceeded SyncJobStatus = "succeeded" // Finished without error
	SyncStatusFailed    SyncJobStatus = "failed"    // Aborted; partial progress retained
	SyncStatusCancelled SyncJobStatus = "cancelled" // Stopped on request; partial progress retained
)

// IsTerminal reports whether s is a final status. Terminal jobs are immutable.
func (s SyncJobStatus) IsTerminal() bool {
	return s == SyncStatusSucceeded || s == SyncStatusFailed || s == SyncStatusCancelled
}

// SyncCounts aggregates reconciliation results for a job.
type SyncCounts struct {
	Created   int
	Updated   int
	Unchanged int
	Removed   int
}

// Add returns the element-wise sum of c and o.
func (c SyncCounts) Add(o SyncCounts) SyncCounts {
	return SyncCounts{
		Created:   c.Created + o.Created,
		Updated:   c.Updated + o.Updated,
		Unchanged: c.Unchanged + o.Unchanged,
		Removed:   c.Removed + o.Removed,
	}
}

// Scope bounds the remote and local work of a sync.
// Since applies to dated kinds only (records dated on/after Since).
// ModifiedSince narrows remote listings to entities changed after it.
type Scope struct {
	Since         *time.Time
	ModifiedSince *time.Time
}

// SyncJob is the durable record of one orchestrator execution.
type SyncJob struct {
	ID              string        `gorm:"column:id;primaryKey"`
	Kind            SyncJobKind   `gorm:"column:kind"`
	Status          SyncJobStatus `gorm:"column:status;index"`
	EntityKinds     string        `gorm:"column:entity_kinds"` // comma separated; empty means all
	ScopeSince      *time.Time    `gorm:"column:scope_since"`
	ModifiedSince   *time.Time    `gorm:"column:modified_since"`
	RunSweep        bool          `gorm:"column:run_sweep"`
	CreatedCount    int           `gorm:"column:created_count"`
	UpdatedCount    int           `gorm:"column:updated_count"`
	UnchangedCount  int           `gorm:"column:unchanged_count"`
	RemovedCount    int           `gorm:"column:removed_count"`
	ErrorMessage    *string       `gorm:"column:error_message"`
	CancelRequested bool          `gorm:"column:cancel_requested"`
	Attempts        int           `gorm:"column:attempts"`
	CreatedAt       time.Time     `gorm:"column:created_at"`
	UpdatedAt       time.Time     `gorm:"column:updated_at"`
	StartedAt       *time.Time    `gorm:"column:started_at"`
	CompletedAt     *time.Time    `gorm:"column:completed_at"`
}

// TableName specifies the table name for GORM
func (SyncJob) TableName() string {
	return "sync_job"
}

// Kinds returns the entity kinds this job covers, in dependency order.
func (j SyncJob) Kinds() []EntityKind {
	if strings.TrimSpace(j.EntityKinds) == "" {
		return append([]EntityKind(nil), AllKinds...)
	}
	wanted := make(map[EntityKind]bool)
	for _, raw := range strings.Split(j.EntityKinds, ",") {
		wanted[EntityKind(strings.TrimSpace(raw))] = true
	}
	kinds := make([]EntityKind, 0, len(wanted))
	for _, k := range AllKinds {
		if wanted[k] {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// JoinKinds encodes kinds for the entity_kinds column.
func JoinKinds(kinds []EntityKind) string {
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, string(k))
	}
	return strings.Join(parts, ",")
}

// Scope returns the job's scope.
func (j SyncJob) Scope() Scope {
	return Scope{Since: j.ScopeSince, ModifiedSince: j.ModifiedSince}
}

// Counts returns the job's counters.
func (j SyncJob) Counts() SyncCounts {
	return SyncCounts{
		Created:   j.CreatedCount,
		Updated:   j.UpdatedCount,
		Unchanged: j.UnchangedCount,
		Removed:   j.RemovedCount,
	}
}
