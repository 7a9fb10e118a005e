package service

import (
	"context"
	"time"

	"github.com/vipul43/ledgersync/internal/models"
)

// RemoteEntity is one record as returned by the remote ledger
type RemoteEntity struct {
	Kind           models.EntityKind
	RemoteID       string
	Status         string     // remote lifecycle value, e.g. AUTHORISED, VOIDED
	LastModified   *time.Time // remote-supplied, may be absent
	EntityDate     *time.Time // transaction/invoice date for dated kinds
	ParentRemoteID *string    // e.g. a bank transaction's bank account
	Payload        map[string]interface{}
}

// ListQuery requests one page of a remote listing
type ListQuery struct {
	Kind          models.EntityKind
	Page          int // 1-based
	PageSize      int
	ModifiedSince *time.Time
	Since         *time.Time // entity date lower bound, dated kinds only
}

// Page is one page of a remote listing
type Page struct {
	Items []RemoteEntity
}

// LedgerClient interface for the rate-limited remote client
type LedgerClient interface {
	List(ctx context.Context, query ListQuery) (*Page, error)
	Get(ctx context.Context, kind models.EntityKind, remoteID string) (*RemoteEntity, error)
}

// RecordStore interface for the local mirror
type RecordStore interface {
	Upsert(ctx context.Context, rec models.LedgerRecord) (models.UpsertOutcome, error)
	MarkRemoved(ctx context.Context, kind models.EntityKind, remoteID string) (bool, error)
	ListActiveIDs(ctx context.Context, kind models.EntityKind, scope models.Scope) ([]string, error)
	LocalIDByRemoteID(ctx context.Context, kind models.EntityKind, remoteID string) (string, error)
}

// JobStore interface for durable sync job state
type JobStore interface {
	Create(ctx context.Context, job models.SyncJob) error
	GetByID(ctx context.Context, jobID string) (*models.SyncJob, error)
	MarkRunning(ctx context.Context, jobID string) error
	UpdateCounts(ctx context.Context, jobID string, counts models.SyncCounts) error
	Finish(ctx context.Context, jobID string, status models.SyncJobStatus, counts models.SyncCounts, errMsg *string) error
	RequestCancel(ctx context.Context, jobID string) error
	IsCancelRequested(ctx context.Context, jobID string) (bool, error)
	LastSucceeded(ctx context.Context, kinds ...models.SyncJobKind) (*models.SyncJob, error)
}
