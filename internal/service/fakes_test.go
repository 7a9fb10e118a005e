package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/repository"
)

// mockLedgerClient serves pages from memory; listFunc/getFunc override when set
type mockLedgerClient struct {
	mu       sync.Mutex
	entities map[models.EntityKind][]RemoteEntity
	listFunc func(ctx context.Context, query ListQuery) (*Page, error)
	getFunc  func(ctx context.Context, kind models.EntityKind, remoteID string) (*RemoteEntity, error)
	queries  []ListQuery
	gets     []string
}

func newMockLedgerClient() *mockLedgerClient {
	return &mockLedgerClient{entities: make(map[models.EntityKind][]RemoteEntity)}
}

func (m *mockLedgerClient) set(kind models.EntityKind, entities ...RemoteEntity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[kind] = entities
}

func (m *mockLedgerClient) List(ctx context.Context, query ListQuery) (*Page, error) {
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()
	if m.listFunc != nil {
		return m.listFunc(ctx, query)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.entities[query.Kind]
	start := (query.Page - 1) * query.PageSize
	if start >= len(all) {
		return &Page{}, nil
	}
	end := min(start+query.PageSize, len(all))
	return &Page{Items: append([]RemoteEntity(nil), all[start:end]...)}, nil
}

func (m *mockLedgerClient) Get(ctx context.Context, kind models.EntityKind, remoteID string) (*RemoteEntity, error) {
	m.mu.Lock()
	m.gets = append(m.gets, string(kind)+"/"+remoteID)
	m.mu.Unlock()
	if m.getFunc != nil {
		return m.getFunc(ctx, kind, remoteID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entities[kind] {
		if e.RemoteID == remoteID {
			e := e
			return &e, nil
		}
	}
	return nil, ErrEntityNotFound
}

func (m *mockLedgerClient) getCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.gets...)
}

// memRecordStore mirrors RecordRepository's semantics in memory
type memRecordStore struct {
	mu         sync.Mutex
	records    map[string]models.LedgerRecord
	upsertFunc func(rec models.LedgerRecord) error // injected failure
}

func newMemRecordStore() *memRecordStore {
	return &memRecordStore{records: make(map[string]models.LedgerRecord)}
}

func recordKey(kind models.EntityKind, remoteID string) string {
	return string(kind) + "/" + remoteID
}

func (s *memRecordStore) Upsert(ctx context.Context, rec models.LedgerRecord) (models.UpsertOutcome, error) {
	if s.upsertFunc != nil {
		if err := s.upsertFunc(rec); err != nil {
			return models.OutcomeUnchanged, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(rec.Kind, rec.RemoteID)
	existing, ok := s.records[key]
	now := time.Now().UTC()
	if !ok {
		rec.ID = uuid.New().String()
		rec.LastSyncedAt = now
		s.records[key] = rec
		return models.OutcomeCreated, nil
	}
	if !existing.Differs(rec) || !existing.SupersededBy(rec) {
		return models.OutcomeUnchanged, nil
	}
	rec.ID = existing.ID
	if rec.ParentID == nil {
		rec.ParentID = existing.ParentID
	}
	rec.LastSyncedAt = now
	s.records[key] = rec
	return models.OutcomeUpdated, nil
}

func (s *memRecordStore) MarkRemoved(ctx context.Context, kind models.EntityKind, remoteID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(kind, remoteID)
	rec, ok := s.records[key]
	if !ok || rec.LocalStatus == models.LocalStatusRemoved {
		return false, nil
	}
	rec.LocalStatus = models.LocalStatusRemoved
	s.records[key] = rec
	return true, nil
}

func (s *memRecordStore) ListActiveIDs(ctx context.Context, kind models.EntityKind, scope models.Scope) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, rec := range s.records {
		if rec.Kind != kind || rec.LocalStatus == models.LocalStatusRemoved {
			continue
		}
		if scope.Since != nil && (rec.EntityDate == nil || rec.EntityDate.Before(*scope.Since)) {
			continue
		}
		ids = append(ids, rec.RemoteID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memRecordStore) LocalIDByRemoteID(ctx context.Context, kind models.EntityKind, remoteID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey(kind, remoteID)]
	if !ok {
		return "", repository.ErrRecordNotFound
	}
	return rec.ID, nil
}

func (s *memRecordStore) get(kind models.EntityKind, remoteID string) (models.LedgerRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey(kind, remoteID)]
	return rec, ok
}

func (s *memRecordStore) snapshot() map[string]models.LedgerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.LedgerRecord, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// memJobStore mirrors SyncJobRepository's conditional transitions in memory
type memJobStore struct {
	mu         sync.Mutex
	jobs       map[string]*models.SyncJob
	countCalls int
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*models.SyncJob)}
}

func (s *memJobStore) Create(ctx context.Context, job models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt
	s.jobs[job.ID] = &job
	return nil
}

func (s *memJobStore) GetByID(ctx context.Context, jobID string) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *memJobStore) MarkRunning(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != models.SyncStatusPending {
		return repository.ErrJobNotClaimable
	}
	now := time.Now().UTC()
	job.Status = models.SyncStatusRunning
	job.StartedAt = &now
	job.Attempts++
	return nil
}

func (s *memJobStore) UpdateCounts(ctx context.Context, jobID string, counts models.SyncCounts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countCalls++
	if job, ok := s.jobs[jobID]; ok && job.Status == models.SyncStatusRunning {
		job.CreatedCount, job.UpdatedCount = counts.Created, counts.Updated
		job.UnchangedCount, job.RemovedCount = counts.Unchanged, counts.Removed
	}
	return nil
}

func (s *memJobStore) Finish(ctx context.Context, jobID string, status models.SyncJobStatus, counts models.SyncCounts, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		return repository.ErrJobNotClaimable
	}
	now := time.Now().UTC()
	job.Status = status
	job.CreatedCount, job.UpdatedCount = counts.Created, counts.Updated
	job.UnchangedCount, job.RemovedCount = counts.Unchanged, counts.Removed
	job.ErrorMessage = errMsg
	job.CompletedAt = &now
	return nil
}

func (s *memJobStore) RequestCancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != models.SyncStatusRunning {
		return repository.ErrJobNotClaimable
	}
	job.CancelRequested = true
	return nil
}

func (s *memJobStore) IsCancelRequested(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, repository.ErrJobNotFound
	}
	return job.CancelRequested, nil
}

func (s *memJobStore) LastSucceeded(ctx context.Context, kinds ...models.SyncJobKind) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *models.SyncJob
	for _, job := range s.jobs {
		if job.Status != models.SyncStatusSucceeded || job.StartedAt == nil {
			continue
		}
		match := false
		for _, k := range kinds {
			if job.Kind == k {
				match = true
			}
		}
		if match && (last == nil || job.StartedAt.After(*last.StartedAt)) {
			last = job
		}
	}
	if last == nil {
		return nil, repository.ErrJobNotFound
	}
	cp := *last
	return &cp, nil
}

func invoice(id, status string, date time.Time) RemoteEntity {
	return RemoteEntity{
		Kind:       models.KindInvoice,
		RemoteID:   id,
		Status:     status,
		EntityDate: &date,
		Payload:    map[string]interface{}{"InvoiceID": id, "Status": status, "Total": "100.00"},
	}
}

func bankTx(id, account string, date time.Time) RemoteEntity {
	return RemoteEntity{
		Kind:           models.KindBankTransaction,
		RemoteID:       id,
		Status:         "AUTHORISED",
		EntityDate:     &date,
		ParentRemoteID: &account,
		Payload:        map[string]interface{}{"BankTransactionID": id, "Total": "12.50"},
	}
}

func simple(kind models.EntityKind, id string) RemoteEntity {
	return RemoteEntity{
		Kind:     kind,
		RemoteID: id,
		Status:   "ACTIVE",
		Payload:  map[string]interface{}{"ID": id},
	}
}
