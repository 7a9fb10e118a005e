package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/repository"
)

// Reconciler applies remote entities to the local store through the store's atomic upsert
type Reconciler struct {
	store RecordStore
}

func NewReconciler(store RecordStore) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile upserts a batch of entities of one kind and returns the per-outcome counts.
// Store errors abort the batch; entities already written stay written.
func (r *Reconciler) Reconcile(ctx context.Context, kind models.EntityKind, batch []RemoteEntity) (models.SyncCounts, error) {
	var counts models.SyncCounts
	parents := make(map[string]*string)

	for _, entity := range batch {
		if entity.Kind == "" {
			entity.Kind = kind
		}
		if entity.Kind != kind {
			return counts, fmt.Errorf("entity %s is a %s, not a %s", entity.RemoteID, entity.Kind, kind)
		}

		outcome, err := r.apply(ctx, entity, parents)
		if err != nil {
			return counts, err
		}
		switch outcome {
		case models.OutcomeCreated:
			counts.Created++
		case models.OutcomeUpdated:
			counts.Updated++
		default:
			counts.Unchanged++
		}
	}

	return counts, nil
}

// ReconcileOne upserts a single entity (webhook refresh path)
func (r *Reconciler) ReconcileOne(ctx context.Context, entity RemoteEntity) (models.UpsertOutcome, error) {
	return r.apply(ctx, entity, make(map[string]*string))
}

func (r *Reconciler) apply(ctx context.Context, entity RemoteEntity, parents map[string]*string) (models.UpsertOutcome, error) {
	if entity.RemoteID == "" {
		return models.OutcomeUnchanged, fmt.Errorf("%s entity without remote id", entity.Kind)
	}
	desc, err := describe(entity.Kind)
	if err != nil {
		return models.OutcomeUnchanged, err
	}

	fp, err := fingerprint(entity.Payload)
	if err != nil {
		return models.OutcomeUnchanged, fmt.Errorf("failed to fingerprint %s %s: %w", entity.Kind, entity.RemoteID, err)
	}

	rec := models.LedgerRecord{
		Kind:            entity.Kind,
		RemoteID:        entity.RemoteID,
		ParentRemoteID:  entity.ParentRemoteID,
		RemoteStatus:    entity.Status,
		LocalStatus:     localStatus(entity.Status),
		Fingerprint:     fp,
		Payload:         models.JSONB(entity.Payload),
		EntityDate:      entity.EntityDate,
		RemoteUpdatedAt: entity.LastModified,
	}

	if desc.Parent != "" && entity.ParentRemoteID != nil && *entity.ParentRemoteID != "" {
		parentID, err := r.resolveParent(ctx, desc.Parent, *entity.ParentRemoteID, parents)
		if err != nil {
			return models.OutcomeUnchanged, err
		}
		if parentID == nil {
			zap.S().Warnf("Warning: %s %s references unknown %s %s, leaving link empty",
				entity.Kind, entity.RemoteID, desc.Parent, *entity.ParentRemoteID)
		}
		rec.ParentID = parentID
	}

	outcome, err := r.store.Upsert(ctx, rec)
	if err != nil {
		return models.OutcomeUnchanged, fmt.Errorf("failed to upsert %s %s: %w", entity.Kind, entity.RemoteID, err)
	}
	return outcome, nil
}

// resolveParent maps a parent's remote id to its local id, memoised per batch.
// A parent that is not mirrored yet resolves to nil.
func (r *Reconciler) resolveParent(ctx context.Context, kind models.EntityKind, remoteID string, memo map[string]*string) (*string, error) {
	key := string(kind) + "/" + remoteID
	if id, ok := memo[key]; ok {
		return id, nil
	}

	localID, err := r.store.LocalIDByRemoteID(ctx, kind, remoteID)
	switch {
	case errors.Is(err, repository.ErrRecordNotFound):
		memo[key] = nil
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to resolve parent %s %s: %w", kind, remoteID, err)
	}

	memo[key] = &localID
	return &localID, nil
}

// fingerprint hashes the canonical JSON form of a payload (map keys are sorted by encoding/json)
func fingerprint(payload map[string]interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
