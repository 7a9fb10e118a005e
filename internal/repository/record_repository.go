package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/ledgersync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrRecordNotFound = errors.New("record not found")

type RecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Upsert writes rec keyed by (kind, remote_id) and reports what happened.
// The existing row is read under a row lock inside one transaction, so a bulk pass and a
// webhook refresh of the same key serialize instead of interleaving. A lost insert race
// falls through to the locked update path rather than surfacing as an error.
func (r *RecordRepository) Upsert(ctx context.Context, rec models.LedgerRecord) (models.UpsertOutcome, error) {
	outcome := models.OutcomeUnchanged
	now := time.Now().UTC()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, found, err := r.lockByKey(tx, rec.Kind, rec.RemoteID)
		if err != nil {
			return err
		}

		if !found {
			if rec.ID == "" {
				rec.ID = uuid.New().String()
			}
			rec.LastSyncedAt = now
			rec.CreatedAt = now
			rec.UpdatedAt = now

			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
			if result.Error != nil {
				return fmt.Errorf("failed to insert record: %w", result.Error)
			}
			if result.RowsAffected == 1 {
				outcome = models.OutcomeCreated
				return nil
			}

			// A concurrent writer inserted the same key first
			existing, found, err = r.lockByKey(tx, rec.Kind, rec.RemoteID)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("record %s/%s vanished after insert conflict", rec.Kind, rec.RemoteID)
			}
		}

		if !existing.Differs(rec) || !existing.SupersededBy(rec) {
			return nil
		}

		updates := map[string]interface{}{
			"remote_status":     rec.RemoteStatus,
			"local_status":      rec.LocalStatus,
			"fingerprint":       rec.Fingerprint,
			"payload":           rec.Payload,
			"entity_date":       rec.EntityDate,
			"remote_updated_at": rec.RemoteUpdatedAt,
			"parent_remote_id":  rec.ParentRemoteID,
			"last_synced_at":    now,
			"updated_at":        now,
		}
		if rec.ParentID != nil {
			updates["parent_id"] = rec.ParentID
		}
		if rec.LocalStatus != models.LocalStatusRemoved {
			updates["removed_at"] = nil
		}

		result := tx.Model(&models.LedgerRecord{}).
			Where("id = ?", existing.ID).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to update record: %w", result.Error)
		}
		outcome = models.OutcomeUpdated
		return nil
	})
	if err != nil {
		return models.OutcomeUnchanged, err
	}
	return outcome, nil
}

// lockByKey reads the record for (kind, remoteID) with a row lock where the dialect supports one
func (r *RecordRepository) lockByKey(tx *gorm.DB, kind models.EntityKind, remoteID string) (models.LedgerRecord, bool, error) {
	var existing models.LedgerRecord
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("kind = ? AND remote_id = ?", kind, remoteID).
		Limit(1).
		Find(&existing)
	if result.Error != nil {
		return models.LedgerRecord{}, false, fmt.Errorf("failed to read record: %w", result.Error)
	}
	return existing, result.RowsAffected > 0, nil
}

// MarkRemoved sets local_status to removed in a single conditional write.
// Returns false when the record does not exist or is already removed.
func (r *RecordRepository) MarkRemoved(ctx context.Context, kind models.EntityKind, remoteID string) (bool, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&models.LedgerRecord{}).
		Where("kind = ? AND remote_id = ? AND local_status <> ?", kind, remoteID, models.LocalStatusRemoved).
		Updates(map[string]interface{}{
			"local_status":   models.LocalStatusRemoved,
			"removed_at":     now,
			"last_synced_at": now,
			"updated_at":     now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark record removed: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListActiveIDs returns remote IDs of records of kind that are not removed.
// scope.Since filters on entity_date when set.
func (r *RecordRepository) ListActiveIDs(ctx context.Context, kind models.EntityKind, scope models.Scope) ([]string, error) {
	query := r.db.WithContext(ctx).Model(&models.LedgerRecord{}).
		Where("kind = ? AND local_status <> ?", kind, models.LocalStatusRemoved)
	if scope.Since != nil {
		query = query.Where("entity_date >= ?", *scope.Since)
	}

	var ids []string
	if err := query.Order("remote_id ASC").Pluck("remote_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list active records: %w", err)
	}
	return ids, nil
}

// LocalIDByRemoteID resolves the local surrogate ID for (kind, remoteID)
func (r *RecordRepository) LocalIDByRemoteID(ctx context.Context, kind models.EntityKind, remoteID string) (string, error) {
	var record models.LedgerRecord
	result := r.db.WithContext(ctx).
		Select("id").
		First(&record, "kind = ? AND remote_id = ?", kind, remoteID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", ErrRecordNotFound
		}
		return "", fmt.Errorf("failed to get record: %w", result.Error)
	}
	return record.ID, nil
}

// GetByRemoteID retrieves a full record by its key
func (r *RecordRepository) GetByRemoteID(ctx context.Context, kind models.EntityKind, remoteID string) (*models.LedgerRecord, error) {
	var record models.LedgerRecord
	result := r.db.WithContext(ctx).First(&record, "kind = ? AND remote_id = ?", kind, remoteID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", result.Error)
	}
	return &record, nil
}

// CountByStatus returns the number of records of kind per local status
func (r *RecordRepository) CountByStatus(ctx context.Context, kind models.EntityKind) (map[string]int64, error) {
	var rows []struct {
		LocalStatus string
		Count       int64
	}
	result := r.db.WithContext(ctx).Model(&models.LedgerRecord{}).
		Select("local_status, count(*) as count").
		Where("kind = ?", kind).
		Group("local_status").
		Scan(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to count records: %w", result.Error)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.LocalStatus] = row.Count
	}
	return counts, nil
}
