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

var ErrConnectionNotFound = errors.New("connection not found")

type ConnectionRepository struct {
	db *gorm.DB
}

func NewConnectionRepository(db *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// GetByTenantID retrieves the connection for a tenant
func (r *ConnectionRepository) GetByTenantID(ctx context.Context, tenantID string) (*models.Connection, error) {
	var conn models.Connection
	result := r.db.WithContext(ctx).First(&conn, "tenant_id = ?", tenantID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("failed to get connection: %w", result.Error)
	}
	return &conn, nil
}

// Seed creates the connection for a tenant if none exists yet
func (r *ConnectionRepository) Seed(ctx context.Context, tenantID string, refreshToken string) error {
	now := time.Now().UTC()
	conn := models.Connection{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		RefreshToken: &refreshToken,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tenant_id"}}, DoNothing: true}).
		Create(&conn)
	if result.Error != nil {
		return fmt.Errorf("failed to seed connection: %w", result.Error)
	}
	return nil
}

// UpdateTokens updates access token, refresh token, and their expiry times
func (r *ConnectionRepository) UpdateTokens(ctx context.Context, tenantID string, accessToken string, refreshToken string, accessTokenExpiresAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Connection{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]interface{}{
			"access_token":            accessToken,
			"refresh_token":           refreshToken,
			"access_token_expires_at": accessTokenExpiresAt,
			"updated_at":              time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConnectionNotFound
	}
	return nil
}
