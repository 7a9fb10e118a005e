package models

import "time"

// Connection holds the OAuth tokens for one remote ledger tenant.
// Refresh tokens rotate on use, so the latest pair must always be persisted.
type Connection struct {
	ID                   string     `gorm:"column:id;primaryKey"`
	TenantID             string     `gorm:"column:tenant_id;uniqueIndex"`
	AccessToken          *string    `gorm:"column:access_token"`
	RefreshToken         *string    `gorm:"column:refresh_token"`
	AccessTokenExpiresAt *time.Time `gorm:"column:access_token_expires_at"`
	CreatedAt            time.Time  `gorm:"column:created_at"`
	UpdatedAt            time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Connection) TableName() string {
	return "ledger_connection"
}
