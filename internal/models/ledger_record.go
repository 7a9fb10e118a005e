package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// EntityKind identifies a category of mirrored remote data.
type EntityKind string

const (
	KindAccount         EntityKind = "account"          // chart-of-accounts entry
	KindBankAccount     EntityKind = "bank_account"     // bank account
	KindBankTransaction EntityKind = "bank_transaction" // spend/receive money against a bank account
	KindInvoice         EntityKind = "invoice"          // sales invoice (ACCREC) or bill (ACCPAY)
)

// AllKinds lists every mirrored kind in dependency order.
var AllKinds = []EntityKind{KindAccount, KindBankAccount, KindBankTransaction, KindInvoice}

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Local record status constants.
// Remote statuses are mirrored lower-cased; LocalStatusRemoved is local-only and terminal
// for as long as the remote system keeps omitting the record.
const (
	LocalStatusActive   = "active"
	LocalStatusArchived = "archived"
	LocalStatusVoided   = "voided"
	LocalStatusDeleted  = "deleted"
	LocalStatusRemoved  = "removed"
)

// UpsertOutcome is the result of reconciling one remote entity against the local store.
type UpsertOutcome int

const (
	OutcomeUnchanged UpsertOutcome = iota
	OutcomeCreated
	OutcomeUpdated
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// JSONB type for GORM to handle PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Value implements driver.Valuer for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// LedgerRecord is the local mirror of one remote entity.
// (Kind, RemoteID) is unique; ParentID links to the local surrogate ID of the parent record
// (a bank transaction's bank account).
type LedgerRecord struct {
	ID              string     `gorm:"column:id;primaryKey"`
	Kind            EntityKind `gorm:"column:kind;uniqueIndex:idx_ledger_record_kind_remote;index:idx_ledger_record_scope,priority:1"`
	RemoteID        string     `gorm:"column:remote_id;uniqueIndex:idx_ledger_record_kind_remote"`
	ParentID        *string    `gorm:"column:parent_id"`
	ParentRemoteID  *string    `gorm:"column:parent_remote_id"`
	RemoteStatus    string     `gorm:"column:remote_status"`
	LocalStatus     string     `gorm:"column:local_status;index:idx_ledger_record_scope,priority:2"`
	Fingerprint     string     `gorm:"column:fingerprint"`
	Payload         JSONB      `gorm:"column:payload;type:jsonb"`
	EntityDate      *time.Time `gorm:"column:entity_date;index:idx_ledger_record_scope,priority:3"`
	RemoteUpdatedAt *time.Time `gorm:"column:remote_updated_at"`
	LastSyncedAt    time.Time  `gorm:"column:last_synced_at"`
	RemovedAt       *time.Time `gorm:"column:removed_at"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (LedgerRecord) TableName() string {
	return "ledger_record"
}

// Differs reports whether incoming carries a change worth writing over r.
func (r LedgerRecord) Differs(incoming LedgerRecord) bool {
	if r.LocalStatus != incoming.LocalStatus || r.Fingerprint != incoming.Fingerprint {
		return true
	}
	if incoming.ParentID != nil && (r.ParentID == nil || *r.ParentID != *incoming.ParentID) {
		return true
	}
	return false
}

// SupersededBy reports whether incoming is at least as new as r according to the
// remote-supplied modification timestamps. Missing timestamps never block a write.
func (r LedgerRecord) SupersededBy(incoming LedgerRecord) bool {
	if r.RemoteUpdatedAt == nil || incoming.RemoteUpdatedAt == nil {
		return true
	}
	return !incoming.RemoteUpdatedAt.Before(*r.RemoteUpdatedAt)
}
