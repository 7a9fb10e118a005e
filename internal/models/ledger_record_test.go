package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityKind_Valid(t *testing.T) {
	for _, k := range AllKinds {
		assert.True(t, k.Valid(), string(k))
	}
	assert.False(t, EntityKind("contact").Valid())
}

func TestJSONB_ValueAndScan(t *testing.T) {
	payload := JSONB{"total": "19.99", "isReconciled": true}

	raw, err := payload.Value()
	require.NoError(t, err)

	var fromBytes JSONB
	require.NoError(t, fromBytes.Scan(raw))
	assert.Equal(t, "19.99", fromBytes["total"])
	assert.Equal(t, true, fromBytes["isReconciled"])

	var fromString JSONB
	require.NoError(t, fromString.Scan(`{"total":"5.00"}`))
	assert.Equal(t, "5.00", fromString["total"])

	var fromNil JSONB
	require.NoError(t, fromNil.Scan(nil))
	assert.Nil(t, fromNil)

	var bad JSONB
	assert.Error(t, bad.Scan(42))

	nilValue, err := JSONB(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, nilValue)
}

func TestLedgerRecord_Differs(t *testing.T) {
	parent := "local-parent"
	otherParent := "other-parent"
	base := LedgerRecord{LocalStatus: "authorised", Fingerprint: "abc", ParentID: &parent}

	tests := []struct {
		name     string
		incoming LedgerRecord
		expected bool
	}{
		{"identical", LedgerRecord{LocalStatus: "authorised", Fingerprint: "abc", ParentID: &parent}, false},
		{"no parent resolved keeps existing link", LedgerRecord{LocalStatus: "authorised", Fingerprint: "abc"}, false},
		{"status change", LedgerRecord{LocalStatus: "voided", Fingerprint: "abc"}, true},
		{"payload change", LedgerRecord{LocalStatus: "authorised", Fingerprint: "def"}, true},
		{"parent change", LedgerRecord{LocalStatus: "authorised", Fingerprint: "abc", ParentID: &otherParent}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, base.Differs(tt.incoming))
		})
	}
}

func TestLedgerRecord_SupersededBy(t *testing.T) {
	older := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	assert.True(t, LedgerRecord{}.SupersededBy(LedgerRecord{RemoteUpdatedAt: &older}))
	assert.True(t, LedgerRecord{RemoteUpdatedAt: &older}.SupersededBy(LedgerRecord{}))
	assert.True(t, LedgerRecord{RemoteUpdatedAt: &older}.SupersededBy(LedgerRecord{RemoteUpdatedAt: &newer}))
	assert.True(t, LedgerRecord{RemoteUpdatedAt: &older}.SupersededBy(LedgerRecord{RemoteUpdatedAt: &older}))
	assert.False(t, LedgerRecord{RemoteUpdatedAt: &newer}.SupersededBy(LedgerRecord{RemoteUpdatedAt: &older}))
}

func TestUpsertOutcome_String(t *testing.T) {
	assert.Equal(t, "created", OutcomeCreated.String())
	assert.Equal(t, "updated", OutcomeUpdated.String())
	assert.Equal(t, "unchanged", OutcomeUnchanged.String())
}
