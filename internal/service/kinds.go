package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vipul43/ledgersync/internal/models"
)

// kindDescriptor declares how a kind takes part in a sync
type kindDescriptor struct {
	Kind   models.EntityKind
	Tier   int               // kinds in a lower tier are reconciled first
	Dated  bool              // Scope.Since applies
	Parent models.EntityKind // kind ParentRemoteID refers to, if any
}

var kindDescriptors = map[models.EntityKind]kindDescriptor{
	models.KindAccount:         {Kind: models.KindAccount, Tier: 0},
	models.KindBankAccount:     {Kind: models.KindBankAccount, Tier: 0},
	models.KindBankTransaction: {Kind: models.KindBankTransaction, Tier: 1, Dated: true, Parent: models.KindBankAccount},
	models.KindInvoice:         {Kind: models.KindInvoice, Tier: 1, Dated: true},
}

func describe(kind models.EntityKind) (kindDescriptor, error) {
	d, ok := kindDescriptors[kind]
	if !ok {
		return kindDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownEntityKind, kind)
	}
	return d, nil
}

// tiers groups kinds by dependency tier, lowest first, keeping input order within a tier
func tiers(kinds []models.EntityKind) [][]models.EntityKind {
	byTier := make(map[int][]models.EntityKind)
	for _, k := range kinds {
		d, ok := kindDescriptors[k]
		if !ok {
			continue
		}
		byTier[d.Tier] = append(byTier[d.Tier], k)
	}

	levels := make([]int, 0, len(byTier))
	for tier := range byTier {
		levels = append(levels, tier)
	}
	sort.Ints(levels)

	out := make([][]models.EntityKind, 0, len(levels))
	for _, tier := range levels {
		out = append(out, byTier[tier])
	}
	return out
}

// scopeFor drops the entity-date bound for kinds it does not apply to
func scopeFor(kind models.EntityKind, scope models.Scope) models.Scope {
	if d, ok := kindDescriptors[kind]; !ok || !d.Dated {
		scope.Since = nil
	}
	return scope
}

// localStatus maps a remote lifecycle value onto the mirrored local status
func localStatus(remote string) string {
	s := strings.ToLower(strings.TrimSpace(remote))
	if s == "" {
		return models.LocalStatusActive
	}
	return s
}

// ParseKinds parses a comma separated list of entity kinds
func ParseKinds(raw string) ([]models.EntityKind, error) {
	var kinds []models.EntityKind
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k := models.EntityKind(part)
		if !k.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEntityKind, part)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
