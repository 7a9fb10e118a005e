package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vipul43/ledgersync/internal/models"
)

// Sweeper marks local records removed when a complete remote listing no longer contains them.
// Listings that return tombstoned entities with an explicit status are handled by the
// reconciler's status comparison; the sweep covers listings that silently omit them.
type Sweeper struct {
	fetcher *Fetcher
	store   RecordStore
}

func NewSweeper(fetcher *Fetcher, store RecordStore) *Sweeper {
	return &Sweeper{
		fetcher: fetcher,
		store:   store,
	}
}

// Sweep fetches the live remote ids of kind within scope and removes local records
// missing from that set. ModifiedSince is ignored: a sweep always needs the full listing.
func (s *Sweeper) Sweep(ctx context.Context, kind models.EntityKind, scope models.Scope) (int, error) {
	scope = models.Scope{Since: scope.Since}

	live := make(map[string]struct{})
	for entity, err := range s.fetcher.FetchAll(ctx, kind, scope) {
		if err != nil {
			return 0, fmt.Errorf("failed to list live %s ids: %w", kind, err)
		}
		live[entity.RemoteID] = struct{}{}
	}

	return s.SweepWithLiveIDs(ctx, kind, scope, live)
}

// SweepWithLiveIDs removes local records of kind within scope that are absent from live.
// live must come from a complete listing over the same scope.
func (s *Sweeper) SweepWithLiveIDs(ctx context.Context, kind models.EntityKind, scope models.Scope, live map[string]struct{}) (int, error) {
	localScope := scopeFor(kind, models.Scope{Since: scope.Since})

	ids, err := s.store.ListActiveIDs(ctx, kind, localScope)
	if err != nil {
		return 0, fmt.Errorf("failed to list local %s ids: %w", kind, err)
	}

	removed := 0
	for _, id := range ids {
		if _, ok := live[id]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		ok, err := s.store.MarkRemoved(ctx, kind, id)
		if err != nil {
			return removed, fmt.Errorf("failed to mark %s %s removed: %w", kind, id, err)
		}
		if ok {
			removed++
		}
	}

	if removed > 0 {
		zap.S().Infof("Sweep marked %d %s record(s) removed (%d live remotely, %d active locally)", removed, kind, len(live), len(ids))
	}
	return removed, nil
}
