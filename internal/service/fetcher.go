package service

import (
	"context"
	"fmt"
	"iter"

	"github.com/vipul43/ledgersync/internal/models"
)

// Fetcher walks a remote listing page by page
type Fetcher struct {
	client   LedgerClient
	pageSize int
	maxPages int
}

func NewFetcher(client LedgerClient, pageSize, maxPages int) *Fetcher {
	if pageSize <= 0 {
		pageSize = 100
	}
	if maxPages <= 0 {
		maxPages = 1000
	}
	return &Fetcher{
		client:   client,
		pageSize: pageSize,
		maxPages: maxPages,
	}
}

// FetchPages yields each page of kind within scope, starting from page 1.
// A page shorter than the page size (zero included) ends the listing. On error the
// sequence yields the error once and stops; it is not resumable mid-sequence.
func (f *Fetcher) FetchPages(ctx context.Context, kind models.EntityKind, scope models.Scope) iter.Seq2[[]RemoteEntity, error] {
	return func(yield func([]RemoteEntity, error) bool) {
		scope = scopeFor(kind, scope)

		for page := 1; ; page++ {
			if page > f.maxPages {
				yield(nil, fmt.Errorf("%w: %s listing exceeds %d pages of %d", ErrScopeTooLarge, kind, f.maxPages, f.pageSize))
				return
			}
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			result, err := f.client.List(ctx, ListQuery{
				Kind:          kind,
				Page:          page,
				PageSize:      f.pageSize,
				ModifiedSince: scope.ModifiedSince,
				Since:         scope.Since,
			})
			if err != nil {
				yield(nil, err)
				return
			}

			if len(result.Items) == 0 {
				return
			}
			if !yield(result.Items, nil) {
				return
			}
			if len(result.Items) < f.pageSize {
				return
			}
		}
	}
}

// FetchAll yields the entities of kind within scope one at a time
func (f *Fetcher) FetchAll(ctx context.Context, kind models.EntityKind, scope models.Scope) iter.Seq2[RemoteEntity, error] {
	return func(yield func(RemoteEntity, error) bool) {
		for items, err := range f.FetchPages(ctx, kind, scope) {
			if err != nil {
				yield(RemoteEntity{}, err)
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}
