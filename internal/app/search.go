package app

import (
	"context"

	"stockwatcher/internal/index"
)

// Search returns the k indexed summaries closest to query.
func (a *App) Search(ctx context.Context, query string, k int) ([]index.Match, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	indexer, err := a.newIndexer(store)
	if err != nil {
		return nil, err
	}
	if indexer.Len() == 0 {
		if err := indexer.Index(ctx, nil); err != nil {
			return nil, err
		}
	}
	return indexer.Search(ctx, query, k)
}
