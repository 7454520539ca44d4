package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stockwatcher/internal/storage"
)

// AddNews stores a headline. A zero publish time means now.
func (a *App) AddNews(ctx context.Context, title string, publishedAt time.Time) (storage.NewsItem, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return storage.NewsItem{}, errors.New("news title required")
	}
	if publishedAt.IsZero() {
		publishedAt = time.Now()
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return storage.NewsItem{}, err
	}
	defer closeStore()
	return store.InsertNews(ctx, storage.NewsItem{Title: title, PublishedAt: publishedAt.UTC()})
}

// RecentNews lists the newest headlines.
func (a *App) RecentNews(ctx context.Context, limit int) ([]storage.NewsItem, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("news limit must be positive, got %d", limit)
	}
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()
	return store.RecentNews(ctx, limit)
}
