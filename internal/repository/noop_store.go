package repository

import (
	"context"

	"PatternEngine/internal/domain/models"
)

// NoopStore discards every pattern. Used when no store is configured.
type NoopStore struct{}

func (NoopStore) StoreEntity(context.Context, string, *models.MarketPattern) error { return nil }

func (NoopStore) Close() error { return nil }
