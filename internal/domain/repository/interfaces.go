package repository

import (
	"context"

	"PatternEngine/internal/domain/models"
)

// Entity kinds written to the pattern store.
const (
	KindConsolidatedPattern = "consolidated_pattern"
	KindDiscoveredPattern   = "discovered_pattern"
	KindObservation         = "pattern_observation"
)

// PatternStore is the long-term knowledge sink. Writes are best-effort: callers
// log failures and move on, retries belong to the transport.
type PatternStore interface {
	StoreEntity(ctx context.Context, kind string, p *models.MarketPattern) error
	Close() error
}

// Metrics records operational counters for the engine.
type Metrics interface {
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
	RecordCacheSize(cache string, size int)
	RecordEviction(cache string, reason string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordSelection(selected int, confidence float64)
	RecordStored(backend, kind string)
}
