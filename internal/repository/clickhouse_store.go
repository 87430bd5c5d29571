package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"PatternEngine/internal/domain/models"
	domrepo "PatternEngine/internal/domain/repository"
	pkgch "PatternEngine/pkg/clickhouse"
	applogger "PatternEngine/pkg/logger"
)

// PatternSchema creates the pattern table. ReplacingMergeTree keeps the
// latest write per (kind, pattern_id).
var PatternSchema = []string{
	`CREATE TABLE IF NOT EXISTS market_patterns (
        pattern_id        String,
        kind              LowCardinality(String),
        pattern_type      LowCardinality(String),
        reliability       Nullable(Float64),
        observation_count UInt32,
        success_rate      Float64,
        avg_return        Float64,
        payload           String,
        stored_at         DateTime64(3)
    ) ENGINE = ReplacingMergeTree(stored_at)
    ORDER BY (kind, pattern_id)`,
}

const insertPattern = `
    INSERT INTO market_patterns
        (pattern_id, kind, pattern_type, reliability, observation_count, success_rate, avg_return, payload, stored_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CHPatternStore appends patterns to ClickHouse.
type CHPatternStore struct {
	db      execer
	closer  func() error
	ping    func(context.Context) error
	metrics domrepo.Metrics
	l       *applogger.Logger
	now     func() time.Time
}

// NewCHPatternStore creates the schema and returns a ClickHouse sink.
func NewCHPatternStore(ctx context.Context, ch *pkgch.Client, m domrepo.Metrics, l *applogger.Logger) (*CHPatternStore, error) {
	if err := ch.InitSchema(ctx, PatternSchema); err != nil {
		return nil, err
	}
	s := newCHPatternStore(ch.DB(), m, l)
	s.closer = ch.Close
	s.ping = ch.Health
	return s, nil
}

func newCHPatternStore(db execer, m domrepo.Metrics, l *applogger.Logger) *CHPatternStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHPatternStore{db: db, metrics: m, l: l, now: time.Now}
}

func (s *CHPatternStore) StoreEntity(ctx context.Context, kind string, p *models.MarketPattern) error {
	if p == nil {
		return fmt.Errorf("store entity: nil pattern")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pattern %s: %w", p.PatternID, err)
	}

	var rel any
	if r, ok := p.Reliability(); ok {
		rel = r
	}
	_, err = s.db.ExecContext(ctx, insertPattern,
		p.PatternID,
		kind,
		string(p.PatternType),
		rel,
		uint32(max(p.LearningMetrics.ObservationCount, 0)),
		p.Outcomes.SuccessRate,
		p.Outcomes.AvgReturn,
		string(payload),
		s.now().UTC(),
	)
	if err != nil {
		s.l.Error("clickhouse insert pattern error",
			applogger.String("pattern_id", p.PatternID),
			applogger.String("kind", kind),
			applogger.Error(err),
		)
		return fmt.Errorf("insert pattern: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordStored("clickhouse", kind)
	}
	return nil
}

// Health pings the server. Stores built over a bare execer always report ok.
func (s *CHPatternStore) Health(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

func (s *CHPatternStore) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}
