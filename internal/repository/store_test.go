package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	segkafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternEngine/internal/domain/models"
	domrepo "PatternEngine/internal/domain/repository"
	"PatternEngine/pkg/cache"
	"PatternEngine/pkg/kafka"
	"PatternEngine/pkg/metrics"
)

func samplePattern(id string, rel float64) *models.MarketPattern {
	return &models.MarketPattern{
		PatternID:   id,
		PatternType: models.PatternMeanReversion,
		Outcomes:    models.Outcomes{SuccessRate: 0.6, AvgReturn: 0.02},
		LearningMetrics: models.LearningMetrics{
			ObservationCount: 12,
			ReliabilityScore: models.Float(rel),
		},
	}
}

func TestGraphStorePostsEntity(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = w.Write([]byte(`{"message":"Entity created successfully"}`))
	}))
	defer srv.Close()

	s, err := NewGraphStore(GraphConfig{BaseURL: srv.URL + "/"}, metrics.Nop{}, nil)
	require.NoError(t, err)

	p := samplePattern("p1", 0.7)
	require.NoError(t, s.StoreEntity(context.Background(), domrepo.KindConsolidatedPattern, p))

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/entities", got.URL.Path)
	q := got.URL.Query()
	assert.Equal(t, "p1", q.Get("name"))
	assert.Equal(t, domrepo.KindConsolidatedPattern, q.Get("group_id"))
	assert.Equal(t, EntityUUID(domrepo.KindConsolidatedPattern, "p1"), q.Get("uuid"))

	var decoded models.MarketPattern
	require.NoError(t, json.Unmarshal([]byte(q.Get("summary")), &decoded))
	assert.Equal(t, "p1", decoded.PatternID)
}

func TestGraphStoreBreakerOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := NewGraphStore(GraphConfig{BaseURL: srv.URL, MaxFailures: 2, OpenTimeout: time.Minute}, nil, nil)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.Error(t, s.StoreEntity(context.Background(), "k", samplePattern("p", 0.5)))
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGraphStoreHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"zep-graphiti"}`))
	}))
	defer srv.Close()

	s, err := NewGraphStore(GraphConfig{BaseURL: srv.URL}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Health(context.Background()))
}

func TestGraphStoreRequiresURL(t *testing.T) {
	_, err := NewGraphStore(GraphConfig{}, nil, nil)
	require.Error(t, err)
}

type memWriter struct{ msgs []segkafka.Message }

func (w *memWriter) WriteMessages(_ context.Context, msgs ...segkafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

func TestKafkaStorePublishesEnvelope(t *testing.T) {
	w := &memWriter{}
	s := NewKafkaStore(kafka.NewProducerFromWriter(w, "gzip"), "", nil, nil)

	require.NoError(t, s.StoreEntity(context.Background(), domrepo.KindDiscoveredPattern, samplePattern("p2", 0.4)))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "patterns.consolidated", w.msgs[0].Topic)
	assert.Equal(t, "p2", string(w.msgs[0].Key))
	require.NotEmpty(t, w.msgs[0].Headers)
	headers := map[string]string{}
	for _, h := range w.msgs[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, domrepo.KindDiscoveredPattern, headers["kind"])

	var env patternEnvelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &env))
	assert.Equal(t, domrepo.KindDiscoveredPattern, env.Kind)
	assert.Equal(t, "p2", env.Pattern.PatternID)
}

type fakeExec struct {
	query string
	args  []any
	err   error
}

func (f *fakeExec) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.query, f.args = query, args
	return nil, f.err
}

func TestCHPatternStoreInsert(t *testing.T) {
	db := &fakeExec{}
	s := newCHPatternStore(db, nil, nil)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.StoreEntity(context.Background(), "k", samplePattern("p3", 0.8)))

	assert.Contains(t, db.query, "INSERT INTO market_patterns")
	require.Len(t, db.args, 9)
	assert.Equal(t, "p3", db.args[0])
	assert.Equal(t, 0.8, db.args[3])
	assert.Equal(t, uint32(12), db.args[4])
	assert.Equal(t, now, db.args[8])
}

func TestCHPatternStoreNullReliability(t *testing.T) {
	db := &fakeExec{}
	s := newCHPatternStore(db, nil, nil)
	p := samplePattern("p4", 0)
	p.LearningMetrics.ReliabilityScore = nil

	require.NoError(t, s.StoreEntity(context.Background(), "k", p))
	assert.Nil(t, db.args[3])
}

func TestCHPatternStoreError(t *testing.T) {
	s := newCHPatternStore(&fakeExec{err: errors.New("readonly")}, nil, nil)
	require.Error(t, s.StoreEntity(context.Background(), "k", samplePattern("p", 0.5)))
}

type fakeCache struct {
	values map[string][]byte
	index  map[string]map[string]float64
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: map[string][]byte{}, index: map[string]map[string]float64{}}
}

func (c *fakeCache) SetIndexed(_ context.Context, key string, value interface{}, _ time.Duration, index, member string, score float64) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.values[key] = b
	if c.index[index] == nil {
		c.index[index] = map[string]float64{}
	}
	c.index[index][member] = score
	return nil
}

func (c *fakeCache) Get(_ context.Context, key string, dest interface{}) error {
	b, ok := c.values[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(b, dest)
}

func (c *fakeCache) TopOfIndex(_ context.Context, index string, n int64) ([]string, error) {
	var out []string
	for len(out) < int(n) {
		best, bestScore := "", -1.0
		for m, s := range c.index[index] {
			taken := false
			for _, o := range out {
				taken = taken || o == m
			}
			if !taken && s > bestScore {
				best, bestScore = m, s
			}
		}
		if best == "" {
			break
		}
		out = append(out, best)
	}
	return out, nil
}

func (c *fakeCache) Close() error { return nil }

func TestRedisStoreRanksByReliability(t *testing.T) {
	fc := newFakeCache()
	s := NewRedisStore(fc, 0, nil)
	ctx := context.Background()

	require.NoError(t, s.StoreEntity(ctx, "k", samplePattern("low", 0.2)))
	require.NoError(t, s.StoreEntity(ctx, "k", samplePattern("high", 0.9)))
	require.NoError(t, s.StoreEntity(ctx, "k", samplePattern("mid", 0.5)))

	top, err := s.Top(ctx, "k", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "high", top[0].PatternID)
	assert.Equal(t, "mid", top[1].PatternID)
	assert.Contains(t, fc.values, "k:high")
}

func TestNoopStore(t *testing.T) {
	var s domrepo.PatternStore = NoopStore{}
	require.NoError(t, s.StoreEntity(context.Background(), "k", nil))
	require.NoError(t, s.Close())
}

func TestStoreHealthWithoutProbe(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, NewRedisStore(newFakeCache(), 0, nil).Health(ctx))
	assert.NoError(t, newCHPatternStore(&fakeExec{}, nil, nil).Health(ctx))

	ch := newCHPatternStore(&fakeExec{}, nil, nil)
	ch.ping = func(context.Context) error { return errors.New("ch down") }
	assert.EqualError(t, ch.Health(ctx), "ch down")
}
