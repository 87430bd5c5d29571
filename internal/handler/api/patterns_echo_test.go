package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	models "PatternEngine/internal/domain/models"
	"PatternEngine/internal/repository"
	"PatternEngine/internal/services/clustering"
	"PatternEngine/internal/services/optimization"
	"PatternEngine/internal/services/scoring"
	"PatternEngine/internal/services/selection"
	"PatternEngine/internal/services/similarity"
	"PatternEngine/internal/usecase"
	xlogger "PatternEngine/pkg/logger"
	"PatternEngine/pkg/metrics"
)

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type failingHealth struct{}

func (failingHealth) Health(context.Context) error { return errors.New("graph down") }

type rankedStub struct {
	kind  string
	limit int64
}

func (r *rankedStub) Top(_ context.Context, kind string, n int64) ([]*models.MarketPattern, error) {
	r.kind, r.limit = kind, n
	return []*models.MarketPattern{apiPattern("best", models.Float(0.9), 0.7)}, nil
}

func newTestServer(health HealthChecker) *echo.Echo {
	return newTestServerWith(health, nil)
}

func newTestServerWith(health HealthChecker, ranked RankedStore) *echo.Echo {
	calc := similarity.NewCalculator()
	merger := similarity.NewMerger()
	scorer := scoring.NewEngine()
	opt := optimization.NewEngine(calc, scorer, merger)
	clusterer := clustering.NewEngine(clustering.WithSeed(7))
	store := repository.NoopStore{}
	l := xlogger.Nop()

	h := NewPatternsEchoHandler(l, PatternsHandlerDeps{
		Calculator:   calc,
		Optimizer:    opt,
		Scorer:       scorer,
		Selector:     selection.NewEngine(opt, opt, opt),
		Clusterer:    clusterer,
		Consolidator: usecase.NewPatternConsolidator(opt, opt, store, metrics.Nop{}, l),
		Discovery:    usecase.NewOutcomeDiscovery(clusterer, store, metrics.Nop{}, l),
		Metrics:      metrics.Nop{},
		Health:       health,
		Ranked:       ranked,
	})
	e := echo.New()
	h.RegisterRoutes(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var payload string
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		payload = string(b)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func apiPattern(id string, rel *float64, success float64) *models.MarketPattern {
	return &models.MarketPattern{
		PatternID:   id,
		PatternType: models.PatternTrendFollowing,
		Outcomes:    models.Outcomes{SuccessRate: success, AvgReturn: 0.02, Volatility: 0.1, MaxDrawdown: -0.05, TimeToTarget: 24},
		LearningMetrics: models.LearningMetrics{
			ObservationCount: 20,
			ReliabilityScore: rel,
		},
	}
}

func TestSimilarityEndpoint(t *testing.T) {
	e := newTestServer(nil)
	a := apiPattern("a", models.Float(0.8), 0.6)

	rec, env := do(t, e, http.MethodPost, "/api/patterns/similarity", models.SimilarityRequest{A: a, B: a})
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.SimilarityResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.InDelta(t, 1.0, res.Score, 1e-9)
}

func TestSimilarityEndpointRequiresBothPatterns(t *testing.T) {
	e := newTestServer(nil)

	rec, env := do(t, e, http.MethodPost, "/api/patterns/similarity", map[string]any{"a": apiPattern("a", nil, 0.5)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusBadRequest, env.Status)
	assert.Contains(t, string(env.Data), `"b"`)
}

func TestMergeEndpointErrors(t *testing.T) {
	e := newTestServer(nil)

	tests := []struct {
		name     string
		patterns []*models.MarketPattern
		want     int
	}{
		{"empty list", []*models.MarketPattern{}, http.StatusBadRequest},
		{"no reliability", []*models.MarketPattern{apiPattern("a", nil, 0.5), apiPattern("b", nil, 0.6)}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, e, http.MethodPost, "/api/patterns/merge", models.MergeRequest{Patterns: tt.patterns})
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMergeEndpointMerges(t *testing.T) {
	e := newTestServer(nil)
	req := models.MergeRequest{Patterns: []*models.MarketPattern{
		apiPattern("a", models.Float(0.9), 0.6),
		apiPattern("b", models.Float(0.7), 0.5),
	}}

	rec, env := do(t, e, http.MethodPost, "/api/patterns/merge", req)
	require.Equal(t, http.StatusOK, rec.Code)

	var merged models.MarketPattern
	require.NoError(t, json.Unmarshal(env.Data, &merged))
	assert.Equal(t, 40, merged.LearningMetrics.ObservationCount)
	assert.ElementsMatch(t, []string{"a", "b"}, merged.Meta.RelatedPatterns)
}

func TestScoreEndpointRanks(t *testing.T) {
	e := newTestServer(nil)
	req := models.ScoreRequest{
		Patterns: []*models.MarketPattern{
			apiPattern("weak", models.Float(0.2), 0.3),
			apiPattern("strong", models.Float(0.95), 0.8),
		},
		TopK: 1,
	}

	rec, env := do(t, e, http.MethodPost, "/api/patterns/score", req)
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.ScoreResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Len(t, res.Scores, 2)
	require.Len(t, res.Top, 1)
	assert.Equal(t, "strong", res.Top[0].PatternID)
	assert.Equal(t, 1, res.Top[0].Rank)
}

func TestSelectEndpoint(t *testing.T) {
	e := newTestServer(nil)
	req := models.SelectRequest{
		Patterns: []*models.MarketPattern{apiPattern("a", models.Float(0.9), 0.7)},
		Criteria: models.SelectionCriteria{MaxPatterns: 5, MinReliability: models.Float(0.5), MinObservations: models.Int(1)},
	}

	rec, env := do(t, e, http.MethodPost, "/api/patterns/select", req)
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.SelectionResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 1, res.Stats.Input)
}

func TestSelectEndpointKeepsZeroThresholds(t *testing.T) {
	e := newTestServer(nil)
	body := map[string]any{
		"patterns": []*models.MarketPattern{
			apiPattern("a", models.Float(0.9), 0.7),
			apiPattern("b", models.Float(0.1), 0.7),
		},
		"criteria": map[string]any{"max_patterns": 5, "min_reliability": 0, "min_observations": 0, "consolidate": false},
	}

	rec, env := do(t, e, http.MethodPost, "/api/patterns/select", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.SelectionResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 2, res.Stats.Filtered)
}

func TestPatternListsValidateEachPattern(t *testing.T) {
	e := newTestServer(nil)
	anonymous := func(rel float64, obs int) *models.MarketPattern {
		p := apiPattern("", models.Float(rel), 0.6)
		p.LearningMetrics.ObservationCount = obs
		return p
	}
	score := models.ScoreRequest{Patterns: []*models.MarketPattern{anonymous(0.9, 100), anonymous(0.1, 1)}}
	outOfRange := apiPattern("a", models.Float(0.9), 1.5)

	tests := []struct {
		name string
		path string
		body any
		want string
	}{
		{"score without ids", "/api/patterns/score", score, "patterns[0].pattern_id"},
		{"select without ids", "/api/patterns/select", models.SelectRequest{Patterns: score.Patterns}, "patterns[1].pattern_id"},
		{"merge out of range", "/api/patterns/merge", models.MergeRequest{Patterns: []*models.MarketPattern{outOfRange}}, "patterns[0].outcomes.success_rate"},
		{"consolidate null entry", "/api/patterns/consolidate", map[string]any{"observations": []any{nil}}, "observations[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, e, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, string(env.Data), tt.want)
		})
	}
}

func TestConsolidateEndpoint(t *testing.T) {
	e := newTestServer(nil)
	req := models.ConsolidateRequest{Observations: []*models.MarketPattern{
		apiPattern("a", models.Float(0.9), 0.6),
		apiPattern("b", models.Float(0.8), 0.6),
	}}

	rec, env := do(t, e, http.MethodPost, "/api/patterns/consolidate", req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []*models.MarketPattern
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Len(t, out, 1)
}

func TestClusterEndpointInsufficientData(t *testing.T) {
	e := newTestServer(nil)
	req := models.ClusterRequest{Records: []models.OutcomeRecord{{ID: "a", SuccessRate: 0.5, ProfitLoss: 0.01}}}

	rec, env := do(t, e, http.MethodPost, "/api/outcomes/cluster", req)
	require.Equal(t, http.StatusOK, rec.Code)

	var res models.ClusterResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Empty(t, res.Discovered)
}

func TestCacheStatsEndpoint(t *testing.T) {
	e := newTestServer(nil)

	rec, env := do(t, e, http.MethodGet, "/api/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats optimization.Stats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Contains(t, stats.CacheSizes, optimization.CacheSimilarity)
}

func TestHealthz(t *testing.T) {
	rec, _ := do(t, newTestServer(nil), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := do(t, newTestServer(failingHealth{}), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, string(env.Data), "graph down")
}

func TestToAppError(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, toAppError(models.ErrEmptyInput).Status)
	assert.Equal(t, http.StatusUnprocessableEntity, toAppError(models.ErrNoValidPatterns).Status)
	assert.Equal(t, http.StatusBadRequest, toAppError(&models.ValidationError{PatternID: "x", Reason: "bad"}).Status)
	assert.Equal(t, http.StatusInternalServerError, toAppError(errors.New("boom")).Status)
}

func TestTopEndpoint(t *testing.T) {
	rec, _ := do(t, newTestServer(nil), http.MethodGet, "/api/patterns/top", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	stub := &rankedStub{}
	rec, env := do(t, newTestServerWith(nil, stub), http.MethodGet, "/api/patterns/top?limit=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "consolidated_pattern", stub.kind)
	assert.Equal(t, int64(3), stub.limit)

	var out []*models.MarketPattern
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.Len(t, out, 1)
	assert.Equal(t, "best", out[0].PatternID)

	rec, _ = do(t, newTestServerWith(nil, stub), http.MethodGet, "/api/patterns/top?kind=nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
