package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"PatternEngine/internal/domain/models"
	domrepo "PatternEngine/internal/domain/repository"
	httpclient "PatternEngine/pkg/http"
	applogger "PatternEngine/pkg/logger"
)

// GraphConfig configures the knowledge-graph sink.
type GraphConfig struct {
	BaseURL string
	Timeout time.Duration
	// Failures in a row before the breaker opens.
	MaxFailures uint32
	// How long the breaker stays open before a trial request.
	OpenTimeout time.Duration
}

// GraphStore writes patterns as entity nodes to the graph service.
type GraphStore struct {
	client  *httpclient.Client
	baseURL string
	breaker *gobreaker.CircuitBreaker
	metrics domrepo.Metrics
	l       *applogger.Logger
}

// NewGraphStore creates a graph sink guarded by a circuit breaker.
func NewGraphStore(cfg GraphConfig, m domrepo.Metrics, l *applogger.Logger) (*GraphStore, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("graph service url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if l == nil {
		l = applogger.Nop()
	}

	st := gobreaker.Settings{
		Name:     "graph-store",
		Interval: 60 * time.Second,
		Timeout:  cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// rejected requests mean a bad payload, not an unhealthy service
		IsSuccessful: func(err error) bool {
			var se *httpclient.StatusError
			return err == nil || (errors.As(err, &se) && !se.Temporary())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn("circuit breaker state change",
				applogger.String("breaker", name),
				applogger.String("from", from.String()),
				applogger.String("to", to.String()))
		},
	}

	return &GraphStore{
		client:  httpclient.NewClient(httpclient.WithTimeout(cfg.Timeout), httpclient.WithHeader("Accept", "application/json")),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		breaker: gobreaker.NewCircuitBreaker(st),
		metrics: m,
		l:       l,
	}, nil
}

// EntityUUID derives a stable entity uuid from kind and pattern id, so
// rewriting a pattern updates the same node.
func EntityUUID(kind, patternID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(kind+":"+patternID)).String()
}

// StoreEntity posts the pattern as an entity; the summary carries the
// pattern JSON.
func (s *GraphStore) StoreEntity(ctx context.Context, kind string, p *models.MarketPattern) error {
	if p == nil {
		return fmt.Errorf("store entity: nil pattern")
	}
	summary, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pattern %s: %w", p.PatternID, err)
	}

	opts := &httpclient.RequestOptions{
		Method: httpclient.MethodPost,
		URL:    s.baseURL + "/entities",
		QueryParams: map[string][]string{
			"name":     {p.PatternID},
			"uuid":     {EntityUUID(kind, p.PatternID)},
			"group_id": {kind},
			"summary":  {string(summary)},
		},
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.client.SendAndParse(ctx, opts, nil)
	})
	if err != nil {
		return fmt.Errorf("graph store %s: %w", p.PatternID, err)
	}
	if s.metrics != nil {
		s.metrics.RecordStored("graph", kind)
	}
	s.l.Debug("pattern stored", applogger.String("backend", "graph"), applogger.String("pattern_id", p.PatternID))
	return nil
}

// Health checks the graph service.
func (s *GraphStore) Health(ctx context.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	err := s.client.SendAndParse(ctx, &httpclient.RequestOptions{
		Method: httpclient.MethodGet,
		URL:    s.baseURL + "/health",
	}, &body)
	if err != nil {
		return fmt.Errorf("graph health: %w", err)
	}
	if body.Status != "" && body.Status != "healthy" {
		return fmt.Errorf("graph health: status %q", body.Status)
	}
	return nil
}

// Close is a no-op; the HTTP client holds no resources.
func (s *GraphStore) Close() error { return nil }
