package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	models "PatternEngine/internal/domain/models"
	domrepo "PatternEngine/internal/domain/repository"
	"PatternEngine/internal/services/clustering"
	"PatternEngine/internal/services/optimization"
	"PatternEngine/internal/services/scoring"
	"PatternEngine/internal/services/selection"
	"PatternEngine/internal/services/similarity"
	"PatternEngine/internal/usecase"
	xhttp "PatternEngine/pkg/http"
	xlogger "PatternEngine/pkg/logger"

	"github.com/labstack/echo/v4"
)

// HealthChecker is implemented by stores that can report reachability.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// RankedStore is implemented by stores that can list their most reliable patterns.
type RankedStore interface {
	Top(ctx context.Context, kind string, n int64) ([]*models.MarketPattern, error)
}

// PatternsEchoHandler exposes the engines and use cases over HTTP.
type PatternsEchoHandler struct {
	logger       *xlogger.Logger
	calc         *similarity.Calculator
	opt          *optimization.Engine
	scorer       *scoring.Engine
	selector     *selection.Engine
	clusterer    *clustering.Engine
	consolidator *usecase.PatternConsolidator
	discovery    *usecase.OutcomeDiscovery
	metrics      domrepo.Metrics
	health       HealthChecker
	ranked       RankedStore
}

// PatternsHandlerDeps groups what the handler needs.
type PatternsHandlerDeps struct {
	Calculator   *similarity.Calculator
	Optimizer    *optimization.Engine
	Scorer       *scoring.Engine
	Selector     *selection.Engine
	Clusterer    *clustering.Engine
	Consolidator *usecase.PatternConsolidator
	Discovery    *usecase.OutcomeDiscovery
	Metrics      domrepo.Metrics
	// Health and Ranked are optional.
	Health HealthChecker
	Ranked RankedStore
}

func NewPatternsEchoHandler(logger *xlogger.Logger, d PatternsHandlerDeps) *PatternsEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &PatternsEchoHandler{
		logger:       logger,
		calc:         d.Calculator,
		opt:          d.Optimizer,
		scorer:       d.Scorer,
		selector:     d.Selector,
		clusterer:    d.Clusterer,
		consolidator: d.Consolidator,
		discovery:    d.Discovery,
		metrics:      d.Metrics,
		health:       d.Health,
		ranked:       d.Ranked,
	}
}

func (h *PatternsEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)

	g := e.Group("/api")
	p := g.Group("/patterns")
	p.POST("/similarity", h.Similarity)
	p.POST("/merge", h.Merge)
	p.POST("/score", h.Score)
	p.POST("/select", h.Select)
	p.POST("/consolidate", h.Consolidate)
	p.GET("/top", h.Top)

	g.POST("/outcomes/cluster", h.Cluster)
	g.GET("/cache/stats", h.CacheStats)
}

func (h *PatternsEchoHandler) Similarity(c echo.Context) error {
	req := &models.SimilarityRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, h.calc.Compare(req.A, req.B))
}

func (h *PatternsEchoHandler) Merge(c echo.Context) error {
	req := &models.MergeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	merged, err := h.opt.Merge(req.Patterns)
	if err != nil {
		return h.fail(c, "merge", err)
	}
	return xhttp.SuccessResponse(c, merged)
}

func (h *PatternsEchoHandler) Score(c echo.Context) error {
	req := &models.ScoreRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if limit := h.scorer.Config().MaxBatchSize; len(req.Patterns) > limit {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("batch of %d exceeds limit %d", len(req.Patterns), limit).
			WithParam("limit", limit))
	}

	scored := h.opt.ScoreBatch(req.Patterns, req.Context, nil)
	top := h.scorer.SelectTop(scored, scoring.TopOptions{
		K:               req.TopK,
		MinScore:        req.MinScore,
		Diversity:       req.Diversity,
		DiversityWeight: req.DiversityWeight,
		Similarity:      h.opt,
	})

	res := models.ScoreResponse{Scores: make([]models.PatternScore, len(scored)), Top: top}
	for i, s := range scored {
		res.Scores[i] = s.Score
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PatternsEchoHandler) Select(c echo.Context) error {
	start := time.Now()
	req := &models.SelectRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res := h.selector.Select(req.Patterns, req.Context, req.Criteria)
	if h.metrics != nil {
		h.metrics.RecordSelection(len(res.Patterns), res.SelectionConfidence)
		h.metrics.RecordLatency("select", time.Since(start).Seconds())
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PatternsEchoHandler) Consolidate(c echo.Context) error {
	req := &models.ConsolidateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	out, err := h.consolidator.Consolidate(c.Request().Context(), req.Kind, req.Observations)
	if err != nil {
		return h.fail(c, "consolidate", err)
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *PatternsEchoHandler) Cluster(c echo.Context) error {
	req := &models.ClusterRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !req.Discover {
		return xhttp.SuccessResponse(c, models.ClusterResponse{Result: h.clusterer.Cluster(req.Records)})
	}
	found, result, err := h.discovery.DiscoverFromOutcomes(c.Request().Context(), req.Records)
	if err != nil {
		return h.fail(c, "discover", err)
	}
	return xhttp.SuccessResponse(c, models.ClusterResponse{Result: result, Discovered: found})
}

// Top lists stored patterns of one kind by reliability.
func (h *PatternsEchoHandler) Top(c echo.Context) error {
	if h.ranked == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotImplementedError("configured store cannot rank patterns"))
	}
	req := &models.TopRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	out, err := h.ranked.Top(c.Request().Context(), req.Kind, req.Limit)
	if err != nil {
		return h.fail(c, "top", err)
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *PatternsEchoHandler) CacheStats(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.opt.Stats())
}

func (h *PatternsEchoHandler) Healthz(c echo.Context) error {
	if h.health != nil {
		if err := h.health.Health(c.Request().Context()); err != nil {
			h.logger.Warn("store health check failed", xlogger.Error(err))
			return xhttp.DataResponse(c, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
		}
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *PatternsEchoHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= 500 {
		h.logger.Error(op+" usecase error", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

// toAppError maps domain errors onto HTTP errors.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		e := xhttp.BadRequestError(verr.Error()).WithParam("pattern_id", verr.PatternID)
		if verr.Field != "" {
			e = e.WithParam("field", verr.Field)
		}
		return e.WithError(err)
	case errors.Is(err, models.ErrEmptyInput):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrNoValidPatterns):
		return xhttp.UnprocessableError(err.Error()).WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}
