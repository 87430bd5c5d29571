package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"PatternEngine/internal/domain/models"
	domrepo "PatternEngine/internal/domain/repository"
	domsvc "PatternEngine/internal/domain/service"
	applogger "PatternEngine/pkg/logger"
	"PatternEngine/pkg/util"
)

// DiscoveryMethodClustering marks patterns derived from outcome clusters.
const DiscoveryMethodClustering = "outcome_clustering"

// DiscoveryOption configures OutcomeDiscovery.
type DiscoveryOption func(*OutcomeDiscovery)

// WithDiscoveryClock overrides the clock used for timestamps.
func WithDiscoveryClock(now func() time.Time) DiscoveryOption {
	return func(d *OutcomeDiscovery) { d.now = now }
}

// WithDiscoveryIDs overrides pattern id generation.
func WithDiscoveryIDs(gen func() string) DiscoveryOption {
	return func(d *OutcomeDiscovery) { d.newID = gen }
}

// OutcomeDiscovery derives candidate patterns from clustered outcomes.
type OutcomeDiscovery struct {
	clusterer domsvc.OutcomeClusterer
	store     domrepo.PatternStore
	metrics   domrepo.Metrics
	l         *applogger.Logger
	now       func() time.Time
	newID     func() string
}

func NewOutcomeDiscovery(clusterer domsvc.OutcomeClusterer, store domrepo.PatternStore, metrics domrepo.Metrics, l *applogger.Logger, opts ...DiscoveryOption) *OutcomeDiscovery {
	if l == nil {
		l = applogger.Nop()
	}
	d := &OutcomeDiscovery{
		clusterer: clusterer,
		store:     store,
		metrics:   metrics,
		l:         l,
		now:       time.Now,
		newID:     func() string { return "discovered_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DiscoverFromOutcomes clusters records and turns every cluster with at
// least two members and a real label into a candidate pattern. Patterns are
// stored best-effort.
func (d *OutcomeDiscovery) DiscoverFromOutcomes(ctx context.Context, records []models.OutcomeRecord) ([]*models.MarketPattern, models.ClusterResult, error) {
	if len(records) == 0 {
		return nil, models.ClusterResult{}, models.ErrEmptyInput
	}
	res := d.clusterer.Cluster(records)

	now := d.now()
	var out []*models.MarketPattern
	for _, c := range res.Clusters {
		if c.Label == models.LabelInsufficientData || len(c.Members) < 2 {
			continue
		}
		out = append(out, d.fromCluster(c, records, now))
	}

	for _, p := range out {
		if d.store == nil {
			break
		}
		if err := d.store.StoreEntity(ctx, domrepo.KindDiscoveredPattern, p); err != nil {
			if d.metrics != nil {
				d.metrics.RecordError("store_entity")
			}
			d.l.Warn("store discovered pattern failed", applogger.String("pattern_id", p.PatternID), applogger.Error(err))
		}
	}

	d.l.Info("patterns discovered from outcomes",
		applogger.Int("records", len(records)),
		applogger.Int("clusters", len(res.Clusters)),
		applogger.Int("patterns", len(out)))
	return out, res, nil
}

func (d *OutcomeDiscovery) fromCluster(c models.OutcomeCluster, records []models.OutcomeRecord, now time.Time) *models.MarketPattern {
	members := make([]models.OutcomeRecord, 0, len(c.Members))
	for _, i := range c.Members {
		if i >= 0 && i < len(records) {
			members = append(members, records[i])
		}
	}

	var durations []float64
	strategies := map[string]int{}
	regimes := map[string]int{}
	for _, r := range members {
		durations = append(durations, r.TradeDurationHours)
		if r.Strategy != "" {
			strategies[r.Strategy]++
		}
		if r.MarketRegime != "" {
			regimes[r.MarketRegime]++
		}
	}

	p := &models.MarketPattern{
		PatternID:   d.newID(),
		PatternType: patternTypeFor(c.Label, strategies),
		Outcomes: models.Outcomes{
			SuccessRate:  util.Clamp01(c.Stats.MeanSuccessRate),
			AvgReturn:    c.Stats.MeanProfitLoss,
			Volatility:   max(c.Stats.MeanVolatility, 0),
			MaxDrawdown:  util.Clamp(-math.Abs(c.Stats.MeanDrawdown), -1, 0),
			TimeToTarget: max(util.Mean(durations), 0),
		},
		LearningMetrics: models.LearningMetrics{
			ObservationCount: len(members),
			LastUpdated:      now,
			ReliabilityScore: models.Float(util.Clamp01(c.Confidence)),
		},
		Meta: models.MetaInformation{
			Discovery: models.Discovery{
				Method:       DiscoveryMethodClustering,
				Source:       fmt.Sprintf("%s#%d", c.Label, c.ID),
				DiscoveredAt: now,
			},
			ValidationStatus: models.StatusCandidate,
			RelatedPatterns:  append([]string(nil), c.MemberIDs...),
		},
	}

	if len(durations) > 0 {
		sorted := append([]float64(nil), durations...)
		sort.Float64s(sorted)
		p.Conditions.Temporal = models.TemporalConstraints{
			MinDurationHours: max(sorted[0], 0),
			MaxDurationHours: max(sorted[len(sorted)-1], 0),
		}
	}
	if len(regimes) > 0 {
		p.Conditions.MarketConditions = map[string]models.ConditionValue{
			models.ConditionMarketRegime: models.LabelValue(mostFrequent(regimes)),
		}
		dep := make(map[string]float64, len(regimes))
		for r, n := range regimes {
			dep[r] = float64(n) / float64(len(members))
		}
		p.LearningMetrics.MarketRegimeDependence = dep
	}
	if c.Label == models.LabelHighRisk {
		p.Meta.RiskFactors = []models.RiskFactor{{Name: "drawdown", Severity: models.SeverityHigh}}
	}
	return p
}

// patternTypeFor prefers the members' dominant strategy when it names a
// known pattern type.
func patternTypeFor(label string, strategies map[string]int) models.PatternType {
	if len(strategies) > 0 {
		if t := models.PatternType(mostFrequent(strategies)); t.IsValid() {
			return t
		}
	}
	switch label {
	case models.LabelHighRisk:
		return models.PatternVolatilityExpansion
	case models.LabelUnderperforming, models.LabelStablePerformance:
		return models.PatternMeanReversion
	default:
		return models.PatternTrendFollowing
	}
}

// mostFrequent breaks ties by the lexicographically smallest key.
func mostFrequent(counts map[string]int) string {
	best, bestN := "", -1
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}
