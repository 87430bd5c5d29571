package models

// RiskTolerance is the caller's appetite for drawdown and volatility.
type RiskTolerance string

const (
	RiskLow    RiskTolerance = "low"
	RiskMedium RiskTolerance = "medium"
	RiskHigh   RiskTolerance = "high"
)

// ScoringContext is the query a pattern is scored against. Every field is optional.
type ScoringContext struct {
	CurrentMarketRegime string             `json:"current_market_regime,omitempty"`
	CurrentVolatility   *float64           `json:"current_volatility,omitempty" validate:"omitempty,gte=0"`
	TargetTimeframe     string             `json:"target_timeframe,omitempty"`
	RiskTolerance       RiskTolerance      `json:"risk_tolerance,omitempty" validate:"omitempty,oneof=low medium high"`
	Features            map[string]float64 `json:"features,omitempty"`
	ExpectedSuccessRate *float64           `json:"expected_success_rate,omitempty" validate:"omitempty,gte=0,lte=1"`
	ExpectedReturn      *float64           `json:"expected_return,omitempty"`
	ExpectedVolatility  *float64           `json:"expected_volatility,omitempty" validate:"omitempty,gte=0"`
}

// HasExpectations reports whether any outcome expectation is supplied.
func (c *ScoringContext) HasExpectations() bool {
	return c != nil && (c.ExpectedSuccessRate != nil || c.ExpectedReturn != nil || c.ExpectedVolatility != nil)
}

// Selection priorities understood by the selection engine.
const (
	PrioritizePerformance = "prioritize_performance"
	PrioritizeReliability = "prioritize_reliability"
	PrioritizeFreshness   = "prioritize_freshness"
	PrioritizeRelevance   = "prioritize_relevance"
)

// Selection defaults used when a criteria field is unset.
const (
	DefaultMaxPatterns     = 10
	DefaultMinReliability  = 0.5
	DefaultMinObservations = 5
	DefaultDiversityWeight = 0.3
)

// SelectionCriteria controls a selection call. The thresholds are pointers so
// an explicit zero survives; nil takes the default.
type SelectionCriteria struct {
	MaxPatterns     int      `json:"max_patterns" default:"10" validate:"gte=1,lte=1000"`
	MinReliability  *float64 `json:"min_reliability" default:"0.5" validate:"omitempty,gte=0,lte=1"`
	MinObservations *int     `json:"min_observations" default:"5" validate:"omitempty,gte=0"`
	Priorities      []string `json:"priorities,omitempty" validate:"dive,oneof=prioritize_performance prioritize_reliability prioritize_freshness prioritize_relevance"`
	Diversity       bool     `json:"diversity"`
	DiversityWeight *float64 `json:"diversity_weight" default:"0.3" validate:"omitempty,gte=0,lte=1"`
	Consolidate     *bool    `json:"consolidate,omitempty" default:"true"`
}

// Limit returns MaxPatterns, or the default when it is not positive.
func (c *SelectionCriteria) Limit() int {
	if c.MaxPatterns <= 0 {
		return DefaultMaxPatterns
	}
	return c.MaxPatterns
}

func (c *SelectionCriteria) ReliabilityFloor() float64 {
	if c.MinReliability == nil {
		return DefaultMinReliability
	}
	return *c.MinReliability
}

func (c *SelectionCriteria) ObservationFloor() int {
	if c.MinObservations == nil {
		return DefaultMinObservations
	}
	return *c.MinObservations
}

func (c *SelectionCriteria) DiversityPenalty() float64 {
	if c.DiversityWeight == nil {
		return DefaultDiversityWeight
	}
	return *c.DiversityWeight
}

// ConsolidationEnabled reports whether similar groups should be merged.
func (c *SelectionCriteria) ConsolidationEnabled() bool {
	return c.Consolidate == nil || *c.Consolidate
}

// HasPriority reports whether p was requested.
func (c *SelectionCriteria) HasPriority(p string) bool {
	for _, x := range c.Priorities {
		if x == p {
			return true
		}
	}
	return false
}
