package models

import (
	"sort"
	"time"
)

// PatternType is the closed set of pattern categories.
type PatternType string

const (
	PatternTechnicalBreakout   PatternType = "technical_breakout"
	PatternEarningsMomentum    PatternType = "earnings_momentum"
	PatternSectorRotation      PatternType = "sector_rotation"
	PatternMeanReversion       PatternType = "mean_reversion"
	PatternVolatilityExpansion PatternType = "volatility_expansion"
	PatternTrendFollowing      PatternType = "trend_following"
	PatternNewsSentiment       PatternType = "news_sentiment"
	PatternVolumeAnomaly       PatternType = "volume_anomaly"
)

// IsValid reports whether t belongs to the closed set.
func (t PatternType) IsValid() bool {
	switch t {
	case PatternTechnicalBreakout, PatternEarningsMomentum, PatternSectorRotation,
		PatternMeanReversion, PatternVolatilityExpansion, PatternTrendFollowing,
		PatternNewsSentiment, PatternVolumeAnomaly:
		return true
	default:
		return false
	}
}

// ValidationStatus tracks where a pattern is in its review lifecycle.
type ValidationStatus string

const (
	StatusCandidate  ValidationStatus = "candidate"
	StatusValidated  ValidationStatus = "validated"
	StatusDeprecated ValidationStatus = "deprecated"
	StatusArchived   ValidationStatus = "archived"
)

// Severity of a risk factor. Ordered low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal of s; unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Well-known market condition keys.
const (
	ConditionMarketRegime = "market_regime"
	ConditionVolatility   = "volatility"
	ConditionVolume       = "volume"
)

// IndicatorCondition is a technical-indicator threshold with its importance weight.
type IndicatorCondition struct {
	Threshold float64  `json:"threshold"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Weight    float64  `json:"weight" validate:"gte=0,lte=1"`
}

// ConditionValue is either numeric (Number set) or categorical (Label set).
type ConditionValue struct {
	Number *float64 `json:"number,omitempty"`
	Label  string   `json:"label,omitempty"`
}

// NumberValue builds a numeric condition value.
func NumberValue(v float64) ConditionValue { return ConditionValue{Number: &v} }

// LabelValue builds a categorical condition value.
func LabelValue(s string) ConditionValue { return ConditionValue{Label: s} }

// IsNumber reports whether the value is numeric.
func (v ConditionValue) IsNumber() bool { return v.Number != nil }

// TemporalConstraints describe when a pattern applies.
type TemporalConstraints struct {
	MinDurationHours float64  `json:"min_duration_hours" validate:"gte=0"`
	MaxDurationHours float64  `json:"max_duration_hours" validate:"gte=0"`
	TimeOfDay        []string `json:"time_of_day,omitempty"`
	DayOfWeek        []string `json:"day_of_week,omitempty"`
	Seasonality      []string `json:"seasonality,omitempty"`
}

// Conditions groups everything that must hold for a pattern to trigger.
type Conditions struct {
	TechnicalIndicators map[string]IndicatorCondition `json:"technical_indicators,omitempty" validate:"dive"`
	MarketConditions    map[string]ConditionValue     `json:"market_conditions,omitempty"`
	Temporal            TemporalConstraints           `json:"temporal"`
}

// Interval is a closed [Lower, Upper] range.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Width returns Upper - Lower.
func (i Interval) Width() float64 { return i.Upper - i.Lower }

// Outcomes summarise what happened after the pattern triggered.
type Outcomes struct {
	SuccessRate         float64             `json:"success_rate" validate:"gte=0,lte=1"`
	AvgReturn           float64             `json:"avg_return"`
	Volatility          float64             `json:"volatility" validate:"gte=0"`
	MaxDrawdown         float64             `json:"max_drawdown" validate:"gte=-1,lte=1"`
	TimeToTarget        float64             `json:"time_to_target" validate:"gte=0"`
	ConfidenceIntervals map[string]Interval `json:"confidence_intervals,omitempty"`
}

// LearningMetrics carry the statistics accumulated for a pattern.
type LearningMetrics struct {
	ObservationCount       int                `json:"observation_count" validate:"gte=0"`
	LastUpdated            time.Time          `json:"last_updated"`
	ReliabilityScore       *float64           `json:"reliability_score,omitempty" validate:"omitempty,gte=0,lte=1"`
	MarketRegimeDependence map[string]float64 `json:"market_regime_dependence,omitempty"`
	VolatilitySensitivity  float64            `json:"volatility_sensitivity"`
	VolumeSensitivity      float64            `json:"volume_sensitivity"`
}

// Discovery records how a pattern was first found.
type Discovery struct {
	Method       string    `json:"method,omitempty"`
	Source       string    `json:"source,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// RiskFactor is a named risk with severity and mitigation.
type RiskFactor struct {
	Name       string   `json:"name" validate:"required"`
	Severity   Severity `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Mitigation string   `json:"mitigation,omitempty"`
}

// MetaInformation holds provenance and review data.
type MetaInformation struct {
	Discovery        Discovery        `json:"discovery"`
	ValidationStatus ValidationStatus `json:"validation_status,omitempty" validate:"omitempty,oneof=candidate validated deprecated archived"`
	RelatedPatterns  []string         `json:"related_patterns,omitempty"`
	RiskFactors      []RiskFactor     `json:"risk_factors,omitempty" validate:"dive"`
}

// MarketPattern is the unit of consolidated knowledge. Values are treated as
// immutable: operations produce new patterns instead of updating fields.
type MarketPattern struct {
	PatternID       string          `json:"pattern_id" validate:"required"`
	PatternType     PatternType     `json:"pattern_type" validate:"required"`
	Conditions      Conditions      `json:"conditions"`
	Outcomes        Outcomes        `json:"outcomes"`
	LearningMetrics LearningMetrics `json:"learning_metrics"`
	Meta            MetaInformation `json:"meta_information"`
}

// Reliability returns the reliability score and whether it is defined.
func (p *MarketPattern) Reliability() (float64, bool) {
	if p == nil || p.LearningMetrics.ReliabilityScore == nil {
		return 0, false
	}
	return *p.LearningMetrics.ReliabilityScore, true
}

// ReliabilityOr returns the reliability score or def when undefined.
func (p *MarketPattern) ReliabilityOr(def float64) float64 {
	if r, ok := p.Reliability(); ok {
		return r
	}
	return def
}

// Regime returns the categorical market_regime condition, if any.
func (p *MarketPattern) Regime() string {
	if v, ok := p.Conditions.MarketConditions[ConditionMarketRegime]; ok {
		return v.Label
	}
	return ""
}

// ConditionNumber returns a numeric market condition.
func (p *MarketPattern) ConditionNumber(key string) (float64, bool) {
	v, ok := p.Conditions.MarketConditions[key]
	if !ok || !v.IsNumber() {
		return 0, false
	}
	return *v.Number, true
}

// Clone returns a deep copy of p.
func (p *MarketPattern) Clone() *MarketPattern {
	if p == nil {
		return nil
	}
	c := *p

	if p.Conditions.TechnicalIndicators != nil {
		c.Conditions.TechnicalIndicators = make(map[string]IndicatorCondition, len(p.Conditions.TechnicalIndicators))
		for k, v := range p.Conditions.TechnicalIndicators {
			v.Min = cloneFloat(v.Min)
			v.Max = cloneFloat(v.Max)
			c.Conditions.TechnicalIndicators[k] = v
		}
	}
	if p.Conditions.MarketConditions != nil {
		c.Conditions.MarketConditions = make(map[string]ConditionValue, len(p.Conditions.MarketConditions))
		for k, v := range p.Conditions.MarketConditions {
			v.Number = cloneFloat(v.Number)
			c.Conditions.MarketConditions[k] = v
		}
	}
	c.Conditions.Temporal.TimeOfDay = cloneStrings(p.Conditions.Temporal.TimeOfDay)
	c.Conditions.Temporal.DayOfWeek = cloneStrings(p.Conditions.Temporal.DayOfWeek)
	c.Conditions.Temporal.Seasonality = cloneStrings(p.Conditions.Temporal.Seasonality)

	if p.Outcomes.ConfidenceIntervals != nil {
		c.Outcomes.ConfidenceIntervals = make(map[string]Interval, len(p.Outcomes.ConfidenceIntervals))
		for k, v := range p.Outcomes.ConfidenceIntervals {
			c.Outcomes.ConfidenceIntervals[k] = v
		}
	}

	c.LearningMetrics.ReliabilityScore = cloneFloat(p.LearningMetrics.ReliabilityScore)
	if p.LearningMetrics.MarketRegimeDependence != nil {
		c.LearningMetrics.MarketRegimeDependence = make(map[string]float64, len(p.LearningMetrics.MarketRegimeDependence))
		for k, v := range p.LearningMetrics.MarketRegimeDependence {
			c.LearningMetrics.MarketRegimeDependence[k] = v
		}
	}

	c.Meta.RelatedPatterns = cloneStrings(p.Meta.RelatedPatterns)
	if p.Meta.RiskFactors != nil {
		c.Meta.RiskFactors = append([]RiskFactor(nil), p.Meta.RiskFactors...)
	}
	return &c
}

// PatternIDs returns the ids of ps sorted lexicographically.
func PatternIDs(ps []*MarketPattern) []string {
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		if p != nil {
			ids = append(ids, p.PatternID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
