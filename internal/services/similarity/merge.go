package similarity

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"PatternEngine/internal/domain/models"
	domsvc "PatternEngine/internal/domain/service"
	"PatternEngine/pkg/util"
)

// DiscoveryMethodConsolidation marks patterns produced by Merge.
const DiscoveryMethodConsolidation = "consolidation"

const (
	defaultReliabilityWeight = 0.5
	minMergedReliability     = 0.1
	maxMergedReliability     = 0.95
)

// Merger collapses redundant observations into one representative pattern.
type Merger struct {
	now   func() time.Time
	newID func() string
}

// MergerOption configures a Merger.
type MergerOption func(*Merger)

// WithClock overrides the time source used for age and timestamps.
func WithClock(now func() time.Time) MergerOption {
	return func(m *Merger) { m.now = now }
}

// WithIDGenerator overrides how merged pattern ids are minted.
func WithIDGenerator(gen func() string) MergerOption {
	return func(m *Merger) { m.newID = gen }
}

func NewMerger(opts ...MergerOption) *Merger {
	m := &Merger{
		now:   time.Now,
		newID: func() string { return "merged_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge combines patterns into a new pattern. A single input is returned as a
// copy. Malformed input or a non-finite result falls back to a copy of the most
// reliable input.
func (m *Merger) Merge(patterns []*models.MarketPattern) (*models.MarketPattern, error) {
	in := make([]*models.MarketPattern, 0, len(patterns))
	for _, p := range patterns {
		if p != nil {
			in = append(in, p)
		}
	}
	if len(in) == 0 {
		return nil, models.ErrEmptyInput
	}
	if len(in) == 1 {
		return in[0].Clone(), nil
	}
	for _, p := range in {
		if err := models.Validate(p); err != nil {
			return fallback(in)
		}
	}
	if !anyReliability(in) {
		return nil, models.ErrNoValidPatterns
	}

	now := m.now()
	base := selectBase(in, now)

	merged := &models.MarketPattern{
		PatternID:   m.newID(),
		PatternType: base.PatternType,
		Conditions: models.Conditions{
			TechnicalIndicators: mergeIndicators(in),
			MarketConditions:    mergeConditions(in),
			Temporal:            mergeTemporal(in),
		},
		Outcomes:        mergeOutcomes(in),
		LearningMetrics: mergeLearning(in, now),
		Meta: models.MetaInformation{
			Discovery: models.Discovery{
				Method:       DiscoveryMethodConsolidation,
				Source:       base.PatternID,
				DiscoveredAt: now,
			},
			ValidationStatus: base.Meta.ValidationStatus,
			RelatedPatterns:  mergeRelated(in),
			RiskFactors:      mergeRiskFactors(in),
		},
	}
	if !finite(merged) {
		return fallback(in)
	}
	return merged, nil
}

func anyReliability(ps []*models.MarketPattern) bool {
	for _, p := range ps {
		if _, ok := p.Reliability(); ok {
			return true
		}
	}
	return false
}

// fallback returns a copy of the input with the highest defined reliability.
func fallback(ps []*models.MarketPattern) (*models.MarketPattern, error) {
	var best *models.MarketPattern
	bestRel := math.Inf(-1)
	for _, p := range ps {
		r, ok := p.Reliability()
		if !ok || !util.IsFinite(r) {
			continue
		}
		if r > bestRel {
			best, bestRel = p, r
		}
	}
	if best == nil {
		return nil, models.ErrNoValidPatterns
	}
	return best.Clone(), nil
}

func selectBase(ps []*models.MarketPattern, now time.Time) *models.MarketPattern {
	mode := modeType(ps)
	var base *models.MarketPattern
	bestScore := math.Inf(-1)
	for _, p := range ps {
		score := p.ReliabilityOr(0)
		if p.PatternType == mode {
			score += 0.2
		}
		score += math.Min(0.3, float64(p.LearningMetrics.ObservationCount)/100)
		score += 0.1 * math.Max(0, 1-util.DaysBetween(p.LearningMetrics.LastUpdated, now)/30)
		if score > bestScore {
			base, bestScore = p, score
		}
	}
	return base
}

// modeType returns the most frequent type, the earliest seen on ties.
func modeType(ps []*models.MarketPattern) models.PatternType {
	counts := make(map[models.PatternType]int)
	var mode models.PatternType
	for _, p := range ps {
		counts[p.PatternType]++
		if counts[p.PatternType] > counts[mode] {
			mode = p.PatternType
		}
	}
	return mode
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mergeIndicators(ps []*models.MarketPattern) map[string]models.IndicatorCondition {
	type acc struct {
		threshold, weight []float64
		min, max          []float64
	}
	accs := make(map[string]*acc)
	for _, p := range ps {
		for name, ind := range p.Conditions.TechnicalIndicators {
			a := accs[name]
			if a == nil {
				a = &acc{}
				accs[name] = a
			}
			a.threshold = append(a.threshold, ind.Threshold)
			a.weight = append(a.weight, ind.Weight)
			if ind.Min != nil {
				a.min = append(a.min, *ind.Min)
			}
			if ind.Max != nil {
				a.max = append(a.max, *ind.Max)
			}
		}
	}
	if len(accs) == 0 {
		return nil
	}
	out := make(map[string]models.IndicatorCondition, len(accs))
	for name, a := range accs {
		ind := models.IndicatorCondition{
			Threshold: util.Mean(a.threshold),
			Weight:    util.Clamp01(util.Mean(a.weight)),
		}
		if len(a.min) > 0 {
			ind.Min = models.Float(util.Mean(a.min))
		}
		if len(a.max) > 0 {
			ind.Max = models.Float(util.Mean(a.max))
		}
		out[name] = ind
	}
	return out
}

func mergeConditions(ps []*models.MarketPattern) map[string]models.ConditionValue {
	numbers := make(map[string][]float64)
	labels := make(map[string]map[string]int)
	for _, p := range ps {
		for key, v := range p.Conditions.MarketConditions {
			if v.IsNumber() {
				numbers[key] = append(numbers[key], *v.Number)
				continue
			}
			if v.Label == "" {
				continue
			}
			if labels[key] == nil {
				labels[key] = make(map[string]int)
			}
			labels[key][v.Label]++
		}
	}
	if len(numbers) == 0 && len(labels) == 0 {
		return nil
	}
	out := make(map[string]models.ConditionValue, len(numbers)+len(labels))
	for key, vals := range numbers {
		out[key] = models.NumberValue(util.Mean(vals))
	}
	for key, votes := range labels {
		if _, ok := out[key]; ok {
			continue
		}
		out[key] = models.LabelValue(majority(votes))
	}
	return out
}

// majority returns the label with most votes, the lexicographically smallest on ties.
func majority(votes map[string]int) string {
	best, bestN := "", 0
	for _, label := range sortedKeys(votes) {
		if votes[label] > bestN {
			best, bestN = label, votes[label]
		}
	}
	return best
}

func mergeTemporal(ps []*models.MarketPattern) models.TemporalConstraints {
	t := models.TemporalConstraints{
		MinDurationHours: ps[0].Conditions.Temporal.MinDurationHours,
		MaxDurationHours: ps[0].Conditions.Temporal.MaxDurationHours,
	}
	var tod, dow, season [][]string
	for _, p := range ps {
		pt := p.Conditions.Temporal
		t.MinDurationHours = math.Min(t.MinDurationHours, pt.MinDurationHours)
		t.MaxDurationHours = math.Max(t.MaxDurationHours, pt.MaxDurationHours)
		tod = append(tod, pt.TimeOfDay)
		dow = append(dow, pt.DayOfWeek)
		season = append(season, pt.Seasonality)
	}
	t.TimeOfDay = union(tod...)
	t.DayOfWeek = union(dow...)
	t.Seasonality = union(season...)
	return t
}

func union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	for _, l := range lists {
		for _, s := range l {
			seen[s] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func mergeOutcomes(ps []*models.MarketPattern) models.Outcomes {
	var wsum, sr, ret, vol, ttt float64
	dd := 0.0
	pooled := make(map[string][]float64)
	for i, p := range ps {
		w := p.ReliabilityOr(defaultReliabilityWeight)
		o := p.Outcomes
		wsum += w
		sr += w * o.SuccessRate
		ret += w * o.AvgReturn
		vol += w * o.Volatility
		ttt += w * o.TimeToTarget
		if i == 0 || o.MaxDrawdown < dd {
			dd = o.MaxDrawdown
		}
		for label, iv := range o.ConfidenceIntervals {
			pooled[label] = append(pooled[label], iv.Lower, iv.Upper)
		}
	}
	if wsum == 0 {
		// every input carries zero reliability; fall back to equal weights
		for _, p := range ps {
			o := p.Outcomes
			wsum++
			sr += o.SuccessRate
			ret += o.AvgReturn
			vol += o.Volatility
			ttt += o.TimeToTarget
		}
	}
	out := models.Outcomes{
		SuccessRate:  util.Clamp01(sr / wsum),
		AvgReturn:    ret / wsum,
		Volatility:   math.Max(0, vol/wsum),
		MaxDrawdown:  util.Clamp(dd, -1, 0),
		TimeToTarget: math.Max(0, ttt/wsum),
	}
	if len(pooled) > 0 {
		out.ConfidenceIntervals = make(map[string]models.Interval, len(pooled))
		for label, vals := range pooled {
			out.ConfidenceIntervals[label] = models.Interval{
				Lower: util.Percentile(vals, 2.5),
				Upper: util.Percentile(vals, 97.5),
			}
		}
	}
	return out
}

func mergeLearning(ps []*models.MarketPattern, now time.Time) models.LearningMetrics {
	var rels, volSens, volumeSens []float64
	count := 0
	regimes := make(map[string][]float64)
	for _, p := range ps {
		if r, ok := p.Reliability(); ok {
			rels = append(rels, r)
		}
		count += p.LearningMetrics.ObservationCount
		volSens = append(volSens, p.LearningMetrics.VolatilitySensitivity)
		volumeSens = append(volumeSens, p.LearningMetrics.VolumeSensitivity)
		for regime, aff := range p.LearningMetrics.MarketRegimeDependence {
			regimes[regime] = append(regimes[regime], aff)
		}
	}
	rel := util.Mean(rels) + math.Min(0.2, 0.02*float64(len(ps)))
	lm := models.LearningMetrics{
		ObservationCount:      count,
		LastUpdated:           now,
		ReliabilityScore:      models.Float(util.Clamp(rel, minMergedReliability, maxMergedReliability)),
		VolatilitySensitivity: util.Mean(volSens),
		VolumeSensitivity:     util.Mean(volumeSens),
	}
	if len(regimes) > 0 {
		lm.MarketRegimeDependence = make(map[string]float64, len(regimes))
		for regime, affs := range regimes {
			lm.MarketRegimeDependence[regime] = util.Clamp01(util.Mean(affs))
		}
	}
	return lm
}

func mergeRelated(ps []*models.MarketPattern) []string {
	lists := make([][]string, 0, len(ps)+1)
	for _, p := range ps {
		lists = append(lists, p.Meta.RelatedPatterns)
	}
	lists = append(lists, models.PatternIDs(ps))
	return union(lists...)
}

func mergeRiskFactors(ps []*models.MarketPattern) []models.RiskFactor {
	byName := make(map[string]models.RiskFactor)
	for _, p := range ps {
		for _, rf := range p.Meta.RiskFactors {
			cur, ok := byName[rf.Name]
			if !ok || rf.Severity.Rank() > cur.Severity.Rank() {
				byName[rf.Name] = rf
			}
		}
	}
	if len(byName) == 0 {
		return nil
	}
	out := make([]models.RiskFactor, 0, len(byName))
	for _, name := range sortedKeys(byName) {
		out = append(out, byName[name])
	}
	return out
}

func finite(p *models.MarketPattern) bool {
	o := p.Outcomes
	vals := []float64{o.SuccessRate, o.AvgReturn, o.Volatility, o.MaxDrawdown, o.TimeToTarget, p.ReliabilityOr(0),
		p.LearningMetrics.VolatilitySensitivity, p.LearningMetrics.VolumeSensitivity}
	for _, ind := range p.Conditions.TechnicalIndicators {
		vals = append(vals, ind.Threshold, ind.Weight)
	}
	for _, v := range p.Conditions.MarketConditions {
		if v.IsNumber() {
			vals = append(vals, *v.Number)
		}
	}
	for _, v := range vals {
		if !util.IsFinite(v) {
			return false
		}
	}
	return true
}

var _ domsvc.PatternMerger = (*Merger)(nil)
