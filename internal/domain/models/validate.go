package models

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks p against its struct tags and the closed type set.
func Validate(p *MarketPattern) error {
	if p == nil {
		return &ValidationError{Reason: "nil pattern"}
	}
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{
				PatternID: p.PatternID,
				Field:     fe.Namespace(),
				Reason:    fmt.Sprintf("failed %q", fe.Tag()),
				Err:       err,
			}
		}
		return &ValidationError{PatternID: p.PatternID, Reason: err.Error(), Err: err}
	}
	if !p.PatternType.IsValid() {
		return &ValidationError{PatternID: p.PatternID, Field: "pattern_type", Reason: fmt.Sprintf("unknown type %q", p.PatternType)}
	}
	for _, f := range p.numericFields() {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return &ValidationError{PatternID: p.PatternID, Field: f.name, Reason: "is not finite"}
		}
	}
	return nil
}

type numericField struct {
	name  string
	value float64
}

func (p *MarketPattern) numericFields() []numericField {
	return []numericField{
		{"outcomes.success_rate", p.Outcomes.SuccessRate},
		{"outcomes.avg_return", p.Outcomes.AvgReturn},
		{"outcomes.volatility", p.Outcomes.Volatility},
		{"outcomes.max_drawdown", p.Outcomes.MaxDrawdown},
		{"outcomes.time_to_target", p.Outcomes.TimeToTarget},
		{"learning_metrics.reliability_score", p.ReliabilityOr(0)},
	}
}
