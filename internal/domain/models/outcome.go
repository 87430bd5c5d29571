package models

// OutcomeRecord is one observed trade or strategy outcome used for clustering.
type OutcomeRecord struct {
	ID                 string  `json:"id"`
	SuccessRate        float64 `json:"success_rate"`
	ProfitLoss         float64 `json:"profit_loss"`
	Volatility         float64 `json:"volatility"`
	MaxDrawdown        float64 `json:"max_drawdown"`
	SharpeRatio        float64 `json:"sharpe_ratio"`
	WinRate            float64 `json:"win_rate"`
	TradeDurationHours float64 `json:"trade_duration_hours"`
	Strategy           string  `json:"strategy,omitempty"`
	MarketRegime       string  `json:"market_regime,omitempty"`
	AssetClass         string  `json:"asset_class,omitempty"`
}

// Cluster labels.
const (
	LabelInsufficientData    = "insufficient_data"
	LabelHighPerformance     = "high_performance"
	LabelStablePerformance   = "stable_performance"
	LabelUnderperforming     = "underperforming"
	LabelHighRisk            = "high_risk"
	LabelModeratePerformance = "moderate_performance"
)

// ClusterStats are member means of the raw (unnormalized) outcome fields.
type ClusterStats struct {
	MeanSuccessRate float64 `json:"mean_success_rate"`
	MeanProfitLoss  float64 `json:"mean_profit_loss"`
	MeanVolatility  float64 `json:"mean_volatility"`
	MeanDrawdown    float64 `json:"mean_drawdown"`
}

// OutcomeCluster is one group of outcome records.
type OutcomeCluster struct {
	ID         int          `json:"id"`
	Label      string       `json:"label"`
	Members    []int        `json:"members"`
	MemberIDs  []string     `json:"member_ids"`
	Centroid   []float64    `json:"centroid"`
	Confidence float64      `json:"confidence"`
	Stats      ClusterStats `json:"stats"`
}

// ClusterResult is the output of clustering a collection of outcomes.
type ClusterResult struct {
	Clusters   []OutcomeCluster `json:"clusters"`
	K          int              `json:"k"`
	Iterations int              `json:"iterations"`
	Converged  bool             `json:"converged"`
}
