package clustering

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"PatternEngine/internal/domain/models"
	domsvc "PatternEngine/internal/domain/service"
	"PatternEngine/pkg/util"
)

// Dimensions of the outcome feature vector.
const Dimensions = 10

// Config bounds the K-means run.
type Config struct {
	MinRecords    int     `yaml:"min_records" default:"4"`
	MinK          int     `yaml:"min_k" default:"2"`
	MaxK          int     `yaml:"max_k" default:"5"`
	MaxIterations int     `yaml:"max_iterations" default:"100"`
	Tolerance     float64 `yaml:"tolerance" default:"0.001"`
}

func DefaultConfig() Config {
	return Config{MinRecords: 4, MinK: 2, MaxK: 5, MaxIterations: 100, Tolerance: 0.001}
}

// Engine clusters outcome records with K-means and K-means++ seeding.
type Engine struct {
	cfg Config
	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		d := DefaultConfig()
		if cfg.MinRecords <= 0 {
			cfg.MinRecords = d.MinRecords
		}
		if cfg.MinK <= 0 {
			cfg.MinK = d.MinK
		}
		if cfg.MaxK < cfg.MinK {
			cfg.MaxK = max(d.MaxK, cfg.MinK)
		}
		if cfg.MaxIterations <= 0 {
			cfg.MaxIterations = d.MaxIterations
		}
		if cfg.Tolerance <= 0 {
			cfg.Tolerance = d.Tolerance
		}
		e.cfg = cfg
	}
}

// WithSeed makes seeding deterministic.
func WithSeed(seed int64) Option {
	return func(e *Engine) { e.rng = rand.New(rand.NewSource(seed)) }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{cfg: DefaultConfig(), rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cluster partitions records. Every input index lands in exactly one cluster.
// Fewer than MinRecords inputs yield a single insufficient_data cluster.
func (e *Engine) Cluster(records []models.OutcomeRecord) models.ClusterResult {
	vectors := Vectorize(records)
	n := len(records)
	if n < e.cfg.MinRecords {
		members := make([]int, n)
		for i := range members {
			members[i] = i
		}
		c := buildCluster(0, members, records, vectors, centroid(vectors, members))
		c.Label = models.LabelInsufficientData
		return models.ClusterResult{Clusters: []models.OutcomeCluster{c}, K: 1, Converged: true}
	}

	k := int(math.Round(math.Sqrt(float64(n))))
	k = min(max(k, e.cfg.MinK), e.cfg.MaxK, n)

	e.mu.Lock()
	centers := e.seed(vectors, k)
	e.mu.Unlock()

	assign := make([]int, n)
	iterations := 0
	converged := false
	for iterations < e.cfg.MaxIterations {
		iterations++
		for i, v := range vectors {
			assign[i] = nearest(v, centers)
		}
		moved := 0.0
		for c := range centers {
			var members []int
			for i, a := range assign {
				if a == c {
					members = append(members, i)
				}
			}
			if len(members) == 0 {
				continue
			}
			next := centroid(vectors, members)
			moved = math.Max(moved, distance(centers[c], next))
			centers[c] = next
		}
		if moved < e.cfg.Tolerance {
			converged = true
			break
		}
	}

	res := models.ClusterResult{K: k, Iterations: iterations, Converged: converged}
	for c := range centers {
		var members []int
		for i, a := range assign {
			if a == c {
				members = append(members, i)
			}
		}
		if len(members) == 0 {
			continue
		}
		res.Clusters = append(res.Clusters, buildCluster(len(res.Clusters), members, records, vectors, centers[c]))
	}
	return res
}

// seed picks k initial centers: the first uniformly, the rest with
// probability proportional to the squared distance to the nearest center.
func (e *Engine) seed(vectors [][]float64, k int) [][]float64 {
	chosen := make(map[int]bool, k)
	first := e.rng.Intn(len(vectors))
	chosen[first] = true
	centers := [][]float64{clone(vectors[first])}

	d2 := make([]float64, len(vectors))
	for len(centers) < k {
		total := 0.0
		for i, v := range vectors {
			d := distance(v, centers[nearest(v, centers)])
			d2[i] = d * d
			total += d2[i]
		}
		next := -1
		if total > 0 {
			r := e.rng.Float64() * total
			for i, w := range d2 {
				r -= w
				if r <= 0 && w > 0 {
					next = i
					break
				}
			}
		}
		if next < 0 {
			// degenerate input; take the first unused point
			for i := range vectors {
				if !chosen[i] {
					next = i
					break
				}
			}
		}
		chosen[next] = true
		centers = append(centers, clone(vectors[next]))
	}
	return centers
}

// nearest returns the closest center, the earliest on ties.
func nearest(v []float64, centers [][]float64) int {
	best, bestD := 0, math.Inf(1)
	for i, c := range centers {
		if d := distance(v, c); d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

func distance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func centroid(vectors [][]float64, members []int) []float64 {
	c := make([]float64, Dimensions)
	if len(members) == 0 {
		return c
	}
	for _, i := range members {
		for d, x := range vectors[i] {
			c[d] += x
		}
	}
	for d := range c {
		c[d] /= float64(len(members))
	}
	return c
}

func clone(v []float64) []float64 { return append([]float64(nil), v...) }

func buildCluster(id int, members []int, records []models.OutcomeRecord, vectors [][]float64, center []float64) models.OutcomeCluster {
	c := models.OutcomeCluster{
		ID:        id,
		Members:   members,
		MemberIDs: make([]string, len(members)),
		Centroid:  center,
	}
	var sr, pl, vol, dd []float64
	for j, i := range members {
		r := records[i]
		c.MemberIDs[j] = r.ID
		sr = append(sr, finite(r.SuccessRate))
		pl = append(pl, finite(r.ProfitLoss))
		vol = append(vol, finite(r.Volatility))
		dd = append(dd, finite(r.MaxDrawdown))
	}
	c.Stats = models.ClusterStats{
		MeanSuccessRate: util.Mean(sr),
		MeanProfitLoss:  util.Mean(pl),
		MeanVolatility:  util.Mean(vol),
		MeanDrawdown:    util.Mean(dd),
	}
	c.Label = Label(c.Stats)
	c.Confidence = confidence(vectors, members)
	return c
}

// Label names a cluster by the performance signature of its members.
func Label(s models.ClusterStats) string {
	switch {
	case s.MeanSuccessRate >= 0.7 && s.MeanProfitLoss > 0.05:
		return models.LabelHighPerformance
	case s.MeanVolatility > 0.4:
		return models.LabelHighRisk
	case s.MeanSuccessRate < 0.4 || s.MeanProfitLoss < 0:
		return models.LabelUnderperforming
	case s.MeanSuccessRate >= 0.55 && s.MeanVolatility < 0.2:
		return models.LabelStablePerformance
	default:
		return models.LabelModeratePerformance
	}
}

func confidence(vectors [][]float64, members []int) float64 {
	if len(members) < 2 {
		return 0.5
	}
	norm := math.Sqrt(Dimensions)
	var sum float64
	var n int
	for a := 0; a < len(members); a++ {
		for b := a + 1; b < len(members); b++ {
			sum += 1 - distance(vectors[members[a]], vectors[members[b]])/norm
			n++
		}
	}
	return util.Clamp(sum/float64(n), 0.3, 0.9)
}

var _ domsvc.OutcomeClusterer = (*Engine)(nil)
