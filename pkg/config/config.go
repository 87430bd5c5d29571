package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreNone       = "none"
	StoreGraph      = "graph"
	StoreKafka      = "kafka"
	StoreClickHouse = "clickhouse"
	StoreRedis      = "redis"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		BodyLimit       string        `yaml:"body_limit" default:"8M"`
		RateLimit       struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst" default:"20"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Logger struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logger"`
	Cache struct {
		MaxEntries        int           `yaml:"max_entries" default:"1000"`
		TTL               time.Duration `yaml:"ttl" default:"5m"`
		SweepInterval     time.Duration `yaml:"sweep_interval" default:"1m"`
		BatchSize         int           `yaml:"batch_size" default:"100"`
		Parallel          bool          `yaml:"parallel"`
		ParallelThreshold int           `yaml:"parallel_threshold" default:"50"`
	} `yaml:"cache"`
	Scoring struct {
		Weights             map[string]float64 `yaml:"weights"`
		TemporalDecay       float64            `yaml:"temporal_decay" default:"0.1"`
		TemporalCutoffDays  float64            `yaml:"temporal_cutoff_days" default:"30"`
		SpecialistThreshold float64            `yaml:"specialist_threshold" default:"0.7"`
		SpecialistBoost     float64            `yaml:"specialist_boost" default:"1.2"`
		VolatilityMatchBand float64            `yaml:"volatility_match_band" default:"0.05"`
		VolatilityBoost     float64            `yaml:"volatility_match_boost" default:"1.1"`
		BatchSize           int                `yaml:"batch_size" default:"50"`
		MaxBatchSize        int                `yaml:"max_batch_size" default:"1000"`
	} `yaml:"scoring"`
	Selection struct {
		Weights            map[string]float64 `yaml:"weights"`
		GroupThreshold     float64            `yaml:"group_threshold" default:"0.7"`
		MaxGroupSize       int                `yaml:"max_group_size" default:"10"`
		CoherenceThreshold float64            `yaml:"coherence_threshold" default:"0.7"`
		CoherenceBonus     float64            `yaml:"coherence_bonus" default:"0.1"`
	} `yaml:"selection"`
	Consolidation struct {
		GroupThreshold float64 `yaml:"group_threshold" default:"0.75"`
		MaxGroupSize   int     `yaml:"max_group_size" default:"50"`
	} `yaml:"consolidation"`
	Clustering struct {
		MinRecords    int     `yaml:"min_records" default:"4"`
		MinK          int     `yaml:"min_k" default:"2"`
		MaxK          int     `yaml:"max_k" default:"5"`
		MaxIterations int     `yaml:"max_iterations" default:"100"`
		Tolerance     float64 `yaml:"tolerance" default:"0.001"`
		Seed          int64   `yaml:"seed"`
	} `yaml:"clustering"`
	Store struct {
		Type  string `yaml:"type" default:"none"`
		Graph struct {
			URL         string        `yaml:"url"`
			Timeout     time.Duration `yaml:"timeout" default:"10s"`
			MaxFailures uint32        `yaml:"max_failures" default:"3"`
			OpenTimeout time.Duration `yaml:"open_timeout" default:"30s"`
		} `yaml:"graph"`
		Kafka struct {
			Topic        string        `yaml:"topic" default:"patterns.consolidated"`
			RequiredAcks int           `yaml:"required_acks" default:"-1"`
			Compression  string        `yaml:"compression" default:"gzip"`
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"100ms"`
			Async        bool          `yaml:"async"`
		} `yaml:"kafka"`
		ClickHouse struct {
			Host         string        `yaml:"host"`
			Port         int           `yaml:"port" default:"9000"`
			Database     string        `yaml:"database" default:"default"`
			User         string        `yaml:"user" default:"default"`
			Password     string        `yaml:"password"`
			UseHTTP      bool          `yaml:"use_http"`
			AsyncInsert  bool          `yaml:"async_insert"`
			WaitForAsync bool          `yaml:"wait_for_async_insert"`
			DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"clickhouse"`
		Redis struct {
			Host     string        `yaml:"host" default:"localhost"`
			Port     int           `yaml:"port" default:"6379"`
			Password string        `yaml:"password"`
			DB       int           `yaml:"db"`
			Prefix   string        `yaml:"prefix" default:"patterns"`
			TTL      time.Duration `yaml:"ttl"`
		} `yaml:"redis"`
	} `yaml:"store"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
	} `yaml:"kafka"`
	Ingest struct {
		Enabled    bool          `yaml:"enabled"`
		Topic      string        `yaml:"topic" default:"patterns.observations"`
		GroupID    string        `yaml:"group_id" default:"pattern-engine"`
		Workers    int           `yaml:"workers" default:"2"`
		BufferSize int           `yaml:"buffer_size" default:"64"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
		DLQTopic   string        `yaml:"dlq_topic"`
	} `yaml:"ingest"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	_ = defaults.Set(&c)
	return &c
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// LoadWithEnv loads config from YAML and overrides with environment variables
// before validating. An empty path starts from the defaults.
func LoadWithEnv(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if c, err = decode(b); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("PATTERN_STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("GRAPH_SERVICE_URL"); v != "" {
		c.Store.Graph.URL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("HTTP_PORT: %w", err)
		}
		c.Server.Port = port
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func decode(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Clustering.MinK < 1 || c.Clustering.MaxK < c.Clustering.MinK {
		return fmt.Errorf("clustering: need 1 <= min_k <= max_k, got %d..%d", c.Clustering.MinK, c.Clustering.MaxK)
	}
	if t := c.Consolidation.GroupThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("consolidation.group_threshold must be in (0,1], got %v", t)
	}

	switch c.Store.Type {
	case StoreNone, StoreRedis:
	case StoreGraph:
		if c.Store.Graph.URL == "" {
			return fmt.Errorf("store.graph.url is required for store type %q", c.Store.Type)
		}
	case StoreKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required for store type %q", c.Store.Type)
		}
	case StoreClickHouse:
		if c.Store.ClickHouse.Host == "" {
			return fmt.Errorf("store.clickhouse.host is required for store type %q", c.Store.Type)
		}
	default:
		return fmt.Errorf("store.type must be one of none, graph, kafka, clickhouse, redis, got '%s'", c.Store.Type)
	}

	if c.Ingest.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when ingest is enabled")
	}
	return nil
}
