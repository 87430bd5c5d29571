package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Config describes one ClickHouse endpoint. Zero fields take defaults.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	// UseHTTP selects the HTTP interface instead of the native protocol.
	UseHTTP bool
	// AsyncInsert buffers inserts server side; WaitForAsync blocks until flushed.
	AsyncInsert  bool
	WaitForAsync bool

	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 9000
		if c.UseHTTP {
			c.Port = 8123
		}
	}
	if c.Database == "" {
		c.Database = "default"
	}
	if c.User == "" {
		c.User = "default"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	return c
}

// Options maps cfg onto driver options.
func Options(cfg Config) *clickhouse.Options {
	cfg = cfg.withDefaults()
	opt := &clickhouse.Options{
		Addr: []string{net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Protocol:        clickhouse.Native,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
	if cfg.UseHTTP {
		opt.Protocol = clickhouse.HTTP
	}
	if cfg.AsyncInsert {
		opt.Settings = clickhouse.Settings{"async_insert": 1, "wait_for_async_insert": 0}
		if cfg.WaitForAsync {
			opt.Settings["wait_for_async_insert"] = 1
		}
	}
	return opt
}

// Client owns a database/sql pool on the clickhouse driver.
type Client struct {
	db *sql.DB
}

// NewClient opens the pool and pings it within cfg.DialTimeout.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("clickhouse: host is required")
	}
	opt := Options(cfg)
	db := clickhouse.OpenDB(opt)

	pingCtx, cancel := context.WithTimeout(ctx, opt.DialTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping %s: %w", opt.Addr[0], err)
	}
	return &Client{db: db}, nil
}

func (c *Client) DB() *sql.DB { return c.db }

func (c *Client) Health(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *Client) Close() error { return c.db.Close() }

// InitSchema runs idempotent DDL in order and stops at the first failure.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for i, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema statement %d: %w", i, err)
		}
	}
	return nil
}
