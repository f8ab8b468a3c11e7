package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver

	"placelink-backend/internal/shared/telemetry"
)

// Options sizes the connection pool behind the cache store.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

const defaultPingTimeout = 5 * time.Second

var openDB = sql.Open

// DefaultServerOptions suits the API server and warmup worker, which share one pool
// between request handlers and background jobs.
func DefaultServerOptions() Options {
	return Options{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 2 * time.Minute,
		PingTimeout:     defaultPingTimeout,
	}
}

// DefaultMigrateOptions suits one-shot schema changes.
func DefaultMigrateOptions() Options {
	opts := DefaultServerOptions()
	opts.MaxOpenConns = 1
	opts.MaxIdleConns = 1
	return opts
}

// OptionsFromEnv applies DB_* overrides on top of base. Malformed values are logged and ignored.
func OptionsFromEnv(base Options) Options {
	opts := base
	ints := map[string]*int{
		"DB_MAX_OPEN_CONNS": &opts.MaxOpenConns,
		"DB_MAX_IDLE_CONNS": &opts.MaxIdleConns,
	}
	for key, dst := range ints {
		raw, ok := lookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			telemetry.Warn("db.env_invalid", map[string]any{"key": key, "value": raw, "error": err.Error()})
			continue
		}
		*dst = n
	}
	durations := map[string]*time.Duration{
		"DB_CONN_MAX_LIFETIME":  &opts.ConnMaxLifetime,
		"DB_CONN_MAX_IDLE_TIME": &opts.ConnMaxIdleTime,
		"DB_PING_TIMEOUT":       &opts.PingTimeout,
	}
	for key, dst := range durations {
		raw, ok := lookupEnv(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			telemetry.Warn("db.env_invalid", map[string]any{"key": key, "value": raw, "error": err.Error()})
			continue
		}
		*dst = d
	}
	return opts
}

// Connect opens the Postgres pool backing the result cache and pings it before returning.
// Callers share the returned handle and close it on shutdown.
func Connect(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("DATABASE_URL is empty")
	}

	pool, err := openDB("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	opts = opts.withDefaults()
	pool.SetMaxOpenConns(opts.MaxOpenConns)
	pool.SetMaxIdleConns(opts.MaxIdleConns)
	pool.SetConnMaxLifetime(opts.ConnMaxLifetime)
	if opts.ConnMaxIdleTime > 0 {
		pool.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	stats := pool.Stats()
	telemetry.Info("db.connected", map[string]any{
		"driver":    "pgx",
		"max_open":  stats.MaxOpenConnections,
		"open":      stats.OpenConnections,
		"idle":      stats.Idle,
		"max_idle":  opts.MaxIdleConns,
		"ping_wait": opts.PingTimeout.String(),
	})
	return pool, nil
}

func (o Options) withDefaults() Options {
	def := DefaultServerOptions()
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = def.MaxOpenConns
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = def.MaxIdleConns
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = defaultPingTimeout
	}
	return o
}

func lookupEnv(key string) (string, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	return raw, raw != ""
}
