// Package bootstrap opens the backing services shared by cmd/breakoutd and
// cmd/grouper and assembles a breakout.Service from them.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/redis/go-redis/v9"

	"github.com/whisper/breakout/internal/api"
	"github.com/whisper/breakout/internal/attendee"
	"github.com/whisper/breakout/internal/breakout"
	"github.com/whisper/breakout/internal/config"
	"github.com/whisper/breakout/internal/groups"
	"github.com/whisper/breakout/internal/lock"
	"github.com/whisper/breakout/internal/messaging"
	"github.com/whisper/breakout/internal/ratelimit"
)

const connectTimeout = 5 * time.Second

// OpenPostgres opens and pings the database, then applies migrations.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := groups.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenRedis connects and pings Redis.
func OpenRedis(addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// ConnectNATS connects using the configured URL and client name.
func ConnectNATS(cfg *config.Config) (*messaging.NATSClient, error) {
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = cfg.NATSName
	return messaging.NewNATSClient(natsConfig)
}

// NewService wires a breakout.Service. nc may be nil, which disables
// breakout.computed notifications.
func NewService(cfg *config.Config, db *sql.DB, rdb *redis.Client, nc *messaging.NATSClient) *breakout.Service {
	deps := breakout.Deps{
		Attendees: attendee.NewStore(db),
		Groups:    groups.NewStore(db),
		Locker:    breakout.RedisLocker(lock.NewLocker(rdb, cfg.LockTTL)),
		Limiter:   ratelimit.NewLimiter(rdb),
	}
	if nc != nil {
		deps.Notifier = nc
	}
	return breakout.NewService(deps, breakout.Options{
		MinGroupSize:   cfg.MinGroupSize,
		MaxGroupSize:   cfg.MaxGroupSize,
		ComputeTimeout: cfg.ComputeTimeout,
		RateRule:       ratelimit.ComputeRule(cfg.RateLimit, cfg.RateWindow),
	})
}

// Checks returns the readiness checks for the open backends. nc may be nil
// when NATS is not in use.
func Checks(db *sql.DB, rdb *redis.Client, nc *messaging.NATSClient) []api.Check {
	checks := []api.Check{
		{Name: "postgres", Fn: db.PingContext},
		{Name: "redis", Fn: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}
	if nc != nil {
		checks = append(checks, api.Check{Name: "nats", Fn: natsCheck(nc)})
	}
	return checks
}

var errNATSDisconnected = errors.New("nats: not connected")

type connector interface {
	Connected() bool
}

func natsCheck(c connector) func(context.Context) error {
	return func(context.Context) error {
		if !c.Connected() {
			return errNATSDisconnected
		}
		return nil
	}
}
