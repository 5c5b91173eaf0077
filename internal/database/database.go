package database

import (
	"context"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Time sentinels of the bitemporal tables. StartTime marks rows whose
// real begin is unknown; InfiniteTime is the open end of Current rows.
var (
	StartTime    = time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)
	InfiniteTime = time.Date(2999, 12, 31, 23, 59, 59, 0, time.UTC)
)

// Unknown is the sentinel for text-typed columns without a real value,
// notably location coordinates.
const Unknown = "Unknown"

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func Connect(ctx context.Context, databaseURL string, log zerolog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("url", maskDSN(databaseURL)).
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("database connected")

	return &DB{Pool: pool, log: log}, nil
}

func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.Pool.Ping(ctx)
}

// Reset closes all pooled connections; they reopen lazily on the next
// acquire. Used when the writer pauses with close_when_pause set, so a
// paused daemon holds no connection during database maintenance.
func (db *DB) Reset() {
	db.log.Info().Msg("resetting database pool connections")
	db.Pool.Reset()
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}

func (db *DB) Close() {
	db.log.Info().Msg("closing database pool")
	db.Pool.Close()
}
