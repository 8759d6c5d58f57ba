package store

import (
	"context"
	"embed"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-sync/internal/db"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// advisoryLockID serializes concurrent migration runs across processes.
const advisoryLockID = 7741530

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*Postgres)(nil)

// PoolConfig tunes the underlying pgx pool.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// preparedStatements are warmed on every new connection so the hot claim
// paths skip the parse round trip.
var preparedStatements = map[string]string{
	"claim_page_task":        claimPageTaskSQL,
	"claim_stage_record_any": claimStageRecordAnySQL,
	"claim_summarization":    claimSummarizationTaskSQL,
	"next_schedulable":       nextSchedulableMeetingSQL,
}

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, connString string, cfg PoolConfig) (*Postgres, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "store: parse conn string")
	}

	if cfg.MaxConns > 0 {
		pgxCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pgxCfg.MinConns = cfg.MinConns
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "store: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "store: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "store: ping")
	}

	return &Postgres{pool: pool, closeFn: pool.Close}, nil
}

// NewFromPool wraps an existing pool. Used by tests with pgxmock.
func NewFromPool(pool db.Pool) *Postgres {
	return &Postgres{pool: pool, closeFn: func() {}}
}

// Ping verifies the database is reachable.
func (s *Postgres) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return eris.Wrap(err, "store: ping")
	}
	return nil
}

// Close releases the connection pool.
func (s *Postgres) Close() { s.closeFn() }

// Migrate applies embedded schema migrations in filename order. An advisory
// lock makes it safe to run from every process at startup.
func (s *Postgres) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store"))

	if _, err := s.pool.Exec(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockID); err != nil {
		return eris.Wrap(err, "store: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, `SELECT pg_advisory_unlock($1)`, advisoryLockID); err != nil {
			log.Warn("failed to release migration lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return eris.Wrap(err, "store: create schema_migrations")
	}

	applied := map[string]bool{}
	rows, err := s.pool.Query(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return eris.Wrap(err, "store: read applied migrations")
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return eris.Wrap(err, "store: scan migration row")
		}
		applied[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "store: iterate migrations")
	}

	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return eris.Wrap(err, "store: read embedded migrations")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if applied[name] {
			continue
		}
		sql, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "store: read migration %s", name)
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return eris.Wrapf(err, "store: apply migration %s", name)
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
			return eris.Wrapf(err, "store: record migration %s", name)
		}
		log.Info("applied migration", zap.String("file", name))
	}

	return nil
}
