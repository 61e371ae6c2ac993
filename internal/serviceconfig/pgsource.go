package serviceconfig

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/admindash/model"
)

// Schema creates the table PgSource reads from.
const Schema = `
CREATE TABLE IF NOT EXISTS service_configs (
	code          TEXT PRIMARY KEY,
	display_order INTEGER NOT NULL DEFAULT 0,
	config        JSONB NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Writer persists changes made through the admin API. Sources that can store
// configs implement it.
type Writer interface {
	Save(ctx context.Context, cfg model.ServiceConfig) error
	Delete(ctx context.Context, code string) error
}

// pgConn is the subset of pgxpool.Pool used by PgSource.
type pgConn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgSource is a PostgreSQL-backed Source using pgx/v5. Each row holds one
// config as JSON.
type PgSource struct {
	conn pgConn
	drop DropFunc
}

// NewPgSource creates a PostgreSQL config source.
func NewPgSource(pool *pgxpool.Pool) *PgSource {
	return &PgSource{conn: pool}
}

// Migrate creates the service_configs table when missing.
func (s *PgSource) Migrate(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create service_configs: %w", err)
	}
	return nil
}

// OnDrop sets the function receiving rows whose body fails to decode.
func (s *PgSource) OnDrop(fn DropFunc) { s.drop = fn }

// Load returns every stored config in display order. Rows with an
// undecodable body are reported through OnDrop and skipped.
func (s *PgSource) Load(ctx context.Context) ([]model.ServiceConfig, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT code, config
		FROM service_configs
		ORDER BY display_order, code`)
	if err != nil {
		return nil, fmt.Errorf("query service configs: %w", err)
	}
	defer rows.Close()

	var out []model.ServiceConfig
	for rows.Next() {
		var (
			code string
			raw  []byte
		)
		if err := rows.Scan(&code, &raw); err != nil {
			return nil, fmt.Errorf("scan service config: %w", err)
		}
		var cfg model.ServiceConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			reportDrop(s.drop, "service_configs:"+code, fmt.Errorf("unmarshal service config %q: %w", code, err))
			continue
		}
		if cfg.Code == "" {
			cfg.Code = code
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate service configs: %w", err)
	}
	return out, nil
}

// Save upserts a config.
func (s *PgSource) Save(ctx context.Context, cfg model.ServiceConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal service config: %w", err)
	}
	_, err = s.conn.Exec(ctx, `
		INSERT INTO service_configs (code, display_order, config, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (code) DO UPDATE SET
			display_order = EXCLUDED.display_order,
			config = EXCLUDED.config,
			updated_at = now()`,
		cfg.Code, cfg.DisplayOrder, raw,
	)
	if err != nil {
		return fmt.Errorf("upsert service config: %w", err)
	}
	return nil
}

// Delete removes a config. Deleting a missing code is not an error.
func (s *PgSource) Delete(ctx context.Context, code string) error {
	if _, err := s.conn.Exec(ctx, `DELETE FROM service_configs WHERE code = $1`, code); err != nil {
		return fmt.Errorf("delete service config: %w", err)
	}
	return nil
}

// HealthCheck pings the database when the connection supports it.
func (s *PgSource) HealthCheck(ctx context.Context) error {
	if p, ok := s.conn.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	_, err := s.conn.Exec(ctx, `SELECT 1`)
	return err
}
