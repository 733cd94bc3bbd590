// Package postgres implements the history store interface for PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" //nolint:gci // load the postgres driver that is used by the system

	"github.com/twputra/sentrysol-beta-v2/lib/store"
)

const createTable = `CREATE TABLE IF NOT EXISTS wallet_analyses (
	id             TEXT PRIMARY KEY,
	wallet_address TEXT NOT NULL,
	analysis_data  JSONB NOT NULL,
	risk_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
	risk_level     TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS wallet_analyses_address_created
	ON wallet_analyses (wallet_address, created_at DESC)`

const (
	insertAnalysis = `INSERT INTO wallet_analyses (id, wallet_address, analysis_data, risk_score, risk_level, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	selectHistory = `SELECT id, wallet_address, analysis_data, risk_score, risk_level, created_at
FROM wallet_analyses WHERE wallet_address = $1 ORDER BY created_at DESC LIMIT $2`
	deleteHistory = `DELETE FROM wallet_analyses WHERE wallet_address = $1`
)

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection' and creates the history table
// when missing.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	p := NewWithDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	if err = p.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return p, nil
}

// NewWithDB wraps an open database handle.
func NewWithDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the history table and its index if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("cannot create %s table: %w", store.Table, err)
	}
	return nil
}

// Close will close any database connection. Must be called at termination time.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Ping checks the connection to the server.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// SaveAnalysis inserts an analysis.
func (p *Postgres) SaveAnalysis(ctx context.Context, a store.Analysis) (string, error) {
	if err := store.Check(&a, uuid.NewString, time.Now); err != nil {
		return "", err
	}

	_, err := p.db.ExecContext(ctx, insertAnalysis, a.ID, a.WalletAddress, []byte(a.AnalysisData), a.RiskScore,
		a.RiskLevel, a.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("could not insert analysis in db: %w", err)
	}

	return a.ID, nil
}

// GetHistory returns the latest analyses of address.
func (p *Postgres) GetHistory(ctx context.Context, address string, limit int) ([]store.Analysis, error) {
	rows, err := p.db.QueryContext(ctx, selectHistory, address, store.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("error reading history: %w", err)
	}
	defer rows.Close()

	res := []store.Analysis{}
	for rows.Next() {
		var a store.Analysis
		var data []byte
		if err = rows.Scan(&a.ID, &a.WalletAddress, &data, &a.RiskScore, &a.RiskLevel, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning analysis: %w", err)
		}
		a.AnalysisData = data
		a.CreatedAt = a.CreatedAt.UTC()
		res = append(res, a)
	}

	return res, rows.Err()
}

// DeleteHistory deletes every analysis of address.
func (p *Postgres) DeleteHistory(ctx context.Context, address string) (int64, error) {
	res, err := p.db.ExecContext(ctx, deleteHistory, address)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, store.ErrNotFound
	}

	return n, nil
}
