// Package postgres implements the relational store on PostgreSQL, the
// production deployment target.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"coinwatch/internal/model"
)

// Store implements model.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New connects with the given DSN and applies the schema.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("postgres schema: %w", err)
	}

	log.Printf("[postgres] connected")
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			market      TEXT             NOT NULL,
			ts          TIMESTAMPTZ      NOT NULL,
			granularity TEXT             NOT NULL,
			open        DOUBLE PRECISION NOT NULL,
			high        DOUBLE PRECISION NOT NULL,
			low         DOUBLE PRECISION NOT NULL,
			close       DOUBLE PRECISION NOT NULL,
			volume      DOUBLE PRECISION,
			amount      DOUBLE PRECISION,
			PRIMARY KEY (market, ts)
		);

		CREATE TABLE IF NOT EXISTS ma_records (
			market       TEXT        NOT NULL,
			ts           TIMESTAMPTZ NOT NULL,
			windows      JSONB       NOT NULL,
			golden_cross BOOLEAN     NOT NULL,
			dead_cross   BOOLEAN     NOT NULL,
			computed_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (market, ts)
		);
	`)
	return err
}

// UpsertCandles inserts candles in one transaction; a conflicting
// (market, ts) row has all value columns overwritten.
func (s *Store) UpsertCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (market, ts, granularity, open, high, low, close, volume, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (market, ts) DO UPDATE SET
			granularity = EXCLUDED.granularity,
			open   = EXCLUDED.open,
			high   = EXCLUDED.high,
			low    = EXCLUDED.low,
			close  = EXCLUDED.close,
			volume = EXCLUDED.volume,
			amount = EXCLUDED.amount
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("postgres prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, c.Market, c.TS.UTC(), string(c.Granularity),
			c.Open, c.High, c.Low, c.Close, c.Volume, c.Amount)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("postgres upsert %s: %w", c.Market, err)
		}
	}

	return tx.Commit()
}

// MaxTimestamps returns the latest persisted candle timestamp per market.
func (s *Store) MaxTimestamps(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT market, MAX(ts) FROM candles GROUP BY market`)
	if err != nil {
		return nil, fmt.Errorf("postgres max timestamps: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var market string
		var ts time.Time
		if err := rows.Scan(&market, &ts); err != nil {
			return nil, fmt.Errorf("postgres scan: %w", err)
		}
		out[market] = ts.UTC()
	}
	return out, rows.Err()
}

// WindowAverages returns the mean close per market over candles newer than
// since.
func (s *Store) WindowAverages(ctx context.Context, since time.Time) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT market, AVG(close) FROM candles WHERE ts > $1 GROUP BY market`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres window averages: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var market string
		var avg float64
		if err := rows.Scan(&market, &avg); err != nil {
			return nil, fmt.Errorf("postgres scan: %w", err)
		}
		out[market] = avg
	}
	return out, rows.Err()
}

// RecentCloses returns one market's closes with ts > since, oldest first.
func (s *Store) RecentCloses(ctx context.Context, market string, since time.Time, limit int) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT close FROM candles
		WHERE market = $1 AND ts > $2
		ORDER BY ts ASC
		LIMIT $3
	`, market, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres recent closes: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("postgres scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertMARecords inserts MA records, overwriting on (market, ts) conflict.
func (s *Store) UpsertMARecords(ctx context.Context, records []model.MARecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ma_records (market, ts, windows, golden_cross, dead_cross, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market, ts) DO UPDATE SET
			windows      = EXCLUDED.windows,
			golden_cross = EXCLUDED.golden_cross,
			dead_cross   = EXCLUDED.dead_cross,
			computed_at  = EXCLUDED.computed_at
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("postgres prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		windows, err := json.Marshal(r.Windows)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal windows for %s: %w", r.Market, err)
		}
		_, err = stmt.ExecContext(ctx, r.Market, r.TS.UTC(), windows,
			r.GoldenCross, r.DeadCross, r.ComputedAt.UTC())
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("postgres upsert %s: %w", r.Market, err)
		}
	}

	return tx.Commit()
}

// MARecordsAt returns the records persisted for exactly ts, keyed by market.
func (s *Store) MARecordsAt(ctx context.Context, ts time.Time) (map[string]model.MARecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market, ts, windows, golden_cross, dead_cross, computed_at
		FROM ma_records WHERE ts = $1
	`, ts.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres ma records: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.MARecord)
	for rows.Next() {
		var r model.MARecord
		var windows []byte
		if err := rows.Scan(&r.Market, &r.TS, &windows, &r.GoldenCross, &r.DeadCross, &r.ComputedAt); err != nil {
			return nil, fmt.Errorf("postgres scan: %w", err)
		}
		if err := json.Unmarshal(windows, &r.Windows); err != nil {
			return nil, fmt.Errorf("unmarshal windows for %s: %w", r.Market, err)
		}
		r.TS = r.TS.UTC()
		r.ComputedAt = r.ComputedAt.UTC()
		out[r.Market] = r
	}
	return out, rows.Err()
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}
