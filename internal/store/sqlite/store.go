// Package sqlite implements the relational store on an embedded SQLite
// database. It is the zero-setup alternative to the Postgres store and the
// default for local runs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"coinwatch/internal/model"
)

// Store implements model.Store on SQLite.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens (or creates) the database at dbPath, enables WAL mode and
// applies the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", dbPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			market      TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			granularity TEXT    NOT NULL,
			open        REAL    NOT NULL,
			high        REAL    NOT NULL,
			low         REAL    NOT NULL,
			close       REAL    NOT NULL,
			volume      REAL,
			amount      REAL,
			PRIMARY KEY (market, ts)
		);

		CREATE TABLE IF NOT EXISTS ma_records (
			market       TEXT    NOT NULL,
			ts           INTEGER NOT NULL,
			windows      TEXT    NOT NULL,
			golden_cross INTEGER NOT NULL,
			dead_cross   INTEGER NOT NULL,
			computed_at  INTEGER NOT NULL,
			PRIMARY KEY (market, ts)
		);
	`)
	return err
}

// UpsertCandles inserts candles in one transaction, replacing rows that
// share (market, ts) so the in-progress candle may be rewritten until it
// closes.
func (s *Store) UpsertCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (market, ts, granularity, open, high, low, close, volume, amount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, c.Market, c.TS.Unix(), string(c.Granularity),
			c.Open, c.High, c.Low, c.Close, c.Volume, c.Amount)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite upsert %s: %w", c.Market, err)
		}
	}

	return tx.Commit()
}

// MaxTimestamps returns the latest persisted candle timestamp per market.
func (s *Store) MaxTimestamps(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT market, MAX(ts) FROM candles GROUP BY market`)
	if err != nil {
		return nil, fmt.Errorf("sqlite max timestamps: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var market string
		var ts int64
		if err := rows.Scan(&market, &ts); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		out[market] = time.Unix(ts, 0).UTC()
	}
	return out, rows.Err()
}

// WindowAverages returns the mean close per market over candles newer than
// since.
func (s *Store) WindowAverages(ctx context.Context, since time.Time) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT market, AVG(close) FROM candles WHERE ts > ? GROUP BY market`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite window averages: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var market string
		var avg float64
		if err := rows.Scan(&market, &avg); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		out[market] = avg
	}
	return out, rows.Err()
}

// RecentCloses returns one market's closes with ts > since, oldest first.
func (s *Store) RecentCloses(ctx context.Context, market string, since time.Time, limit int) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT close FROM candles
		WHERE market = ? AND ts > ?
		ORDER BY ts ASC
		LIMIT ?
	`, market, since.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite recent closes: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertMARecords inserts MA records, replacing rows that share (market, ts).
// The per-window averages go in as one JSON column.
func (s *Store) UpsertMARecords(ctx context.Context, records []model.MARecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO ma_records (market, ts, windows, golden_cross, dead_cross, computed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		windows, err := json.Marshal(r.Windows)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal windows for %s: %w", r.Market, err)
		}
		_, err = stmt.ExecContext(ctx, r.Market, r.TS.Unix(), string(windows),
			boolInt(r.GoldenCross), boolInt(r.DeadCross), r.ComputedAt.Unix())
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite upsert %s: %w", r.Market, err)
		}
	}

	return tx.Commit()
}

// MARecordsAt returns the records persisted for exactly ts, keyed by market.
func (s *Store) MARecordsAt(ctx context.Context, ts time.Time) (map[string]model.MARecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market, ts, windows, golden_cross, dead_cross, computed_at
		FROM ma_records WHERE ts = ?
	`, ts.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite ma records: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.MARecord)
	for rows.Next() {
		var r model.MARecord
		var tsUnix, computedUnix int64
		var windows string
		var golden, dead int
		if err := rows.Scan(&r.Market, &tsUnix, &windows, &golden, &dead, &computedUnix); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		if err := json.Unmarshal([]byte(windows), &r.Windows); err != nil {
			return nil, fmt.Errorf("unmarshal windows for %s: %w", r.Market, err)
		}
		r.TS = time.Unix(tsUnix, 0).UTC()
		r.ComputedAt = time.Unix(computedUnix, 0).UTC()
		r.GoldenCross = golden != 0
		r.DeadCross = dead != 0
		out[r.Market] = r
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
