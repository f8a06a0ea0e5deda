package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"trendtrader/pkg/models"
)

// SQLiteRecorder persists trade history and scan snapshots to a SQLite
// database the dashboard reads concurrently.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *logrus.Logger
}

func NewSQLiteRecorder(dbPath string, logger *logrus.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so dashboard reads don't block engine writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, logger: logger}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.WithField("path", dbPath).Info("SQLite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp     INTEGER NOT NULL,
			symbol        TEXT NOT NULL,
			entry_price   REAL,
			exit_price    REAL,
			volume        REAL,
			pnl           REAL,
			profit_rate   REAL,
			add_buy_count INTEGER,
			reason        TEXT,
			entry_time    INTEGER,
			exit_time     INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(timestamp)`,

		`CREATE TABLE IF NOT EXISTS scans (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			candidates TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_ts ON scans(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:32], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordTrade(rec *models.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO trades
		(timestamp, symbol, entry_price, exit_price, volume, pnl, profit_rate, add_buy_count, reason, entry_time, exit_time)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		time.Now().Unix(), rec.Symbol, rec.EntryPrice, rec.ExitPrice, rec.Volume,
		rec.PnL, rec.ProfitRate, rec.AddBuyCount, rec.Reason,
		rec.EntryTime.Unix(), rec.ExitTime.Unix(),
	)
	return err
}

func (r *SQLiteRecorder) Trades(limit int) ([]models.TradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT symbol, entry_price, exit_price, volume, pnl, profit_rate, add_buy_count, reason, entry_time, exit_time
		FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []models.TradeRecord
	for rows.Next() {
		var rec models.TradeRecord
		var entryTS, exitTS int64
		if err := rows.Scan(&rec.Symbol, &rec.EntryPrice, &rec.ExitPrice, &rec.Volume,
			&rec.PnL, &rec.ProfitRate, &rec.AddBuyCount, &rec.Reason, &entryTS, &exitTS); err != nil {
			return nil, err
		}
		rec.EntryTime = time.Unix(entryTS, 0)
		rec.ExitTime = time.Unix(exitTS, 0)
		trades = append(trades, rec)
	}
	return trades, rows.Err()
}

func (r *SQLiteRecorder) RecordScan(snap *ScanSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	blob, err := json.Marshal(snap.Candidates)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`INSERT INTO scans (timestamp, candidates) VALUES (?,?)`,
		snap.Timestamp.Unix(), string(blob))
	if err != nil {
		return err
	}

	// Keep the table from growing without bound; only recent scans matter.
	_, err = r.db.Exec(`DELETE FROM scans WHERE id NOT IN (SELECT id FROM scans ORDER BY id DESC LIMIT 500)`)
	return err
}

func (r *SQLiteRecorder) LatestScan() (*ScanSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row := r.db.QueryRow(`SELECT timestamp, candidates FROM scans ORDER BY id DESC LIMIT 1`)
	var ts int64
	var blob string
	if err := row.Scan(&ts, &blob); err != nil {
		if err == sql.ErrNoRows {
			return &ScanSnapshot{}, nil
		}
		return nil, err
	}

	snap := &ScanSnapshot{Timestamp: time.Unix(ts, 0)}
	if err := json.Unmarshal([]byte(blob), &snap.Candidates); err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *SQLiteRecorder) Close() error {
	r.logger.Info("Closing SQLite recorder")
	return r.db.Close()
}
