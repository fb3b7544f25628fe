// Package storage provides SQLite-backed persistence for market snapshots,
// the portfolio balance and the alert log.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/riskwatch/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db           *sql.DB
	maxSnapshots int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/riskwatch/data.db.
func New(maxSnapshots int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "riskwatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	s := &Storage{db: db, maxSnapshots: maxSnapshots}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Storage) Ping() error {
	return s.db.Ping()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS market_context (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			risk_score          INTEGER NOT NULL DEFAULT 0,
			hype_score          INTEGER NOT NULL DEFAULT 0,
			sentiment           TEXT NOT NULL,
			sentiment_score     INTEGER NOT NULL DEFAULT 0,
			price_change_24h    REAL NOT NULL DEFAULT 0,
			polymarket_avg_odds REAL NOT NULL DEFAULT 0.5,
			btc_price           REAL NOT NULL DEFAULT 0,
			summary             TEXT,
			created_at          INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS portfolio (
			id          INTEGER PRIMARY KEY CHECK (id = 1),
			balance_usd REAL NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id               TEXT PRIMARY KEY,
			alert_type       TEXT NOT NULL,
			metric           TEXT,
			risk_score       INTEGER NOT NULL,
			hype_score       INTEGER NOT NULL,
			btc_price        REAL NOT NULL,
			price_change_24h REAL NOT NULL,
			message          TEXT NOT NULL,
			created_at       INTEGER NOT NULL,
			spoken           INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_market_context_created_at ON market_context(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AddSnapshot inserts snap and sets its ID.
func (s *Storage) AddSnapshot(snap *models.MarketContext) error {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	res, err := s.db.Exec(`
		INSERT INTO market_context
			(risk_score, hype_score, sentiment, sentiment_score, price_change_24h,
			 polymarket_avg_odds, btc_price, summary, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		snap.RiskScore, snap.HypeScore, string(snap.Sentiment), snap.SentimentScore,
		snap.PriceChange24h, snap.PolymarketAvgOdds, snap.BTCPrice, snap.Summary,
		snap.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read snapshot id: %w", err)
	}

	snap.ID = id
	return nil
}

// GetLatestSnapshot returns the newest snapshot, or nil when none exist.
func (s *Storage) GetLatestSnapshot() (*models.MarketContext, error) {
	row := s.db.QueryRow(`SELECT ` + snapshotCols + ` FROM market_context ORDER BY created_at DESC, id DESC LIMIT 1`)
	snap, err := scanSnapshot(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return snap, nil
}

// GetRecentSnapshots returns up to limit snapshots, newest first.
func (s *Storage) GetRecentSnapshots(limit int) ([]*models.MarketContext, error) {
	rows, err := s.db.Query(`SELECT `+snapshotCols+` FROM market_context ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []*models.MarketContext{}
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// WriteBackRiskScore stores the monitor's score on snapshot id.
func (s *Storage) WriteBackRiskScore(id int64, score int) error {
	if score < 0 || score > 100 {
		return fmt.Errorf("risk score %d out of range", score)
	}
	res, err := s.db.Exec(`UPDATE market_context SET risk_score = ? WHERE id = ?`, score, id)
	if err != nil {
		return fmt.Errorf("failed to write back risk score: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("snapshot not found: %d", id)
	}
	return nil
}

// RotateSnapshots keeps at most maxSnapshots newest snapshots.
func (s *Storage) RotateSnapshots() error {
	if s.maxSnapshots <= 0 {
		return nil
	}
	_, err := s.db.Exec(`
		DELETE FROM market_context WHERE id NOT IN (
			SELECT id FROM market_context ORDER BY created_at DESC, id DESC LIMIT ?
		)`, s.maxSnapshots)
	if err != nil {
		return fmt.Errorf("failed to rotate snapshots: %w", err)
	}
	return nil
}

// GetPortfolioBalance returns the stored USD balance and whether one is set.
func (s *Storage) GetPortfolioBalance() (float64, bool, error) {
	var balance float64
	err := s.db.QueryRow(`SELECT balance_usd FROM portfolio WHERE id = 1`).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get portfolio balance: %w", err)
	}
	return balance, true, nil
}

func (s *Storage) SetPortfolioBalance(balance float64) error {
	if balance < 0 {
		return errors.New("portfolio balance must not be negative")
	}
	_, err := s.db.Exec(`
		INSERT INTO portfolio (id, balance_usd, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET balance_usd = excluded.balance_usd, updated_at = excluded.updated_at`,
		balance, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to set portfolio balance: %w", err)
	}
	return nil
}

func (s *Storage) AddAlert(alert *models.AlertPayload) error {
	if alert.ID == "" {
		return errors.New("alert id must not be empty")
	}
	_, err := s.db.Exec(`
		INSERT INTO alerts
			(id, alert_type, metric, risk_score, hype_score, btc_price,
			 price_change_24h, message, created_at, spoken)
		VALUES (?,?,?,?,?,?,?,?,?,0)`,
		alert.ID, alert.AlertType, alert.Metric, alert.RiskScore, alert.HypeScore,
		alert.BTCPrice, alert.PriceChange24h, alert.Message, alert.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// MarkAlertSpoken records that alert id was handed to a voice session.
func (s *Storage) MarkAlertSpoken(id string) error {
	if _, err := s.db.Exec(`UPDATE alerts SET spoken = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to mark alert spoken: %w", err)
	}
	return nil
}

// AlertRecord is a logged alert with its delivery flag.
type AlertRecord struct {
	models.AlertPayload
	Spoken bool `json:"spoken"`
}

// GetRecentAlerts returns up to limit alerts, newest first.
func (s *Storage) GetRecentAlerts(limit int) ([]AlertRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, alert_type, metric, risk_score, hype_score, btc_price,
		       price_change_24h, message, created_at, spoken
		FROM alerts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []AlertRecord{}
	for rows.Next() {
		var a AlertRecord
		var metric sql.NullString
		var createdAtNano int64
		var spoken int

		err := rows.Scan(
			&a.ID, &a.AlertType, &metric, &a.RiskScore, &a.HypeScore, &a.BTCPrice,
			&a.PriceChange24h, &a.Message, &createdAtNano, &spoken,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		a.Metric = metric.String
		a.CreatedAt = time.Unix(0, createdAtNano)
		a.Spoken = spoken != 0
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

const snapshotCols = `id, risk_score, hype_score, sentiment, sentiment_score, price_change_24h,
	polymarket_avg_odds, btc_price, summary, created_at`

func scanSnapshot(scan func(...any) error) (*models.MarketContext, error) {
	var c models.MarketContext
	var sentiment string
	var summary sql.NullString
	var createdAtNano int64
	err := scan(
		&c.ID, &c.RiskScore, &c.HypeScore, &sentiment, &c.SentimentScore, &c.PriceChange24h,
		&c.PolymarketAvgOdds, &c.BTCPrice, &summary, &createdAtNano,
	)
	if err != nil {
		return nil, err
	}
	c.Sentiment = models.Sentiment(sentiment)
	c.Summary = summary.String
	c.CreatedAt = time.Unix(0, createdAtNano)
	return &c, nil
}
