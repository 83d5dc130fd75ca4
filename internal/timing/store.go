package timing

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SessionRecord is one finished checkout session.
type SessionRecord struct {
	ID         string
	Platform   string
	ProductURL string
	State      string
	Success    bool
	Reason     string
	FinalURL   string
	StartedAt  time.Time
	Total      time.Duration
	MetBudget  bool
	LoginTries int
}

// Store keeps session history in sqlite.
type Store struct {
	conn *sql.DB
}

// Open creates or opens the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.InitSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		platform TEXT NOT NULL,
		product_url TEXT NOT NULL,
		state TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		reason TEXT,
		final_url TEXT,
		started_at TIMESTAMP NOT NULL,
		total_ms INTEGER NOT NULL,
		met_budget BOOLEAN NOT NULL,
		login_attempts INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		duration_ms INTEGER NOT NULL,
		success BOOLEAN NOT NULL,
		error TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_platform ON sessions(platform);
	CREATE INDEX IF NOT EXISTS idx_metrics_operation ON metrics(operation);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// SaveSession stores rec and its metrics in one transaction.
func (s *Store) SaveSession(rec SessionRecord, metrics []Metric) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO sessions (id, platform, product_url, state, success, reason, final_url, started_at, total_ms, met_budget, login_attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Platform, rec.ProductURL, rec.State, rec.Success, rec.Reason, rec.FinalURL,
		rec.StartedAt, rec.Total.Milliseconds(), rec.MetBudget, rec.LoginTries,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	for _, m := range metrics {
		_, err = tx.Exec(`
			INSERT INTO metrics (session_id, operation, started_at, duration_ms, success, error)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID, m.Operation, m.Start, m.Duration().Milliseconds(), m.Success, m.Error,
		)
		if err != nil {
			return fmt.Errorf("failed to save metric %s: %w", m.Operation, err)
		}
	}

	return tx.Commit()
}

// OperationStats aggregates one operation over stored sessions.
type OperationStats struct {
	Operation string
	Runs      int
	Failures  int
	Average   time.Duration
}

// Stats returns per-operation aggregates for platform, slowest average first.
// An empty platform aggregates every session.
func (s *Store) Stats(platform string) ([]OperationStats, error) {
	rows, err := s.conn.Query(`
		SELECT m.operation, COUNT(*), SUM(CASE WHEN m.success THEN 0 ELSE 1 END), AVG(m.duration_ms)
		FROM metrics m JOIN sessions s ON s.id = m.session_id
		WHERE ? = '' OR s.platform = ?
		GROUP BY m.operation
		ORDER BY AVG(m.duration_ms) DESC`, platform, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	var out []OperationStats
	for rows.Next() {
		var st OperationStats
		var avg float64
		if err := rows.Scan(&st.Operation, &st.Runs, &st.Failures, &avg); err != nil {
			return nil, err
		}
		st.Average = time.Duration(avg * float64(time.Millisecond))
		out = append(out, st)
	}
	return out, rows.Err()
}

// CountSessions returns how many sessions were stored for platform; empty counts all.
func (s *Store) CountSessions(platform string) (int, error) {
	var n int
	var err error
	if platform == "" {
		err = s.conn.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n)
	} else {
		err = s.conn.QueryRow(`SELECT COUNT(*) FROM sessions WHERE platform = ?`, platform).Scan(&n)
	}
	return n, err
}
