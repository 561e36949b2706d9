// Package history persists submitted input lines across sessions in a
// local SQLite database. Sessions share one database keyed by session
// id so a new shell can recall lines from earlier runs.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"circuitshell/internal/logging"
)

// DefaultFileName is the database file created under the state dir.
const DefaultFileName = "history.db"

// Store is a SQLite-backed history store. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open creates or opens the history database under stateDir.
func Open(stateDir string) (*Store, error) {
	dbPath := filepath.Join(stateDir, DefaultFileName)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// SQLite and multiple writer connections do not mix well.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}

	logging.Get(logging.CategoryHistory).Info("history store opened at %s", dbPath)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS lines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		line TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_lines_session ON lines(session_id);
	CREATE INDEX IF NOT EXISTS idx_lines_created ON lines(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append records one submitted line for a session.
func (s *Store) Append(sessionID, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO lines (session_id, line, created_at) VALUES (?, ?, ?)`,
		sessionID, line, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending history line: %w", err)
	}
	return nil
}

// Recent returns up to limit lines across all sessions, oldest first.
func (s *Store) Recent(limit int) ([]string, error) {
	return s.recentWhere("", limit)
}

// RecentForSession returns up to limit lines for one session, oldest
// first.
func (s *Store) RecentForSession(sessionID string, limit int) ([]string, error) {
	return s.recentWhere(sessionID, limit)
}

func (s *Store) recentWhere(sessionID string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if sessionID == "" {
		rows, err = s.db.Query(
			`SELECT line FROM lines ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(
			`SELECT line FROM lines WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
			sessionID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history rows: %w", err)
	}

	// Query is newest-first for the LIMIT; callers want oldest-first.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}

// Prune deletes lines older than the retention window, returning how
// many were removed.
func (s *Store) Prune(retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.db.Exec(`DELETE FROM lines WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	return res.RowsAffected()
}
