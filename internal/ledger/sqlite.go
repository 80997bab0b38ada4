package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps the ledger in a tool_stats table, one row per tool.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tool_stats (
		tool TEXT PRIMARY KEY,
		total_calls INTEGER NOT NULL,
		successful_calls INTEGER NOT NULL,
		failed_calls INTEGER NOT NULL,
		avg_execution_time REAL NOT NULL,
		last_errors TEXT
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Load reads every row.
func (s *SQLiteStore) Load() (map[string]Stats, error) {
	rows, err := s.db.Query(`SELECT tool, total_calls, successful_calls, failed_calls, avg_execution_time, last_errors FROM tool_stats`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Stats)
	for rows.Next() {
		var (
			tool     string
			st       Stats
			lastErrs sql.NullString
		)
		if err := rows.Scan(&tool, &st.TotalCalls, &st.SuccessfulCalls, &st.FailedCalls, &st.AvgExecutionTime, &lastErrs); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		if lastErrs.Valid && lastErrs.String != "" {
			if err := json.Unmarshal([]byte(lastErrs.String), &st.LastErrors); err != nil {
				return nil, fmt.Errorf("failed to parse errors for %s: %w", tool, err)
			}
		}
		out[tool] = st
	}
	return out, rows.Err()
}

// Save upserts every tool in a single transaction.
func (s *SQLiteStore) Save(stats map[string]Stats) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO tool_stats (tool, total_calls, successful_calls, failed_calls, avg_execution_time, last_errors)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tool) DO UPDATE SET
			total_calls = excluded.total_calls,
			successful_calls = excluded.successful_calls,
			failed_calls = excluded.failed_calls,
			avg_execution_time = excluded.avg_execution_time,
			last_errors = excluded.last_errors
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for tool, st := range stats {
		errs, err := json.Marshal(st.LastErrors)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(tool, st.TotalCalls, st.SuccessfulCalls, st.FailedCalls, st.AvgExecutionTime, string(errs)); err != nil {
			return fmt.Errorf("failed to save %s: %w", tool, err)
		}
	}
	return tx.Commit()
}
