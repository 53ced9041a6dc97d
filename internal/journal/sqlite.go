package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

// SQLiteSink persists journal entries durably. Entries from concurrent
// runs interleave in insertion order; (run_id, seq) is the authoritative
// per-run ordering.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the journal database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal schema: %w", err)
	}
	return s, nil
}

// NewSQLiteSinkWithDB wraps an existing connection.
func NewSQLiteSinkWithDB(db *sql.DB) (*SQLiteSink, error) {
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate journal schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS journal_entries (
			run_id    TEXT NOT NULL,
			seq       INTEGER NOT NULL,
			ts        TEXT NOT NULL,
			agent_id  TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			kind      TEXT NOT NULL,
			data      TEXT,
			PRIMARY KEY (run_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_journal_agent ON journal_entries(agent_id);
		CREATE INDEX IF NOT EXISTS idx_journal_kind ON journal_entries(kind);
	`)
	return err
}

// Close closes the database connection.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Append implements Sink.
func (s *SQLiteSink) Append(e Entry) error {
	var data []byte
	if len(e.Data) > 0 {
		var err error
		data, err = json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("marshal entry data: %w", err)
		}
	}
	_, err := s.db.Exec(`
		INSERT INTO journal_entries (run_id, seq, ts, agent_id, iteration, kind, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.RunID, e.Seq, e.Timestamp.UTC().Format(time.RFC3339Nano), e.AgentID, e.Iteration, e.Kind, data)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// EntriesForRun loads one run's entries in sequence order.
func (s *SQLiteSink) EntriesForRun(runID string) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT run_id, seq, ts, agent_id, iteration, kind, data
		FROM journal_entries WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts string
		var data []byte
		if err := rows.Scan(&e.RunID, &e.Seq, &ts, &e.AgentID, &e.Iteration, &e.Kind, &data); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse entry timestamp: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("unmarshal entry data: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Runs lists distinct run IDs, most recently started first.
func (s *SQLiteSink) Runs(limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT run_id FROM journal_entries WHERE seq = 1 ORDER BY ts DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
