// Package knowledge provides long-term memory for agents as
// subject/predicate/object triples with confidence scores, plus the
// bridge that surfaces them to the reasoning loop.
package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Item is one stored triple, optionally annotated with a relevance
// score when returned from a query.
type Item struct {
	ID         uuid.UUID `json:"id"`
	Subject    string    `json:"subject"`
	Predicate  string    `json:"predicate"`
	Object     string    `json:"object"`
	Confidence float64   `json:"confidence"` // 0-1, how certain
	Score      float64   `json:"score,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// Text renders the triple as a single readable line.
func (i Item) Text() string {
	return fmt.Sprintf("%s %s %s", i.Subject, i.Predicate, i.Object)
}

// Store is the query interface the bridge consumes. Implementations
// own indexing and ranking internals.
type Store interface {
	// Query returns at most k items ranked by relevance to text.
	Query(ctx context.Context, text string, k int) ([]Item, error)
	// Store creates or updates the triple identified by subject+predicate.
	Store(ctx context.Context, subject, predicate, object string, confidence float64) (*Item, error)
}

// ScoreFunc ranks a candidate item against the query terms. Higher is
// more relevant; items scoring <= 0 are excluded from results.
type ScoreFunc func(item Item, terms []string) float64

// DefaultScore counts query-term hits across the triple's fields and
// weights the total by stored confidence.
func DefaultScore(item Item, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	text := strings.ToLower(item.Text())
	hits := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	conf := item.Confidence
	if conf <= 0 {
		conf = 0.1
	}
	return float64(hits) / float64(len(terms)) * conf
}

// SQLiteStore persists triples in a sqlite database.
type SQLiteStore struct {
	db      *sql.DB
	score   ScoreFunc
	nowFunc func() time.Time
}

// NewSQLiteStore opens (creating if needed) a triple store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &SQLiteStore{db: db, score: DefaultScore, nowFunc: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewSQLiteStoreWithDB wraps an existing database connection.
func NewSQLiteStoreWithDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, score: DefaultScore, nowFunc: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// SetScoreFunc replaces the ranking function used by Query.
func (s *SQLiteStore) SetScoreFunc(f ScoreFunc) {
	if f != nil {
		s.score = f
	}
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS triples (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object TEXT NOT NULL,
			confidence REAL DEFAULT 1.0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			accessed_at TEXT NOT NULL,
			UNIQUE(subject, predicate)
		);

		CREATE INDEX IF NOT EXISTS idx_triples_subject ON triples(subject);
		CREATE INDEX IF NOT EXISTS idx_triples_accessed ON triples(accessed_at DESC);
	`)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Store creates or updates a triple. An existing subject+predicate
// pair is overwritten with the new object and confidence.
func (s *SQLiteStore) Store(ctx context.Context, subject, predicate, object string, confidence float64) (*Item, error) {
	subject = strings.TrimSpace(subject)
	predicate = strings.TrimSpace(predicate)
	if subject == "" || predicate == "" {
		return nil, fmt.Errorf("subject and predicate are required")
	}
	if confidence <= 0 || confidence > 1 {
		confidence = 1.0
	}
	now := s.nowFunc().UTC()

	var existingID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM triples WHERE subject = ? AND predicate = ?`,
		subject, predicate).Scan(&existingID)

	if err == sql.ErrNoRows {
		id, _ := uuid.NewV7()
		item := &Item{
			ID:         id,
			Subject:    subject,
			Predicate:  predicate,
			Object:     object,
			Confidence: confidence,
			CreatedAt:  now,
			UpdatedAt:  now,
			AccessedAt: now,
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO triples (id, subject, predicate, object, confidence, created_at, updated_at, accessed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, id.String(), subject, predicate, object, confidence,
			now.Format(time.RFC3339), now.Format(time.RFC3339), now.Format(time.RFC3339))
		if err != nil {
			return nil, fmt.Errorf("insert: %w", err)
		}
		return item, nil
	} else if err != nil {
		return nil, fmt.Errorf("check existing: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE triples SET object = ?, confidence = ?, updated_at = ?, accessed_at = ?
		WHERE subject = ? AND predicate = ?
	`, object, confidence, now.Format(time.RFC3339), now.Format(time.RFC3339), subject, predicate)
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}

	id, _ := uuid.Parse(existingID)
	return &Item{
		ID:         id,
		Subject:    subject,
		Predicate:  predicate,
		Object:     object,
		Confidence: confidence,
		UpdatedAt:  now,
		AccessedAt: now,
	}, nil
}

// Query ranks stored triples against the query text and returns the
// top k. Returned items have their accessed timestamps refreshed.
func (s *SQLiteStore) Query(ctx context.Context, text string, k int) ([]Item, error) {
	terms := Terms(text)
	if len(terms) == 0 || k <= 0 {
		return nil, nil
	}

	// Pull LIKE candidates per term, score and rank in memory.
	seen := make(map[string]Item)
	for _, t := range terms {
		pattern := "%" + t + "%"
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, subject, predicate, object, confidence, created_at, updated_at, accessed_at
			FROM triples
			WHERE subject LIKE ? OR predicate LIKE ? OR object LIKE ?
			LIMIT 100
		`, pattern, pattern, pattern)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			seen[item.ID.String()] = item
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	var ranked []Item
	for _, item := range seen {
		if sc := s.score(item, terms); sc > 0 {
			item.Score = sc
			ranked = append(ranked, item)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].AccessedAt.After(ranked[j].AccessedAt)
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	now := s.nowFunc().UTC()
	for i := range ranked {
		_, _ = s.db.ExecContext(ctx, `UPDATE triples SET accessed_at = ? WHERE id = ?`,
			now.Format(time.RFC3339), ranked[i].ID.String())
		ranked[i].AccessedAt = now
	}
	return ranked, nil
}

// Count returns the number of stored triples.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM triples`).Scan(&n)
	return n, err
}

func scanItem(rows *sql.Rows) (Item, error) {
	var it Item
	var idStr, createdStr, updatedStr, accessedStr string
	err := rows.Scan(&idStr, &it.Subject, &it.Predicate, &it.Object, &it.Confidence,
		&createdStr, &updatedStr, &accessedStr)
	if err != nil {
		return Item{}, err
	}
	it.ID, _ = uuid.Parse(idStr)
	it.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	it.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	it.AccessedAt, _ = time.Parse(time.RFC3339, accessedStr)
	return it, nil
}

// Terms splits free text into lowercase search terms, dropping short
// and stop words.
func Terms(text string) []string {
	var terms []string
	seen := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		if len(w) < 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
		if len(terms) >= 8 {
			break
		}
	}
	return terms
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"what": true, "when": true, "where": true, "which": true, "with": true,
	"this": true, "that": true, "from": true, "have": true, "has": true,
	"you": true, "your": true, "can": true, "could": true, "would": true,
	"please": true, "tell": true, "about": true, "how": true, "does": true,
}
