// Package history keeps a SQLite record of completed utterances so a
// user can see what was spoken, with which voice and via which path.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-speak/internal/config"
)

// Record is one completed utterance.
type Record struct {
	ID        string
	Text      string
	Voice     string
	Engine    string // system, neural
	Route     string // warm, cold, direct
	Duration  time.Duration
	CreatedAt time.Time
}

// Store wraps the SQLite-backed utterance history. A disabled store
// is a valid value whose operations are no-ops.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history store according to config.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if !cfg.Enabled {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on open failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS utterances (
    id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    voice TEXT,
    engine TEXT,
    route TEXT,
    duration_ms INTEGER,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_utterances_created ON utterances(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append writes one utterance record.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO utterances(id, text, voice, engine, route, duration_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Text, rec.Voice, rec.Engine, rec.Route, rec.Duration.Milliseconds(), rec.CreatedAt)
	return err
}

// List retrieves up to limit utterances, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, voice, engine, route, duration_ms, created_at
		 FROM utterances ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var durationMS int64
		var created string
		if err := rows.Scan(&r.ID, &r.Text, &r.Voice, &r.Engine, &r.Route, &durationMS, &created); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Prune applies retention by age and by entry count.
func (s *Store) Prune(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM utterances WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxEntries > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM utterances WHERE id IN (
			SELECT id FROM utterances ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxEntries)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
