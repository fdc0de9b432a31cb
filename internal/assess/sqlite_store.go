package assess

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS assessments (
	id           TEXT PRIMARY KEY,
	chain        TEXT NOT NULL,
	token        TEXT NOT NULL,
	profile      TEXT NOT NULL,
	state        TEXT NOT NULL,
	final_score  REAL,
	tier         TEXT,
	reason       TEXT,
	outcome      TEXT NOT NULL,
	requested_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assessments_token ON assessments (chain, token, requested_at DESC);
`

// SQLiteStore keeps outcome history in a local SQLite file. The CLI uses it
// so repeated runs can be compared without a database server.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the history database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path not specified")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema in %s: %w", path, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Save(ctx context.Context, o *Outcome) error {
	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	var finalScore sql.NullFloat64
	var tier, reason sql.NullString
	if o.Assessment != nil {
		finalScore = sql.NullFloat64{Float64: o.Assessment.FinalScore, Valid: true}
		tier = sql.NullString{String: string(o.Assessment.Tier), Valid: true}
	}
	if o.Failure != nil {
		reason = sql.NullString{String: string(o.Failure.Reason), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assessments (id, chain, token, profile, state, final_score, tier, reason, outcome, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			final_score = excluded.final_score,
			tier = excluded.tier,
			reason = excluded.reason,
			outcome = excluded.outcome
	`,
		o.Request.ID,
		o.Request.Chain,
		o.Request.Token,
		o.Request.Profile,
		string(o.State),
		finalScore,
		tier,
		reason,
		string(body),
		o.Request.RequestedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save assessment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Outcome, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT outcome FROM assessments WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}
	return decodeOutcome([]byte(body))
}

func (s *SQLiteStore) ListByToken(ctx context.Context, chain, token string, limit int, opts ...ListOption) ([]*Outcome, error) {
	lo := applyListOpts(opts)
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT outcome FROM assessments WHERE chain = ? AND token = ?`
	args := []any{chain, token}
	if lo.cursor != nil {
		at := lo.cursor.At.UnixNano()
		query += ` AND (requested_at < ? OR (requested_at = ? AND id < ?))`
		args = append(args, at, at, lo.cursor.ID)
	}
	query += ` ORDER BY requested_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Outcome
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		o, err := decodeOutcome([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("failed to decode assessment: %w", err)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}
