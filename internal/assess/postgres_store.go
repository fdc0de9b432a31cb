package assess

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore persists outcomes in PostgreSQL. The schema lives in
// migrations/ and is applied with `tokenrisk migrate up`.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed outcome store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Save(ctx context.Context, o *Outcome) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			final_score = EXCLUDED.final_score,
			tier = EXCLUDED.tier,
			reason = EXCLUDED.reason,
			outcome = EXCLUDED.outcome
	`,
		o.Request.ID,
		o.Request.Chain,
		o.Request.Token,
		o.Request.Profile,
		string(o.State),
		finalScore,
		tier,
		reason,
		body,
		o.Request.RequestedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Outcome, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT outcome FROM assessments WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}
	return decodeOutcome(body)
}

func (s *PostgresStore) ListByToken(ctx context.Context, chain, token string, limit int, opts ...ListOption) ([]*Outcome, error) {
	lo := applyListOpts(opts)
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT outcome FROM assessments WHERE chain = $1 AND token = $2`
	args := []any{chain, token}
	if lo.cursor != nil {
		query += ` AND (requested_at < $3 OR (requested_at = $3 AND id < $4))`
		args = append(args, lo.cursor.At, lo.cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY requested_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Outcome
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		o, err := decodeOutcome(body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode assessment: %w", err)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}
