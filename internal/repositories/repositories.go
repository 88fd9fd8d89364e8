// package repositories provides the SQLite persistence layer for verification history.
//
// [TransitionRepository] implements [session.Recorder], so a controller can write every
// state change as it happens. Rows are append-only; summaries are derived by query.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/otpgate/internal/session"
)

// SessionSummary aggregates the transitions of one session.
type SessionSummary struct {
	SessionID   string        `json:"session_id"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
	FinalState  session.State `json:"final_state"`
	Message     string        `json:"message,omitempty"`
	Transitions int           `json:"transitions"`
}

// TransitionRepository stores [session.Transition] rows.
type TransitionRepository struct {
	db *sql.DB
}

var _ session.Recorder = (*TransitionRepository)(nil)

// NewTransitionRepository creates a new [TransitionRepository] with the given database connection
func NewTransitionRepository(db *sql.DB) *TransitionRepository {
	return &TransitionRepository{db: db}
}

// RecordTransition inserts t.
func (r *TransitionRepository) RecordTransition(ctx context.Context, t session.Transition) error {
	query := `
		INSERT INTO session_transitions (session_id, from_state, to_state, reason, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	var message sql.NullString
	if t.Message != "" {
		message = sql.NullString{String: t.Message, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query, t.SessionID, t.From.String(), t.To.String(), t.Trigger, message, t.At.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert transition: %w", err)
	}
	return nil
}

// ListTransitions returns the transitions of sessionID in insertion order.
func (r *TransitionRepository) ListTransitions(ctx context.Context, sessionID string) ([]session.Transition, error) {
	query := `
		SELECT session_id, from_state, to_state, reason, message, created_at
		FROM session_transitions
		WHERE session_id = ?
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []session.Transition
	for rows.Next() {
		var (
			t        session.Transition
			from, to string
			message  sql.NullString
		)
		if err := rows.Scan(&t.SessionID, &from, &to, &t.Trigger, &message, &t.At); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		if err := t.From.UnmarshalText([]byte(from)); err != nil {
			return nil, fmt.Errorf("corrupt transition row: %w", err)
		}
		if err := t.To.UnmarshalText([]byte(to)); err != nil {
			return nil, fmt.Errorf("corrupt transition row: %w", err)
		}
		t.Message = message.String
		transitions = append(transitions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}
	return transitions, nil
}

// ListSessions returns the most recent sessions, newest first. A non-positive limit means 20.
func (r *TransitionRepository) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT t.session_id, agg.started_at, agg.ended_at, t.to_state, t.message, agg.n
		FROM (
			SELECT session_id, MIN(created_at) AS started_at, MAX(created_at) AS ended_at,
			       MAX(id) AS last_id, COUNT(*) AS n
			FROM session_transitions
			GROUP BY session_id
		) agg
		JOIN session_transitions t ON t.id = agg.last_id
		ORDER BY agg.last_id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var summaries []SessionSummary
	for rows.Next() {
		var (
			s                  SessionSummary
			state              string
			message            sql.NullString
			startedAt, endedAt string
		)
		if err := rows.Scan(&s.SessionID, &startedAt, &endedAt, &state, &message, &s.Transitions); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if err := s.FinalState.UnmarshalText([]byte(state)); err != nil {
			return nil, fmt.Errorf("corrupt session row: %w", err)
		}
		if s.StartedAt, err = parseTimestamp(startedAt); err != nil {
			return nil, err
		}
		if s.EndedAt, err = parseTimestamp(endedAt); err != nil {
			return nil, err
		}
		s.Message = message.String
		summaries = append(summaries, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return summaries, nil
}

// sqliteTimestampFormats are the layouts go-sqlite3 uses when writing time.Time values.
var sqliteTimestampFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseTimestamp handles aggregate columns, which lose their declared type and come back as text.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range sqliteTimestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse timestamp %q", s)
}
