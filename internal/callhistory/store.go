package callhistory

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const maxRetainedCalls = 500

// Store persists call history to PostgreSQL via pgx's native pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to connStr and applies any pending migrations.
func Open(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("callhistory open: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("callhistory ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("callhistory migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var current int
	if err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), -1) FROM schema_version`).Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := pool.Exec(ctx, string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := pool.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// CreateCall inserts a new call and prunes old ones beyond maxRetainedCalls.
func (s *Store) CreateCall(ctx context.Context, id, sessionID, callerURI string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calls (id, session_id, caller_uri, started_at) VALUES ($1, $2, $3, $4)`,
		id, sessionID, callerURI, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`DELETE FROM calls WHERE id NOT IN (SELECT id FROM calls ORDER BY started_at DESC LIMIT $1)`,
		maxRetainedCalls,
	)
	return err
}

// EndCall records the final status and ended_at timestamp.
func (s *Store) EndCall(ctx context.Context, id, finalStatus string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE calls SET ended_at = $1, final_status = $2 WHERE id = $3`,
		time.Now().UTC(), finalStatus, id,
	)
	return err
}

// CreateTurn inserts a new in-progress turn.
func (s *Store) CreateTurn(ctx context.Context, id, callID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO turns (id, call_id, started_at, status) VALUES ($1, $2, $3, 'running')`,
		id, callID, time.Now().UTC(),
	)
	return err
}

// UpdateTurn sets a turn's final fields.
func (s *Store) UpdateTurn(ctx context.Context, id string, durationMs float64, transcript, response, status string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE turns SET duration_ms = $1, transcript = $2, response = $3, status = $4 WHERE id = $5`,
		durationMs, transcript, response, status, id,
	)
	return err
}

// RecordEvent inserts an audit event.
func (s *Store) RecordEvent(ctx context.Context, ev Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_events (id, call_id, kind, occurred_at, detail) VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.CallID, ev.Kind, ev.OccurredAt.UTC(), ev.Detail,
	)
	return err
}

// ListCalls returns calls ordered newest first, with turn counts.
func (s *Store) ListCalls(ctx context.Context, limit, offset int) ([]Call, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM calls`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.session_id, c.caller_uri, c.started_at, c.ended_at, c.final_status, COUNT(t.id)
		FROM calls c
		LEFT JOIN turns t ON t.call_id = c.id
		GROUP BY c.id
		ORDER BY c.started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		var call Call
		var endedAt *time.Time
		if err := rows.Scan(&call.ID, &call.SessionID, &call.CallerURI, &call.StartedAt, &endedAt, &call.FinalStatus, &call.TurnCount); err != nil {
			return nil, 0, err
		}
		call.EndedAt = endedAt
		calls = append(calls, call)
	}
	return calls, total, rows.Err()
}

// GetCall returns a single call with its turns.
func (s *Store) GetCall(ctx context.Context, id string) (*Call, []Turn, error) {
	var call Call
	var endedAt *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, caller_uri, started_at, ended_at, final_status FROM calls WHERE id = $1`, id,
	).Scan(&call.ID, &call.SessionID, &call.CallerURI, &call.StartedAt, &endedAt, &call.FinalStatus)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, err
		}
		return nil, nil, err
	}
	call.EndedAt = endedAt

	rows, err := s.pool.Query(ctx,
		`SELECT id, call_id, started_at, duration_ms, transcript, response, status FROM turns WHERE call_id = $1 ORDER BY started_at ASC`,
		id,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.CallID, &t.StartedAt, &t.DurationMs, &t.Transcript, &t.Response, &t.Status); err != nil {
			return nil, nil, err
		}
		turns = append(turns, t)
	}
	return &call, turns, rows.Err()
}
