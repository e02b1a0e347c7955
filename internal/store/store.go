// Package store persists recording sessions and their messages in
// PostgreSQL.
//
// Two tables back the package: sessions (mutable metadata registry) and
// messages (append-only log). Messages reference sessions weakly — no
// foreign key, and a message may outlive its session. The read side
// tolerates dangling references.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Session status values. Transitions follow active → paused → active and
// {active,paused} → completed; completed is terminal.
const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// sessionCols is the standard SELECT column list for scanSession.
const sessionCols = `session_id, title, status, created_at`

// Session is a recording session record. Title and Status are pointers
// because legacy rows may carry NULLs; created_at is set once at insert and
// never rewritten.
type Session struct {
	ID        string    `json:"session_id"`
	Title     *string   `json:"title"`
	Status    *string   `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionData is the input to SaveSession. Nil Title/Status mean "leave the
// stored value alone" on update and "use the default" on insert.
type SessionData struct {
	ID     string
	Title  *string
	Status *string
}

// Store manages session and message persistence.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store backed by the given connection pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// SaveSession inserts or merge-updates a session.
//
// For an existing session, nil Title/Status inherit the stored values and
// created_at is never rewritten. For a new session, Status defaults to
// active. Returns the resulting merged record.
//
// The read-then-write merge runs inside a transaction holding a per-session
// advisory lock, so two concurrent saves for the same id cannot produce a
// lost update.
func (s *Store) SaveSession(ctx context.Context, data SessionData) (*Session, error) {
	if strings.TrimSpace(data.ID) == "" {
		return nil, ErrMissingSessionID
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	// pg_advisory_xact_lock releases automatically at commit/rollback.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, data.ID); err != nil {
		return nil, fmt.Errorf("acquiring advisory lock: %w", err)
	}

	existing, err := getSession(ctx, tx, data.ID)
	var result *Session
	switch {
	case err == nil:
		result, err = s.updateSession(ctx, tx, data, existing)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, ErrNotFound):
		result, err = s.insertSession(ctx, tx, data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing session save: %w", err)
	}

	s.logger.Debug("saved session", "session_id", result.ID, "status", strOrEmpty(result.Status))
	return result, nil
}

// updateSession merges data over an existing row. created_at is untouched.
func (s *Store) updateSession(ctx context.Context, q querier, data SessionData, existing *Session) (*Session, error) {
	title := data.Title
	if title == nil {
		title = existing.Title
	}
	status := data.Status
	if status == nil {
		status = existing.Status
	}

	if _, err := q.Exec(ctx,
		`UPDATE sessions SET title = $1, status = $2 WHERE session_id = $3`,
		title, status, data.ID,
	); err != nil {
		return nil, fmt.Errorf("updating session %s: %w", data.ID, err)
	}

	return &Session{ID: data.ID, Title: title, Status: status, CreatedAt: existing.CreatedAt}, nil
}

// insertSession creates a new row. Status defaults to active when absent.
func (s *Store) insertSession(ctx context.Context, q querier, data SessionData) (*Session, error) {
	status := data.Status
	if status == nil {
		def := StatusActive
		status = &def
	}

	var createdAt time.Time
	if err := q.QueryRow(ctx,
		`INSERT INTO sessions (session_id, title, status) VALUES ($1, $2, $3) RETURNING created_at`,
		data.ID, data.Title, status,
	).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("inserting session %s: %w", data.ID, err)
	}

	return &Session{ID: data.ID, Title: data.Title, Status: status, CreatedAt: createdAt}, nil
}

// GetSession retrieves a session by id. Returns ErrNotFound for misses —
// callers treat absence as a normal case, checked with errors.Is.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return getSession(ctx, s.pool, sessionID)
}

func getSession(ctx context.Context, q querier, sessionID string) (*Session, error) {
	row := q.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE session_id = $1`, sessionID)

	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", sessionID, err)
	}
	return sess, nil
}

// ListSessions returns all sessions ordered by created_at descending.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionCols+` FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return collectSessions(rows)
}

// ListSessionsByStatus returns sessions with the given status, ordered by
// created_at descending.
func (s *Store) ListSessionsByStatus(ctx context.Context, status string) ([]Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE status = $1 ORDER BY created_at DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("listing sessions by status %q: %w", status, err)
	}
	return collectSessions(rows)
}

// ListSessionsMissingStatus returns sessions whose status is NULL or empty.
// These are legacy rows the reconciler repairs.
func (s *Store) ListSessionsMissingStatus(ctx context.Context) ([]Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE status IS NULL OR status = '' ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions missing status: %w", err)
	}
	return collectSessions(rows)
}

// SessionStatusCounts returns the number of sessions per status value.
// NULL/empty statuses are grouped under "unknown".
func (s *Store) SessionStatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT COALESCE(NULLIF(status, ''), 'unknown'), COUNT(*) FROM sessions GROUP BY 1`)
	if err != nil {
		return nil, fmt.Errorf("counting sessions by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading status counts: %w", err)
	}
	return counts, nil
}

// DeleteAllData removes every message and session. Used only by the reset
// CLI command; there is no per-session delete in the recording pipeline.
func (s *Store) DeleteAllData(ctx context.Context) (sessions, messages int64, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	msgTag, err := tx.Exec(ctx, `DELETE FROM messages`)
	if err != nil {
		return 0, 0, fmt.Errorf("deleting messages: %w", err)
	}
	sessTag, err := tx.Exec(ctx, `DELETE FROM sessions`)
	if err != nil {
		return 0, 0, fmt.Errorf("deleting sessions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("committing reset: %w", err)
	}

	s.logger.Info("deleted all data",
		"sessions", sessTag.RowsAffected(), "messages", msgTag.RowsAffected())
	return sessTag.RowsAffected(), msgTag.RowsAffected(), nil
}

// scanSession scans one session row.
func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	if err := row.Scan(&sess.ID, &sess.Title, &sess.Status, &sess.CreatedAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

// collectSessions drains rows into a slice.
func collectSessions(rows pgx.Rows) ([]Session, error) {
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading sessions: %w", err)
	}
	return sessions, nil
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
