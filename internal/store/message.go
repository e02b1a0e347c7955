package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// messageCols is the standard SELECT column list for scanMessage.
const messageCols = `id, chat_id, session_id, session_title, date, username, message`

// Message is one recorded chat event. Rows are immutable once written.
// SessionTitle is a snapshot of the session's title at write time; later
// renames do not touch it.
type Message struct {
	ID           int64     `json:"id"`
	ChatID       string    `json:"chat_id"`
	SessionID    *string   `json:"session_id"`
	SessionTitle *string   `json:"session_title"`
	Date         time.Time `json:"date"`
	Username     string    `json:"username"`
	Message      string    `json:"message"`
}

// MessageData is the input to AppendMessage. Date is the original event
// time, not the insertion time. When SessionID is set and SessionTitle is
// nil, the title is resolved from the session record at write time.
type MessageData struct {
	ChatID       string
	SessionID    *string
	SessionTitle *string
	Date         time.Time
	Username     string
	Text         string
}

// AppendMessage appends one recorded event and returns its sequence id.
func (s *Store) AppendMessage(ctx context.Context, data MessageData) (int64, error) {
	title := data.SessionTitle
	if data.SessionID != nil && title == nil {
		sess, err := s.GetSession(ctx, *data.SessionID)
		switch {
		case err == nil:
			title = sess.Title
		case errors.Is(err, ErrNotFound):
			// Dangling session reference is tolerated; record without a title.
		default:
			return 0, err
		}
	}

	var id int64
	if err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (chat_id, session_id, session_title, date, username, message)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		data.ChatID, data.SessionID, title, data.Date, data.Username, data.Text,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("appended message", "id", id, "session_id", ptrOrDash(data.SessionID))
	return id, nil
}

// MessagesBySession returns a session's messages ordered by event date
// ascending.
func (s *Store) MessagesBySession(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages WHERE session_id = $1 ORDER BY date ASC, id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing messages for session %s: %w", sessionID, err)
	}
	return collectMessages(rows)
}

// MessagesByChat returns a chat's messages ordered by event date ascending.
func (s *Store) MessagesByChat(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages WHERE chat_id = $1 ORDER BY date ASC, id ASC`,
		chatID)
	if err != nil {
		return nil, fmt.Errorf("listing messages for chat %s: %w", chatID, err)
	}
	return collectMessages(rows)
}

// AllMessages returns every recorded message in insertion order. Used by
// the backup command.
func (s *Store) AllMessages(ctx context.Context) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing all messages: %w", err)
	}
	return collectMessages(rows)
}

// LatestMessage returns the most recent message for a session, or
// ErrNotFound when the session has no messages.
func (s *Store) LatestMessage(ctx context.Context, sessionID string) (*Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM messages WHERE session_id = $1 ORDER BY date DESC, id DESC LIMIT 1`,
		sessionID)
	return scanOneMessage(row, sessionID)
}

// EarliestMessage returns the oldest message for a session, or ErrNotFound
// when the session has no messages.
func (s *Store) EarliestMessage(ctx context.Context, sessionID string) (*Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM messages WHERE session_id = $1 ORDER BY date ASC, id ASC LIMIT 1`,
		sessionID)
	return scanOneMessage(row, sessionID)
}

// FirstSessionTitle returns the first non-null title snapshot recorded for
// a session, or nil when none exists.
func (s *Store) FirstSessionTitle(ctx context.Context, sessionID string) (*string, error) {
	var title *string
	err := s.pool.QueryRow(ctx,
		`SELECT session_title FROM messages
		 WHERE session_id = $1 AND session_title IS NOT NULL
		 ORDER BY id ASC LIMIT 1`,
		sessionID).Scan(&title)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting first title for session %s: %w", sessionID, err)
	}
	return title, nil
}

// CountMessages returns the number of messages recorded for a session.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = $1`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting messages for session %s: %w", sessionID, err)
	}
	return n, nil
}

// CountAllMessages returns the total number of recorded messages.
func (s *Store) CountAllMessages(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// Participants returns the distinct sender names for a session, sorted.
func (s *Store) Participants(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT username FROM messages WHERE session_id = $1 ORDER BY username`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing participants for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading participants: %w", err)
	}
	return names, nil
}

// DistinctSessionIDs returns session ids observed on messages, newest
// first. The read side falls back to this when the sessions table is empty.
func (s *Store) DistinctSessionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id FROM messages
		 WHERE session_id IS NOT NULL
		 GROUP BY session_id ORDER BY MAX(id) DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing distinct session ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading session ids: %w", err)
	}
	return ids, nil
}

// scanOneMessage scans a single-row message query, mapping no-rows to
// ErrNotFound.
func scanOneMessage(row pgx.Row, sessionID string) (*Message, error) {
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting message for session %s: %w", sessionID, err)
	}
	return msg, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var msg Message
	if err := row.Scan(&msg.ID, &msg.ChatID, &msg.SessionID, &msg.SessionTitle,
		&msg.Date, &msg.Username, &msg.Message); err != nil {
		return nil, err
	}
	return &msg, nil
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}
	return messages, nil
}

func ptrOrDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
