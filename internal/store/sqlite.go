package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Tyrowin/tickchat/internal/chat"
	"github.com/mattn/go-sqlite3"
)

// statusRank mirrors chat.Status ordering inside SQL so that updates can
// refuse to move a message backwards.
const statusRank = `CASE %s WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END`

const messageColumns = `id, sender, target, body, kind, ts, status`

// SQLiteStore implements Store on a SQLite database file.
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	s := &SQLiteStore{conn: conn}
	if err := s.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			last_seen INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender TEXT NOT NULL,
			target TEXT NOT NULL,
			body TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'text',
			ts INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'sent'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_target_status ON messages(target, status)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, target, ts)`,
	}
	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) SetPresence(ctx context.Context, username string, status chat.Presence, at time.Time) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO users (username, status, last_seen) VALUES (?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET status = excluded.status, last_seen = excluded.last_seen`,
		username, string(status), at.UnixNano())
	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, username string) (chat.User, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT username, status, last_seen FROM users WHERE username = ?`, username)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.User{}, ErrNotFound
	}
	return user, err
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]chat.User, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT username, status, last_seen FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []chat.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) InsertMessage(ctx context.Context, msg chat.Message) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID.String(), msg.Sender, msg.Target, msg.Body, string(msg.Kind),
		msg.Timestamp.UnixNano(), string(msg.Status))
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return ErrDuplicateID
	}
	return err
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id chat.MessageID) (chat.Message, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id.String())
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, ErrNotFound
	}
	return msg, err
}

func (s *SQLiteStore) PendingFor(ctx context.Context, target string) ([]chat.Message, error) {
	return s.query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE target = ? AND status = 'sent' ORDER BY ts, id`,
		target)
}

func (s *SQLiteStore) AdvanceStatus(ctx context.Context, id chat.MessageID, status chat.Status) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE messages SET status = ? WHERE id = ? AND `+
			fmt.Sprintf(statusRank, "status")+` < `+fmt.Sprintf(statusRank, "?"),
		string(status), id.String(), string(status))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetMessage(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) MarkRead(ctx context.Context, sender, reader string) (int, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE messages SET status = 'read' WHERE sender = ? AND target = ? AND status != 'read'`,
		sender, reader)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) MessagesFor(ctx context.Context, username string, limit int) ([]chat.Message, error) {
	msgs, err := s.query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE sender = ? OR target = ?
		 ORDER BY ts DESC, id DESC LIMIT ?`,
		username, username, sqlLimit(limit))
	slices.Reverse(msgs)
	return msgs, err
}

func (s *SQLiteStore) Conversation(ctx context.Context, a, b string, limit int) ([]chat.Message, error) {
	msgs, err := s.query(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE (sender = ? AND target = ?) OR (sender = ? AND target = ?)
		 ORDER BY ts DESC, id DESC LIMIT ?`,
		a, b, b, a, sqlLimit(limit))
	slices.Reverse(msgs)
	return msgs, err
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, id chat.MessageID) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id.String())
	return err
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, a, b string) (int, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM messages WHERE (sender = ? AND target = ?) OR (sender = ? AND target = ?)`,
		a, b, b, a)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]chat.Message, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (chat.User, error) {
	var (
		user     chat.User
		status   string
		lastSeen sql.NullInt64
	)
	if err := row.Scan(&user.Username, &status, &lastSeen); err != nil {
		return chat.User{}, err
	}
	user.Status = chat.Presence(status)
	if lastSeen.Valid {
		at := time.Unix(0, lastSeen.Int64).UTC()
		user.LastSeen = &at
	}
	return user, nil
}

func scanMessage(row scanner) (chat.Message, error) {
	var (
		msg          chat.Message
		id           string
		kind, status string
		ts           int64
	)
	if err := row.Scan(&id, &msg.Sender, &msg.Target, &msg.Body, &kind, &ts, &status); err != nil {
		return chat.Message{}, err
	}
	msg.ID = chat.MessageID(id)
	msg.Kind = chat.Kind(kind)
	msg.Status = chat.Status(status)
	msg.Timestamp = time.Unix(0, ts).UTC()
	return msg, nil
}
