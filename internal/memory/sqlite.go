package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Store is the SQLite-backed conversation store. It is safe for
// concurrent use; all access is serialized through a single
// connection.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Open opens (creating if needed) the database at path with the given
// database/sql driver ("sqlite" or "sqlite3") and migrates the schema.
func Open(driver, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and it keeps
	// ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{
		db:     db,
		logger: logger.With("component", "memory"),
		now:    time.Now,
	}
	if err := migrate(db, s.logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so companion stores, such as token
// usage, can keep their tables in the same database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateOrTouchChat creates the chat if it does not exist, using title
// or DefaultChatTitle. An existing chat gets a fresh updated_at and,
// when title is non-empty, the new title.
func (s *Store) CreateOrTouchChat(ctx context.Context, chatID, title string) error {
	createTitle := title
	if createTitle == "" {
		createTitle = DefaultChatTitle
	}
	return touchChat(ctx, s.db, chatID, createTitle, title, s.now())
}

func touchChat(ctx context.Context, ex execer, chatID, createTitle, newTitle string, now time.Time) error {
	ts := toUnix(now)
	if _, err := ex.ExecContext(ctx, `
		INSERT OR IGNORE INTO chat (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, chatID, createTitle, ts, ts); err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	if _, err := ex.ExecContext(ctx, `
		UPDATE chat SET updated_at = ?, title = CASE WHEN ? != '' THEN ? ELSE title END
		WHERE id = ?
	`, ts, newTitle, newTitle, chatID); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return nil
}

// AppendMessage stores m and returns its id. The chat is created or
// touched in the same transaction. A chat created by a user message
// takes its title from the message content. ParentID is stored as
// given; the caller guarantees it names an earlier message of the same
// chat.
func (s *Store) AppendMessage(ctx context.Context, m NewMessage) (int64, error) {
	if err := m.validate(); err != nil {
		return 0, err
	}

	var toolArgs sql.NullString
	if m.Kind == KindToolUse {
		encoded, err := EncodeToolCalls(m.ToolCalls)
		if err != nil {
			return 0, err
		}
		toolArgs = sql.NullString{String: encoded, Valid: true}
	}

	createTitle := DefaultChatTitle
	if m.Role == RoleUser {
		createTitle = deriveTitle(m.Content)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	if err := touchChat(ctx, tx, m.ChatID, createTitle, "", now); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO message (chat_id, role, content, created_at, kind, tool_call_id, tool_name, tool_args, parent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ChatID, string(m.Role), m.Content, toUnix(now), string(m.Kind),
		nullString(m.ToolCallID), nullString(m.ToolName), toolArgs, nullID(m.ParentID))
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit message: %w", err)
	}
	return id, nil
}

const messageColumns = `id, chat_id, role, content, created_at, kind, tool_call_id, tool_name, tool_args, parent_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		m                              Message
		role, kind                     string
		created                        sql.NullFloat64
		toolCallID, toolName, toolArgs sql.NullString
		parent                         sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.ChatID, &role, &m.Content, &created, &kind,
		&toolCallID, &toolName, &toolArgs, &parent); err != nil {
		return Message{}, err
	}
	m.Role = Role(role)
	m.Kind = Kind(kind)
	if created.Valid {
		m.CreatedAt = fromUnix(created.Float64)
	}
	m.ToolCallID = toolCallID.String
	m.ToolName = toolName.String
	m.ToolArgs = toolArgs.String
	if parent.Valid {
		m.ParentID = PtrID(parent.Int64)
	}
	return m, nil
}

// GetMessage returns a single message.
func (s *Store) GetMessage(ctx context.Context, id int64) (Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM message WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Message{}, fmt.Errorf("get message %d: %w", id, err)
	}
	return m, nil
}

// GetFlatMessages returns every message of a chat in insertion order.
// Clients rebuild the parent/child index from this.
func (s *Store) GetFlatMessages(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM message WHERE chat_id = ? ORDER BY id ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetThread returns the path from the root to leafID, root first. The
// walk runs over an in-memory index of the leaf's chat and fails with
// ErrIntegrity on a cycle or a dangling parent.
func (s *Store) GetThread(ctx context.Context, leafID int64) ([]Message, error) {
	var chatID string
	err := s.db.QueryRowContext(ctx, `SELECT chat_id FROM message WHERE id = ?`, leafID).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", leafID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup message %d: %w", leafID, err)
	}

	flat, err := s.GetFlatMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return AncestorPath(IndexByID(flat), leafID)
}

// GetChat returns a chat with its summary.
func (s *Store) GetChat(ctx context.Context, chatID string) (Chat, error) {
	var (
		c                Chat
		created, updated sql.NullFloat64
		summary          sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at, summary FROM chat WHERE id = ?
	`, chatID).Scan(&c.ID, &c.Title, &created, &updated, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	if err != nil {
		return Chat{}, fmt.Errorf("get chat %s: %w", chatID, err)
	}
	c.CreatedAt = fromUnix(created.Float64)
	c.UpdatedAt = fromUnix(updated.Float64)
	c.Summary = s.parseSummary(chatID, summary)
	return c, nil
}

// ListChats returns chats, most recently updated first. limit <= 0
// returns all of them. Summaries are not loaded.
func (s *Store) ListChats(ctx context.Context, limit int) ([]Chat, error) {
	query := `SELECT id, title, created_at, updated_at FROM chat ORDER BY updated_at DESC, created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var (
			c                Chat
			created, updated sql.NullFloat64
		)
		if err := rows.Scan(&c.ID, &c.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		c.CreatedAt = fromUnix(created.Float64)
		c.UpdatedAt = fromUnix(updated.Float64)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// RenameChat sets the title and bumps updated_at.
func (s *Store) RenameChat(ctx context.Context, chatID, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chat SET title = ?, updated_at = ? WHERE id = ?`,
		title, toUnix(s.now()), chatID)
	if err != nil {
		return fmt.Errorf("rename chat: %w", err)
	}
	return requireRow(res, "chat "+chatID)
}

// DeleteChat removes the chat and all of its messages in one
// transaction.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM message WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chat WHERE id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if err := requireRow(res, "chat "+chatID); err != nil {
		return err
	}
	return tx.Commit()
}

// GetSummary returns the chat's summary, or nil when the chat has none,
// the stored value does not parse, or the chat does not exist.
func (s *Store) GetSummary(ctx context.Context, chatID string) (Summary, error) {
	var summary sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT summary FROM chat WHERE id = ?`, chatID).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return s.parseSummary(chatID, summary), nil
}

// SetSummary replaces the chat's summary.
func (s *Store) SetSummary(ctx context.Context, chatID string, summary Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE chat SET summary = ? WHERE id = ?`, string(data), chatID)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return requireRow(res, "chat "+chatID)
}

func (s *Store) parseSummary(chatID string, raw sql.NullString) Summary {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var summary Summary
	if err := json.Unmarshal([]byte(raw.String), &summary); err != nil {
		s.logger.Warn("unreadable chat summary", "chat_id", chatID, "error", err)
		return nil
	}
	return summary
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
