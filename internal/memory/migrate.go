package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	created_at REAL,
	updated_at REAL,
	summary TEXT
);

CREATE TABLE IF NOT EXISTS message (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id TEXT NOT NULL REFERENCES chat(id),
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	created_at REAL,
	kind TEXT NOT NULL DEFAULT 'text',
	tool_call_id TEXT,
	tool_name TEXT,
	tool_args TEXT,
	parent_id INTEGER REFERENCES message(id)
);
`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// migrate brings any earlier schema up to date. Every step checks
// before altering, so it runs on every open.
func migrate(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	if err := addColumns(db, logger); err != nil {
		return err
	}

	if err := normalizeToolArgs(db, logger); err != nil {
		return fmt.Errorf("normalize tool args: %w", err)
	}

	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_message_chat ON message(chat_id, id)",
		"CREATE INDEX IF NOT EXISTS idx_message_parent ON message(parent_id)",
		"CREATE INDEX IF NOT EXISTS idx_chat_updated ON chat(updated_at)",
	} {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// addColumns adds missing columns together with the data copies that
// depend on them, in one transaction. A failure leaves the old layout
// intact so the next open starts over.
func addColumns(db *sql.DB, logger *slog.Logger) error {
	columns := []struct {
		table, name, sql string
	}{
		{"chat", "summary", "ALTER TABLE chat ADD COLUMN summary TEXT"},
		{"message", "kind", "ALTER TABLE message ADD COLUMN kind TEXT NOT NULL DEFAULT 'text'"},
		{"message", "tool_call_id", "ALTER TABLE message ADD COLUMN tool_call_id TEXT"},
		{"message", "tool_name", "ALTER TABLE message ADD COLUMN tool_name TEXT"},
		{"message", "tool_args", "ALTER TABLE message ADD COLUMN tool_args TEXT"},
		{"message", "parent_id", "ALTER TABLE message ADD COLUMN parent_id INTEGER REFERENCES message(id)"},
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	added := make(map[string]bool)
	for _, col := range columns {
		if hasColumn(tx, col.table, col.name) {
			continue
		}
		if _, err := tx.Exec(col.sql); err != nil {
			return fmt.Errorf("add column %s.%s: %w", col.table, col.name, err)
		}
		added[col.table+"."+col.name] = true
	}
	if len(added) == 0 {
		return nil
	}

	// Older stores called the discriminator "type".
	copied := int64(-1)
	if added["message.kind"] && hasColumn(tx, "message", "type") {
		res, err := tx.Exec(`UPDATE message SET kind = COALESCE(type, 'text')`)
		if err != nil {
			return fmt.Errorf("copy message type to kind: %w", err)
		}
		copied, _ = res.RowsAffected()
	}

	linked := -1
	if added["message.parent_id"] {
		if linked, err = backfillParents(tx); err != nil {
			return fmt.Errorf("backfill parent ids: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	for col := range added {
		logger.Info("added column", "column", col)
	}
	if copied >= 0 {
		logger.Info("copied legacy message type", "rows", copied)
	}
	if linked >= 0 {
		logger.Info("backfilled message parents", "linked", linked)
	}
	return nil
}

// backfillParents links each chat's messages in insertion order so a
// linear history becomes a single-branch tree. It returns the number of
// links written.
func backfillParents(q querier) (int, error) {
	type link struct{ id, parent int64 }
	var links []link

	rows, err := q.Query(`SELECT id, chat_id FROM message ORDER BY chat_id, id`)
	if err != nil {
		return 0, err
	}
	var (
		prevChat string
		prevID   int64
	)
	for rows.Next() {
		var (
			id     int64
			chatID string
		)
		if err := rows.Scan(&id, &chatID); err != nil {
			rows.Close()
			return 0, err
		}
		if chatID == prevChat {
			links = append(links, link{id: id, parent: prevID})
		}
		prevChat, prevID = chatID, id
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, l := range links {
		if _, err := q.Exec(`UPDATE message SET parent_id = ? WHERE id = ?`, l.parent, l.id); err != nil {
			return 0, err
		}
	}
	return len(links), nil
}

// legacyToolCall accepts every payload shape older writers produced:
// a bare object or a list, arguments under "arguments" or "args", as an
// object or as a JSON-encoded string.
type legacyToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Args      json.RawMessage `json:"args"`
}

// normalizeToolArgs rewrites tool_use payloads into the canonical list
// shape. Rows already canonical are left untouched; rows that cannot be
// parsed at all are logged and kept as they are.
func normalizeToolArgs(db *sql.DB, logger *slog.Logger) error {
	type row struct {
		id                     int64
		callID, name, toolArgs string
	}
	var pending []row

	rows, err := db.Query(`
		SELECT id, COALESCE(tool_call_id, ''), COALESCE(tool_name, ''), tool_args
		FROM message WHERE kind = 'tool_use' AND tool_args IS NOT NULL AND tool_args != ''
	`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.callID, &r.name, &r.toolArgs); err != nil {
			rows.Close()
			return err
		}
		pending = append(pending, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	rewritten := 0
	for _, r := range pending {
		calls, err := parseLegacyToolCalls(r.toolArgs, r.callID, r.name)
		if err != nil {
			logger.Warn("unreadable tool call payload left as is", "message_id", r.id, "error", err)
			continue
		}
		canonical, err := EncodeToolCalls(calls)
		if err != nil {
			return err
		}
		if canonical == r.toolArgs {
			continue
		}
		if _, err := db.Exec(`UPDATE message SET tool_args = ? WHERE id = ?`, canonical, r.id); err != nil {
			return err
		}
		rewritten++
	}
	if rewritten > 0 {
		logger.Info("normalized tool call payloads", "rows", rewritten)
	}
	return nil
}

func parseLegacyToolCalls(raw, fallbackID, fallbackName string) ([]ToolCall, error) {
	var list []legacyToolCall
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		var single legacyToolCall
		if err2 := json.Unmarshal([]byte(raw), &single); err2 != nil {
			return nil, err
		}
		list = []legacyToolCall{single}
	}

	calls := make([]ToolCall, 0, len(list))
	for i, lc := range list {
		args := lc.Arguments
		if len(args) == 0 {
			args = lc.Args
		}
		parsed, err := parseLegacyArgs(args)
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		c := ToolCall{ID: lc.ID, Name: lc.Name, Arguments: parsed}
		if c.ID == "" && len(list) == 1 {
			c.ID = fallbackID
		}
		if c.Name == "" && len(list) == 1 {
			c.Name = fallbackName
		}
		calls = append(calls, c)
	}
	return calls, nil
}

func parseLegacyArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, err
		}
		raw = json.RawMessage(encoded)
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// hasColumn reports whether table has the named column.
func hasColumn(q querier, table, column string) bool {
	var n int
	err := q.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	return err == nil && n > 0
}
