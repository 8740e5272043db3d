// Package cache is the on-device offline mirror. It holds a denormalized
// copy of items and messages so the last synced state stays viewable when
// the gateway is unreachable, plus the user-editable status message
// templates. It is never the authority: the coordinator overwrites it
// wholesale on every successful load.
package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jredh-dev/memotag/pkg/models"

	_ "modernc.org/sqlite"
)

// Cache wraps a SQLite connection.
type Cache struct {
	conn *sql.DB
}

// New opens (or creates) the cache database and runs migrations.
func New(path string) (*Cache, error) {
	conn, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	// Single writer, many readers.
	conn.SetMaxOpenConns(1)

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate cache: %w", err)
	}

	return &Cache{conn: conn}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.conn.Close()
}

func migrate(conn *sql.DB) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS items (
		item_id    TEXT PRIMARY KEY,
		id         TEXT NOT NULL DEFAULT '',
		name       TEXT NOT NULL,
		location   TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT 'working',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_created_at ON items(created_at);

	CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		item_id    TEXT NOT NULL,
		message    TEXT NOT NULL,
		user_name  TEXT NOT NULL DEFAULT '',
		msg_type   TEXT NOT NULL DEFAULT 'general',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_item_id ON messages(item_id);

	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := conn.Exec(ddl)
	return err
}

// ReplaceAll clears the mirror and repopulates it with the given items
// and their messages. Full overwrite, not a diff.
func (c *Cache) ReplaceAll(items []models.Item) error {
	tx, err := c.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM items`); err != nil {
		return fmt.Errorf("clear items: %w", err)
	}

	const insertItem = `INSERT INTO items (item_id, id, name, location, status, created_at, updated_at)
	                    VALUES (?, ?, ?, ?, ?, ?, ?)`
	const insertMsg = `INSERT OR REPLACE INTO messages (id, item_id, message, user_name, msg_type, created_at)
	                   VALUES (?, ?, ?, ?, ?, ?)`

	for _, item := range items {
		_, err := tx.Exec(insertItem,
			item.ItemID, item.ID, item.Name, item.Location, string(item.Status),
			item.CreatedAt.UTC(), item.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert item %s: %w", item.ItemID, err)
		}
		for _, msg := range item.Messages {
			if msg.State == models.MessagePending {
				continue // unconfirmed placeholders never hit the mirror
			}
			_, err := tx.Exec(insertMsg,
				msg.ID, msg.ItemID, msg.Body, msg.UserName, string(msg.Type), msg.CreatedAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("insert message %s: %w", msg.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// ReadAll returns the mirrored items, newest first, with each item's
// messages attached newest first.
func (c *Cache) ReadAll() ([]models.Item, error) {
	rows, err := c.conn.Query(
		`SELECT item_id, id, name, location, status, created_at, updated_at
		 FROM items ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		var it models.Item
		var status string
		if err := rows.Scan(&it.ItemID, &it.ID, &it.Name, &it.Location, &status, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Status = models.ItemStatus(status)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		msgs, err := c.readMessages(items[i].ItemID)
		if err != nil {
			return nil, err
		}
		items[i].Messages = msgs
	}
	return items, nil
}

func (c *Cache) readMessages(itemID string) ([]models.Message, error) {
	rows, err := c.conn.Query(
		`SELECT id, item_id, message, user_name, msg_type, created_at
		 FROM messages WHERE item_id = ? ORDER BY created_at DESC`, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("read messages for %s: %w", itemID, err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var typ string
		if err := rows.Scan(&m.ID, &m.ItemID, &m.Body, &m.UserName, &typ, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Type = models.MessageType(typ)
		m.State = models.MessageConfirmed
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteItem removes an item and its messages from the mirror.
func (c *Cache) DeleteItem(itemID string) error {
	tx, err := c.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("delete messages for %s: %w", itemID, err)
	}
	if _, err := tx.Exec(`DELETE FROM items WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("delete item %s: %w", itemID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// --- settings (message templates) ---

// templateKey namespaces a message type in the settings table.
func templateKey(typ models.MessageType) string {
	return "template:" + string(typ)
}

// Template returns the stored message template for a status-transition
// category, or "" if unset.
func (c *Cache) Template(typ models.MessageType) (string, error) {
	var value string
	err := c.conn.QueryRow(`SELECT value FROM settings WHERE key = ?`, templateKey(typ)).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", typ, err)
	}
	return value, nil
}

// SetTemplate stores the message template for a status-transition
// category, replacing any previous value.
func (c *Cache) SetTemplate(typ models.MessageType, text string) error {
	_, err := c.conn.Exec(
		`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`,
		templateKey(typ), text,
	)
	if err != nil {
		return fmt.Errorf("store template %s: %w", typ, err)
	}
	return nil
}

// LastSyncedAt returns when the mirror was last overwritten. Zero time
// means never. The value lives in settings as an RFC 3339 string.
func (c *Cache) LastSyncedAt() (time.Time, error) {
	var value string
	err := c.conn.QueryRow(`SELECT value FROM settings WHERE key = 'last_synced_at'`).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read last_synced_at: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last_synced_at: %w", err)
	}
	return t, nil
}

// SetLastSyncedAt records the time of the last successful mirror write.
func (c *Cache) SetLastSyncedAt(t time.Time) error {
	_, err := c.conn.Exec(
		`INSERT OR REPLACE INTO settings (key, value) VALUES ('last_synced_at', ?)`,
		t.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store last_synced_at: %w", err)
	}
	return nil
}
