package store

import (
	"database/sql"
	"time"
)

// UpsertChat inserts or updates a chat record.
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (chat_id, display_name, avatar_ref, unread_count, last_activity_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE chats.display_name END,
			avatar_ref = CASE WHEN excluded.avatar_ref <> '' THEN excluded.avatar_ref ELSE chats.avatar_ref END,
			unread_count = excluded.unread_count,
			last_activity_at = MAX(chats.last_activity_at, excluded.last_activity_at),
			last_message_preview = CASE WHEN excluded.last_activity_at >= chats.last_activity_at THEN excluded.last_message_preview ELSE chats.last_message_preview END,
			updated_at = excluded.updated_at`,
		c.ChatID, c.DisplayName, c.AvatarRef, c.UnreadCount, c.LastActivityAt, c.LastMessagePreview, now)
	return err
}

// ListChats returns chats sorted by last activity descending.
func (db *DB) ListChats(limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT chat_id, display_name, avatar_ref, unread_count, last_activity_at, last_message_preview
		FROM chats
		ORDER BY last_activity_at DESC, rowid ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ChatID, &c.DisplayName, &c.AvatarRef, &c.UnreadCount, &c.LastActivityAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat, or nil when unknown.
func (db *DB) GetChat(chatID string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT chat_id, display_name, avatar_ref, unread_count, last_activity_at, last_message_preview
		FROM chats WHERE chat_id = ?`, chatID).
		Scan(&c.ChatID, &c.DisplayName, &c.AvatarRef, &c.UnreadCount, &c.LastActivityAt, &c.LastMessagePreview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetUnread overwrites the cached unread count for a chat.
func (db *DB) SetUnread(chatID string, count int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE chats SET unread_count = ?, updated_at = ? WHERE chat_id = ?`, count, now, chatID)
	return err
}

// ChatCount returns the number of cached chats.
func (db *DB) ChatCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&n)
	return n, err
}
