package store

import "time"

// UpsertMessage inserts or updates a cached message. A row carrying a
// server id first updates the matching (chat_id, server_id) row (history
// refetch, echo), then tries to confirm an orphaned pending row by body,
// and otherwise conflicts on (chat_id, local_id) (optimistic entry
// updated by its own confirmation).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()

	if m.ServerID != "" {
		res, err := db.Exec(`
			UPDATE messages SET body = ?, delivery = ?, sent_at = ?, sender_id = ?, receiver_id = ?, is_own = ?
			WHERE chat_id = ? AND server_id = ?`,
			m.Body, m.Delivery, m.SentAt, m.SenderID, m.ReceiverID, m.IsOwn, m.ChatID, m.ServerID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}

		// An echo for a send whose chat was closed in the meantime carries
		// a fresh local id; the optimistic row it confirms is still cached
		// as pending. Absorb the oldest pending row with the same body
		// instead of inserting a duplicate.
		if m.IsOwn {
			res, err := db.Exec(`
				UPDATE messages SET server_id = ?, delivery = ?
				WHERE id = (
					SELECT id FROM messages
					WHERE chat_id = ? AND body = ? AND is_own = 1 AND delivery = ? AND server_id = ''
					ORDER BY sent_at, id LIMIT 1)`,
				m.ServerID, m.Delivery, m.ChatID, m.Body, DeliveryPending)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				return nil
			}
		}
	}

	_, err := db.Exec(`
		INSERT INTO messages (chat_id, local_id, server_id, sender_id, receiver_id, body, is_own, delivery, sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, local_id) DO UPDATE SET
			server_id = excluded.server_id,
			body = excluded.body,
			delivery = excluded.delivery,
			sent_at = excluded.sent_at`,
		m.ChatID, m.LocalID, m.ServerID, m.SenderID, m.ReceiverID, m.Body, m.IsOwn, m.Delivery, m.SentAt, now)
	return err
}

// MarkMessageFailed flips a cached message's delivery state to failed.
func (db *DB) MarkMessageFailed(chatID, localID string) error {
	_, err := db.Exec(`UPDATE messages SET delivery = ? WHERE chat_id = ? AND local_id = ?`,
		DeliveryFailed, chatID, localID)
	return err
}

// ListMessages returns messages for a chat using keyset pagination by
// sent_at, newest first.
func (db *DB) ListMessages(chatID string, beforeTS int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTS <= 0 {
		beforeTS = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, chat_id, local_id, server_id, sender_id, receiver_id, body, is_own, delivery, sent_at
		FROM messages
		WHERE chat_id = ? AND sent_at < ?
		ORDER BY sent_at DESC, local_id DESC
		LIMIT ?`, chatID, beforeTS, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.LocalID, &m.ServerID, &m.SenderID, &m.ReceiverID, &m.Body, &m.IsOwn, &m.Delivery, &m.SentAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the number of cached messages.
func (db *DB) MessageCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}
