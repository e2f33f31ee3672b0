// ABOUTME: SQLite persistence for the queued push notification outbox
// ABOUTME: Guardian enqueues here; the push relay drains out of band

package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// CreateNotification enqueues a notification for the push relay.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *Notification) error {
	data := n.Data
	if data == nil {
		data = map[string]string{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding notification data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, body, data_json, priority, read, sent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.UserID, n.Type, n.Title, n.Body, string(encoded), n.Priority, n.Read, n.Sent, fmtTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// ListNotificationsByUser returns the most recent notifications for a
// user, newest first. A limit of 0 means no limit.
func (s *SQLiteStore) ListNotificationsByUser(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	query := `
		SELECT id, user_id, type, title, body, data_json, priority, read, sent, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var n Notification
		var dataJSON, createdAt string

		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &dataJSON, &n.Priority, &n.Read, &n.Sent, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &n.Data); err != nil {
			return nil, fmt.Errorf("decoding notification data: %w", err)
		}
		if n.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}
