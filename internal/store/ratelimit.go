// ABOUTME: SQLite persistence for rate limit records with transactional read-modify-write
// ABOUTME: Request timestamps are stored as a JSON array of Unix milliseconds

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// WithRateLimitRecord runs fn against the record for (userID, action)
// inside a transaction. fn receives nil when no record exists yet. If fn
// returns a non-nil record it is upserted before commit; a nil return
// commits without writing.
func (s *SQLiteStore) WithRateLimitRecord(ctx context.Context, userID, action string, fn func(rec *RateLimitRecord) (*RateLimitRecord, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	id := userID + "_" + action

	var rec *RateLimitRecord
	var requestsJSON string
	var createdAt, lastRequest int64

	err = tx.QueryRowContext(ctx,
		`SELECT requests_json, created_at, last_request FROM rate_limits WHERE id = ?`,
		id,
	).Scan(&requestsJSON, &createdAt, &lastRequest)
	switch {
	case err == sql.ErrNoRows:
		// rec stays nil
	case err != nil:
		return fmt.Errorf("querying rate limit record: %w", err)
	default:
		rec = &RateLimitRecord{
			ID:          id,
			UserID:      userID,
			Action:      action,
			CreatedAt:   createdAt,
			LastRequest: lastRequest,
		}
		if err := json.Unmarshal([]byte(requestsJSON), &rec.Requests); err != nil {
			return fmt.Errorf("decoding rate limit requests: %w", err)
		}
	}

	updated, err := fn(rec)
	if err != nil {
		return err
	}

	if updated != nil {
		encoded, err := json.Marshal(updated.Requests)
		if err != nil {
			return fmt.Errorf("encoding rate limit requests: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rate_limits (id, user_id, action, requests_json, created_at, last_request)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				requests_json = excluded.requests_json,
				last_request = excluded.last_request
		`, id, userID, action, string(encoded), updated.CreatedAt, updated.LastRequest)
		if err != nil {
			return fmt.Errorf("writing rate limit record: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteIdleRateLimits removes records whose last request is older than
// the given Unix-millisecond cutoff. Returns the number deleted.
func (s *SQLiteStore) DeleteIdleRateLimits(ctx context.Context, before int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_limits WHERE last_request < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("deleting idle rate limits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted rate limits: %w", err)
	}
	return int(n), nil
}
