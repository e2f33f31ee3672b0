// ABOUTME: SQLite persistence for generated child activity reports
// ABOUTME: Report bodies are stored as opaque JSON documents

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// CreateReport persists a generated report.
func (s *SQLiteStore) CreateReport(ctx context.Context, r *Report) error {
	body, err := json.Marshal(r.Body)
	if err != nil {
		return fmt.Errorf("encoding report body: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (id, child_id, parent_id, period_days, body_json, generated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.ChildID, r.ParentID, r.PeriodDays, string(body), fmtTime(r.GeneratedAt))
	if err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}
	return nil
}

// GetReport retrieves a report by id. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*Report, error) {
	var r Report
	var body, generatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, child_id, parent_id, period_days, body_json, generated_at
		FROM reports
		WHERE id = ?
	`, id).Scan(&r.ID, &r.ChildID, &r.ParentID, &r.PeriodDays, &body, &generatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying report: %w", err)
	}

	if err := json.Unmarshal([]byte(body), &r.Body); err != nil {
		return nil, fmt.Errorf("decoding report body: %w", err)
	}
	if r.GeneratedAt, err = parseTime(generatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}
