// ABOUTME: SQLite persistence for parent-child links, link codes and whitelist entries
// ABOUTME: CreateLinkBatch commits the whole link write set in one transaction

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetLink retrieves the link for a specific parent-child direction.
// Returns ErrNotFound if no link exists.
func (s *SQLiteStore) GetLink(ctx context.Context, parentID, childID string) (*ParentChildLink, error) {
	query := `
		SELECT id, parent_id, child_id, status, linked_at, created_by
		FROM parent_child_links
		WHERE id = ?
	`

	var l ParentChildLink
	var status, linkedAt string

	err := s.db.QueryRowContext(ctx, query, LinkID(parentID, childID)).Scan(
		&l.ID,
		&l.ParentID,
		&l.ChildID,
		&status,
		&linkedAt,
		&l.CreatedBy,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying link: %w", err)
	}

	l.Status = ApprovalStatus(status)
	if l.LinkedAt, err = parseTime(linkedAt); err != nil {
		return nil, err
	}

	return &l, nil
}

// ListLinksByChild returns all approved links pointing at the child,
// ordered oldest first so callers can address the first-linked parent.
func (s *SQLiteStore) ListLinksByChild(ctx context.Context, childID string) ([]*ParentChildLink, error) {
	query := `
		SELECT id, parent_id, child_id, status, linked_at, created_by
		FROM parent_child_links
		WHERE child_id = ? AND status = 'approved'
		ORDER BY linked_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, childID)
	if err != nil {
		return nil, fmt.Errorf("querying links by child: %w", err)
	}
	defer rows.Close()

	var links []*ParentChildLink
	for rows.Next() {
		var l ParentChildLink
		var status, linkedAt string

		if err := rows.Scan(&l.ID, &l.ParentID, &l.ChildID, &status, &linkedAt, &l.CreatedBy); err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}

		l.Status = ApprovalStatus(status)
		if l.LinkedAt, err = parseTime(linkedAt); err != nil {
			return nil, err
		}
		links = append(links, &l)
	}
	return links, rows.Err()
}

// HasLegacyLink reports whether a pre-migration parent_children record
// exists for the pair.
func (s *SQLiteStore) HasLegacyLink(ctx context.Context, parentID, childID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM parent_children WHERE parent_id = ? AND child_id = ?`,
		parentID, childID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("querying legacy links: %w", err)
	}
	return count > 0, nil
}

// CreateLinkBatch writes the full link record set atomically: the link,
// its legacy mirror, whitelist entries, the location approval, and the
// consumption of the pairing code when one was used. Returns
// ErrDuplicateLink if the link id already exists.
func (s *SQLiteStore) CreateLinkBatch(ctx context.Context, batch *LinkBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	l := batch.Link
	_, err = tx.ExecContext(ctx, `
		INSERT INTO parent_child_links (id, parent_id, child_id, status, linked_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?)
	`, l.ID, l.ParentID, l.ChildID, string(l.Status), fmtTime(l.LinkedAt), l.CreatedBy)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateLink
		}
		return fmt.Errorf("inserting link: %w", err)
	}

	if batch.Legacy != nil {
		g := batch.Legacy
		_, err = tx.ExecContext(ctx, `
			INSERT INTO parent_children (id, parent_id, child_id, linked_at, created_by)
			VALUES (?, ?, ?, ?, ?)
		`, g.ID, g.ParentID, g.ChildID, fmtTime(g.LinkedAt), g.CreatedBy)
		if err != nil {
			return fmt.Errorf("inserting legacy link: %w", err)
		}
	}

	for _, w := range batch.WhitelistEntries {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO whitelist (id, child_id, contact_id, status, approved_by, approved_at, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, w.ID, w.ChildID, w.ContactID, string(w.Status), w.ApprovedBy, fmtTime(w.ApprovedAt), w.Reason)
		if err != nil {
			return fmt.Errorf("inserting whitelist entry: %w", err)
		}
	}

	if la := batch.LocationApproval; la != nil {
		// INSERT OR IGNORE: re-approval of an existing pair is a no-op
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO location_approvals (child_id, parent_id, approved_at)
			VALUES (?, ?, ?)
		`, la.ChildID, la.ParentID, fmtTime(la.ApprovedAt))
		if err != nil {
			return fmt.Errorf("inserting location approval: %w", err)
		}
	}

	if batch.UsedCodeID != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE link_codes SET used = 1, used_at = ?, used_by = ? WHERE id = ?
		`, fmtTime(batch.UsedAt), batch.UsedBy, batch.UsedCodeID)
		if err != nil {
			return fmt.Errorf("consuming link code: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing link batch: %w", err)
	}

	s.logger.Debug("created link batch", "link_id", l.ID, "code_used", batch.UsedCodeID != "")
	return nil
}

// CreateLinkCode inserts a new pairing code.
func (s *SQLiteStore) CreateLinkCode(ctx context.Context, code *LinkCode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO link_codes (id, code, created_by, created_at, expires_at, used, used_at, used_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, code.ID, code.Code, code.CreatedBy, fmtTime(code.CreatedAt),
		fmtTimePtr(code.ExpiresAt), code.Used, fmtTimePtr(code.UsedAt), code.UsedBy)
	if err != nil {
		return fmt.Errorf("inserting link code: %w", err)
	}
	return nil
}

// GetLinkCodeByCode looks up a pairing code by its code string.
// Returns ErrNotFound if no such code exists.
func (s *SQLiteStore) GetLinkCodeByCode(ctx context.Context, code string) (*LinkCode, error) {
	query := `
		SELECT id, code, created_by, created_at, expires_at, used, used_at, used_by
		FROM link_codes
		WHERE code = ?
	`

	var lc LinkCode
	var createdAt string
	var expiresAt, usedAt sql.NullString

	err := s.db.QueryRowContext(ctx, query, code).Scan(
		&lc.ID,
		&lc.Code,
		&lc.CreatedBy,
		&createdAt,
		&expiresAt,
		&lc.Used,
		&usedAt,
		&lc.UsedBy,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying link code: %w", err)
	}

	if lc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if lc.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
		return nil, err
	}
	if lc.UsedAt, err = parseTimePtr(usedAt); err != nil {
		return nil, err
	}

	return &lc, nil
}

// DeleteExpiredLinkCodes removes codes whose expiry has passed. Returns
// the number of codes deleted.
func (s *SQLiteStore) DeleteExpiredLinkCodes(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM link_codes WHERE expires_at IS NOT NULL AND expires_at < ?`,
		fmtTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired link codes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted link codes: %w", err)
	}
	return int(n), nil
}

// ListWhitelistByChild returns all whitelist entries for a child.
func (s *SQLiteStore) ListWhitelistByChild(ctx context.Context, childID string) ([]*WhitelistEntry, error) {
	query := `
		SELECT id, child_id, contact_id, status, approved_by, approved_at, reason
		FROM whitelist
		WHERE child_id = ?
		ORDER BY approved_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, childID)
	if err != nil {
		return nil, fmt.Errorf("querying whitelist: %w", err)
	}
	defer rows.Close()

	var entries []*WhitelistEntry
	for rows.Next() {
		var w WhitelistEntry
		var status, approvedAt string

		if err := rows.Scan(&w.ID, &w.ChildID, &w.ContactID, &status, &w.ApprovedBy, &approvedAt, &w.Reason); err != nil {
			return nil, fmt.Errorf("scanning whitelist entry: %w", err)
		}

		w.Status = ApprovalStatus(status)
		if w.ApprovedAt, err = parseTime(approvedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &w)
	}
	return entries, rows.Err()
}

// ListLocationApprovals returns the parent ids approved to see the
// child's location.
func (s *SQLiteStore) ListLocationApprovals(ctx context.Context, childID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT parent_id FROM location_approvals WHERE child_id = ? ORDER BY approved_at ASC`,
		childID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying location approvals: %w", err)
	}
	defer rows.Close()

	var parents []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning location approval: %w", err)
		}
		parents = append(parents, p)
	}
	return parents, rows.Err()
}
