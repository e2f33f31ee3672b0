// ABOUTME: SQLite persistence for contacts, contact requests and permission requests
// ABOUTME: Approval and rejection cascades run inside a single transaction

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateContact inserts a new contact record.
func (s *SQLiteStore) CreateContact(ctx context.Context, c *Contact) error {
	parentIDs, err := json.Marshal(c.ApprovedParentIDs)
	if err != nil {
		return fmt.Errorf("encoding approved parent ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contacts (
			id, user_lo, user_hi, user1_name, user2_name, user1_email, user2_email,
			status, auto_approved, approved_parent_ids, added_at, added_by, added_via,
			approved_for_group, approved_at, rejected_at, rejected_by
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Users[0], c.Users[1], c.User1Name, c.User2Name, c.User1Email, c.User2Email,
		string(c.Status), c.AutoApproved, string(parentIDs), fmtTime(c.AddedAt), c.AddedBy, c.AddedVia,
		c.ApprovedForGroup, fmtTimePtr(c.ApprovedAt), fmtTimePtr(c.RejectedAt), c.RejectedBy)
	if err != nil {
		return fmt.Errorf("inserting contact: %w", err)
	}

	s.logger.Debug("created contact", "id", c.ID, "status", string(c.Status))
	return nil
}

const contactColumns = `
	id, user_lo, user_hi, user1_name, user2_name, user1_email, user2_email,
	status, auto_approved, approved_parent_ids, added_at, added_by, added_via,
	approved_for_group, approved_at, rejected_at, rejected_by
`

func scanContact(row interface{ Scan(...any) error }) (*Contact, error) {
	var c Contact
	var status, parentIDs, addedAt string
	var approvedAt, rejectedAt sql.NullString

	err := row.Scan(
		&c.ID, &c.Users[0], &c.Users[1], &c.User1Name, &c.User2Name, &c.User1Email, &c.User2Email,
		&status, &c.AutoApproved, &parentIDs, &addedAt, &c.AddedBy, &c.AddedVia,
		&c.ApprovedForGroup, &approvedAt, &rejectedAt, &c.RejectedBy,
	)
	if err != nil {
		return nil, err
	}

	c.Status = ApprovalStatus(status)
	if err := json.Unmarshal([]byte(parentIDs), &c.ApprovedParentIDs); err != nil {
		return nil, fmt.Errorf("decoding approved parent ids: %w", err)
	}
	if c.AddedAt, err = parseTime(addedAt); err != nil {
		return nil, err
	}
	if c.ApprovedAt, err = parseTimePtr(approvedAt); err != nil {
		return nil, err
	}
	if c.RejectedAt, err = parseTimePtr(rejectedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetContact retrieves a contact by id. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetContact(ctx context.Context, id string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id)

	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying contact: %w", err)
	}
	return c, nil
}

// GetContactByPair retrieves the contact for a sorted user pair. When
// multiple records exist for the pair, the oldest wins. Returns
// ErrNotFound if no contact exists.
func (s *SQLiteStore) GetContactByPair(ctx context.Context, pair [2]string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE user_lo = ? AND user_hi = ? ORDER BY added_at ASC LIMIT 1`,
		pair[0], pair[1])

	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying contact by pair: %w", err)
	}
	return c, nil
}

// ListContactsContaining returns all contacts involving the account.
func (s *SQLiteStore) ListContactsContaining(ctx context.Context, accountID string) ([]*Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE user_lo = ? OR user_hi = ? ORDER BY added_at ASC`,
		accountID, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// DeleteContact removes a contact record. Used when abandoning a stale
// pending contact before recreating it.
func (s *SQLiteStore) DeleteContact(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// addApprovedParentTx appends parentID to the contact's approver list if
// not already present. Returns the updated list size.
func addApprovedParentTx(ctx context.Context, tx *sql.Tx, contactID, parentID string) error {
	var raw string
	err := tx.QueryRowContext(ctx,
		`SELECT approved_parent_ids FROM contacts WHERE id = ?`, contactID).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying approved parent ids: %w", err)
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return fmt.Errorf("decoding approved parent ids: %w", err)
	}
	for _, id := range ids {
		if id == parentID {
			return nil
		}
	}
	ids = append(ids, parentID)

	updated, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding approved parent ids: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE contacts SET approved_parent_ids = ? WHERE id = ?`, string(updated), contactID)
	if err != nil {
		return fmt.Errorf("updating approved parent ids: %w", err)
	}
	return nil
}

// AddApprovedParent records a parent's approval on the contact without
// changing its status. Duplicate approvals are idempotent.
func (s *SQLiteStore) AddApprovedParent(ctx context.Context, contactID, parentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := addApprovedParentTx(ctx, tx, contactID, parentID); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateContactGroupApproval promotes the contact on parental group
// approval: approved overall, approved for group chats, auto-approved.
func (s *SQLiteStore) UpdateContactGroupApproval(ctx context.Context, contactID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET status = 'approved', auto_approved = 1, approved_for_group = 1 WHERE id = ?`,
		contactID)
	if err != nil {
		return fmt.Errorf("updating group approval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateContactRequest inserts a new per-participant contact request.
func (s *SQLiteStore) CreateContactRequest(ctx context.Context, r *ContactRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contact_requests (
			id, child_id, contact_id, child_name, child_email, contact_name, contact_email,
			status, parent_id, contact_doc_id, requested_at, updated_at, updated_by,
			approved_at, rejected_at, rejected_by
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.ChildID, r.ContactID, r.ChildName, r.ChildEmail, r.ContactName, r.ContactEmail,
		string(r.Status), r.ParentID, r.ContactDocID, fmtTime(r.RequestedAt),
		fmtTimePtr(r.UpdatedAt), r.UpdatedBy, fmtTimePtr(r.ApprovedAt), fmtTimePtr(r.RejectedAt), r.RejectedBy)
	if err != nil {
		return fmt.Errorf("inserting contact request: %w", err)
	}
	return nil
}

const contactRequestColumns = `
	id, child_id, contact_id, child_name, child_email, contact_name, contact_email,
	status, parent_id, contact_doc_id, requested_at, updated_at, updated_by,
	approved_at, rejected_at, rejected_by
`

func scanContactRequest(row interface{ Scan(...any) error }) (*ContactRequest, error) {
	var r ContactRequest
	var status, requestedAt string
	var updatedAt, approvedAt, rejectedAt sql.NullString

	err := row.Scan(
		&r.ID, &r.ChildID, &r.ContactID, &r.ChildName, &r.ChildEmail, &r.ContactName, &r.ContactEmail,
		&status, &r.ParentID, &r.ContactDocID, &requestedAt, &updatedAt, &r.UpdatedBy,
		&approvedAt, &rejectedAt, &r.RejectedBy,
	)
	if err != nil {
		return nil, err
	}

	r.Status = ApprovalStatus(status)
	if r.RequestedAt, err = parseTime(requestedAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTimePtr(updatedAt); err != nil {
		return nil, err
	}
	if r.ApprovedAt, err = parseTimePtr(approvedAt); err != nil {
		return nil, err
	}
	if r.RejectedAt, err = parseTimePtr(rejectedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetContactRequest retrieves a contact request by id.
func (s *SQLiteStore) GetContactRequest(ctx context.Context, id string) (*ContactRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactRequestColumns+` FROM contact_requests WHERE id = ?`, id)

	r, err := scanContactRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying contact request: %w", err)
	}
	return r, nil
}

// ListContactRequestsByContactDoc returns all requests referencing the
// shared contact record.
func (s *SQLiteStore) ListContactRequestsByContactDoc(ctx context.Context, contactDocID string) ([]*ContactRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contactRequestColumns+` FROM contact_requests WHERE contact_doc_id = ? ORDER BY requested_at ASC`,
		contactDocID)
	if err != nil {
		return nil, fmt.Errorf("querying contact requests: %w", err)
	}
	defer rows.Close()

	var requests []*ContactRequest
	for rows.Next() {
		r, err := scanContactRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning contact request: %w", err)
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// UpdateContactRequestStatus persists a status change on a single
// contact request.
func (s *SQLiteStore) UpdateContactRequestStatus(ctx context.Context, r *ContactRequest) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contact_requests
		SET status = ?, updated_at = ?, updated_by = ?, approved_at = ?, rejected_at = ?, rejected_by = ?
		WHERE id = ?
	`, string(r.Status), fmtTimePtr(r.UpdatedAt), r.UpdatedBy,
		fmtTimePtr(r.ApprovedAt), fmtTimePtr(r.RejectedAt), r.RejectedBy, r.ID)
	if err != nil {
		return fmt.Errorf("updating contact request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApproveContactRequest approves one request and, when every request on
// the shared contact is approved, promotes the contact itself. The whole
// read-check-write runs in one transaction. Returns whether the contact
// was promoted to approved.
func (s *SQLiteStore) ApproveContactRequest(ctx context.Context, requestID, contactDocID, updatedBy string, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	ts := fmtTime(now)

	res, err := tx.ExecContext(ctx, `
		UPDATE contact_requests
		SET status = 'approved', updated_at = ?, updated_by = ?, approved_at = ?,
		    rejected_at = NULL, rejected_by = ''
		WHERE id = ?
	`, ts, updatedBy, ts, requestID)
	if err != nil {
		return false, fmt.Errorf("approving contact request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, ErrNotFound
	}

	if err := addApprovedParentTx(ctx, tx, contactDocID, updatedBy); err != nil {
		return false, err
	}

	var pending int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contact_requests WHERE contact_doc_id = ? AND status != 'approved'`,
		contactDocID,
	).Scan(&pending)
	if err != nil {
		return false, fmt.Errorf("counting unapproved requests: %w", err)
	}

	promoted := pending == 0
	if promoted {
		_, err = tx.ExecContext(ctx, `
			UPDATE contacts SET status = 'approved', approved_at = ? WHERE id = ?
		`, ts, contactDocID)
		if err != nil {
			return false, fmt.Errorf("promoting contact: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing approval: %w", err)
	}

	s.logger.Debug("approved contact request",
		"request_id", requestID, "contact_id", contactDocID, "promoted", promoted)
	return promoted, nil
}

// RejectContactCascade rejects one request, rejects the shared contact,
// and rejects every sibling request that is still pending. All writes
// commit together.
func (s *SQLiteStore) RejectContactCascade(ctx context.Context, requestID, contactDocID, rejectedBy string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	ts := fmtTime(now)

	res, err := tx.ExecContext(ctx, `
		UPDATE contact_requests
		SET status = 'rejected', updated_at = ?, updated_by = ?, rejected_at = ?, rejected_by = ?
		WHERE id = ?
	`, ts, rejectedBy, ts, rejectedBy, requestID)
	if err != nil {
		return fmt.Errorf("rejecting contact request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE contacts SET status = 'rejected', rejected_at = ?, rejected_by = ? WHERE id = ?
	`, ts, rejectedBy, contactDocID)
	if err != nil {
		return fmt.Errorf("rejecting contact: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE contact_requests
		SET status = 'rejected', updated_at = ?, updated_by = ?, rejected_at = ?, rejected_by = ?
		WHERE contact_doc_id = ? AND status = 'pending' AND id != ?
	`, ts, rejectedBy, ts, rejectedBy, contactDocID, requestID)
	if err != nil {
		return fmt.Errorf("rejecting sibling requests: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rejection: %w", err)
	}

	s.logger.Debug("rejected contact cascade",
		"request_id", requestID, "contact_id", contactDocID)
	return nil
}

// CreatePermissionRequest inserts a new group permission request.
func (s *SQLiteStore) CreatePermissionRequest(ctx context.Context, r *PermissionRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permission_requests (
			id, child_id, contact_id, parent_id, status, contact_doc_id,
			requested_at, updated_at, updated_by, approved_at, approved_by,
			rejected_at, rejected_by
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.ChildID, r.ContactID, r.ParentID, string(r.Status), r.ContactDocID,
		fmtTime(r.RequestedAt), fmtTimePtr(r.UpdatedAt), r.UpdatedBy,
		fmtTimePtr(r.ApprovedAt), r.ApprovedBy, fmtTimePtr(r.RejectedAt), r.RejectedBy)
	if err != nil {
		return fmt.Errorf("inserting permission request: %w", err)
	}
	return nil
}

// GetPermissionRequest retrieves a permission request by id.
func (s *SQLiteStore) GetPermissionRequest(ctx context.Context, id string) (*PermissionRequest, error) {
	query := `
		SELECT id, child_id, contact_id, parent_id, status, contact_doc_id,
		       requested_at, updated_at, updated_by, approved_at, approved_by,
		       rejected_at, rejected_by
		FROM permission_requests
		WHERE id = ?
	`

	var r PermissionRequest
	var status, requestedAt string
	var updatedAt, approvedAt, rejectedAt sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.ChildID, &r.ContactID, &r.ParentID, &status, &r.ContactDocID,
		&requestedAt, &updatedAt, &r.UpdatedBy, &approvedAt, &r.ApprovedBy,
		&rejectedAt, &r.RejectedBy,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying permission request: %w", err)
	}

	r.Status = ApprovalStatus(status)
	if r.RequestedAt, err = parseTime(requestedAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTimePtr(updatedAt); err != nil {
		return nil, err
	}
	if r.ApprovedAt, err = parseTimePtr(approvedAt); err != nil {
		return nil, err
	}
	if r.RejectedAt, err = parseTimePtr(rejectedAt); err != nil {
		return nil, err
	}

	return &r, nil
}

// UpdatePermissionRequest persists a status change on a permission
// request.
func (s *SQLiteStore) UpdatePermissionRequest(ctx context.Context, r *PermissionRequest) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE permission_requests
		SET status = ?, updated_at = ?, updated_by = ?, approved_at = ?, approved_by = ?,
		    rejected_at = ?, rejected_by = ?
		WHERE id = ?
	`, string(r.Status), fmtTimePtr(r.UpdatedAt), r.UpdatedBy,
		fmtTimePtr(r.ApprovedAt), r.ApprovedBy, fmtTimePtr(r.RejectedAt), r.RejectedBy, r.ID)
	if err != nil {
		return fmt.Errorf("updating permission request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
