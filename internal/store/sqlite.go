// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides schema creation, account persistence and shared helpers

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			email      TEXT NOT NULL DEFAULT '',
			role       TEXT NOT NULL,
			push_token TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,

			CHECK (role IN ('parent', 'child'))
		);

		CREATE TABLE IF NOT EXISTS parent_child_links (
			id         TEXT PRIMARY KEY,
			parent_id  TEXT NOT NULL,
			child_id   TEXT NOT NULL,
			status     TEXT NOT NULL,
			linked_at  TEXT NOT NULL,
			created_by TEXT NOT NULL,

			CHECK (status IN ('approved'))
		);

		CREATE INDEX IF NOT EXISTS idx_links_child ON parent_child_links(child_id, status);
		CREATE INDEX IF NOT EXISTS idx_links_parent ON parent_child_links(parent_id);

		-- Pre-migration compatibility records; checked alongside
		-- parent_child_links when rejecting duplicate links.
		CREATE TABLE IF NOT EXISTS parent_children (
			id         TEXT PRIMARY KEY,
			parent_id  TEXT NOT NULL,
			child_id   TEXT NOT NULL,
			linked_at  TEXT NOT NULL,
			created_by TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_parent_children_pair ON parent_children(parent_id, child_id);

		CREATE TABLE IF NOT EXISTS link_codes (
			id         TEXT PRIMARY KEY,
			code       TEXT UNIQUE NOT NULL,
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT,
			used       INTEGER NOT NULL DEFAULT 0,
			used_at    TEXT,
			used_by    TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_link_codes_code ON link_codes(code);
		CREATE INDEX IF NOT EXISTS idx_link_codes_expires ON link_codes(expires_at);

		CREATE TABLE IF NOT EXISTS whitelist (
			id          TEXT PRIMARY KEY,
			child_id    TEXT NOT NULL,
			contact_id  TEXT NOT NULL,
			status      TEXT NOT NULL,
			approved_by TEXT NOT NULL,
			approved_at TEXT NOT NULL,
			reason      TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_whitelist_child ON whitelist(child_id);

		CREATE TABLE IF NOT EXISTS location_approvals (
			child_id    TEXT NOT NULL,
			parent_id   TEXT NOT NULL,
			approved_at TEXT NOT NULL,

			PRIMARY KEY (child_id, parent_id)
		);

		-- No unique index on the user pair: per-pair uniqueness is
		-- look-before-write in the contact services.
		CREATE TABLE IF NOT EXISTS contacts (
			id                  TEXT PRIMARY KEY,
			user_lo             TEXT NOT NULL,
			user_hi             TEXT NOT NULL,
			user1_name          TEXT NOT NULL DEFAULT '',
			user2_name          TEXT NOT NULL DEFAULT '',
			user1_email         TEXT NOT NULL DEFAULT '',
			user2_email         TEXT NOT NULL DEFAULT '',
			status              TEXT NOT NULL,
			auto_approved       INTEGER NOT NULL DEFAULT 0,
			approved_parent_ids TEXT NOT NULL DEFAULT '[]',
			added_at            TEXT NOT NULL,
			added_by            TEXT NOT NULL,
			added_via           TEXT NOT NULL DEFAULT '',
			approved_for_group  INTEGER NOT NULL DEFAULT 0,
			approved_at         TEXT,
			rejected_at         TEXT,
			rejected_by         TEXT NOT NULL DEFAULT '',

			CHECK (status IN ('pending', 'approved', 'rejected'))
		);

		CREATE INDEX IF NOT EXISTS idx_contacts_lo ON contacts(user_lo);
		CREATE INDEX IF NOT EXISTS idx_contacts_hi ON contacts(user_hi);

		CREATE TABLE IF NOT EXISTS contact_requests (
			id             TEXT PRIMARY KEY,
			child_id       TEXT NOT NULL,
			contact_id     TEXT NOT NULL,
			child_name     TEXT NOT NULL DEFAULT '',
			child_email    TEXT NOT NULL DEFAULT '',
			contact_name   TEXT NOT NULL DEFAULT '',
			contact_email  TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL,
			parent_id      TEXT NOT NULL DEFAULT '',
			contact_doc_id TEXT NOT NULL,
			requested_at   TEXT NOT NULL,
			updated_at     TEXT,
			updated_by     TEXT NOT NULL DEFAULT '',
			approved_at    TEXT,
			rejected_at    TEXT,
			rejected_by    TEXT NOT NULL DEFAULT '',

			CHECK (status IN ('pending', 'approved', 'rejected'))
		);

		CREATE INDEX IF NOT EXISTS idx_contact_requests_doc ON contact_requests(contact_doc_id);
		CREATE INDEX IF NOT EXISTS idx_contact_requests_parent ON contact_requests(parent_id, status);

		CREATE TABLE IF NOT EXISTS permission_requests (
			id             TEXT PRIMARY KEY,
			child_id       TEXT NOT NULL,
			contact_id     TEXT NOT NULL,
			parent_id      TEXT NOT NULL,
			status         TEXT NOT NULL,
			contact_doc_id TEXT NOT NULL DEFAULT '',
			requested_at   TEXT NOT NULL,
			updated_at     TEXT,
			updated_by     TEXT NOT NULL DEFAULT '',
			approved_at    TEXT,
			approved_by    TEXT NOT NULL DEFAULT '',
			rejected_at    TEXT,
			rejected_by    TEXT NOT NULL DEFAULT '',

			CHECK (status IN ('pending', 'approved', 'rejected'))
		);

		CREATE INDEX IF NOT EXISTS idx_permission_requests_parent ON permission_requests(parent_id, status);

		CREATE TABLE IF NOT EXISTS rate_limits (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			action        TEXT NOT NULL,
			requests_json TEXT NOT NULL DEFAULT '[]',
			created_at    INTEGER NOT NULL,
			last_request  INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_rate_limits_last ON rate_limits(last_request);

		CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			type       TEXT NOT NULL,
			title      TEXT NOT NULL,
			body       TEXT NOT NULL,
			data_json  TEXT NOT NULL DEFAULT '{}',
			priority   TEXT NOT NULL DEFAULT 'normal',
			read       INTEGER NOT NULL DEFAULT 0,
			sent       INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);

		CREATE TABLE IF NOT EXISTS reports (
			id           TEXT PRIMARY KEY,
			child_id     TEXT NOT NULL,
			parent_id    TEXT NOT NULL,
			period_days  INTEGER NOT NULL,
			body_json    TEXT NOT NULL,
			generated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_reports_child ON reports(child_id, generated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// fmtTime formats a time for storage (UTC RFC3339).
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// fmtTimePtr formats an optional time, returning nil for absent values.
func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// parseTime parses a stored RFC3339 timestamp.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// parseTimePtr parses an optional stored timestamp.
func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateAccount inserts a new account. Used by bootstrap and tests; the
// production signup flow writes accounts through its own service.
func (s *SQLiteStore) CreateAccount(ctx context.Context, a *Account) error {
	query := `
		INSERT INTO accounts (id, name, email, role, push_token, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID,
		a.Name,
		a.Email,
		string(a.Role),
		a.PushToken,
		fmtTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting account: %w", err)
	}

	s.logger.Debug("created account", "id", a.ID, "role", string(a.Role))
	return nil
}

// GetAccount retrieves an account by ID.
// Returns ErrNotFound if the account doesn't exist.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	query := `
		SELECT id, name, email, role, push_token, created_at
		FROM accounts
		WHERE id = ?
	`

	var a Account
	var role, createdAt string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID,
		&a.Name,
		&a.Email,
		&role,
		&a.PushToken,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}

	a.Role = Role(role)
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	return &a, nil
}

// CountAccounts returns the total number of accounts.
func (s *SQLiteStore) CountAccounts(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting accounts: %w", err)
	}
	return count, nil
}
