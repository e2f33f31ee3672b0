// ABOUTME: Store interface and core entity types for guardian persistence
// ABOUTME: Defines accounts, links, contacts and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateLink is returned when a parent-child link already exists for the pair
var ErrDuplicateLink = errors.New("link already exists")

// Role identifies the kind of account. Parent accounts hold approval
// authority over linked child accounts.
type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

// Valid reports whether the role is one of the known variants.
func (r Role) Valid() bool {
	return r == RoleParent || r == RoleChild
}

// Account represents a user account. Accounts are created by the signup
// flow; guardian only reads them (CreateAccount exists for bootstrap and
// test seeding).
type Account struct {
	ID        string
	Name      string
	Email     string
	Role      Role
	PushToken string // opaque token owned by the push relay
	CreatedAt time.Time
}

// ApprovalStatus is the shared status vocabulary for contacts, contact
// requests and permission requests.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

// ParentChildLink is an approved trust edge parent->child. The record id
// is the ordered pair "parentID_childID", so at most one link exists per
// direction. Links are never mutated after creation.
type ParentChildLink struct {
	ID        string // "{parentID}_{childID}"
	ParentID  string
	ChildID   string
	Status    ApprovalStatus // always approved; no other state is written
	LinkedAt  time.Time
	CreatedBy string
}

// LinkID builds the canonical link record id for a parent-child pair.
func LinkID(parentID, childID string) string {
	return parentID + "_" + childID
}

// LegacyLink mirrors the older parent_children records kept for
// compatibility with pre-migration clients. Checked alongside
// ParentChildLink when deciding whether a pair is already linked.
type LegacyLink struct {
	ID        string
	ParentID  string
	ChildID   string
	LinkedAt  time.Time
	CreatedBy string
}

// LinkCode is a single-use pairing code. Consumption (used=true) happens
// inside the link creation batch, never during validation.
type LinkCode struct {
	ID        string
	Code      string
	CreatedBy string
	CreatedAt time.Time
	ExpiresAt *time.Time
	Used      bool
	UsedAt    *time.Time
	UsedBy    string
}

// WhitelistEntry grants one-directional content visibility from contact to
// child. Entries are append-only; the linker writes two per link.
type WhitelistEntry struct {
	ID         string
	ChildID    string
	ContactID  string
	Status     ApprovalStatus
	ApprovedBy string
	ApprovedAt time.Time
	Reason     string
}

// LocationApproval records that a parent may see a child's location.
// The (child, parent) pair is the primary key, so re-approval is a no-op
// set-union.
type LocationApproval struct {
	ChildID    string
	ParentID   string
	ApprovedAt time.Time
}

// LinkBatch is the atomic multi-record write performed by the account
// linker. Either every record commits or none do. UsedCodeID is empty
// when no pairing code was supplied.
type LinkBatch struct {
	Link             *ParentChildLink
	Legacy           *LegacyLink
	WhitelistEntries []*WhitelistEntry
	LocationApproval *LocationApproval
	UsedCodeID       string
	UsedAt           time.Time
	UsedBy           string
}

// Contact is a symmetric relationship between two accounts. Users holds
// the pair sorted lexically; uniqueness per pair is enforced by
// look-before-write in the services, not by a database constraint.
type Contact struct {
	ID                string
	Users             [2]string // sorted pair
	User1Name         string
	User2Name         string
	User1Email        string
	User2Email        string
	Status            ApprovalStatus
	AutoApproved      bool
	ApprovedParentIDs []string
	AddedAt           time.Time
	AddedBy           string
	AddedVia          string
	ApprovedForGroup  bool
	ApprovedAt        *time.Time
	RejectedAt        *time.Time
	RejectedBy        string
}

// SortPair returns the two ids in canonical (lexical) order.
func SortPair(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

// Contains reports whether the contact involves the given account.
func (c *Contact) Contains(accountID string) bool {
	return c.Users[0] == accountID || c.Users[1] == accountID
}

// ContactRequest is one party's approval record within a Contact. Two
// requests exist per contact, one per participant; ParentID is set only
// when that participant requires parental approval.
type ContactRequest struct {
	ID           string
	ChildID      string // the participant this request belongs to
	ContactID    string // the other participant
	ChildName    string
	ChildEmail   string
	ContactName  string
	ContactEmail string
	Status       ApprovalStatus
	ParentID     string // approving parent, empty if none required
	ContactDocID string // back-reference to the shared Contact
	RequestedAt  time.Time
	UpdatedAt    *time.Time
	UpdatedBy    string
	ApprovedAt   *time.Time
	RejectedAt   *time.Time
	RejectedBy   string
}

// PermissionRequest is the group-permission variant of a contact request.
// Created by the group chat flow (outside this service); guardian approves
// or rejects it and materializes the resulting Contact.
type PermissionRequest struct {
	ID           string
	ChildID      string
	ContactID    string
	ParentID     string
	Status       ApprovalStatus
	ContactDocID string
	RequestedAt  time.Time
	UpdatedAt    *time.Time
	UpdatedBy    string
	ApprovedAt   *time.Time
	ApprovedBy   string
	RejectedAt   *time.Time
	RejectedBy   string
}

// Notification is a queued push notification consumed by the out-of-band
// push relay. Guardian only enqueues; delivery is the relay's problem.
type Notification struct {
	ID        string
	UserID    string
	Type      string
	Title     string
	Body      string
	Data      map[string]string
	Priority  string
	Read      bool
	Sent      bool
	CreatedAt time.Time
}

// RateLimitRecord tracks request timestamps for one (actor, action) pair.
// Requests holds Unix-millisecond timestamps in append order.
type RateLimitRecord struct {
	ID          string // "{userID}_{action}"
	UserID      string
	Action      string
	Requests    []int64
	CreatedAt   int64
	LastRequest int64
}

// Report is a generated child activity summary.
type Report struct {
	ID          string
	ChildID     string
	ParentID    string
	PeriodDays  int
	Body        map[string]any
	GeneratedAt time.Time
}

// AccountStore defines read access to accounts plus creation for
// bootstrap/seeding.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	CountAccounts(ctx context.Context) (int, error)
}

// LinkStore defines operations for parent-child links, link codes and the
// link creation batch.
type LinkStore interface {
	GetLink(ctx context.Context, parentID, childID string) (*ParentChildLink, error)
	ListLinksByChild(ctx context.Context, childID string) ([]*ParentChildLink, error)
	HasLegacyLink(ctx context.Context, parentID, childID string) (bool, error)
	CreateLinkBatch(ctx context.Context, batch *LinkBatch) error

	CreateLinkCode(ctx context.Context, code *LinkCode) error
	GetLinkCodeByCode(ctx context.Context, code string) (*LinkCode, error)
	DeleteExpiredLinkCodes(ctx context.Context, now time.Time) (int, error)

	ListWhitelistByChild(ctx context.Context, childID string) ([]*WhitelistEntry, error)
	ListLocationApprovals(ctx context.Context, childID string) ([]string, error)
}

// ContactStore defines operations for contacts, contact requests and
// permission requests.
type ContactStore interface {
	CreateContact(ctx context.Context, c *Contact) error
	GetContact(ctx context.Context, id string) (*Contact, error)
	GetContactByPair(ctx context.Context, pair [2]string) (*Contact, error)
	ListContactsContaining(ctx context.Context, accountID string) ([]*Contact, error)
	DeleteContact(ctx context.Context, id string) error
	AddApprovedParent(ctx context.Context, contactID, parentID string) error
	UpdateContactGroupApproval(ctx context.Context, contactID string) error

	CreateContactRequest(ctx context.Context, r *ContactRequest) error
	GetContactRequest(ctx context.Context, id string) (*ContactRequest, error)
	ListContactRequestsByContactDoc(ctx context.Context, contactDocID string) ([]*ContactRequest, error)
	UpdateContactRequestStatus(ctx context.Context, r *ContactRequest) error
	ApproveContactRequest(ctx context.Context, requestID, contactDocID, updatedBy string, now time.Time) (contactApproved bool, err error)
	RejectContactCascade(ctx context.Context, requestID, contactDocID, rejectedBy string, now time.Time) error

	CreatePermissionRequest(ctx context.Context, r *PermissionRequest) error
	GetPermissionRequest(ctx context.Context, id string) (*PermissionRequest, error)
	UpdatePermissionRequest(ctx context.Context, r *PermissionRequest) error
}

// RateLimitStore defines the transactional read-modify-write used by the
// rate limiter plus janitor cleanup.
type RateLimitStore interface {
	// WithRateLimitRecord loads the record for (userID, action) inside a
	// transaction and passes it to fn (nil if absent). A non-nil return
	// from fn is written back before commit; a nil return leaves the
	// record untouched.
	WithRateLimitRecord(ctx context.Context, userID, action string, fn func(rec *RateLimitRecord) (*RateLimitRecord, error)) error
	DeleteIdleRateLimits(ctx context.Context, before int64) (int, error)
}

// NotificationStore queues notifications for the push relay.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotificationsByUser(ctx context.Context, userID string, limit int) ([]*Notification, error)
}

// ReportStore persists generated reports.
type ReportStore interface {
	CreateReport(ctx context.Context, r *Report) error
	GetReport(ctx context.Context, id string) (*Report, error)
}

// Store aggregates all persistence capabilities.
type Store interface {
	AccountStore
	LinkStore
	ContactStore
	RateLimitStore
	NotificationStore
	ReportStore

	// Close releases any resources held by the store
	Close() error
}
