// Package store provides persistent storage for guardian using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with multiple
// specialized interfaces:
//
//   - AccountStore: Account reads plus bootstrap seeding
//   - LinkStore: Parent-child links, pairing codes, whitelist, location approvals
//   - ContactStore: Contacts, contact requests, permission requests
//   - RateLimitStore: Transactional rate limit records
//   - NotificationStore: Push notification outbox
//   - ReportStore: Generated activity reports
//
// SQLiteStore implements all interfaces in a single struct, allowing easy
// composition while maintaining clear interface boundaries.
//
// # Data Models
//
// Core models:
//
//   - Account: User account with a parent or child role
//   - ParentChildLink: Approved trust edge, id "{parentID}_{childID}"
//   - LinkCode: Single-use pairing code with optional expiry
//   - Contact: Symmetric relationship between two accounts
//   - ContactRequest: Per-participant approval record within a contact
//   - PermissionRequest: Group chat approval variant
//   - RateLimitRecord: Request timestamps per (actor, action) pair
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateLink: Link already exists for the pair and direction
//
// All methods accept context.Context for cancellation support.
//
// # Transactions
//
// Multi-record writes (link creation, contact approval and rejection
// cascades, rate limit read-modify-write) run inside a single SQLite
// transaction so partial writes are never observable.
package store
