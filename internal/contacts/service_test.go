// ABOUTME: Scenario tests for the contact request workflow
// ABOUTME: Covers per-party approval routing, promotion and rejection cascades

package contacts

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/talia-app/guardian/internal/notify"
	"github.com/talia-app/guardian/internal/store"
)

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create SQLite store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func seedAccount(t *testing.T, s *store.SQLiteStore, id string, role store.Role) {
	t.Helper()

	require.NoError(t, s.CreateAccount(context.Background(), &store.Account{
		ID:        id,
		Name:      "Test " + id,
		Email:     id + "@example.com",
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}))
}

// linkParent wires an approved parent link directly through the store.
func linkParent(t *testing.T, s *store.SQLiteStore, parentID, childID string) {
	t.Helper()

	now := time.Now().UTC()
	require.NoError(t, s.CreateLinkBatch(context.Background(), &store.LinkBatch{
		Link: &store.ParentChildLink{
			ID:        store.LinkID(parentID, childID),
			ParentID:  parentID,
			ChildID:   childID,
			Status:    store.StatusApproved,
			LinkedAt:  now,
			CreatedBy: parentID,
		},
	}))
}

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []notify.Message
	fail bool
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, msg notify.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errors.New("relay unavailable")
	}
	d.msgs = append(d.msgs, msg)
	return nil
}

func (d *recordingDispatcher) messages() []notify.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Message(nil), d.msgs...)
}

func newTestService(t *testing.T) (*Service, *store.SQLiteStore, *recordingDispatcher) {
	t.Helper()

	s := createTestStore(t)
	dispatcher := &recordingDispatcher{}
	return NewService(s, dispatcher), s, dispatcher
}

func assertCode(t *testing.T, err error, want codes.Code) {
	t.Helper()

	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok, "expected a status error, got %v", err)
	assert.Equal(t, want, st.Code(), "unexpected status code: %v", err)
}

// requestFor returns the contact request belonging to the given party.
func requestFor(t *testing.T, s *store.SQLiteStore, contactDocID, partyID string) *store.ContactRequest {
	t.Helper()

	requests, err := s.ListContactRequestsByContactDoc(context.Background(), contactDocID)
	require.NoError(t, err)
	for _, r := range requests {
		if r.ChildID == partyID {
			return r
		}
	}
	t.Fatalf("no request for party %s", partyID)
	return nil
}

func TestCreateContactRequestMixedApproval(t *testing.T) {
	svc, s, dispatcher := newTestService(t)
	ctx := context.Background()

	// c1 is a linked child; c2 is an independent child with no parent.
	seedAccount(t, s, "p1", store.RoleParent)
	seedAccount(t, s, "c1", store.RoleChild)
	seedAccount(t, s, "c2", store.RoleChild)
	linkParent(t, s, "p1", "c1")

	result, err := svc.CreateContactRequest(ctx, "c1", "c2")
	require.NoError(t, err)

	assert.Equal(t, store.StatusPending, result.Status)
	assert.Equal(t, 1, result.PendingCount)

	contact, err := s.GetContact(ctx, result.ContactID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, contact.Status)
	assert.False(t, contact.AutoApproved)

	r1 := requestFor(t, s, result.ContactID, "c1")
	assert.Equal(t, store.StatusPending, r1.Status)
	assert.Equal(t, "p1", r1.ParentID)

	r2 := requestFor(t, s, result.ContactID, "c2")
	assert.Equal(t, store.StatusApproved, r2.Status)
	assert.Empty(t, r2.ParentID)

	// Only c1's parent gets an approval notification.
	msgs := dispatcher.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "p1", msgs[0].UserID)
	assert.Equal(t, "contact_request", msgs[0].Type)
}

func TestCreateContactRequestAutoApproved(t *testing.T) {
	svc, s, dispatcher := newTestService(t)
	ctx := context.Background()

	seedAccount(t, s, "u1", store.RoleParent)
	seedAccount(t, s, "u2", store.RoleParent)

	result, err := svc.CreateContactRequest(ctx, "u1", "u2")
	require.NoError(t, err)

	assert.Equal(t, store.StatusApproved, result.Status)
	assert.Equal(t, 0, result.PendingCount)

	contact, err := s.GetContact(ctx, result.ContactID)
	require.NoError(t, err)
	assert.True(t, contact.AutoApproved)
	assert.NotNil(t, contact.ApprovedAt)

	assert.Empty(t, dispatcher.messages())
}

func TestCreateContactRequestUnlinkedChildNeedsNoApproval(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()

	// Children without an approved parent link skip approval entirely.
	seedAccount(t, s, "c1", store.RoleChild)
	seedAccount(t, s, "c2", store.RoleChild)

	result, err := svc.CreateContactRequest(ctx, "c1", "c2")
	require.NoError(t, err)
	assert.Equal(t, store.StatusApproved, result.Status)
}

func TestCreateContactRequestValidation(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()

	seedAccount(t, s, "c1", store.RoleChild)

	_, err := svc.CreateContactRequest(ctx, "", "c1")
	assertCode(t, err, codes.Unauthenticated)

	_, err = svc.CreateContactRequest(ctx, "c1", "")
	assertCode(t, err, codes.InvalidArgument)

	_, err = svc.CreateContactRequest(ctx, "c1", "c1")
	assertCode(t, err, codes.InvalidArgument)

	_, err = svc.CreateContactRequest(ctx, "c1", "ghost")
	assertCode(t, err, codes.NotFound)
}

func TestCreateContactRequestDuplicateApproved(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()

	seedAccount(t, s, "u1", store.RoleParent)
	seedAccount(t, s, "u2", store.RoleParent)

	_, err := svc.CreateContactRequest(ctx, "u1", "u2")
	require.NoError(t, err)

	// Approved contact blocks both orderings.
	_, err = svc.CreateContactRequest(ctx, "u1", "u2")
	assertCode(t, err, codes.AlreadyExists)
	_, err = svc.CreateContactRequest(ctx, "u2", "u1")
	assertCode(t, err, codes.AlreadyExists)
}

func TestCreateContactRequestDuplicatePending(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()

	seedAccount(t, s, "p1", store.RoleParent)
	seedAccount(t, s, "c1", store.RoleChild)
	seedAccount(t, s, "c2", store.RoleChild)
	linkParent(t, s, "p1", "c1")

	_, err := svc.CreateContactRequest(ctx, "c1", "c2")
	require.NoError(t, err)

	_, err = svc.CreateContactRequest(ctx, "c2", "c1")
	assertCode(t, err, codes.AlreadyExists)
}

func TestCreateContactRequestRecreatesRejected(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()

	seedAccount(t, s, "u1", store.RoleParent)
	seedAccount(t, s, "u2", store.RoleParent)

	stale := &store.Contact{
		ID:                uuid.New().String(),
		Users:             store.SortPair("u1", "u2"),
		Status:            store.StatusRejected,
		ApprovedParentIDs: []string{},
		AddedAt:           time.Now().UTC().Add(-time.Hour),
		AddedBy:           "u1",
	}
	require.NoError(t, s.CreateContact(ctx, stale))

	result, err := svc.CreateContactRequest(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, result.ContactID)

	_, err = s.GetContact(ctx, stale.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateContactRequestApprovePromotes(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()

	seedAccount(t, s, "p1", store.RoleParent)
	seedAccount(t, s, "c1", store.RoleChild)
	seedAccount(t, s, "c2", store.RoleChild)
	linkParent(t, s, "p1", "c1")

	result, err := svc.CreateContactRequest(ctx, "c1", "c2")
	require.NoError(t, err)

	// c2's sibling request is already approved, so p1's approval
	// promotes the contact.
	r1 := requestFor(t, s, result.ContactID, "c1")
	require.NoError(t, svc.UpdateContactRequestStatus(ctx, "p1", r1.ID, store.StatusApproved))

	contact, err := s.GetContact(ctx, result.ContactID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusApproved, contact.Status)
	assert.Contains(t, contact.ApprovedParentIDs, "p1")
}

func TestUpdateContactRequestRejectCascades(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()

	seedAccount(t, s, "p1", store.RoleParent)
	seedAccount(t, s, "c1", store.RoleChild)
	seedAccount(t, s, "c2", store.RoleChild)
	linkParent(t, s, "p1", "c1")

	result, err := svc.CreateContactRequest(ctx, "c1", "c2")
	require.NoError(t, err)

	r1 := requestFor(t, s, result.ContactID, "c1")
	require.NoError(t, svc.UpdateContactRequestStatus(ctx, "p1", r1.ID, store.StatusRejected))

	contact, err := s.GetContact(ctx, result.ContactID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRejected, contact.Status)
}

func TestUpdateContactRequestAuthorization(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()

	seedAccount(t, s, "p1", store.RoleParent)
	seedAccount(t, s, "p2", store.RoleParent)
	seedAccount(t, s, "c1", store.RoleChild)
	seedAccount(t, s, "c2", store.RoleChild)
	linkParent(t, s, "p1", "c1")

	result, err := svc.CreateContactRequest(ctx, "c1", "c2")
	require.NoError(t, err)
	r1 := requestFor(t, s, result.ContactID, "c1")

	err = svc.UpdateContactRequestStatus(ctx, "p2", r1.ID, store.StatusApproved)
	assertCode(t, err, codes.PermissionDenied)

	err = svc.UpdateContactRequestStatus(ctx, "p1", r1.ID, store.StatusPending)
	assertCode(t, err, codes.InvalidArgument)

	err = svc.UpdateContactRequestStatus(ctx, "p1", "missing", store.StatusApproved)
	assertCode(t, err, codes.NotFound)
}

func TestUpdateContactRequestSameStatusNoOp(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()

	seedAccount(t, s, "p1", store.RoleParent)
	seedAccount(t, s, "c1", store.RoleChild)
	seedAccount(t, s, "c2", store.RoleChild)
	linkParent(t, s, "p1", "c1")

	result, err := svc.CreateContactRequest(ctx, "c1", "c2")
	require.NoError(t, err)
	r1 := requestFor(t, s, result.ContactID, "c1")

	require.NoError(t, svc.UpdateContactRequestStatus(ctx, "p1", r1.ID, store.StatusApproved))

	// Repeating the decision is a success without further mutation.
	require.NoError(t, svc.UpdateContactRequestStatus(ctx, "p1", r1.ID, store.StatusApproved))
}

// The general workflow allows flipping an approved request to rejected.
func TestUpdateContactRequestApprovedToRejectedAllowed(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()

	seedAccount(t, s, "p1", store.RoleParent)
	seedAccount(t, s, "c1", store.RoleChild)
	seedAccount(t, s, "c2", store.RoleChild)
	linkParent(t, s, "p1", "c1")

	result, err := svc.CreateContactRequest(ctx, "c1", "c2")
	require.NoError(t, err)
	r1 := requestFor(t, s, result.ContactID, "c1")

	require.NoError(t, svc.UpdateContactRequestStatus(ctx, "p1", r1.ID, store.StatusApproved))
	require.NoError(t, svc.UpdateContactRequestStatus(ctx, "p1", r1.ID, store.StatusRejected))

	contact, err := s.GetContact(ctx, result.ContactID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRejected, contact.Status)
}
