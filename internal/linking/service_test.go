// ABOUTME: Tests for parent-child link creation and link code validation
// ABOUTME: Scenario coverage for duplicates, codes, rate limits and fan-out

package linking

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
	"github.com/talia-app/guardian/internal/ratelimit"
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

// recordingDispatcher captures dispatched notifications for assertions.
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
	limiter := ratelimit.NewLimiter(s, ratelimit.DefaultPolicies())
	return NewService(s, limiter, dispatcher), s, dispatcher
}

func assertCode(t *testing.T, err error, want codes.Code) {
	t.Helper()

	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok, "expected a status error, got %v", err)
	assert.Equal(t, want, st.Code(), "unexpected status code: %v", err)
}

func TestCreateLinkSuccess(t *testing.T) {
	svc, s, dispatcher := newTestService(t)
	ctx := context.Background()

	seedAccount(t, s, "p1", store.RoleParent)
	seedAccount(t, s, "c1", store.RoleChild)

	result, err := svc.CreateLink(ctx, "p1", "p1", "c1", "")
	require.NoError(t, err)

	assert.Equal(t, "p1_c1", result.LinkID)
	assert.Equal(t, "Test p1", result.ParentName)
	assert.Equal(t, "Test c1", result.ChildName)
	assert.True(t, result.Propagated)
	assert.False(t, result.LinkedAt.IsZero())

	link, err := s.GetLink(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusApproved, link.Status)

	childWhitelist, err := s.ListWhitelistByChild(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, childWhitelist, 1)
	assert.Equal(t, "p1", childWhitelist[0].ContactID)

	parentWhitelist, err := s.ListWhitelistByChild(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, parentWhitelist, 1)
	assert.Equal(t, "c1", parentWhitelist[0].ContactID)

	parents, err := s.ListLocationApprovals(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, parents)

	msgs := dispatcher.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "link_created", msgs[0].Type)
}

func TestCreateLinkCalledByChild(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()

	seedAccount(t, s, "p1", store.RoleParent)
	seedAccount(t, s, "c1", store.RoleChild)

	result, err := svc.CreateLink(ctx, "c1", "p1", "c1", "")
	require.NoError(t, err)
	assert.Equal(t, "p1_c1", result.LinkID)
}

func TestCreateLinkValidation(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()

	seedAccount(t, s, "p1", store.RoleParent)
	seedAccount(t, s, "c1", store.RoleChild)

	tests := []struct {
		name     string
		caller   string
		parentID string
		childID  string
		want     codes.Code
	}{
		{"missing caller", "", "p1", "c1", codes.Unauthenticated},
		{"missing parent", "p1", "", "c1", codes.InvalidArgument},
		{"missing child", "p1", "p1", "", codes.InvalidArgument},
		{"self link", "p1", "p1", "p1", codes.InvalidArgument},
		{"caller not a party", "p2", "p1", "c1", codes.PermissionDenied},
		{"parent account missing", "c1", "ghost", "c1", codes.NotFound},
		{"child account missing", "p1", "p1", "ghost", codes.NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateLink(ctx, tt.caller, tt.parentID, tt.childID, "")
			assertCode(t, err, tt.want)
		})
	}
}

func TestCreateLinkDuplicate(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()

	seedAccount(t, s, "p1", store.RoleParent)
	seedAccount(t, s, "c1", store.RoleChild)

	_, err := svc.CreateLink(ctx, "p1", "p1", "c1", "")
	require.NoError(t, err)

	_, err = svc.CreateLink(ctx, "p1", "p1", "c1", "")
	assertCode(t, err, codes.AlreadyExists)

	// The legacy record blocks the reverse direction too.
	_, err = svc.CreateLink(ctx, "c1", "c1", "p1", "")
	assertCode(t, err, codes.AlreadyExists)
}

func TestCreateLinkWithCode(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()

	seedAccount(t, s, "p1", store.RoleParent)
	seedAccount(t, s, "c1", store.RoleChild)

	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, s.CreateLinkCode(ctx, &store.LinkCode{
		ID:        uuid.New().String(),
		Code:      "PAIR01",
		CreatedBy: "c1",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: &future,
	}))

	_, err := svc.CreateLink(ctx, "p1", "p1", "c1", "PAIR01")
	require.NoError(t, err)

	code, err := s.GetLinkCodeByCode(ctx, "PAIR01")
	require.NoError(t, err)
	assert.True(t, code.Used)
	assert.Equal(t, "p1", code.UsedBy)
}

func TestCreateLinkCodeErrors(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()

	seedAccount(t, s, "p1", store.RoleParent)
	seedAccount(t, s, "c1", store.RoleChild)

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	require.NoError(t, s.CreateLinkCode(ctx, &store.LinkCode{
		ID: uuid.New().String(), Code: "EXPIRED", CreatedBy: "c1", CreatedAt: now, ExpiresAt: &past,
	}))
	require.NoError(t, s.CreateLinkCode(ctx, &store.LinkCode{
		ID: uuid.New().String(), Code: "USED", CreatedBy: "c1", CreatedAt: now, Used: true,
	}))
	require.NoError(t, s.CreateLinkCode(ctx, &store.LinkCode{
		ID: uuid.New().String(), Code: "STRANGER", CreatedBy: "someone-else", CreatedAt: now, ExpiresAt: &future,
	}))

	tests := []struct {
		name string
		code string
		want codes.Code
	}{
		{"unknown code", "MISSING", codes.NotFound},
		{"expired code", "EXPIRED", codes.FailedPrecondition},
		{"used code", "USED", codes.FailedPrecondition},
		{"code from a third party", "STRANGER", codes.PermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateLink(ctx, "p1", "p1", "c1", tt.code)
			assertCode(t, err, tt.want)
		})
	}

	// None of the failures may have created the link.
	_, err := s.GetLink(ctx, "p1", "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateLinkRateLimited(t *testing.T) {
	s := createTestStore(t)
	dispatcher := &recordingDispatcher{}
	limiter := ratelimit.NewLimiter(s, map[string]ratelimit.Policy{
		ratelimit.ActionCreateLink: {Max: 1, Window: time.Hour},
	})
	svc := NewService(s, limiter, dispatcher)
	ctx := context.Background()

	seedAccount(t, s, "p1", store.RoleParent)
	seedAccount(t, s, "c1", store.RoleChild)
	seedAccount(t, s, "c2", store.RoleChild)

	_, err := svc.CreateLink(ctx, "p1", "p1", "c1", "")
	require.NoError(t, err)

	_, err = svc.CreateLink(ctx, "p1", "p1", "c2", "")
	assertCode(t, err, codes.ResourceExhausted)
	assert.Contains(t, err.Error(), "retry after")
}

func TestCreateLinkPropagatesToContacts(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()

	seedAccount(t, s, "p1", store.RoleParent)
	seedAccount(t, s, "c1", store.RoleChild)

	contact := &store.Contact{
		ID:                uuid.New().String(),
		Users:             store.SortPair("c1", "c2"),
		Status:            store.StatusApproved,
		ApprovedParentIDs: []string{},
		AddedAt:           time.Now().UTC(),
		AddedBy:           "c1",
	}
	require.NoError(t, s.CreateContact(ctx, contact))

	result, err := svc.CreateLink(ctx, "p1", "p1", "c1", "")
	require.NoError(t, err)
	assert.True(t, result.Propagated)

	got, err := s.GetContact(ctx, contact.ID)
	require.NoError(t, err)
	assert.Contains(t, got.ApprovedParentIDs, "p1")
}

func TestCreateLinkSucceedsWhenNotifyFails(t *testing.T) {
	s := createTestStore(t)
	dispatcher := &recordingDispatcher{fail: true}
	limiter := ratelimit.NewLimiter(s, ratelimit.DefaultPolicies())
	svc := NewService(s, limiter, dispatcher)
	ctx := context.Background()

	seedAccount(t, s, "p1", store.RoleParent)
	seedAccount(t, s, "c1", store.RoleChild)

	result, err := svc.CreateLink(ctx, "p1", "p1", "c1", "")
	require.NoError(t, err)
	assert.False(t, result.Propagated)

	// The link itself committed.
	_, err = s.GetLink(ctx, "p1", "c1")
	assert.NoError(t, err)
}
