// ABOUTME: Tests for the store-backed notification dispatcher
// ABOUTME: Verifies outbox records and the default priority

package notify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talia-app/guardian/internal/dedupe"
	"github.com/talia-app/guardian/internal/store"
)

func TestDispatchQueuesNotification(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	d := NewQueueDispatcher(s)

	err = d.Dispatch(ctx, Message{
		UserID: "p1",
		Type:   "link_created",
		Title:  "New link",
		Body:   "You are now linked",
		Data:   map[string]string{"childId": "c1"},
	})
	require.NoError(t, err)

	err = d.Dispatch(ctx, Message{
		UserID:   "p1",
		Type:     "contact_request",
		Title:    "Approval needed",
		Priority: "high",
	})
	require.NoError(t, err)

	notifs, err := s.ListNotificationsByUser(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, notifs, 2)

	byType := map[string]*store.Notification{}
	for _, n := range notifs {
		byType[n.Type] = n
	}

	linked := byType["link_created"]
	require.NotNil(t, linked)
	assert.Equal(t, "normal", linked.Priority, "unset priority defaults")
	assert.Equal(t, "c1", linked.Data["childId"])

	request := byType["contact_request"]
	require.NotNil(t, request)
	assert.Equal(t, "high", request.Priority)
}

func TestDispatchSuppressesDuplicates(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	window := dedupe.New(time.Minute, 100)
	t.Cleanup(window.Close)

	ctx := context.Background()
	d := NewQueueDispatcher(s).WithSuppression(window)

	msg := Message{UserID: "p1", Type: "contact_request", Title: "Approval needed"}
	require.NoError(t, d.Dispatch(ctx, msg))
	require.NoError(t, d.Dispatch(ctx, msg))

	// A different recipient is not suppressed.
	other := msg
	other.UserID = "p2"
	require.NoError(t, d.Dispatch(ctx, other))

	notifs, err := s.ListNotificationsByUser(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Len(t, notifs, 1, "duplicate within the window should be dropped")

	notifs, err = s.ListNotificationsByUser(ctx, "p2", 0)
	require.NoError(t, err)
	assert.Len(t, notifs, 1)
}
