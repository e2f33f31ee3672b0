// ABOUTME: Push notification dispatcher writing to the store-backed outbox
// ABOUTME: Delivery is best effort; failures are logged and swallowed by callers

package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/talia-app/guardian/internal/dedupe"
	"github.com/talia-app/guardian/internal/store"
)

// Message is one push notification to a single user.
type Message struct {
	UserID   string
	Type     string
	Title    string
	Body     string
	Data     map[string]string
	Priority string
}

// Dispatcher hands notifications to the push relay. Implementations must
// be safe for concurrent use.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// QueueDispatcher enqueues notifications in the store outbox, where the
// out-of-band push relay picks them up.
type QueueDispatcher struct {
	store  store.NotificationStore
	window *dedupe.Cache
	logger *slog.Logger
}

// NewQueueDispatcher creates a dispatcher writing to the given store.
func NewQueueDispatcher(st store.NotificationStore) *QueueDispatcher {
	return &QueueDispatcher{
		store:  st,
		logger: slog.Default().With("component", "notify"),
	}
}

// WithSuppression drops notifications that repeat the same recipient,
// type and title inside the cache's window.
func (d *QueueDispatcher) WithSuppression(window *dedupe.Cache) *QueueDispatcher {
	d.window = window
	return d
}

// Dispatch writes the notification record. The relay owns delivery,
// retries and token handling.
func (d *QueueDispatcher) Dispatch(ctx context.Context, msg Message) error {
	if d.window != nil {
		key := msg.UserID + "|" + msg.Type + "|" + msg.Title
		if d.window.Suppress(key) {
			d.logger.Debug("suppressed duplicate notification", "user", msg.UserID, "type", msg.Type)
			return nil
		}
	}

	priority := msg.Priority
	if priority == "" {
		priority = "normal"
	}

	n := &store.Notification{
		ID:        uuid.New().String(),
		UserID:    msg.UserID,
		Type:      msg.Type,
		Title:     msg.Title,
		Body:      msg.Body,
		Data:      msg.Data,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}

	if err := d.store.CreateNotification(ctx, n); err != nil {
		return err
	}

	d.logger.Debug("queued notification", "user", msg.UserID, "type", msg.Type)
	return nil
}
