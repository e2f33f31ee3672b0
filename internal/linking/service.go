// ABOUTME: Account linker service establishing parent-child trust edges
// ABOUTME: Commits the link batch atomically, then fans out to contacts and notifications

package linking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/talia-app/guardian/internal/notify"
	"github.com/talia-app/guardian/internal/ratelimit"
	"github.com/talia-app/guardian/internal/store"
)

// Service implements parent-child account linking.
type Service struct {
	store      store.Store
	limiter    *ratelimit.Limiter
	dispatcher notify.Dispatcher
	logger     *slog.Logger

	now func() time.Time
}

// NewService creates a linking service.
func NewService(st store.Store, limiter *ratelimit.Limiter, dispatcher notify.Dispatcher) *Service {
	return &Service{
		store:      st,
		limiter:    limiter,
		dispatcher: dispatcher,
		logger:     slog.Default().With("component", "linking"),
		now:        time.Now,
	}
}

// LinkResult is the outcome of a successful link creation. Propagated
// reports whether the post-commit contact fan-out fully succeeded; the
// link itself is committed either way.
type LinkResult struct {
	LinkID     string
	ParentID   string
	ChildID    string
	ParentName string
	ChildName  string
	LinkedAt   time.Time
	Propagated bool
}

// CreateLink establishes an approved parent-child link. The caller must
// be one of the two parties. An optional pairing code is validated before
// and consumed within the atomic write. Post-commit, the new parent is
// granted visibility on the child's existing contacts and both parties
// are notified; those steps are best effort.
func (s *Service) CreateLink(ctx context.Context, callerID, parentID, childID, code string) (*LinkResult, error) {
	if callerID == "" {
		return nil, status.Error(codes.Unauthenticated, "caller identity required")
	}
	if parentID == "" || childID == "" {
		return nil, status.Error(codes.InvalidArgument, "parentId and childId are required")
	}
	if parentID == childID {
		return nil, status.Error(codes.InvalidArgument, "cannot link an account to itself")
	}
	if callerID != parentID && callerID != childID {
		return nil, status.Error(codes.PermissionDenied, "caller must be one of the accounts being linked")
	}

	decision := s.limiter.Check(ctx, callerID, ratelimit.ActionCreateLink)
	if !decision.Allowed {
		return nil, status.Errorf(codes.ResourceExhausted,
			"rate limit exceeded, retry after %d seconds", decision.RetryAfter)
	}

	now := s.now().UTC()

	var linkCode *store.LinkCode
	if code != "" {
		lc, err := s.validateLinkCode(ctx, code, parentID, childID, now)
		if err != nil {
			return nil, err
		}
		linkCode = lc
	}

	parent, err := s.store.GetAccount(ctx, parentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "parent account not found")
		}
		return nil, status.Errorf(codes.Internal, "loading parent account: %v", err)
	}
	child, err := s.store.GetAccount(ctx, childID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "child account not found")
		}
		return nil, status.Errorf(codes.Internal, "loading child account: %v", err)
	}

	if _, err := s.store.GetLink(ctx, parentID, childID); err == nil {
		return nil, status.Error(codes.AlreadyExists, "accounts are already linked")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, status.Errorf(codes.Internal, "checking existing link: %v", err)
	}

	// The legacy collection is checked in both orientations.
	for _, pair := range [][2]string{{parentID, childID}, {childID, parentID}} {
		exists, err := s.store.HasLegacyLink(ctx, pair[0], pair[1])
		if err != nil {
			return nil, status.Errorf(codes.Internal, "checking legacy link: %v", err)
		}
		if exists {
			return nil, status.Error(codes.AlreadyExists, "accounts are already linked")
		}
	}

	batch := &store.LinkBatch{
		Link: &store.ParentChildLink{
			ID:        store.LinkID(parentID, childID),
			ParentID:  parentID,
			ChildID:   childID,
			Status:    store.StatusApproved,
			LinkedAt:  now,
			CreatedBy: callerID,
		},
		Legacy: &store.LegacyLink{
			ID:        uuid.New().String(),
			ParentID:  parentID,
			ChildID:   childID,
			LinkedAt:  now,
			CreatedBy: callerID,
		},
		WhitelistEntries: []*store.WhitelistEntry{
			{
				ID:         uuid.New().String(),
				ChildID:    childID,
				ContactID:  parentID,
				Status:     store.StatusApproved,
				ApprovedBy: callerID,
				ApprovedAt: now,
				Reason:     "parent-child link",
			},
			{
				ID:         uuid.New().String(),
				ChildID:    parentID,
				ContactID:  childID,
				Status:     store.StatusApproved,
				ApprovedBy: callerID,
				ApprovedAt: now,
				Reason:     "parent-child link",
			},
		},
		LocationApproval: &store.LocationApproval{
			ChildID:    childID,
			ParentID:   parentID,
			ApprovedAt: now,
		},
	}
	if linkCode != nil {
		batch.UsedCodeID = linkCode.ID
		batch.UsedAt = now
		batch.UsedBy = callerID
	}

	if err := s.store.CreateLinkBatch(ctx, batch); err != nil {
		if errors.Is(err, store.ErrDuplicateLink) {
			return nil, status.Error(codes.AlreadyExists, "accounts are already linked")
		}
		return nil, status.Errorf(codes.Internal, "creating link: %v", err)
	}

	s.logger.Info("created parent-child link",
		"link_id", batch.Link.ID, "created_by", callerID, "code_used", linkCode != nil)

	propagated := s.propagate(ctx, parent, child)

	return &LinkResult{
		LinkID:     batch.Link.ID,
		ParentID:   parentID,
		ChildID:    childID,
		ParentName: parent.Name,
		ChildName:  child.Name,
		LinkedAt:   now,
		Propagated: propagated,
	}, nil
}

// propagate performs the post-commit fan-out: grant the new parent
// visibility on the child's existing contacts and notify both parties.
// Failures are logged and swallowed; returns whether everything succeeded.
func (s *Service) propagate(ctx context.Context, parent, child *store.Account) bool {
	ok := true

	contacts, err := s.store.ListContactsContaining(ctx, child.ID)
	if err != nil {
		s.logger.Warn("listing child contacts after link", "child", child.ID, "error", err)
		ok = false
	} else {
		for _, c := range contacts {
			if err := s.store.AddApprovedParent(ctx, c.ID, parent.ID); err != nil {
				s.logger.Warn("adding parent to contact after link",
					"contact", c.ID, "parent", parent.ID, "error", err)
				ok = false
			}
		}
	}

	notifications := []notify.Message{
		{
			UserID: parent.ID,
			Type:   "link_created",
			Title:  "Account linked",
			Body:   fmt.Sprintf("You are now linked to %s", child.Name),
			Data:   map[string]string{"childId": child.ID},
		},
		{
			UserID: child.ID,
			Type:   "link_created",
			Title:  "Account linked",
			Body:   fmt.Sprintf("You are now linked to %s", parent.Name),
			Data:   map[string]string{"parentId": parent.ID},
		},
	}
	for _, msg := range notifications {
		if err := s.dispatcher.Dispatch(ctx, msg); err != nil {
			s.logger.Warn("dispatching link notification", "user", msg.UserID, "error", err)
			ok = false
		}
	}

	return ok
}
