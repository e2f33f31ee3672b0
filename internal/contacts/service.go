// ABOUTME: Contact request workflow with per-party parental approval
// ABOUTME: Creation, approval and rejection of contact requests plus the group permission variant

package contacts

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
	"github.com/talia-app/guardian/internal/store"
)

// Service implements the contact request workflow.
type Service struct {
	store      store.Store
	dispatcher notify.Dispatcher
	logger     *slog.Logger

	now func() time.Time
}

// NewService creates a contacts service.
func NewService(st store.Store, dispatcher notify.Dispatcher) *Service {
	return &Service{
		store:      st,
		dispatcher: dispatcher,
		logger:     slog.Default().With("component", "contacts"),
		now:        time.Now,
	}
}

// RequestResult is the outcome of creating a contact request.
type RequestResult struct {
	ContactID    string
	Status       store.ApprovalStatus
	PendingCount int
}

// approver returns the id of the party's first linked parent, or "" when
// the party needs no approval (not a child, or no approved parent link).
func (s *Service) approver(ctx context.Context, account *store.Account) (string, error) {
	if account.Role != store.RoleChild {
		return "", nil
	}
	links, err := s.store.ListLinksByChild(ctx, account.ID)
	if err != nil {
		return "", fmt.Errorf("listing parent links: %w", err)
	}
	if len(links) == 0 {
		return "", nil
	}
	// First linked parent holds approval authority when several exist.
	return links[0].ParentID, nil
}

// CreateContactRequest starts (or restarts) the contact workflow between
// the caller and another account. Each party that is a parent-linked
// child gets a pending request routed to their first linked parent;
// parties without that need are approved immediately. When neither needs
// approval the contact itself is auto-approved.
func (s *Service) CreateContactRequest(ctx context.Context, callerID, otherID string) (*RequestResult, error) {
	if callerID == "" {
		return nil, status.Error(codes.Unauthenticated, "caller identity required")
	}
	if otherID == "" {
		return nil, status.Error(codes.InvalidArgument, "contactId is required")
	}
	if callerID == otherID {
		return nil, status.Error(codes.InvalidArgument, "cannot add yourself as a contact")
	}

	caller, err := s.store.GetAccount(ctx, callerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "caller account not found")
		}
		return nil, status.Errorf(codes.Internal, "loading caller account: %v", err)
	}
	other, err := s.store.GetAccount(ctx, otherID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "contact account not found")
		}
		return nil, status.Errorf(codes.Internal, "loading contact account: %v", err)
	}

	pair := store.SortPair(callerID, otherID)

	existing, err := s.store.GetContactByPair(ctx, pair)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, status.Errorf(codes.Internal, "checking existing contact: %v", err)
	}
	if existing != nil {
		switch existing.Status {
		case store.StatusApproved:
			return nil, status.Error(codes.AlreadyExists, "contact already exists")
		case store.StatusPending:
			requests, err := s.store.ListContactRequestsByContactDoc(ctx, existing.ID)
			if err != nil {
				return nil, status.Errorf(codes.Internal, "checking existing requests: %v", err)
			}
			for _, r := range requests {
				if r.Status == store.StatusPending {
					return nil, status.Error(codes.AlreadyExists, "contact request already pending")
				}
			}
			// Stale pending contact with no live requests: abandon it.
			fallthrough
		case store.StatusRejected:
			if err := s.store.DeleteContact(ctx, existing.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, status.Errorf(codes.Internal, "removing stale contact: %v", err)
			}
		}
	}

	callerApprover, err := s.approver(ctx, caller)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "resolving caller approver: %v", err)
	}
	otherApprover, err := s.approver(ctx, other)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "resolving contact approver: %v", err)
	}

	now := s.now().UTC()
	anyPending := callerApprover != "" || otherApprover != ""

	contactStatus := store.StatusApproved
	var approvedAt *time.Time
	if anyPending {
		contactStatus = store.StatusPending
	} else {
		approvedAt = &now
	}

	// Name columns follow the sorted pair order.
	name1, name2 := caller.Name, other.Name
	email1, email2 := caller.Email, other.Email
	if pair[0] != callerID {
		name1, name2 = name2, name1
		email1, email2 = email2, email1
	}

	contact := &store.Contact{
		ID:                uuid.New().String(),
		Users:             pair,
		User1Name:         name1,
		User2Name:         name2,
		User1Email:        email1,
		User2Email:        email2,
		Status:            contactStatus,
		AutoApproved:      !anyPending,
		ApprovedParentIDs: []string{},
		AddedAt:           now,
		AddedBy:           callerID,
		AddedVia:          "contact_request",
		ApprovedAt:        approvedAt,
	}
	if err := s.store.CreateContact(ctx, contact); err != nil {
		return nil, status.Errorf(codes.Internal, "creating contact: %v", err)
	}

	type party struct {
		self, peer *store.Account
		approver   string
	}
	pending := 0
	for _, p := range []party{
		{self: caller, peer: other, approver: callerApprover},
		{self: other, peer: caller, approver: otherApprover},
	} {
		reqStatus := store.StatusApproved
		var reqApprovedAt *time.Time
		if p.approver != "" {
			reqStatus = store.StatusPending
			pending++
		} else {
			reqApprovedAt = &now
		}

		req := &store.ContactRequest{
			ID:           uuid.New().String(),
			ChildID:      p.self.ID,
			ContactID:    p.peer.ID,
			ChildName:    p.self.Name,
			ChildEmail:   p.self.Email,
			ContactName:  p.peer.Name,
			ContactEmail: p.peer.Email,
			Status:       reqStatus,
			ParentID:     p.approver,
			ContactDocID: contact.ID,
			RequestedAt:  now,
			ApprovedAt:   reqApprovedAt,
		}
		if err := s.store.CreateContactRequest(ctx, req); err != nil {
			return nil, status.Errorf(codes.Internal, "creating contact request: %v", err)
		}

		if p.approver != "" {
			msg := notify.Message{
				UserID: p.approver,
				Type:   "contact_request",
				Title:  "Contact approval needed",
				Body:   fmt.Sprintf("%s wants to add %s as a contact", p.self.Name, p.peer.Name),
				Data: map[string]string{
					"requestId": req.ID,
					"childId":   p.self.ID,
					"contactId": p.peer.ID,
				},
			}
			if err := s.dispatcher.Dispatch(ctx, msg); err != nil {
				s.logger.Warn("dispatching approval notification",
					"parent", p.approver, "request", req.ID, "error", err)
			}
		}
	}

	s.logger.Info("created contact request",
		"contact_id", contact.ID, "status", string(contactStatus), "pending", pending)

	return &RequestResult{
		ContactID:    contact.ID,
		Status:       contactStatus,
		PendingCount: pending,
	}, nil
}

// UpdateContactRequestStatus applies a parent's approve or reject
// decision to a contact request. Approval promotes the shared contact
// once every sibling request is approved; rejection cascades to the
// contact and any still-pending siblings.
func (s *Service) UpdateContactRequestStatus(ctx context.Context, callerID, requestID string, newStatus store.ApprovalStatus) error {
	if callerID == "" {
		return status.Error(codes.Unauthenticated, "caller identity required")
	}
	if newStatus != store.StatusApproved && newStatus != store.StatusRejected {
		return status.Errorf(codes.InvalidArgument, "status must be approved or rejected, got %q", newStatus)
	}

	req, err := s.store.GetContactRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return status.Error(codes.NotFound, "contact request not found")
		}
		return status.Errorf(codes.Internal, "loading contact request: %v", err)
	}

	if req.ParentID == "" || req.ParentID != callerID {
		return status.Error(codes.PermissionDenied, "only the approving parent may update this request")
	}

	if req.Status == newStatus {
		return nil
	}

	now := s.now().UTC()

	switch newStatus {
	case store.StatusApproved:
		promoted, err := s.store.ApproveContactRequest(ctx, requestID, req.ContactDocID, callerID, now)
		if err != nil {
			return status.Errorf(codes.Internal, "approving contact request: %v", err)
		}
		s.notifyDecision(ctx, req, "contact_approved", "Contact approved",
			fmt.Sprintf("Your contact request for %s was approved", req.ContactName))
		if promoted {
			s.logger.Info("contact promoted to approved", "contact_id", req.ContactDocID)
		}
	case store.StatusRejected:
		if err := s.store.RejectContactCascade(ctx, requestID, req.ContactDocID, callerID, now); err != nil {
			return status.Errorf(codes.Internal, "rejecting contact request: %v", err)
		}
		s.notifyDecision(ctx, req, "contact_rejected", "Contact rejected",
			fmt.Sprintf("Your contact request for %s was rejected", req.ContactName))
	}

	return nil
}

// notifyDecision tells the requesting child about the parent's decision.
// Best effort.
func (s *Service) notifyDecision(ctx context.Context, req *store.ContactRequest, typ, title, body string) {
	msg := notify.Message{
		UserID: req.ChildID,
		Type:   typ,
		Title:  title,
		Body:   body,
		Data: map[string]string{
			"requestId": req.ID,
			"contactId": req.ContactID,
		},
	}
	if err := s.dispatcher.Dispatch(ctx, msg); err != nil {
		s.logger.Warn("dispatching decision notification",
			"user", req.ChildID, "request", req.ID, "error", err)
	}
}
