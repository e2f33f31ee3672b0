// ABOUTME: Group permission variant of the contact approval workflow
// ABOUTME: Locates contacts by containment scan and materializes them on approval

package contacts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/talia-app/guardian/internal/store"
)

// findContactContaining scans the child's contacts for one involving the
// given account. This mirrors the group flow's array-containment lookup
// rather than the sorted-pair key; duplicate contacts for a pair are
// possible under concurrent creation from both paths.
func (s *Service) findContactContaining(ctx context.Context, childID, contactID string) (*store.Contact, error) {
	contacts, err := s.store.ListContactsContaining(ctx, childID)
	if err != nil {
		return nil, err
	}
	for _, c := range contacts {
		if c.Contains(contactID) {
			return c, nil
		}
	}
	return nil, store.ErrNotFound
}

// ApproveGroupPermission applies a parent's approval to a group
// permission request. The underlying contact is created auto-approved if
// absent, otherwise promoted to approved and marked for group chats.
// Re-approving an already-approved request is a no-op.
func (s *Service) ApproveGroupPermission(ctx context.Context, callerID, requestID, childID, contactID string) error {
	if callerID == "" {
		return status.Error(codes.Unauthenticated, "caller identity required")
	}
	if childID == "" || contactID == "" {
		return status.Error(codes.InvalidArgument, "childId and contactId are required")
	}

	req, err := s.store.GetPermissionRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return status.Error(codes.NotFound, "permission request not found")
		}
		return status.Errorf(codes.Internal, "loading permission request: %v", err)
	}

	if req.ParentID != callerID {
		return status.Error(codes.PermissionDenied, "only the approving parent may update this request")
	}

	if req.Status == store.StatusApproved {
		return nil
	}

	now := s.now().UTC()

	contact, err := s.findContactContaining(ctx, childID, contactID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c := &store.Contact{
			ID:                uuid.New().String(),
			Users:             store.SortPair(childID, contactID),
			Status:            store.StatusApproved,
			AutoApproved:      true,
			ApprovedParentIDs: []string{callerID},
			AddedAt:           now,
			AddedBy:           callerID,
			AddedVia:          "group_permission",
			ApprovedForGroup:  true,
			ApprovedAt:        &now,
		}
		if err := s.store.CreateContact(ctx, c); err != nil {
			return status.Errorf(codes.Internal, "creating contact: %v", err)
		}
		contact = c
	case err != nil:
		return status.Errorf(codes.Internal, "locating contact: %v", err)
	default:
		if err := s.store.UpdateContactGroupApproval(ctx, contact.ID); err != nil {
			return status.Errorf(codes.Internal, "updating contact group approval: %v", err)
		}
		if err := s.store.AddApprovedParent(ctx, contact.ID, callerID); err != nil {
			return status.Errorf(codes.Internal, "recording parent approval: %v", err)
		}
	}

	req.Status = store.StatusApproved
	req.UpdatedAt = &now
	req.UpdatedBy = callerID
	req.ApprovedAt = &now
	req.ApprovedBy = callerID
	req.ContactDocID = contact.ID
	// Re-approval after rejection clears the rejection record.
	req.RejectedAt = nil
	req.RejectedBy = ""

	if err := s.store.UpdatePermissionRequest(ctx, req); err != nil {
		return status.Errorf(codes.Internal, "updating permission request: %v", err)
	}

	s.logger.Info("approved group permission",
		"request_id", requestID, "contact_id", contact.ID, "parent", callerID)
	return nil
}

// UpdateGroupPermissionStatus applies a status change to a group
// permission request. Unlike the general contact workflow, an approved
// request cannot be rejected through this entry point.
func (s *Service) UpdateGroupPermissionStatus(ctx context.Context, callerID, requestID string, newStatus store.ApprovalStatus) error {
	if callerID == "" {
		return status.Error(codes.Unauthenticated, "caller identity required")
	}
	if newStatus != store.StatusApproved && newStatus != store.StatusRejected {
		return status.Errorf(codes.InvalidArgument, "status must be approved or rejected, got %q", newStatus)
	}

	req, err := s.store.GetPermissionRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return status.Error(codes.NotFound, "permission request not found")
		}
		return status.Errorf(codes.Internal, "loading permission request: %v", err)
	}

	if req.ParentID != callerID {
		return status.Error(codes.PermissionDenied, "only the approving parent may update this request")
	}

	if req.Status == newStatus {
		return nil
	}
	if req.Status == store.StatusApproved && newStatus == store.StatusRejected {
		return status.Error(codes.FailedPrecondition, "an approved permission cannot be rejected")
	}

	now := s.now().UTC()
	req.Status = newStatus
	req.UpdatedAt = &now
	req.UpdatedBy = callerID
	switch newStatus {
	case store.StatusApproved:
		req.ApprovedAt = &now
		req.ApprovedBy = callerID
		req.RejectedAt = nil
		req.RejectedBy = ""
	case store.StatusRejected:
		req.RejectedAt = &now
		req.RejectedBy = callerID
	}

	if err := s.store.UpdatePermissionRequest(ctx, req); err != nil {
		return status.Errorf(codes.Internal, "updating permission request: %v", err)
	}

	s.logger.Info("updated group permission status",
		"request_id", requestID, "status", string(newStatus))
	return nil
}

// CreatePermissionRequest records a new group permission request routed
// to the child's first linked parent. The group chat flow calls this when
// a child joins a group containing unknown members.
func (s *Service) CreatePermissionRequest(ctx context.Context, childID, contactID string) (*store.PermissionRequest, error) {
	if childID == "" || contactID == "" {
		return nil, status.Error(codes.InvalidArgument, "childId and contactId are required")
	}
	if childID == contactID {
		return nil, status.Error(codes.InvalidArgument, "cannot request permission for yourself")
	}

	child, err := s.store.GetAccount(ctx, childID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "child account not found")
		}
		return nil, status.Errorf(codes.Internal, "loading child account: %v", err)
	}

	parentID, err := s.approver(ctx, child)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "resolving approver: %v", err)
	}
	if parentID == "" {
		return nil, status.Error(codes.FailedPrecondition, "child has no linked parent to approve the request")
	}

	req := &store.PermissionRequest{
		ID:          uuid.New().String(),
		ChildID:     childID,
		ContactID:   contactID,
		ParentID:    parentID,
		Status:      store.StatusPending,
		RequestedAt: s.now().UTC(),
	}
	if err := s.store.CreatePermissionRequest(ctx, req); err != nil {
		return nil, status.Errorf(codes.Internal, "creating permission request: %v", err)
	}

	return req, nil
}
