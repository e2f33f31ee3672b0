// ABOUTME: Link code validation for the account linker
// ABOUTME: Validation is read-only; consumption happens inside the link batch

package linking

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/talia-app/guardian/internal/store"
)

// validateLinkCode checks that the pairing code exists, is unused and
// unexpired, and was created by one of the two parties being linked.
// Returns the code record for later consumption. Never mutates.
func (s *Service) validateLinkCode(ctx context.Context, code, parentID, childID string, now time.Time) (*store.LinkCode, error) {
	lc, err := s.store.GetLinkCodeByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "link code not found")
		}
		return nil, status.Errorf(codes.Internal, "looking up link code: %v", err)
	}

	if lc.Used {
		return nil, status.Error(codes.FailedPrecondition, "link code has already been used")
	}
	if lc.ExpiresAt != nil && lc.ExpiresAt.Before(now) {
		return nil, status.Error(codes.FailedPrecondition, "link code has expired")
	}
	if lc.CreatedBy != parentID && lc.CreatedBy != childID {
		return nil, status.Error(codes.PermissionDenied, "link code was not created by either account being linked")
	}

	return lc, nil
}
