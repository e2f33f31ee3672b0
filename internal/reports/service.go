// ABOUTME: Child activity report generation for linked parents
// ABOUTME: Aggregates contact and link activity over a trailing window into a persisted report

package reports

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/talia-app/guardian/internal/ratelimit"
	"github.com/talia-app/guardian/internal/store"
)

const (
	defaultPeriodDays = 7
	maxPeriodDays     = 90
)

// Service generates activity reports for parents about their linked
// children.
type Service struct {
	store   store.Store
	limiter *ratelimit.Limiter
	logger  *slog.Logger

	now func() time.Time
}

// NewService creates a reports service.
func NewService(st store.Store, limiter *ratelimit.Limiter) *Service {
	return &Service{
		store:   st,
		limiter: limiter,
		logger:  slog.Default().With("component", "reports"),
		now:     time.Now,
	}
}

// Generate builds a report for the child over the trailing periodDays
// (default 7, max 90). The caller must hold an approved link to the
// child.
func (s *Service) Generate(ctx context.Context, callerID, childID string, periodDays int) (*store.Report, error) {
	if callerID == "" {
		return nil, status.Error(codes.Unauthenticated, "caller identity required")
	}
	if childID == "" {
		return nil, status.Error(codes.InvalidArgument, "childId is required")
	}
	if periodDays == 0 {
		periodDays = defaultPeriodDays
	}
	if periodDays < 1 || periodDays > maxPeriodDays {
		return nil, status.Errorf(codes.InvalidArgument, "periodDays must be between 1 and %d", maxPeriodDays)
	}

	if _, err := s.store.GetLink(ctx, callerID, childID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, status.Error(codes.PermissionDenied, "caller is not linked to this child")
		}
		return nil, status.Errorf(codes.Internal, "checking parent link: %v", err)
	}

	decision := s.limiter.Check(ctx, callerID, ratelimit.ActionGenerateReport)
	if !decision.Allowed {
		return nil, status.Errorf(codes.ResourceExhausted,
			"rate limit exceeded, retry after %d seconds", decision.RetryAfter)
	}

	now := s.now().UTC()
	since := now.AddDate(0, 0, -periodDays)

	contacts, err := s.store.ListContactsContaining(ctx, childID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "listing contacts: %v", err)
	}
	var contactsTotal, contactsApproved, contactsPending, contactsNew int
	for _, c := range contacts {
		contactsTotal++
		switch c.Status {
		case store.StatusApproved:
			contactsApproved++
		case store.StatusPending:
			contactsPending++
		}
		if c.AddedAt.After(since) {
			contactsNew++
		}
	}

	whitelist, err := s.store.ListWhitelistByChild(ctx, childID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "listing whitelist: %v", err)
	}

	links, err := s.store.ListLinksByChild(ctx, childID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "listing links: %v", err)
	}

	locationParents, err := s.store.ListLocationApprovals(ctx, childID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "listing location approvals: %v", err)
	}

	report := &store.Report{
		ID:         uuid.New().String(),
		ChildID:    childID,
		ParentID:   callerID,
		PeriodDays: periodDays,
		Body: map[string]any{
			"periodStart":       since.Format(time.RFC3339),
			"periodEnd":         now.Format(time.RFC3339),
			"contactsTotal":     contactsTotal,
			"contactsApproved":  contactsApproved,
			"contactsPending":   contactsPending,
			"contactsNew":       contactsNew,
			"whitelistEntries":  len(whitelist),
			"linkedParents":     len(links),
			"locationApprovals": len(locationParents),
		},
		GeneratedAt: now,
	}

	if err := s.store.CreateReport(ctx, report); err != nil {
		return nil, status.Errorf(codes.Internal, "saving report: %v", err)
	}

	s.logger.Info("generated report",
		"report_id", report.ID, "child", childID, "parent", callerID, "period_days", periodDays)
	return report, nil
}
