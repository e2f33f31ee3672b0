// ABOUTME: HTTP handlers translating JSON requests into service calls
// ABOUTME: The authenticated account comes from the request context

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/talia-app/guardian/internal/auth"
	"github.com/talia-app/guardian/internal/store"
)

// decodeJSON parses the request body into dst, returning an
// InvalidArgument status on malformed input.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request body: %v", err)
	}
	return nil
}

type createLinkRequest struct {
	ParentID string `json:"parentId"`
	ChildID  string `json:"childId"`
	Code     string `json:"code,omitempty"`
}

type createLinkResponse struct {
	LinkID     string `json:"linkId"`
	ParentID   string `json:"parentId"`
	ChildID    string `json:"childId"`
	ParentName string `json:"parentName"`
	ChildName  string `json:"childName"`
	LinkedAt   string `json:"linkedAt"`
	Propagated bool   `json:"propagated"`
}

func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req createLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.linking.CreateLink(r.Context(), authCtx.AccountID, req.ParentID, req.ChildID, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createLinkResponse{
		LinkID:     result.LinkID,
		ParentID:   result.ParentID,
		ChildID:    result.ChildID,
		ParentName: result.ParentName,
		ChildName:  result.ChildName,
		LinkedAt:   result.LinkedAt.Format(time.RFC3339),
		Propagated: result.Propagated,
	})
}

type createContactRequestRequest struct {
	ContactID string `json:"contactId"`
}

type createContactRequestResponse struct {
	ContactID    string `json:"contactId"`
	Status       string `json:"status"`
	PendingCount int    `json:"pendingCount"`
}

func (s *Server) handleCreateContactRequest(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req createContactRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.contacts.CreateContactRequest(r.Context(), authCtx.AccountID, req.ContactID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createContactRequestResponse{
		ContactID:    result.ContactID,
		Status:       string(result.Status),
		PendingCount: result.PendingCount,
	})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUpdateContactRequest(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	requestID := r.PathValue("id")

	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	err := s.contacts.UpdateContactRequestStatus(r.Context(), authCtx.AccountID, requestID, store.ApprovalStatus(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

type approvePermissionRequest struct {
	ChildID   string `json:"childId"`
	ContactID string `json:"contactId"`
}

func (s *Server) handleApprovePermission(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	requestID := r.PathValue("id")

	var req approvePermissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	err := s.contacts.ApproveGroupPermission(r.Context(), authCtx.AccountID, requestID, req.ChildID, req.ContactID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *Server) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	requestID := r.PathValue("id")

	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	err := s.contacts.UpdateGroupPermissionStatus(r.Context(), authCtx.AccountID, requestID, store.ApprovalStatus(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

type issueCallTokenRequest struct {
	Channel string `json:"channel"`
	UID     int64  `json:"uid"`
}

type issueCallTokenResponse struct {
	Token     string `json:"token"`
	Channel   string `json:"channel"`
	UID       uint32 `json:"uid"`
	ExpiresAt string `json:"expiresAt"`
}

func (s *Server) handleIssueCallToken(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req issueCallTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	token, err := s.rtc.Issue(r.Context(), authCtx.AccountID, req.Channel, req.UID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, issueCallTokenResponse{
		Token:     token.Token,
		Channel:   token.Channel,
		UID:       token.UID,
		ExpiresAt: token.ExpiresAt.Format(time.RFC3339),
	})
}

type generateReportRequest struct {
	ChildID    string `json:"childId"`
	PeriodDays int    `json:"periodDays,omitempty"`
}

type generateReportResponse struct {
	ReportID    string         `json:"reportId"`
	ChildID     string         `json:"childId"`
	PeriodDays  int            `json:"periodDays"`
	Body        map[string]any `json:"body"`
	GeneratedAt string         `json:"generatedAt"`
}

func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req generateReportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	report, err := s.reports.Generate(r.Context(), authCtx.AccountID, req.ChildID, req.PeriodDays)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, generateReportResponse{
		ReportID:    report.ID,
		ChildID:     report.ChildID,
		PeriodDays:  report.PeriodDays,
		Body:        report.Body,
		GeneratedAt: report.GeneratedAt.Format(time.RFC3339),
	})
}
