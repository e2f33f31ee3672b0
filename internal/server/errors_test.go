// ABOUTME: Tests for the gRPC status to HTTP response mapping
// ABOUTME: Covers the code table and Retry-After header extraction

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code codes.Code
		want int
	}{
		{codes.InvalidArgument, http.StatusBadRequest},
		{codes.Unauthenticated, http.StatusUnauthorized},
		{codes.PermissionDenied, http.StatusForbidden},
		{codes.NotFound, http.StatusNotFound},
		{codes.AlreadyExists, http.StatusConflict},
		{codes.FailedPrecondition, http.StatusPreconditionFailed},
		{codes.ResourceExhausted, http.StatusTooManyRequests},
		{codes.Internal, http.StatusInternalServerError},
		{codes.Unknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, httpStatus(tt.code), "code %s", tt.code)
	}
}

func TestWriteErrorStatusError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, status.Error(codes.NotFound, "account not found"))

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "account not found", body["error"])
	assert.Equal(t, "NotFound", body["code"])
}

func TestWriteErrorRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, status.Error(codes.ResourceExhausted, "rate limit exceeded, retry after 42 seconds"))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(42), body["retryAfter"])
}

func TestWriteErrorPlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
