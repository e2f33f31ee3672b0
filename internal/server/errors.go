// ABOUTME: Maps gRPC status errors from the services onto HTTP responses
// ABOUTME: ResourceExhausted carries a Retry-After header parsed from the status message

package server

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// httpStatus maps a gRPC status code to its HTTP equivalent.
func httpStatus(code codes.Code) int {
	switch code {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

var retryAfterPattern = regexp.MustCompile(`retry after (\d+) seconds`)

// writeError renders a service error as JSON. Non-status errors become a
// generic 500.
func writeError(w http.ResponseWriter, err error) {
	st, ok := status.FromError(err)
	if !ok {
		st = status.New(codes.Internal, "internal error")
	}

	code := httpStatus(st.Code())
	body := map[string]any{
		"error": st.Message(),
		"code":  st.Code().String(),
	}

	if st.Code() == codes.ResourceExhausted {
		if m := retryAfterPattern.FindStringSubmatch(st.Message()); m != nil {
			retry, _ := strconv.Atoi(m[1])
			w.Header().Set("Retry-After", m[1])
			body["retryAfter"] = retry
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// writeJSON renders a success payload.
func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
