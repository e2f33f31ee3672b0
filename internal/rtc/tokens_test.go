// ABOUTME: Tests for call-session token issuance
// ABOUTME: Covers channel and uid validation, signing, expiry and rate limiting

package rtc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/talia-app/guardian/internal/ratelimit"
	"github.com/talia-app/guardian/internal/store"
)

// noopRateLimitStore always lets requests pass without persistence.
type noopRateLimitStore struct{}

func (noopRateLimitStore) WithRateLimitRecord(ctx context.Context, userID, action string, fn func(rec *store.RateLimitRecord) (*store.RateLimitRecord, error)) error {
	_, err := fn(nil)
	return err
}

func (noopRateLimitStore) DeleteIdleRateLimits(ctx context.Context, before int64) (int, error) {
	return 0, nil
}

func newTestIssuer() *Issuer {
	limiter := ratelimit.NewLimiter(noopRateLimitStore{}, ratelimit.DefaultPolicies())
	return NewIssuer("rtc-test-secret", limiter)
}

func assertCode(t *testing.T, err error, want codes.Code) {
	t.Helper()

	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok, "expected a status error, got %v", err)
	assert.Equal(t, want, st.Code(), "unexpected status code: %v", err)
}

func TestIssueToken(t *testing.T) {
	issuer := newTestIssuer()

	token, err := issuer.Issue(context.Background(), "u1", "family-room", 42)
	require.NoError(t, err)

	assert.Equal(t, "family-room", token.Channel)
	assert.Equal(t, uint32(42), token.UID)
	assert.WithinDuration(t, time.Now().Add(TokenTTL), token.ExpiresAt, time.Minute)

	// The token verifies against the issuer secret and carries the claims.
	parsed, err := jwt.Parse(token.Token, func(tk *jwt.Token) (interface{}, error) {
		return []byte("rtc-test-secret"), nil
	})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "u1", claims["sub"])
	assert.Equal(t, "family-room", claims["channel"])
	assert.Equal(t, float64(42), claims["uid"])
}

func TestIssueTokenValidation(t *testing.T) {
	issuer := newTestIssuer()
	ctx := context.Background()

	tests := []struct {
		name    string
		caller  string
		channel string
		uid     int64
		want    codes.Code
	}{
		{"missing caller", "", "room", 1, codes.Unauthenticated},
		{"empty channel", "u1", "", 1, codes.InvalidArgument},
		{"channel with spaces", "u1", "family room", 1, codes.InvalidArgument},
		{"channel with slash", "u1", "room/1", 1, codes.InvalidArgument},
		{"channel too long", "u1", strings.Repeat("a", 65), 1, codes.InvalidArgument},
		{"negative uid", "u1", "room", -1, codes.InvalidArgument},
		{"uid too large", "u1", "room", 4294967296, codes.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Issue(ctx, tt.caller, tt.channel, tt.uid)
			assertCode(t, err, tt.want)
		})
	}
}

func TestIssueTokenBoundaryValues(t *testing.T) {
	issuer := newTestIssuer()
	ctx := context.Background()

	_, err := issuer.Issue(ctx, "u1", "a", 0)
	assert.NoError(t, err)

	_, err = issuer.Issue(ctx, "u1", strings.Repeat("b", 64), 4294967295)
	assert.NoError(t, err)
}

func TestIssueTokenRateLimited(t *testing.T) {
	s := createTestStore(t)
	tight := ratelimit.NewLimiter(s, map[string]ratelimit.Policy{
		ratelimit.ActionGenerateToken: {Max: 1, Window: time.Minute},
	})
	issuer := NewIssuer("rtc-test-secret", tight)
	ctx := context.Background()

	_, err := issuer.Issue(ctx, "u1", "room", 1)
	require.NoError(t, err)

	_, err = issuer.Issue(ctx, "u1", "room", 1)
	assertCode(t, err, codes.ResourceExhausted)
}

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("failed to create SQLite store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}
