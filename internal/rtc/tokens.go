// ABOUTME: Signed call-session token issuance for realtime channels
// ABOUTME: HS256 JWTs carrying the channel name and numeric uid, 24h expiry

package rtc

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/talia-app/guardian/internal/ratelimit"
)

// channelPattern constrains channel names to 1-64 word characters.
var channelPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

const maxUID = 4294967295 // largest 32-bit channel uid

// TokenTTL is how long issued call tokens remain valid.
const TokenTTL = 24 * time.Hour

// Token is an issued call-session credential.
type Token struct {
	Token     string
	Channel   string
	UID       uint32
	ExpiresAt time.Time
}

// Issuer signs call-session tokens for authenticated accounts.
type Issuer struct {
	secret  []byte
	limiter *ratelimit.Limiter
	logger  *slog.Logger

	now func() time.Time
}

// NewIssuer creates a token issuer signing with the given secret.
func NewIssuer(secret string, limiter *ratelimit.Limiter) *Issuer {
	return &Issuer{
		secret:  []byte(secret),
		limiter: limiter,
		logger:  slog.Default().With("component", "rtc"),
		now:     time.Now,
	}
}

// Issue validates the channel and uid, checks the caller's rate limit,
// and returns a signed token.
func (i *Issuer) Issue(ctx context.Context, callerID, channel string, uid int64) (*Token, error) {
	if callerID == "" {
		return nil, status.Error(codes.Unauthenticated, "caller identity required")
	}
	if !channelPattern.MatchString(channel) {
		return nil, status.Error(codes.InvalidArgument, "channel must be 1-64 characters of letters, digits, underscore or hyphen")
	}
	if uid < 0 || uid > maxUID {
		return nil, status.Errorf(codes.InvalidArgument, "uid must be between 0 and %d", int64(maxUID))
	}

	decision := i.limiter.Check(ctx, callerID, ratelimit.ActionGenerateToken)
	if !decision.Allowed {
		return nil, status.Errorf(codes.ResourceExhausted,
			"rate limit exceeded, retry after %d seconds", decision.RetryAfter)
	}

	now := i.now().UTC()
	expiresAt := now.Add(TokenTTL)

	claims := jwt.MapClaims{
		"sub":     callerID,
		"channel": channel,
		"uid":     uid,
		"iat":     now.Unix(),
		"exp":     expiresAt.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "signing call token: %v", err)
	}

	i.logger.Debug("issued call token", "caller", callerID, "channel", channel, "uid", uid)

	return &Token{
		Token:     signed,
		Channel:   channel,
		UID:       uint32(uid),
		ExpiresAt: expiresAt,
	}, nil
}
