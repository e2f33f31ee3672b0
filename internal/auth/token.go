// ABOUTME: HS256 JWT issuance and verification for guardian API callers
// ABOUTME: Tokens carry the account id as subject and are pinned to the guardian issuer

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenIssuer is stamped into every token guardian mints and required on
// every token it accepts.
const tokenIssuer = "guardian"

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (accountID string, err error)
}

// accountClaims is the claim set guardian tokens carry. The account id
// rides in the registered subject claim; role and name are resolved from
// the store on each request rather than trusted from the token.
type accountClaims struct {
	jwt.RegisteredClaims
}

// JWTVerifier mints and verifies guardian bearer tokens with a shared
// HS256 secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier for the given secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(tokenIssuer),
		),
	}
}

// Verify validates the token signature, expiry and issuer, returning the
// account id from the subject claim.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	claims := &accountClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims.Subject, nil
}

// Generate mints a token for the given account id with the given
// lifetime. Used by the bootstrap command and by tests.
func (v *JWTVerifier) Generate(accountID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := accountClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
