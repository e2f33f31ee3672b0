// Package auth provides JWT verification and request authentication.
//
// Tokens are HS256 signed JWTs carrying the account id in the "sub"
// claim. HTTPAuthMiddleware verifies the bearer token, resolves the
// account, and attaches an AuthContext to the request context; handlers
// read it back with FromContext or MustFromContext.
package auth
