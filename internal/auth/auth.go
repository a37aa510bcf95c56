// Package auth resolves an inbound handshake to an authenticated identity.
// The realtime services treat anonymous callers as unconditional rejection.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAnonymous reports a handshake with no resolvable identity: a missing,
// malformed, expired, or otherwise invalid credential.
var ErrAnonymous = errors.New("anonymous caller")

// Identity describes an authenticated user.
type Identity struct {
	UserID   int64
	Username string
	// Trusted marks users flagged to receive all safety broadcasts from all
	// monitored users.
	Trusted bool
}

// Authenticator resolves an inbound handshake request to an Identity.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// TokenAuthenticator validates HMAC-signed JWTs carried in the "token" query
// parameter of the WebSocket handshake URL.
type TokenAuthenticator struct {
	secret []byte
}

// NewTokenAuthenticator returns an Authenticator using secret for HMAC
// verification.
func NewTokenAuthenticator(secret string) *TokenAuthenticator {
	return &TokenAuthenticator{secret: []byte(secret)}
}

// Authenticate implements Authenticator. Any verification failure collapses
// to ErrAnonymous; callers only need to know the handshake must be refused.
func (a *TokenAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		return Identity{}, ErrAnonymous
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrAnonymous
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, ErrAnonymous
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return Identity{}, ErrAnonymous
	}

	username, _ := claims["username"].(string)
	if username == "" {
		return Identity{}, ErrAnonymous
	}
	trusted, _ := claims["trusted"].(bool)

	return Identity{UserID: userID, Username: username, Trusted: trusted}, nil
}

// Token issues a signed JWT for id, valid for ttl. The surrounding account
// service issues tokens in production; this helper keeps local tooling and
// tests on the same claim layout.
func Token(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      strconv.FormatInt(id.UserID, 10),
		"username": id.Username,
		"trusted":  id.Trusted,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	})
	return token.SignedString([]byte(secret))
}
