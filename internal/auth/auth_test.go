package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestAuthenticateRoundTrip(t *testing.T) {
	id := Identity{UserID: 42, Username: "alice", Trusted: true}
	token, err := Token(testSecret, id, time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/ws/safety?token="+token, nil)
	got, err := NewTokenAuthenticator(testSecret).Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestAuthenticateUntrustedUser(t *testing.T) {
	token, err := Token(testSecret, Identity{UserID: 7, Username: "bob"}, time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/ws/chat?token="+token, nil)
	got, err := NewTokenAuthenticator(testSecret).Authenticate(r)
	require.NoError(t, err)
	require.False(t, got.Trusted)
}

func TestAuthenticateMissingToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws/chat", nil)
	_, err := NewTokenAuthenticator(testSecret).Authenticate(r)
	require.ErrorIs(t, err, ErrAnonymous)
}

func TestAuthenticateGarbageToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws/chat?token=not.a.jwt", nil)
	_, err := NewTokenAuthenticator(testSecret).Authenticate(r)
	require.ErrorIs(t, err, ErrAnonymous)
}

func TestAuthenticateWrongSecret(t *testing.T) {
	token, err := Token("other-secret", Identity{UserID: 42, Username: "alice"}, time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/ws/chat?token="+token, nil)
	_, err = NewTokenAuthenticator(testSecret).Authenticate(r)
	require.ErrorIs(t, err, ErrAnonymous)
}

func TestAuthenticateExpiredToken(t *testing.T) {
	token, err := Token(testSecret, Identity{UserID: 42, Username: "alice"}, -time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/ws/chat?token="+token, nil)
	_, err = NewTokenAuthenticator(testSecret).Authenticate(r)
	require.ErrorIs(t, err, ErrAnonymous)
}

func TestAuthenticateMissingUsername(t *testing.T) {
	token, err := Token(testSecret, Identity{UserID: 42}, time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/ws/chat?token="+token, nil)
	_, err = NewTokenAuthenticator(testSecret).Authenticate(r)
	require.ErrorIs(t, err, ErrAnonymous)
}
