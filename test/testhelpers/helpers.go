// Package testhelpers provides shared utilities for integration tests: a
// fully wired gateway over the in-memory store, token issuing, and WebSocket
// dialing helpers.
package testhelpers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/havenapp/haven-server/internal/auth"
	"github.com/havenapp/haven-server/internal/hub"
	"github.com/havenapp/haven-server/internal/server"
	"github.com/havenapp/haven-server/internal/store"
)

// Secret signs the JWTs used by integration tests.
const Secret = "integration-secret"

// Env bundles the running pieces of one integration test server.
type Env struct {
	Server  *httptest.Server
	Gateway *server.Gateway
	Store   *store.MemoryStore
}

// Start wires a gateway over the in-memory store and serves it from an
// httptest server. Everything is torn down via t.Cleanup.
func Start(t *testing.T) *Env {
	t.Helper()

	cfg := server.Config{
		Port:               ":0",
		AllowedOrigins:     "*",
		MaxMessageSize:     512,
		RateLimitBurst:     100,
		RateLimitInterval:  time.Second,
		SendBufferMessages: 256,
		JWTSecret:          Secret,
		RedisAddr:          "unused",
		PresenceTTL:        time.Second,
		ShutdownTimeout:    2 * time.Second,
	}

	memory := store.NewMemoryStore()
	gateway := server.NewGateway(cfg, auth.NewTokenAuthenticator(cfg.JWTSecret), memory)
	ts := httptest.NewServer(server.SetupRoutes(gateway))

	t.Cleanup(func() {
		_ = gateway.Shutdown(cfg.ShutdownTimeout)
		ts.Close()
	})

	return &Env{Server: ts, Gateway: gateway, Store: memory}
}

// IssueToken signs a token for the given identity, valid for one minute.
func IssueToken(t *testing.T, identity auth.Identity) string {
	t.Helper()
	token, err := auth.Token(Secret, identity, time.Minute)
	require.NoError(t, err)
	return token
}

// WSURL converts the test server URL to a ws:// endpoint with an optional
// token.
func (e *Env) WSURL(path, token string) string {
	u := "ws" + strings.TrimPrefix(e.Server.URL, "http") + path
	if token != "" {
		u += "?token=" + token
	}
	return u
}

// Dial opens a WebSocket connection to path as the given identity and
// registers cleanup for it.
func (e *Env) Dial(t *testing.T, path string, identity auth.Identity) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	header.Set("Origin", "http://localhost:8080")
	conn, resp, err := websocket.DefaultDialer.Dial(e.WSURL(path, IssueToken(t, identity)), header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialExpectingRejection attempts a handshake that must be refused and
// returns the HTTP status of the refusal.
func (e *Env) DialExpectingRejection(t *testing.T, path, token string) int {
	t.Helper()

	header := http.Header{}
	header.Set("Origin", "http://localhost:8080")
	conn, resp, err := websocket.DefaultDialer.Dial(e.WSURL(path, token), header)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode
}

// WaitForMembers blocks until the group reaches the expected member count.
// Joins happen on the server after the handshake response, so tests must not
// assume membership immediately after Dial returns.
func (e *Env) WaitForMembers(t *testing.T, group hub.GroupID, count int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.Gateway.Registry().Count(group) == count
	}, 2*time.Second, 5*time.Millisecond, "group %s never reached %d members", group, count)
}

// ReadJSON reads one message within timeout and decodes it.
func ReadJSON(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

// ExpectNoMessage asserts that nothing arrives on conn within timeout.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, but received: %s", raw)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	t.Fatalf("Expected read timeout, got: %v", err)
}
