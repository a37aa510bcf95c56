package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/havenapp/haven-server/internal/auth"
	"github.com/havenapp/haven-server/internal/hub"
	"github.com/havenapp/haven-server/internal/session"
	"github.com/havenapp/haven-server/internal/store"
)

// Gateway accepts WebSocket handshakes for the chat and safety services,
// authenticates them before upgrading, and owns every live connection until
// it disconnects or the process shuts down.
type Gateway struct {
	cfg      Config
	auth     auth.Authenticator
	store    store.Store
	registry *hub.Registry
	router   *hub.Router
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]session.Handler
	wg      sync.WaitGroup
}

// NewGateway wires a Gateway over the given collaborators.
func NewGateway(cfg Config, authenticator auth.Authenticator, st store.Store) *Gateway {
	registry := hub.NewRegistry()
	policy := originPolicyFrom(cfg.AllowedOrigins)

	g := &Gateway{
		cfg:      cfg,
		auth:     authenticator,
		store:    st,
		registry: registry,
		router:   hub.NewRouter(registry),
		clients:  make(map[*Client]session.Handler),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if policy.allow(r.Header.Get("Origin")) {
				return true
			}
			log.Printf("Blocked WebSocket connection from disallowed origin: %q", r.Header.Get("Origin"))
			return false
		},
	}
	return g
}

// Registry exposes the group registry for shutdown coordination and tests.
func (g *Gateway) Registry() *hub.Registry {
	return g.registry
}

// ServeChat handles handshakes for the chat service.
func (g *Gateway) ServeChat(w http.ResponseWriter, r *http.Request) {
	g.serve(w, r, func(ctx context.Context, identity auth.Identity, client *Client) (session.Handler, error) {
		return session.NewChat(ctx, identity, client, g.registry, g.router, g.store)
	})
}

// ServeSafety handles handshakes for the safety service.
func (g *Gateway) ServeSafety(w http.ResponseWriter, r *http.Request) {
	g.serve(w, r, func(_ context.Context, identity auth.Identity, client *Client) (session.Handler, error) {
		return session.NewSafety(identity, client, g.registry, g.router, g.store), nil
	})
}

type sessionFactory func(ctx context.Context, identity auth.Identity, client *Client) (session.Handler, error)

// serve runs the shared connection lifecycle: authenticate before upgrading,
// build the session (which applies the group joins and opens the live gate),
// then block on the pumps until disconnect.
func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, factory sessionFactory) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	identity, err := g.auth.Authenticate(r)
	if err != nil {
		if !errors.Is(err, auth.ErrAnonymous) {
			log.Printf("Authentication failure from %s: %v", r.RemoteAddr, err)
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	client := newClient(conn, r.RemoteAddr, g.cfg)

	// The request context dies with the handler; connection work gets its
	// own, cancelled on teardown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler, err := factory(ctx, identity, client)
	if err != nil {
		log.Printf("Rejecting connection %s from %s: %v", client.ID(), r.RemoteAddr, err)
		client.shutdown(nil)
		return
	}

	g.track(client, handler)
	defer g.untrack(client)

	log.Printf("Connection %s established for user %d (%s) from %s", client.ID(), identity.UserID, identity.Username, r.RemoteAddr)

	go g.keepPresence(ctx, identity.UserID)

	g.wg.Add(1)
	defer g.wg.Done()
	client.run(ctx, handler)
}

// keepPresence maintains the user's online marker for the lifetime of the
// connection, refreshing well inside the TTL.
func (g *Gateway) keepPresence(ctx context.Context, userID int64) {
	ttl := g.cfg.PresenceTTL
	if err := g.store.SetPresence(ctx, userID, ttl); err != nil {
		log.Printf("Setting presence for user %d: %v", userID, err)
	}

	ticker := time.NewTicker(ttl * 2 / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := g.store.ClearPresence(context.Background(), userID); err != nil {
				log.Printf("Clearing presence for user %d: %v", userID, err)
			}
			return
		case <-ticker.C:
			if err := g.store.SetPresence(ctx, userID, ttl); err != nil {
				log.Printf("Refreshing presence for user %d: %v", userID, err)
			}
		}
	}
}

func (g *Gateway) track(client *Client, handler session.Handler) {
	g.mu.Lock()
	g.clients[client] = handler
	total := len(g.clients)
	g.mu.Unlock()
	log.Printf("Client registered from %s. Total clients: %d", client.addr, total)
}

func (g *Gateway) untrack(client *Client) {
	g.mu.Lock()
	delete(g.clients, client)
	total := len(g.clients)
	g.mu.Unlock()
	log.Printf("Client unregistered from %s. Total clients: %d", client.addr, total)
}

// Shutdown tears down every live connection and waits for their goroutines,
// up to timeout.
func (g *Gateway) Shutdown(timeout time.Duration) error {
	g.mu.Lock()
	clients := make(map[*Client]session.Handler, len(g.clients))
	for client, handler := range g.clients {
		clients[client] = handler
	}
	g.mu.Unlock()

	log.Printf("Shutting down %d client connections...", len(clients))
	for client, handler := range clients {
		client.shutdown(handler)
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Gateway shutdown completed")
		return nil
	case <-time.After(timeout):
		log.Println("Gateway shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

// HealthHandler reports process liveness.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Haven realtime server is running!")
}

// SetupRoutes configures the HTTP mux with the health check and both
// WebSocket endpoints.
func SetupRoutes(g *Gateway) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws/chat", g.ServeChat)
	mux.HandleFunc("/ws/safety", g.ServeSafety)
	return mux
}
