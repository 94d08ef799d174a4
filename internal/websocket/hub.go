package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/askwhyharsh/sonar/internal/location"
	"github.com/askwhyharsh/sonar/internal/radar"
	"github.com/askwhyharsh/sonar/internal/storage"
	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
	"github.com/askwhyharsh/sonar/pkg/logger"
)

const activeKey = "ws:active"

// Hub tracks one device connection per session.
type Hub struct {
	clients map[string]*Client
	redis   storage.RedisClient
	logger  logger.Logger
	mu      sync.RWMutex
}

// NewHub creates a hub. redisClient may be nil when the server runs without
// Redis; the active set is then not published.
func NewHub(redisClient storage.RedisClient, log logger.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		redis:   redisClient,
		logger:  log,
	}
}

// Run blocks until ctx is done, then drops every connection.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.shutdown()
}

// Register makes client the session's device, closing any previous one.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	prev := h.clients[client.sessionID]
	h.clients[client.sessionID] = client
	h.mu.Unlock()

	if prev != nil && prev != client {
		h.logger.Info("Replacing device connection", "session_id", client.sessionID)
		prev.Close()
	}

	h.track(func(ctx context.Context) error {
		return h.redis.SAdd(ctx, activeKey, client.sessionID)
	})
}

// Unregister removes client if it is still the session's device.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	current, ok := h.clients[client.sessionID]
	if !ok || current != client {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.sessionID)
	h.mu.Unlock()

	client.Close()
	h.track(func(ctx context.Context) error {
		return h.redis.SRem(ctx, activeKey, client.sessionID)
	})
}

func (h *Hub) GetClient(sessionID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[sessionID]
	return client, ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OrchestratorFactory adapts build into a radar factory that runs against
// the session's connected device.
func (h *Hub) OrchestratorFactory(build func(sessionID string, platform location.Platform) (*radar.Orchestrator, error)) radar.Factory {
	return func(sessionID string) (*radar.Orchestrator, error) {
		client, ok := h.GetClient(sessionID)
		if !ok {
			return nil, fmt.Errorf("no device for session %s: %w", sessionID, apperrors.ErrRadarNotActive)
		}
		return build(sessionID, client.Platform())
	}
}

func (h *Hub) track(op func(ctx context.Context) error) {
	if h.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := op(ctx); err != nil {
		h.logger.Warn("Failed to update active device set", "error", err)
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}
