package pusher

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// OverlayHub tracks browser-source WebSocket connections per entity and
// broadcasts overlay events to them. One entity may have several sources
// connected (OBS scenes, preview windows).
type OverlayHub struct {
	mu             sync.RWMutex
	clients        map[string]map[string]*overlayClient // entity_id -> source_id -> conn
	allowedOrigins []string
	log            *zap.Logger
}

// NewOverlayHub creates an empty hub. allowedOrigins is a comma-separated
// host list; empty allows localhost only.
func NewOverlayHub(allowedOrigins string, log *zap.Logger) *OverlayHub {
	if allowedOrigins == "" {
		allowedOrigins = "localhost,127.0.0.1"
	}
	return &OverlayHub{
		clients:        make(map[string]map[string]*overlayClient),
		allowedOrigins: strings.Split(allowedOrigins, ","),
		log:            log.With(zap.String("module", "pusher.overlay")),
	}
}

// ServeHTTP upgrades a browser source connection. The entity and source ids
// come from query parameters.
func (h *OverlayHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entity_id")
	sourceID := r.URL.Query().Get("source_id")
	if entityID == "" || sourceID == "" {
		http.Error(w, "entity_id and source_id are required", http.StatusBadRequest)
		return
	}
	upgrader := websocket.Upgrader{CheckOrigin: h.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("overlay upgrade failed", zap.Error(err))
		return
	}
	client := &overlayClient{conn: conn}

	h.mu.Lock()
	if h.clients[entityID] == nil {
		h.clients[entityID] = make(map[string]*overlayClient)
	}
	if old, ok := h.clients[entityID][sourceID]; ok {
		old.close()
	}
	h.clients[entityID][sourceID] = client
	h.mu.Unlock()

	// Reads only service pings; the hub never expects payloads from the
	// browser source.
	go func() {
		defer h.disconnect(entityID, sourceID, client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *OverlayHub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}
	for _, allowed := range h.allowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || allowed == host {
			return true
		}
		if strings.HasPrefix(allowed, "*.") && strings.HasSuffix(host, allowed[1:]) {
			return true
		}
	}
	return false
}

func (h *OverlayHub) disconnect(entityID, sourceID string, client *overlayClient) {
	client.close()
	h.mu.Lock()
	defer h.mu.Unlock()
	if sources, ok := h.clients[entityID]; ok {
		if sources[sourceID] == client {
			delete(sources, sourceID)
		}
		if len(sources) == 0 {
			delete(h.clients, entityID)
		}
	}
}

// Broadcast pushes one overlay event to every source attached to an entity.
// A dead source is dropped; the last write error is returned.
func (h *OverlayHub) Broadcast(entityID, eventType string, payload map[string]any) error {
	raw, err := json.Marshal(map[string]any{"type": eventType, "payload": payload})
	if err != nil {
		return fmt.Errorf("marshal overlay event: %w", err)
	}

	h.mu.RLock()
	sources := make(map[string]*overlayClient, len(h.clients[entityID]))
	for id, c := range h.clients[entityID] {
		sources[id] = c
	}
	h.mu.RUnlock()

	var lastErr error
	for sourceID, client := range sources {
		if err := client.write(raw); err != nil {
			lastErr = err
			h.log.Warn("overlay write failed, dropping source",
				zap.String("entity_id", entityID),
				zap.String("source_id", sourceID),
				zap.Error(err),
			)
			h.disconnect(entityID, sourceID, client)
		}
	}
	return lastErr
}

// Connected reports the number of sources attached to an entity.
func (h *OverlayHub) Connected(entityID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[entityID])
}

type overlayClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *overlayClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *overlayClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.Close()
}
