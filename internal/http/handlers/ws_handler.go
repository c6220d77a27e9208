package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/margo-sol/backend/internal/auth"
	"github.com/margo-sol/backend/internal/events"
	"go.uber.org/zap"
)

const wsWriteTimeout = 5 * time.Second

// wsClient serializes writes to one socket.
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub pushes payment events to the buyer's open websocket connections.
type WSHub struct {
	issuer     *auth.Issuer
	subscriber events.Subscriber
	log        *zap.Logger

	mu      sync.RWMutex
	clients map[uuid.UUID]map[*wsClient]struct{}
}

func NewWSHub(issuer *auth.Issuer, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		issuer:     issuer,
		subscriber: subscriber,
		log:        log,
		clients:    make(map[uuid.UUID]map[*wsClient]struct{}),
	}
}

// Start forwards events from the payments stream until ctx is done.
func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, events.StreamPayments, func(event events.Event) {
		userID, ok := event.UserID()
		if !ok {
			h.log.Debug("ws: event without user", zap.String("type", event.Type))
			return
		}
		h.SendToUser(userID, event)
	})
}

// SendToUser writes event to every socket of userID. Sockets that fail the
// write are dropped.
func (h *WSHub) SendToUser(userID uuid.UUID, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("ws: marshal event", zap.String("type", event.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(data); err != nil {
			h.log.Debug("ws write failed", zap.String("user_id", userID.String()), zap.Error(err))
			h.remove(userID, c)
			_ = c.conn.Close()
		}
	}
}

// Connections returns the number of open sockets for userID.
func (h *WSHub) Connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *WSHub) add(userID uuid.UUID, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*wsClient]struct{})
		h.clients[userID] = set
	}
	set[c] = struct{}{}
}

func (h *WSHub) remove(userID uuid.UUID, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[userID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}

// WSUpgradeMiddleware rejects plain HTTP requests to the websocket route.
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	defer conn.Close()

	// Токен из query: браузерный WebSocket не умеет заголовки
	token := conn.Query("token")
	if token == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		return
	}
	claims, err := h.issuer.Verify(token)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		return
	}

	client := &wsClient{conn: conn}
	h.add(claims.UserID, client)
	defer h.remove(claims.UserID, client)

	h.log.Debug("ws connected", zap.String("user_id", claims.UserID.String()))

	// reads only keep the connection alive and detect close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
