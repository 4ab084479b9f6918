// Package ws is the signaling gateway: one authenticated WebSocket per
// user, carrying every call event as an {event, data} envelope.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vishalthakur2004/Trendly-sub000/internal/domain"
	"github.com/vishalthakur2004/Trendly-sub000/internal/registry"
	callservice "github.com/vishalthakur2004/Trendly-sub000/internal/service/call"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/constants"
	apperrors "github.com/vishalthakur2004/Trendly-sub000/pkg/errors"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/logger"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = constants.WebSocketPingInterval
	pingPeriod     = pongWait * 9 / 10
	sendBufferSize = 256
	maxMessageSize = 64 * 1024
)

// Presence mirrors connection state into a shared store so other services
// can see who is reachable. Best-effort; failures never block signaling.
type Presence interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
	RefreshPresence(ctx context.Context, userID uuid.UUID) error
}

// Gateway upgrades authenticated requests to signaling connections and
// dispatches their events into the call coordinator
type Gateway struct {
	calls    *callservice.Service
	registry *registry.Registry
	presence Presence
	metrics  *metrics.Metrics

	maxConnections int
	semaphore      chan struct{}
	upgrader       websocket.Upgrader
}

// NewGateway creates a signaling gateway. presence and m may be nil.
func NewGateway(calls *callservice.Service, reg *registry.Registry, presence Presence, m *metrics.Metrics, allowedOrigins []string, maxConnections int) *Gateway {
	if maxConnections <= 0 {
		maxConnections = 1000
	}

	allowed := make(map[string]bool, len(allowedOrigins))
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return &Gateway{
		calls:          calls,
		registry:       reg,
		presence:       presence,
		metrics:        m,
		maxConnections: maxConnections,
		semaphore:      make(chan struct{}, maxConnections),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return false
				}
				return allowed[origin]
			},
		},
	}
}

// Client is one user's live signaling connection. It satisfies
// registry.Conn so the relay can push events to it.
type Client struct {
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte
	userID  uuid.UUID

	closeOnce sync.Once
}

// UserID returns the identity the connection was registered under
func (c *Client) UserID() uuid.UUID { return c.userID }

// SendEvent marshals an envelope and queues it for the write pump. A full
// send buffer means the client stopped reading; the event is dropped and
// an error returned so the relay can count it.
func (c *Client) SendEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(&domain.Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	select {
	case c.send <- frame:
		if c.gateway.metrics != nil {
			c.gateway.metrics.RecordWebSocketMessage(event, "outbound")
		}
		return nil
	default:
		return errors.New("send buffer full")
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// ServeWS upgrades the request and runs the connection until it drops.
// The auth middleware has already bound user_id into the gin context.
func (g *Gateway) ServeWS(c *gin.Context) {
	select {
	case g.semaphore <- struct{}{}:
		defer func() { <-g.semaphore }()
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", g.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server at capacity, please try again later"})
		return
	}

	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user identity"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	client := &Client{
		gateway: g,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		userID:  userID,
	}

	// Last writer wins: a reconnect from a new device supersedes the old
	// connection, which gets closed out from under its pumps
	if replaced := g.registry.Register(userID, client); replaced != nil {
		if old, ok := replaced.(*Client); ok {
			old.close()
		}
	}

	ctx := context.Background()
	if g.presence != nil {
		if err := g.presence.SetUserOnline(ctx, userID); err != nil {
			logger.Warn("Failed to publish user presence",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}
	if g.metrics != nil {
		g.metrics.SetWebSocketConnections(g.registry.Len())
	}

	logger.Info("Signaling connection established",
		zap.String("user_id", userID.String()))

	go client.writePump()
	client.readPump(ctx)
}

// readPump runs in the handler goroutine and owns the disconnect path
func (c *Client) readPump(ctx context.Context) {
	defer c.teardown(ctx)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if c.gateway.presence != nil {
			if err := c.gateway.presence.RefreshPresence(ctx, c.userID); err != nil {
				logger.Debug("Failed to refresh user presence",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Debug("Signaling connection closed unexpectedly",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			logger.Warn("Invalid signaling frame",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			c.sendError(apperrors.ValidationError("malformed signaling frame"))
			continue
		}

		if c.gateway.metrics != nil {
			c.gateway.metrics.RecordWebSocketMessage(env.Event, "inbound")
		}

		payload, err := domain.DecodeEvent(&env)
		if err != nil {
			logger.Warn("Rejected signaling event",
				zap.String("user_id", c.userID.String()),
				zap.String("event", env.Event),
				zap.Error(err))
			c.sendError(apperrors.ValidationError(err.Error()))
			continue
		}

		c.dispatch(ctx, env.Event, payload)
	}
}

// dispatch routes one decoded event into the coordinator. Failures go back
// to the sender as a call-error event; they never tear the connection down.
func (c *Client) dispatch(ctx context.Context, event string, payload any) {
	switch p := payload.(type) {
	case *domain.IdentifyPayload:
		// The transport is already bound to the authenticated user; a
		// client identifying as someone else is a protocol violation
		if p.UserID != c.userID {
			c.sendError(apperrors.UnauthorizedError("identity does not match authenticated user"))
		}

	case *domain.InitiateCallPayload:
		p.Caller.ID = c.userID
		if _, err := c.gateway.calls.Initiate(ctx, c.userID, p); err != nil {
			c.sendError(err)
		}

	case *domain.CallResponsePayload:
		if _, err := c.gateway.calls.Respond(ctx, c.userID, p); err != nil {
			c.sendError(err)
		}

	case *domain.AddParticipantPayload:
		if _, err := c.gateway.calls.AddParticipant(ctx, c.userID, p); err != nil {
			// Double-join is harmless
			if apperrors.IsCode(err, apperrors.ErrCodeAlreadyPresent) {
				logger.Debug("Participant already in call",
					zap.String("call_id", p.CallID.String()),
					zap.String("user_id", p.UserID.String()))
				return
			}
			c.sendError(err)
		}

	case *domain.SignalPayload:
		if err := c.gateway.calls.RelaySignal(ctx, c.userID, event, p); err != nil {
			c.sendError(err)
		}

	case *domain.EndCallPayload:
		if _, err := c.gateway.calls.End(ctx, c.userID, p.CallID, nil); err != nil {
			// A concurrent end already won; nothing to report
			if apperrors.IsCode(err, apperrors.ErrCodeAlreadyTerminal) {
				return
			}
			c.sendError(err)
		}
	}
}

func (c *Client) sendError(err error) {
	appErr := apperrors.GetAppError(err)
	if sendErr := c.SendEvent(domain.EventCallError, &domain.CallErrorPayload{
		Code:    string(appErr.Code),
		Message: appErr.Message,
	}); sendErr != nil {
		logger.Debug("Failed to deliver call-error event",
			zap.String("user_id", c.userID.String()),
			zap.Error(sendErr))
	}
	if c.gateway.metrics != nil {
		c.gateway.metrics.RecordWebSocketError(string(appErr.Code))
	}
}

// teardown runs exactly once when the read side drops: the user leaves
// every live call, presence is cleared, and the registry entry removed
// unless a newer connection already replaced it
func (c *Client) teardown(ctx context.Context) {
	c.close()
	c.conn.Close()

	if c.gateway.registry.Unregister(c.userID, c) {
		if c.gateway.presence != nil {
			if err := c.gateway.presence.SetUserOffline(ctx, c.userID); err != nil {
				logger.Warn("Failed to clear user presence",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
		}
		c.gateway.calls.HandleDisconnect(ctx, c.userID)

		logger.Info("Signaling connection closed",
			zap.String("user_id", c.userID.String()))
	}

	if c.gateway.metrics != nil {
		c.gateway.metrics.SetWebSocketConnections(c.gateway.registry.Len())
	}
}

// writePump drains the send queue and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
