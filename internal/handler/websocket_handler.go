// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lidar-service/internal/service"
	"lidar-service/internal/utils"
	"lidar-service/pkg/lidar"
)

// framePoint is the wire form of one sample on the frame stream
type framePoint struct {
	Theta   float64 `json:"theta"`
	Dist    float64 `json:"dist"`
	Quality uint8   `json:"q"`
	Sync    bool    `json:"sync,omitempty"`
}

// WebSocketHandler manages WebSocket connections for real-time communication
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	scanService *service.ScanService
	logger      *utils.ServiceLogger
	eventBus    *EventBus
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(scanService *service.ScanService, logger *zap.Logger) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// In production, implement proper origin checking
			return true
		},
	}

	handler := &WebSocketHandler{
		upgrader:    upgrader,
		connections: NewConnectionManager(),
		scanService: scanService,
		logger:      utils.NewServiceLogger(logger, "websocket-handler"),
		eventBus:    NewEventBus(),
	}

	// Start event bus
	go handler.eventBus.Start()

	return handler
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	// Live frame stream, optionally scoped to one session
	router.GET("/frames", h.HandleFrameConnection)

	// Session lifecycle events
	router.GET("/events", h.HandleEventConnection)
}

// HandleFrameConnection handles frame stream WebSocket connections
func (h *WebSocketHandler) HandleFrameConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		Type:        "frames",
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}

	if sessionID := c.Query("session_id"); sessionID != "" {
		client.SessionID = &sessionID
	}

	h.connections.Register(client)
	h.logger.Info("Frame WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	// Send the current session so late joiners know what they are watching
	go h.sendInitialStatus(client)

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// HandleEventConnection handles session event WebSocket connections
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		Type:        "events",
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}

	h.connections.Register(client)
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
	)

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
	}()

	// Set read deadline and pong handler
	client.Connection.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}

		// Parse message
		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.logger.Error("Failed to parse WebSocket message",
				zap.Error(err),
				zap.String("client_id", client.ID),
			)
			continue
		}

		// Handle message
		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "subscribe":
		h.handleSubscription(client, message)
	case "unsubscribe":
		h.handleUnsubscription(client, message)
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
		})
	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
	}
}

// handleSubscription handles client subscription requests
func (h *WebSocketHandler) handleSubscription(client *Client, message *WebSocketMessage) {
	if client.Subscriptions == nil {
		client.Subscriptions = make(map[string]bool)
	}

	if data, ok := message.Data.(map[string]interface{}); ok {
		if topic, ok := data["topic"].(string); ok {
			client.Subscriptions[topic] = true
			h.logger.Info("Client subscribed to topic",
				zap.String("client_id", client.ID),
				zap.String("topic", topic),
			)

			// Send subscription confirmation
			h.sendMessage(client, &WebSocketMessage{
				Type: "subscription_confirmed",
				Data: map[string]interface{}{
					"topic": topic,
				},
				Timestamp: time.Now(),
			})
		}
	}
}

// handleUnsubscription handles client unsubscription requests
func (h *WebSocketHandler) handleUnsubscription(client *Client, message *WebSocketMessage) {
	if client.Subscriptions == nil {
		return
	}

	if data, ok := message.Data.(map[string]interface{}); ok {
		if topic, ok := data["topic"].(string); ok {
			delete(client.Subscriptions, topic)
			h.logger.Info("Client unsubscribed from topic",
				zap.String("client_id", client.ID),
				zap.String("topic", topic),
			)
		}
	}
}

// sendInitialStatus sends the current session to a new frame client
func (h *WebSocketHandler) sendInitialStatus(client *Client) {
	current := h.scanService.CurrentSession()

	message := &WebSocketMessage{
		Type: "initial_status",
		Data: map[string]interface{}{
			"session": current,
		},
		Timestamp: time.Now(),
	}

	h.sendMessage(client, message)
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	select {
	case client.Send <- messageBytes:
	default:
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// PublishSessionEvent broadcasts session lifecycle events to event clients
func (h *WebSocketHandler) PublishSessionEvent(sessionID string, event string, data map[string]interface{}) {
	message := &WebSocketMessage{
		Type: "session_event",
		Data: map[string]interface{}{
			"session_id": sessionID,
			"event":      event,
			"data":       data,
		},
		Timestamp: time.Now(),
	}

	h.broadcastToClients(h.connections.GetEventClients(), message)
	h.broadcastToClients(h.connections.GetFrameClients(sessionID), message)

	h.eventBus.Publish(Event{
		Type:      "session." + event,
		Source:    sessionID,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// PublishFrame broadcasts an ordered frame to frame stream clients
func (h *WebSocketHandler) PublishFrame(sessionID string, seq int64, frame lidar.Frame) {
	clients := h.connections.GetFrameClients(sessionID)
	if len(clients) == 0 {
		return
	}

	points := make([]framePoint, 0, len(frame))
	for _, sample := range frame {
		points = append(points, framePoint{
			Theta:   sample.Angle(),
			Dist:    sample.Distance(),
			Quality: sample.Quality,
			Sync:    sample.Sync,
		})
	}

	message := &WebSocketMessage{
		Type: "frame",
		Data: map[string]interface{}{
			"session_id": sessionID,
			"seq":        seq,
			"count":      len(points),
			"points":     points,
		},
		Timestamp: time.Now(),
	}

	h.broadcastToClients(clients, message)
}

// broadcastToClients broadcasts message to specified clients
func (h *WebSocketHandler) broadcastToClients(clients []*Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	for _, client := range clients {
		select {
		case client.Send <- messageBytes:
		default:
			h.logger.Warn("Client send channel full during broadcast",
				zap.String("client_id", client.ID),
			)
		}
	}
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}
