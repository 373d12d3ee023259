package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ascentlog/syncclient/internal/observability"
	"github.com/ascentlog/syncclient/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The API listens on loopback and is guarded by the API key
		return true
	},
}

// defaultTopics are joined on connect unless ?topics= narrows them
var defaultTopics = []string{services.TopicSync, services.TopicConflicts, services.TopicOutbox}

// WebSocketHandler streams sync events to connected clients
type WebSocketHandler struct {
	hub    *services.EventHub
	logger *observability.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(hub *services.EventHub, logger *observability.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		logger: logger.WithField("component", "websocket_handler"),
	}
}

// HandleConnection upgrades HTTP to WebSocket and manages the connection
// GET /ws
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	topics := defaultTopics
	if raw := r.URL.Query().Get("topics"); raw != "" {
		topics = nil
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	client := h.hub.NewClient(uuid.New().String(), conn)
	h.hub.Register(client)
	for _, topic := range topics {
		h.hub.Subscribe(client, topic)
	}

	// Start the write pump in a goroutine
	go client.WritePump()

	// Run the read pump (blocks until connection closes)
	client.ReadPump(h.handleMessage)
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(client *services.WSClient, messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var msg services.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Debugf("Invalid WebSocket message: %v", err)
		return
	}

	switch msg.Type {
	case services.WSTypeSubscribe:
		if topic := messageTopic(msg); topic != "" {
			h.hub.Subscribe(client, topic)
		}

	case services.WSTypeUnsubscribe:
		if topic := messageTopic(msg); topic != "" {
			h.hub.Unsubscribe(client, topic)
		}

	case services.WSTypePing:
		h.hub.Send(client, services.WSTypePong, nil)

	default:
		h.logger.Debugf("Unknown WebSocket message type: %s", msg.Type)
	}
}

// messageTopic accepts the topic as the message topic field, a string
// payload or a {"topic": ...} payload
func messageTopic(msg services.WSMessage) string {
	if msg.Topic != "" {
		return msg.Topic
	}
	switch p := msg.Payload.(type) {
	case string:
		return p
	case map[string]interface{}:
		if topic, ok := p["topic"].(string); ok {
			return topic
		}
	}
	return ""
}
