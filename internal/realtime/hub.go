// Package realtime pushes webhook-delivered conversation events to subscribed
// clients over WebSocket, replacing interval polling for live transcript
// progress. Redis pub/sub fans events out across instances.
package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Event names pushed to subscribers.
const (
	EventTranscriptReady = "transcript_ready"
	EventRecordingReady  = "recording_ready"
)

// RedisPublisher publishes conversation events for cross-instance broadcast.
type RedisPublisher interface {
	PublishConversationEvent(conversationID, event string, payload []byte) error
}

// RedisSubscriber subscribes to a conversation channel and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeConversation(conversationID string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains conversation_id -> set of connections and broadcasts messages.
type Hub struct {
	// conversationID -> map[clientID]*Client
	conversations map[string]map[string]*Client
	subs          map[string]func() // cancel Redis subscription per conversation
	mu            sync.RWMutex
	logger        *zap.Logger
	redis         RedisPublisher
	redisSub      RedisSubscriber
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		conversations: make(map[string]map[string]*Client),
		subs:          make(map[string]func()),
		logger:        logger,
		redis:         redisPub,
		redisSub:      redisSub,
	}
}

// Register adds a client to a conversation room. Starts the Redis subscription
// for this conversation if it is the first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.conversations[c.ConversationID] == nil {
		h.conversations[c.ConversationID] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeConversation(c.ConversationID, func(event string, payload []byte) {
				h.Broadcast(c.ConversationID, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[c.ConversationID] = cancel
			}
		}
	}
	h.conversations[c.ConversationID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client subscribed", zap.String("client_id", c.ID), zap.String("conversation_id", c.ConversationID))
}

// Unregister removes a client. Cancels the Redis subscription when the last
// client leaves a conversation.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.conversations[c.ConversationID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.conversations, c.ConversationID)
			if cancel, ok := h.subs[c.ConversationID]; ok {
				cancel()
				delete(h.subs, c.ConversationID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client unsubscribed", zap.String("client_id", c.ID), zap.String("conversation_id", c.ConversationID))
}

// Broadcast sends a message to all local clients subscribed to a conversation.
func (h *Hub) Broadcast(conversationID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := h.conversations[conversationID]
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// BroadcastAndPublish sends to local clients and publishes to Redis for other instances.
func (h *Hub) BroadcastAndPublish(conversationID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.Broadcast(conversationID, event, json.RawMessage(data))
	if h.redis != nil {
		_ = h.redis.PublishConversationEvent(conversationID, event, data)
	}
}

// SubscriberCount returns the number of connected clients for a conversation.
func (h *Hub) SubscriberCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conversations[conversationID])
}
