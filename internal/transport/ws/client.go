package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/nkresic/strand/internal/domain"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBufSize  = 256
)

// Memberships gates message-topic subscriptions: a client may only follow
// chats it belongs to.
type Memberships interface {
	Get(ctx context.Context, chatID, userID uuid.UUID) (*domain.Membership, error)
}

// Client represents a single WebSocket connection.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	userID      uuid.UUID
	memberships Memberships

	// topics tracks what this connection listens to.
	topics map[string]struct{}
	mu     sync.RWMutex

	send chan []byte
	done chan struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, memberships Memberships) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		userID:      userID,
		memberships: memberships,
		topics:      make(map[string]struct{}),
		send:        make(chan []byte, sendBufSize),
		done:        make(chan struct{}),
	}
}

// IsSubscribed checks if this connection is subscribed to a topic.
func (c *Client) IsSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *Client) subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[topic] = struct{}{}
}

func (c *Client) unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics, topic)
}

// ReadPump reads messages from the WebSocket and routes them to the Hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var event Event
		err := wsjson.Read(context.Background(), c.conn, &event)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				log.Printf("ws: client %s disconnected", c.userID)
			} else {
				log.Printf("ws: read error from %s: %v", c.userID, err)
			}
			return
		}

		c.handleEvent(&event)
	}
}

// WritePump writes messages from the send channel to the WebSocket.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				log.Printf("ws: write error to %s: %v", c.userID, err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				log.Printf("ws: ping error to %s: %v", c.userID, err)
				return
			}

		case <-c.done:
			return
		}
	}
}

// handleEvent routes an incoming client event.
func (c *Client) handleEvent(event *Event) {
	switch event.Type {
	case EventTypeSubscribe:
		topic, ok := c.topicFrom(event)
		if !ok {
			return
		}
		if !c.authorizeTopic(topic) {
			c.sendError("FORBIDDEN", "not a member of this chat")
			return
		}
		c.subscribe(topic)
		c.sendAck(topic)
		log.Printf("ws: %s subscribed to %s", c.userID, topic)

	case EventTypeUnsubscribe:
		topic, ok := c.topicFrom(event)
		if !ok {
			return
		}
		c.unsubscribe(topic)
		log.Printf("ws: %s unsubscribed from %s", c.userID, topic)

	case EventTypePing:
		if c.hub.presence != nil {
			if err := c.hub.presence.Heartbeat(context.Background(), c.userID); err != nil {
				log.Printf("ws: heartbeat for %s: %v", c.userID, err)
			}
		}
		c.sendPong()

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Type)
	}
}

func (c *Client) topicFrom(event *Event) (string, bool) {
	if event.Topic != "" {
		return event.Topic, true
	}
	var p SubscribePayload
	if err := json.Unmarshal(event.Payload, &p); err != nil || p.Topic == "" {
		c.sendError("INVALID_PAYLOAD", "topic required")
		return "", false
	}
	return p.Topic, true
}

// authorizeTopic decides whether this user may follow a topic. Per-user
// topics and shared presence are always allowed; message topics need a
// membership row.
func (c *Client) authorizeTopic(topic string) bool {
	switch topic {
	case TopicChats, TopicNotifications, TopicUsers:
		return true
	}

	chatID, ok := ParseMessagesTopic(topic)
	if !ok {
		return false
	}
	m, err := c.memberships.Get(context.Background(), chatID, c.userID)
	if err != nil {
		log.Printf("ws: membership check for %s/%s: %v", chatID, c.userID, err)
		return false
	}
	return m != nil
}

func (c *Client) sendAck(topic string) {
	data, _ := json.Marshal(Event{Type: EventTypeSubscribed, Topic: topic, Timestamp: time.Now().Unix()})
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendPong() {
	data, _ := json.Marshal(Event{Type: EventTypePong})
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(code, message string) {
	evt, err := NewEvent(EventTypeError, "", ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
