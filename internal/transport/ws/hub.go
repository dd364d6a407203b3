package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
)

// Presence is the slice of the presence service the hub drives: a user's
// first connection brings them online, the last one going away takes them
// offline, and pings refresh the liveness key in between.
type Presence interface {
	Heartbeat(ctx context.Context, userID uuid.UUID) error
	Offline(ctx context.Context, userID uuid.UUID) error
}

// Hub manages all active WebSocket clients and routes deltas to topic
// subscribers. A user may hold several connections at once.
type Hub struct {
	// clients maps userID → connections.
	clients map[uuid.UUID]map[*Client]struct{}

	presence Presence

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMsg
}

type broadcastMsg struct {
	topic string
	data  []byte
	// userID narrows delivery to one user's connections; nil reaches every
	// subscriber of the topic.
	userID *uuid.UUID
}

func NewHub(presence Presence) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		presence:   presence,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMsg, 256),
	}
}

// Run starts the Hub's main event loop. Call this in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			conns := h.clients[client.userID]
			if conns == nil {
				conns = make(map[*Client]struct{})
				h.clients[client.userID] = conns
			}
			conns[client] = struct{}{}
			log.Printf("ws hub: user %s connected (%d conns)", client.userID, len(conns))

			if len(conns) == 1 && h.presence != nil {
				if err := h.presence.Heartbeat(context.Background(), client.userID); err != nil {
					log.Printf("ws hub: heartbeat for %s: %v", client.userID, err)
				}
			}

		case client := <-h.unregister:
			h.drop(client)

		case msg := <-h.broadcast:
			if msg.userID != nil {
				h.deliver(h.clients[*msg.userID], msg)
				continue
			}
			for _, conns := range h.clients {
				h.deliver(conns, msg)
			}
		}
	}
}

func (h *Hub) deliver(conns map[*Client]struct{}, msg *broadcastMsg) {
	for client := range conns {
		if !client.IsSubscribed(msg.topic) {
			continue
		}
		select {
		case client.send <- msg.data:
		default:
			// Client buffer full - disconnect
			h.drop(client)
		}
	}
}

func (h *Hub) drop(client *Client) {
	conns, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, ok := conns[client]; !ok {
		return
	}
	delete(conns, client)
	close(client.send)
	close(client.done)
	log.Printf("ws hub: user %s disconnected (%d conns)", client.userID, len(conns))

	if len(conns) == 0 {
		delete(h.clients, client.userID)
		if h.presence != nil {
			if err := h.presence.Offline(context.Background(), client.userID); err != nil {
				log.Printf("ws hub: offline for %s: %v", client.userID, err)
			}
		}
	}
}

// SendToTopic sends an event to every subscriber of a topic.
func (h *Hub) SendToTopic(topic string, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("ws hub: marshal error: %v", err)
		return
	}
	h.broadcast <- &broadcastMsg{topic: topic, data: data}
}

// SendToUser sends an event to one user's connections subscribed to a topic.
func (h *Hub) SendToUser(userID uuid.UUID, topic string, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("ws hub: marshal error: %v", err)
		return
	}
	h.broadcast <- &broadcastMsg{topic: topic, data: data, userID: &userID}
}
