package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/nkresic/strand/internal/domain"
	"github.com/nkresic/strand/internal/transport/ws"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// nextBackoff doubles the reconnect delay up to the ceiling.
func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// eventSource is one live feed connection. The default implementation wraps
// a websocket; tests substitute their own.
type eventSource interface {
	Read(ctx context.Context, event *ws.Event) error
	Close() error
}

type wsSource struct {
	conn *websocket.Conn
}

func (s *wsSource) Read(ctx context.Context, event *ws.Event) error {
	return wsjson.Read(ctx, s.conn, event)
}

func (s *wsSource) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// Subscriber maintains one feed connection for one topic. Every time the
// connection is (re)established it signals a resync first, because deltas
// sent while disconnected are gone for good; the owner refetches a snapshot
// and only then trusts the delta stream again.
type Subscriber struct {
	topic   string
	connect func(ctx context.Context) (eventSource, error)

	deltas  chan domain.Delta
	resyncs chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSubscriber builds a subscriber for one topic against the feed endpoint,
// e.g. ws://host/api/v1/ws. The token authenticates the connection; the
// server still authorizes the topic itself.
func NewSubscriber(endpoint, token, topic string) *Subscriber {
	s := newSubscriber(topic)
	url := fmt.Sprintf("%s?token=%s", endpoint, token)
	s.connect = func(ctx context.Context) (eventSource, error) {
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		if err := wsjson.Write(ctx, conn, ws.Event{Type: ws.EventTypeSubscribe, Topic: topic}); err != nil {
			conn.Close(websocket.StatusInternalError, "")
			return nil, err
		}
		return &wsSource{conn: conn}, nil
	}
	return s
}

func newSubscriber(topic string) *Subscriber {
	return &Subscriber{
		topic:   topic,
		deltas:  make(chan domain.Delta, 64),
		resyncs: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Deltas delivers decoded feed deltas in arrival order.
func (s *Subscriber) Deltas() <-chan domain.Delta {
	return s.deltas
}

// Resyncs fires after every (re)connect, before any delta from the new
// connection is delivered.
func (s *Subscriber) Resyncs() <-chan struct{} {
	return s.resyncs
}

// Run connects and keeps reconnecting with capped exponential backoff until
// the context is cancelled or Close is called.
func (s *Subscriber) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer close(s.done)

	backoff := initialBackoff
	for {
		src, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("engine subscriber %s: connect: %v (retrying in %s)", s.topic, err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialBackoff

		s.signalResync()
		err = s.pump(ctx, src)
		src.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("engine subscriber %s: connection lost: %v", s.topic, err)
	}
}

func (s *Subscriber) pump(ctx context.Context, src eventSource) error {
	for {
		var event ws.Event
		if err := src.Read(ctx, &event); err != nil {
			return err
		}
		if event.Type != ws.EventTypeDelta {
			continue
		}

		var delta domain.Delta
		if err := json.Unmarshal(event.Payload, &delta); err != nil {
			log.Printf("engine subscriber %s: malformed delta: %v", s.topic, err)
			continue
		}

		select {
		case s.deltas <- delta:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Subscriber) signalResync() {
	select {
	case s.resyncs <- struct{}{}:
	default:
	}
}

// Close stops a running subscriber and waits for Run to return. No delta is
// delivered after Close returns.
func (s *Subscriber) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-s.done
}
