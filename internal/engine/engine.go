package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nkresic/strand/internal/domain"
	"github.com/nkresic/strand/internal/transport/ws"
)

var (
	ErrUnauthenticated = errors.New("engine is unauthenticated")
	ErrNotRunning      = errors.New("engine is not running")
)

// Backend is the REST surface the engine resyncs from. Deltas keep state
// fresh between snapshots; the snapshots are the source of truth after every
// reconnect.
type Backend interface {
	ListChats(ctx context.Context) ([]domain.ChatSummary, error)
	ListMessages(ctx context.Context, chatID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, bool, error)
	NotificationFeed(ctx context.Context) ([]domain.Notification, int, error)
	MarkRead(ctx context.Context, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context) error
	Heartbeat(ctx context.Context) error
}

const streamPageSize = 50

// Engine owns the client-side working set: the chat directory, per-chat
// message streams, the notification feed, and presence. It holds one feed
// subscription per topic and reconciles deltas into the local state.
type Engine struct {
	backend Backend
	token   string

	directory     *Directory
	notifications *Notifications
	presence      *Presence

	newSub func(topic string) *Subscriber

	// mu guards streams and the run state below.
	mu      sync.Mutex
	streams map[uuid.UUID]*openStream
	g       *errgroup.Group
	ctx     context.Context
}

type openStream struct {
	stream *Stream
	sub    *Subscriber
	cancel context.CancelFunc
	// done closes when the consumer goroutine has returned, so CloseStream
	// can guarantee the stream stops changing before it comes back.
	done chan struct{}
}

// New builds an engine against a feed endpoint (ws://host/api/v1/ws) and a
// REST backend. An empty token leaves the engine unauthenticated: it runs,
// subscribes to nothing, and every snapshot stays empty.
func New(backend Backend, endpoint, token string) *Engine {
	e := &Engine{
		backend: backend,
		token:   token,
		streams: make(map[uuid.UUID]*openStream),
	}
	e.directory = NewDirectory()
	e.notifications = NewNotifications()
	e.presence = NewPresence(backend.Heartbeat)
	e.newSub = func(topic string) *Subscriber {
		return NewSubscriber(endpoint, token, topic)
	}
	return e
}

func (e *Engine) Directory() *Directory         { return e.directory }
func (e *Engine) Notifications() *Notifications { return e.notifications }
func (e *Engine) Presence() *Presence           { return e.presence }

// Run subscribes to the per-user topics and blocks until the context is
// cancelled. Unauthenticated engines return immediately.
func (e *Engine) Run(ctx context.Context) error {
	if e.token == "" {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	e.mu.Lock()
	e.g = g
	e.ctx = ctx
	e.mu.Unlock()

	chatsSub := e.newSub(ws.TopicChats)
	notifSub := e.newSub(ws.TopicNotifications)
	usersSub := e.newSub(ws.TopicUsers)

	g.Go(func() error { return ignoreCanceled(chatsSub.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(notifSub.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(usersSub.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(e.presence.Run(ctx)) })

	g.Go(func() error { return e.consumeChats(ctx, chatsSub) })
	g.Go(func() error { return e.consumeNotifications(ctx, notifSub) })
	g.Go(func() error { return e.consumeUsers(ctx, usersSub) })

	return ignoreCanceled(g.Wait())
}

func (e *Engine) consumeChats(ctx context.Context, sub *Subscriber) error {
	for {
		select {
		case <-sub.Resyncs():
			e.withRetry(ctx, "chats resync", func() error {
				chats, err := e.backend.ListChats(ctx)
				if err != nil {
					return err
				}
				e.directory.Resync(chats)
				return nil
			})
		case delta := <-sub.Deltas():
			if err := e.directory.Apply(delta); err != nil {
				log.Printf("engine: chat delta: %v", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) consumeNotifications(ctx context.Context, sub *Subscriber) error {
	for {
		select {
		case <-sub.Resyncs():
			e.withRetry(ctx, "notifications resync", func() error {
				items, unread, err := e.backend.NotificationFeed(ctx)
				if err != nil {
					return err
				}
				e.notifications.Resync(items, unread)
				return nil
			})
		case delta := <-sub.Deltas():
			if err := e.notifications.Apply(delta); err != nil {
				log.Printf("engine: notification delta: %v", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// consumeUsers has no snapshot source; presence converges from deltas alone
// and keeps last-known state across reconnects.
func (e *Engine) consumeUsers(ctx context.Context, sub *Subscriber) error {
	for {
		select {
		case <-sub.Resyncs():
		case delta := <-sub.Deltas():
			if err := e.presence.Apply(delta); err != nil {
				log.Printf("engine: user delta: %v", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// OpenStream starts following one chat's messages. The returned stream is
// live until CloseStream; opening the same chat twice shares the stream.
func (e *Engine) OpenStream(chatID uuid.UUID) (*Stream, error) {
	if e.token == "" {
		return nil, ErrUnauthenticated
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.g == nil {
		return nil, ErrNotRunning
	}
	if open, ok := e.streams[chatID]; ok {
		return open.stream, nil
	}

	stream := NewStream(chatID)
	sub := e.newSub(ws.MessagesTopic(chatID))
	subCtx, cancel := context.WithCancel(e.ctx)

	open := &openStream{stream: stream, sub: sub, cancel: cancel, done: make(chan struct{})}
	e.streams[chatID] = open

	e.g.Go(func() error { return ignoreCanceled(sub.Run(subCtx)) })
	e.g.Go(func() error {
		defer close(open.done)
		defer e.forgetStream(chatID)
		return ignoreCanceled(e.consumeStream(subCtx, stream, sub))
	})

	return stream, nil
}

// CloseStream stops following a chat. It returns only after the subscriber
// has shut down and the consumer has exited, so no delta lands on the stream
// afterwards.
func (e *Engine) CloseStream(chatID uuid.UUID) {
	e.mu.Lock()
	open, ok := e.streams[chatID]
	e.mu.Unlock()
	if !ok {
		return
	}

	open.cancel()
	open.sub.Close()
	<-open.done
}

func (e *Engine) forgetStream(chatID uuid.UUID) {
	e.mu.Lock()
	delete(e.streams, chatID)
	e.mu.Unlock()
}

func (e *Engine) consumeStream(ctx context.Context, stream *Stream, sub *Subscriber) error {
	for {
		select {
		case <-sub.Resyncs():
			e.withRetry(ctx, "stream resync", func() error {
				messages, _, err := e.backend.ListMessages(ctx, stream.ChatID(), nil, streamPageSize)
				if err != nil {
					return err
				}
				stream.Resync(messages)
				return nil
			})
		case delta := <-sub.Deltas():
			if _, err := stream.Apply(delta); err != nil {
				log.Printf("engine: message delta: %v", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// LoadOlder pages the stream backwards from its oldest held message and
// reports whether more history remains.
func (e *Engine) LoadOlder(ctx context.Context, chatID uuid.UUID) (bool, error) {
	e.mu.Lock()
	open, ok := e.streams[chatID]
	e.mu.Unlock()
	if !ok {
		return false, ErrNotRunning
	}

	var before *uuid.UUID
	if snapshot := open.stream.Snapshot(); len(snapshot) > 0 {
		before = &snapshot[0].ID
	}

	messages, hasMore, err := e.backend.ListMessages(ctx, chatID, before, streamPageSize)
	if err != nil {
		return false, err
	}
	open.stream.Prepend(messages)
	return hasMore, nil
}

// MarkRead applies locally first so the UI settles, then confirms upstream.
func (e *Engine) MarkRead(ctx context.Context, notificationID uuid.UUID) error {
	e.notifications.MarkRead(notificationID)
	return e.backend.MarkRead(ctx, notificationID)
}

func (e *Engine) MarkAllRead(ctx context.Context) error {
	e.notifications.MarkAllRead()
	return e.backend.MarkAllRead(ctx)
}

// withRetry keeps attempting a resync with capped backoff. A resync that
// never lands would leave the working set silently stale.
func (e *Engine) withRetry(ctx context.Context, what string, fn func() error) {
	backoff := initialBackoff
	for {
		err := fn()
		if err == nil || ctx.Err() != nil {
			return
		}
		log.Printf("engine: %s: %v (retrying in %s)", what, err, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
