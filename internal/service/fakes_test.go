package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkresic/strand/internal/domain"
)

// In-memory repositories backing the service tests. They mirror the
// postgres semantics the services rely on: nil-on-missing lookups, the
// canonical-pair uniqueness of personal chats, and idempotent mark-read.

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*domain.User)}
}

func (r *fakeUserRepo) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := *user
	r.users[user.ID] = &u
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) UpdateSettings(ctx context.Context, id uuid.UUID, privacy domain.PrivacySettings, notify domain.NotifySettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.Privacy = privacy
		u.Notify = notify
	}
	return nil
}

func (r *fakeUserRepo) SetPresence(ctx context.Context, id uuid.UUID, online bool, lastSeen *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.Online = online
		u.LastSeenAt = lastSeen
	}
	return nil
}

func (r *fakeUserRepo) ListOnlineIDs(ctx context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for id, u := range r.users {
		if u.Online {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type fakeChatRepo struct {
	mu          sync.Mutex
	chats       map[uuid.UUID]*domain.Chat
	pairs       map[string]uuid.UUID
	memberships *fakeMembershipRepo
}

func newFakeChatRepo(memberships *fakeMembershipRepo) *fakeChatRepo {
	return &fakeChatRepo{
		chats:       make(map[uuid.UUID]*domain.Chat),
		pairs:       make(map[string]uuid.UUID),
		memberships: memberships,
	}
}

func pairKey(a, b uuid.UUID) string {
	lo, hi := a.String(), b.String()
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo + "|" + hi
}

func (r *fakeChatRepo) Create(ctx context.Context, chat *domain.Chat, creator *domain.Membership) error {
	r.mu.Lock()
	c := *chat
	r.chats[chat.ID] = &c
	r.mu.Unlock()
	return r.memberships.Add(ctx, creator)
}

func (r *fakeChatRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.chats[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeChatRepo) GetByInviteToken(ctx context.Context, token string) (*domain.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chats {
		if c.InviteToken != nil && *c.InviteToken == token {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeChatRepo) FindOrCreatePersonal(ctx context.Context, requester, other *domain.User) (uuid.UUID, bool, error) {
	r.mu.Lock()
	key := pairKey(requester.ID, other.ID)
	if id, ok := r.pairs[key]; ok {
		r.mu.Unlock()
		return id, false, nil
	}

	now := time.Now()
	chat := &domain.Chat{
		ID:        uuid.New(),
		Kind:      domain.ChatPersonal,
		Name:      other.DisplayName(),
		CreatedBy: requester.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.chats[chat.ID] = chat
	r.pairs[key] = chat.ID
	r.mu.Unlock()

	for _, userID := range []uuid.UUID{requester.ID, other.ID} {
		m := &domain.Membership{
			ChatID:          chat.ID,
			UserID:          userID,
			Role:            domain.RoleAdmin,
			CanSendMessages: true,
			JoinedAt:        now,
		}
		if err := r.memberships.Add(ctx, m); err != nil {
			return uuid.Nil, false, err
		}
	}
	return chat.ID, true, nil
}

func (r *fakeChatRepo) ListSummaries(ctx context.Context, viewerID uuid.UUID) ([]domain.ChatSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ChatSummary
	for _, c := range r.chats {
		if r.memberships.has(c.ID, viewerID) {
			out = append(out, domain.ChatSummary{Chat: *c, DisplayName: c.Name})
		}
	}
	return out, nil
}

func (r *fakeChatRepo) GetSummary(ctx context.Context, chatID, viewerID uuid.UUID) (*domain.ChatSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[chatID]
	if !ok {
		return nil, nil
	}
	return &domain.ChatSummary{Chat: *c, DisplayName: c.Name}, nil
}

func (r *fakeChatRepo) Update(ctx context.Context, chat *domain.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.chats[chat.ID]; ok {
		cp := *chat
		if cp.UpdatedAt.Before(existing.UpdatedAt) {
			cp.UpdatedAt = existing.UpdatedAt
		}
		r.chats[chat.ID] = &cp
	}
	return nil
}

func (r *fakeChatRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.chats[id]; ok && at.After(c.UpdatedAt) {
		c.UpdatedAt = at
	}
	return nil
}

func (r *fakeChatRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	delete(r.chats, id)
	for key, chatID := range r.pairs {
		if chatID == id {
			delete(r.pairs, key)
		}
	}
	r.mu.Unlock()
	// Mirror the ON DELETE CASCADE on chat_members in the real schema.
	r.memberships.removeAllForChat(id)
	return nil
}

type membershipKey struct {
	chatID uuid.UUID
	userID uuid.UUID
}

type fakeMembershipRepo struct {
	mu      sync.Mutex
	members map[membershipKey]*domain.Membership
}

func newFakeMembershipRepo() *fakeMembershipRepo {
	return &fakeMembershipRepo{members: make(map[membershipKey]*domain.Membership)}
}

func (r *fakeMembershipRepo) Add(ctx context.Context, m *domain.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.members[membershipKey{m.ChatID, m.UserID}] = &cp
	return nil
}

func (r *fakeMembershipRepo) Remove(ctx context.Context, chatID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, membershipKey{chatID, userID})
	return nil
}

func (r *fakeMembershipRepo) removeAllForChat(chatID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.members {
		if key.chatID == chatID {
			delete(r.members, key)
		}
	}
}

func (r *fakeMembershipRepo) Get(ctx context.Context, chatID, userID uuid.UUID) (*domain.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[membershipKey{chatID, userID}]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeMembershipRepo) has(chatID, userID uuid.UUID) bool {
	_, ok := r.members[membershipKey{chatID, userID}]
	return ok
}

func (r *fakeMembershipRepo) List(ctx context.Context, chatID uuid.UUID) ([]domain.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Membership
	for key, m := range r.members {
		if key.chatID == chatID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *fakeMembershipRepo) ListUserIDs(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uuid.UUID
	for key := range r.members {
		if key.chatID == chatID {
			out = append(out, key.userID)
		}
	}
	return out, nil
}

func (r *fakeMembershipRepo) Update(ctx context.Context, m *domain.Membership) error {
	return r.Add(ctx, m)
}

func (r *fakeMembershipRepo) CountAdmins(ctx context.Context, chatID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for key, m := range r.members {
		if key.chatID == chatID && m.Role == domain.RoleAdmin {
			count++
		}
	}
	return count, nil
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*domain.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[uuid.UUID]*domain.Message)}
}

func (r *fakeMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *msg
	r.messages[msg.ID] = &cp
	return nil
}

func (r *fakeMessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.messages[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeMessageRepo) ListByChat(ctx context.Context, chatID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Message
	for _, m := range r.messages {
		if m.ChatID == chatID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) Update(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.messages[msg.ID]; ok {
		existing.Content = msg.Content
		existing.Edited = true
		existing.UpdatedAt = time.Now()
	}
	return nil
}

func (r *fakeMessageRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, id)
	return nil
}

type fakeNotificationRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.Notification
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{items: make(map[uuid.UUID]*domain.Notification)}
}

// reset drops everything accumulated so far; fixtures use it to clear
// the chat.invite notifications written during setup.
func (r *fakeNotificationRepo) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[uuid.UUID]*domain.Notification)
}

func (r *fakeNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *n
	r.items[n.ID] = &cp
	return nil
}

func (r *fakeNotificationRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Notification
	for _, n := range r.items {
		if n.UserID == userID {
			out = append(out, *n)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeNotificationRepo) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.items {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (r *fakeNotificationRepo) MarkRead(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok || n.UserID != userID || n.Read {
		return false, nil
	}
	n.Read = true
	return true, nil
}

func (r *fakeNotificationRepo) MarkAllRead(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for _, n := range r.items {
		if n.UserID == userID && !n.Read {
			n.Read = true
			ids = append(ids, n.ID)
		}
	}
	return ids, nil
}

// recordingNotifier captures delta fan-out for assertions.
type recordingNotifier struct {
	mu            sync.Mutex
	chatDeltas    []recordedChatDelta
	messageDeltas []recordedMessageDelta
	notifications []*domain.Notification
	presence      []*domain.User
}

type recordedChatDelta struct {
	op      domain.Op
	targets []ChatDeltaTarget
}

type recordedMessageDelta struct {
	op         domain.Op
	msg        *domain.Message
	recipients []uuid.UUID
}

func (n *recordingNotifier) ChatDelta(op domain.Op, targets []ChatDeltaTarget) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chatDeltas = append(n.chatDeltas, recordedChatDelta{op: op, targets: targets})
}

func (n *recordingNotifier) MessageDelta(op domain.Op, msg *domain.Message, recipients []uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messageDeltas = append(n.messageDeltas, recordedMessageDelta{op: op, msg: msg, recipients: recipients})
}

func (n *recordingNotifier) NotificationDelta(op domain.Op, item *domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, item)
}

func (n *recordingNotifier) PresenceDelta(user *domain.User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.presence = append(n.presence, user)
}

// discardStore satisfies storage.Store without touching disk.
type discardStore struct {
	uploads []string
}

func (s *discardStore) Upload(ctx context.Context, path string, r io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	s.uploads = append(s.uploads, path)
	return "/media/" + path, nil
}

func (s *discardStore) Delete(ctx context.Context, ref string) error { return nil }
