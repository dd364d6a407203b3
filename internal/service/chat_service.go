package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/nkresic/strand/internal/authority"
	"github.com/nkresic/strand/internal/domain"
	"github.com/nkresic/strand/internal/repository"
)

var (
	ErrChatNotFound   = errors.New("chat not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrNotMember      = errors.New("you are not a member of this chat")
	ErrForbidden      = errors.New("you are not allowed to perform this action")
	ErrAlreadyMember  = errors.New("user is already a member of this chat")
	ErrCannotChatSelf = errors.New("cannot start a personal chat with yourself")
	ErrLastAdmin      = errors.New("chat must keep at least one admin")
	ErrInviteInvalid  = errors.New("invite token is invalid")
	ErrPersonalChat   = errors.New("operation not available on personal chats")
)

type ChatService struct {
	chatRepo       repository.ChatRepository
	membershipRepo repository.MembershipRepository
	userRepo       repository.UserRepository
	notifRepo      repository.NotificationRepository
	notifier       Notifier
}

func NewChatService(
	chatRepo repository.ChatRepository,
	membershipRepo repository.MembershipRepository,
	userRepo repository.UserRepository,
	notifRepo repository.NotificationRepository,
) *ChatService {
	return &ChatService{
		chatRepo:       chatRepo,
		membershipRepo: membershipRepo,
		userRepo:       userRepo,
		notifRepo:      notifRepo,
	}
}

func (s *ChatService) SetNotifier(n Notifier) {
	s.notifier = n
}

type CreateChatInput struct {
	Name      string          `json:"name"`
	Kind      domain.ChatKind `json:"kind"`
	MemberIDs []uuid.UUID     `json:"member_ids"`
}

type UpdateChatInput struct {
	Name         *string           `json:"name"`
	AvatarRef    *string           `json:"avatar_ref"`
	WallpaperRef *string           `json:"wallpaper_ref"`
	Settings     map[string]string `json:"settings"`
}

type UpdateMemberInput struct {
	Role              *domain.Role `json:"role"`
	CanAddMembers     *bool        `json:"can_add_members"`
	CanPinMessages    *bool        `json:"can_pin_messages"`
	CanDeleteMessages *bool        `json:"can_delete_messages"`
	CanSendMessages   *bool        `json:"can_send_messages"`
}

// Create builds a group or channel chat with the creator as its admin.
// Personal chats go through FindOrCreatePersonal instead.
func (s *ChatService) Create(ctx context.Context, creatorID uuid.UUID, input CreateChatInput) (*domain.ChatSummary, error) {
	if input.Kind == domain.ChatPersonal {
		return nil, ErrPersonalChat
	}

	token, err := generateInviteToken()
	if err != nil {
		return nil, fmt.Errorf("generating invite token: %w", err)
	}

	now := time.Now()
	chat := &domain.Chat{
		ID:          uuid.New(),
		Kind:        input.Kind,
		Name:        input.Name,
		InviteToken: &token,
		CreatedBy:   creatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	creator := &domain.Membership{
		ChatID:            chat.ID,
		UserID:            creatorID,
		Role:              domain.RoleAdmin,
		CanAddMembers:     true,
		CanPinMessages:    true,
		CanDeleteMessages: true,
		CanSendMessages:   true,
		JoinedAt:          now,
	}

	if err := s.chatRepo.Create(ctx, chat, creator); err != nil {
		return nil, fmt.Errorf("creating chat: %w", err)
	}

	for _, memberID := range input.MemberIDs {
		if memberID == creatorID {
			continue
		}
		if err := s.addMemberRecord(ctx, chat, memberID, creatorID); err != nil {
			return nil, err
		}
	}

	summary, err := s.chatRepo.GetSummary(ctx, chat.ID, creatorID)
	if err != nil {
		return nil, err
	}

	memberIDs := append([]uuid.UUID{creatorID}, input.MemberIDs...)
	s.notifyChatUpsert(ctx, domain.OpInsert, chat.ID, memberIDs)

	return summary, nil
}

// FindOrCreatePersonal is race-safe: concurrent calls from both directions
// converge on the same chat id. The duplicate-conflict fallback lives in the
// repository and is invisible here.
func (s *ChatService) FindOrCreatePersonal(ctx context.Context, requesterID, otherID uuid.UUID) (uuid.UUID, error) {
	if requesterID == otherID {
		return uuid.Nil, ErrCannotChatSelf
	}

	requester, err := s.userRepo.GetByID(ctx, requesterID)
	if err != nil {
		return uuid.Nil, err
	}
	other, err := s.userRepo.GetByID(ctx, otherID)
	if err != nil {
		return uuid.Nil, err
	}
	if requester == nil || other == nil {
		return uuid.Nil, ErrUserNotFound
	}

	chatID, created, err := s.chatRepo.FindOrCreatePersonal(ctx, requester, other)
	if err != nil {
		return uuid.Nil, err
	}

	if created {
		s.notifyChatUpsert(ctx, domain.OpInsert, chatID, []uuid.UUID{requesterID, otherID})
	}

	return chatID, nil
}

func (s *ChatService) ListDirectory(ctx context.Context, userID uuid.UUID) ([]domain.ChatSummary, error) {
	summaries, err := s.chatRepo.ListSummaries(ctx, userID)
	if err != nil {
		return nil, err
	}
	if summaries == nil {
		summaries = []domain.ChatSummary{}
	}
	return summaries, nil
}

func (s *ChatService) Get(ctx context.Context, userID, chatID uuid.UUID) (*domain.ChatSummary, error) {
	if _, _, err := s.requireMembership(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return s.chatRepo.GetSummary(ctx, chatID, userID)
}

func (s *ChatService) SetPinned(ctx context.Context, userID, chatID uuid.UUID, pinned bool) error {
	return s.toggleFlag(ctx, userID, chatID, func(c *domain.Chat) { c.Pinned = pinned })
}

func (s *ChatService) SetArchived(ctx context.Context, userID, chatID uuid.UUID, archived bool) error {
	return s.toggleFlag(ctx, userID, chatID, func(c *domain.Chat) { c.Archived = archived })
}

func (s *ChatService) SetMuted(ctx context.Context, userID, chatID uuid.UUID, muted bool) error {
	return s.toggleFlag(ctx, userID, chatID, func(c *domain.Chat) { c.Muted = muted })
}

func (s *ChatService) toggleFlag(ctx context.Context, userID, chatID uuid.UUID, apply func(*domain.Chat)) error {
	chat, m, err := s.requireMembership(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !authority.Allowed(chat, m, userID, authority.ActionEditChat) {
		return ErrForbidden
	}

	apply(chat)
	if err := s.chatRepo.Update(ctx, chat); err != nil {
		return fmt.Errorf("updating chat: %w", err)
	}

	memberIDs, err := s.membershipRepo.ListUserIDs(ctx, chatID)
	if err != nil {
		return err
	}
	s.notifyChatUpsert(ctx, domain.OpUpdate, chatID, memberIDs)
	return nil
}

func (s *ChatService) UpdateInfo(ctx context.Context, userID, chatID uuid.UUID, input UpdateChatInput) (*domain.ChatSummary, error) {
	chat, m, err := s.requireMembership(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if !authority.Allowed(chat, m, userID, authority.ActionEditInfo) {
		return nil, ErrForbidden
	}
	if chat.Kind == domain.ChatPersonal && input.Name != nil {
		// A personal chat's display identity is the counterpart, never a
		// stored name.
		return nil, ErrPersonalChat
	}

	if input.Name != nil {
		chat.Name = *input.Name
	}
	if input.AvatarRef != nil {
		chat.AvatarRef = input.AvatarRef
	}
	if input.WallpaperRef != nil {
		chat.WallpaperRef = input.WallpaperRef
	}
	if input.Settings != nil {
		chat.Settings = input.Settings
	}

	if err := s.chatRepo.Update(ctx, chat); err != nil {
		return nil, fmt.Errorf("updating chat: %w", err)
	}

	memberIDs, err := s.membershipRepo.ListUserIDs(ctx, chatID)
	if err != nil {
		return nil, err
	}
	s.notifyChatUpsert(ctx, domain.OpUpdate, chatID, memberIDs)

	return s.chatRepo.GetSummary(ctx, chatID, userID)
}

// Delete is restricted to the chat's creator, deliberately not to any admin.
func (s *ChatService) Delete(ctx context.Context, userID, chatID uuid.UUID) error {
	chat, m, err := s.requireMembership(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !authority.Allowed(chat, m, userID, authority.ActionDeleteChat) {
		return ErrForbidden
	}

	memberIDs, err := s.membershipRepo.ListUserIDs(ctx, chatID)
	if err != nil {
		return err
	}

	if err := s.chatRepo.Delete(ctx, chatID); err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}

	s.notifyChatDelete(chat, memberIDs)
	return nil
}

// Leave removes the caller's own membership; always allowed. A personal chat
// cannot drop below its two memberships, so leaving one removes the chat for
// both parties. When the last admin of a group leaves, the earliest-joined
// member is promoted so the chat never ends up adminless.
func (s *ChatService) Leave(ctx context.Context, userID, chatID uuid.UUID) error {
	chat, _, err := s.requireMembership(ctx, chatID, userID)
	if err != nil {
		return err
	}

	if chat.Kind == domain.ChatPersonal {
		memberIDs, err := s.membershipRepo.ListUserIDs(ctx, chatID)
		if err != nil {
			return err
		}
		if err := s.chatRepo.Delete(ctx, chatID); err != nil {
			return fmt.Errorf("deleting personal chat: %w", err)
		}
		s.notifyChatDelete(chat, memberIDs)
		return nil
	}

	if err := s.membershipRepo.Remove(ctx, chatID, userID); err != nil {
		return fmt.Errorf("removing membership: %w", err)
	}

	members, err := s.membershipRepo.List(ctx, chatID)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		if err := s.chatRepo.Delete(ctx, chatID); err != nil {
			return fmt.Errorf("deleting empty chat: %w", err)
		}
		s.notifyChatDelete(chat, []uuid.UUID{userID})
		return nil
	}

	admins, err := s.membershipRepo.CountAdmins(ctx, chatID)
	if err != nil {
		return err
	}
	if admins == 0 {
		promoted := members[0]
		promoted.Role = domain.RoleAdmin
		if err := s.membershipRepo.Update(ctx, &promoted); err != nil {
			return fmt.Errorf("promoting replacement admin: %w", err)
		}
	}

	s.notifyChatDelete(chat, []uuid.UUID{userID})

	remaining := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		remaining = append(remaining, m.UserID)
	}
	s.notifyChatUpsert(ctx, domain.OpUpdate, chatID, remaining)
	return nil
}

// JoinByInvite adds the caller to a group or channel via its invite token.
func (s *ChatService) JoinByInvite(ctx context.Context, userID uuid.UUID, token string) (*domain.ChatSummary, error) {
	chat, err := s.chatRepo.GetByInviteToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrInviteInvalid
	}

	existing, err := s.membershipRepo.Get(ctx, chat.ID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyMember
	}

	if err := s.addMemberRecord(ctx, chat, userID, chat.CreatedBy); err != nil {
		return nil, err
	}

	s.notifyChatUpsert(ctx, domain.OpInsert, chat.ID, []uuid.UUID{userID})
	return s.chatRepo.GetSummary(ctx, chat.ID, userID)
}

func (s *ChatService) AddMember(ctx context.Context, requesterID, chatID, userID uuid.UUID) error {
	chat, m, err := s.requireMembership(ctx, chatID, requesterID)
	if err != nil {
		return err
	}
	if chat.Kind == domain.ChatPersonal {
		return ErrPersonalChat
	}
	if !authority.Allowed(chat, m, requesterID, authority.ActionAddMembers) {
		return ErrForbidden
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	existing, err := s.membershipRepo.Get(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyMember
	}

	if err := s.addMemberRecord(ctx, chat, userID, requesterID); err != nil {
		return err
	}

	s.notifyChatUpsert(ctx, domain.OpInsert, chatID, []uuid.UUID{userID})
	return nil
}

func (s *ChatService) RemoveMember(ctx context.Context, requesterID, chatID, userID uuid.UUID) error {
	if requesterID == userID {
		return s.Leave(ctx, requesterID, chatID)
	}

	chat, m, err := s.requireMembership(ctx, chatID, requesterID)
	if err != nil {
		return err
	}
	if !authority.Allowed(chat, m, requesterID, authority.ActionManageRoles) {
		return ErrForbidden
	}

	target, err := s.membershipRepo.Get(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if target == nil {
		return ErrNotMember
	}
	if target.Role == domain.RoleAdmin {
		admins, err := s.membershipRepo.CountAdmins(ctx, chatID)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return ErrLastAdmin
		}
	}

	if err := s.membershipRepo.Remove(ctx, chatID, userID); err != nil {
		return fmt.Errorf("removing membership: %w", err)
	}

	s.notifyChatDelete(chat, []uuid.UUID{userID})
	return nil
}

func (s *ChatService) UpdateMember(ctx context.Context, requesterID, chatID, userID uuid.UUID, input UpdateMemberInput) (*domain.Membership, error) {
	chat, m, err := s.requireMembership(ctx, chatID, requesterID)
	if err != nil {
		return nil, err
	}
	if !authority.Allowed(chat, m, requesterID, authority.ActionManageRoles) {
		return nil, ErrForbidden
	}

	target, err := s.membershipRepo.Get(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, ErrNotMember
	}

	if input.Role != nil && *input.Role != target.Role {
		if target.Role == domain.RoleAdmin {
			admins, err := s.membershipRepo.CountAdmins(ctx, chatID)
			if err != nil {
				return nil, err
			}
			if admins <= 1 {
				return nil, ErrLastAdmin
			}
		}
		target.Role = *input.Role
	}
	if input.CanAddMembers != nil {
		target.CanAddMembers = *input.CanAddMembers
	}
	if input.CanPinMessages != nil {
		target.CanPinMessages = *input.CanPinMessages
	}
	if input.CanDeleteMessages != nil {
		target.CanDeleteMessages = *input.CanDeleteMessages
	}
	if input.CanSendMessages != nil {
		target.CanSendMessages = *input.CanSendMessages
	}

	if err := s.membershipRepo.Update(ctx, target); err != nil {
		return nil, fmt.Errorf("updating membership: %w", err)
	}

	return target, nil
}

func (s *ChatService) ListMembers(ctx context.Context, userID, chatID uuid.UUID) ([]domain.Membership, error) {
	if _, _, err := s.requireMembership(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return s.membershipRepo.List(ctx, chatID)
}

func (s *ChatService) addMemberRecord(ctx context.Context, chat *domain.Chat, userID, invitedBy uuid.UUID) error {
	addMembers, pinMessages, deleteMessages, sendMessages := domain.DefaultMemberCapabilities()
	member := &domain.Membership{
		ChatID:            chat.ID,
		UserID:            userID,
		Role:              domain.RoleMember,
		CanAddMembers:     addMembers,
		CanPinMessages:    pinMessages,
		CanDeleteMessages: deleteMessages,
		CanSendMessages:   sendMessages,
		JoinedAt:          time.Now(),
	}
	if err := s.membershipRepo.Add(ctx, member); err != nil {
		return fmt.Errorf("adding member: %w", err)
	}

	payload, _ := json.Marshal(map[string]string{
		"chat_id":    chat.ID.String(),
		"invited_by": invitedBy.String(),
	})
	n := &domain.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      domain.NotificationInvite,
		Title:     chat.Name,
		Body:      "You were added to " + chat.Name,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := s.notifRepo.Create(ctx, n); err != nil {
		return fmt.Errorf("creating invite notification: %w", err)
	}
	if s.notifier != nil {
		s.notifier.NotificationDelta(domain.OpInsert, n)
	}
	return nil
}

func (s *ChatService) requireMembership(ctx context.Context, chatID, userID uuid.UUID) (*domain.Chat, *domain.Membership, error) {
	chat, err := s.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	if chat == nil {
		return nil, nil, ErrChatNotFound
	}

	m, err := s.membershipRepo.Get(ctx, chatID, userID)
	if err != nil {
		return nil, nil, err
	}
	if m == nil {
		return nil, nil, ErrNotMember
	}
	return chat, m, nil
}

func (s *ChatService) notifyChatUpsert(ctx context.Context, op domain.Op, chatID uuid.UUID, memberIDs []uuid.UUID) {
	if s.notifier == nil {
		return
	}

	targets := make([]ChatDeltaTarget, 0, len(memberIDs))
	for _, memberID := range memberIDs {
		summary, err := s.chatRepo.GetSummary(ctx, chatID, memberID)
		if err != nil || summary == nil {
			log.Printf("chat service: summary for %s/%s: %v", chatID, memberID, err)
			continue
		}
		targets = append(targets, ChatDeltaTarget{UserID: memberID, Summary: summary})
	}
	s.notifier.ChatDelta(op, targets)
}

func (s *ChatService) notifyChatDelete(chat *domain.Chat, memberIDs []uuid.UUID) {
	if s.notifier == nil {
		return
	}

	summary := &domain.ChatSummary{Chat: *chat, DisplayName: chat.Name}
	targets := make([]ChatDeltaTarget, 0, len(memberIDs))
	for _, memberID := range memberIDs {
		targets = append(targets, ChatDeltaTarget{UserID: memberID, Summary: summary})
	}
	s.notifier.ChatDelta(domain.OpDelete, targets)
}

func generateInviteToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
