package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkresic/strand/internal/authority"
	"github.com/nkresic/strand/internal/domain"
	"github.com/nkresic/strand/internal/repository"
	"github.com/nkresic/strand/internal/storage"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNotMessageOwner = errors.New("only the message sender can perform this action")
	ErrEmptyMessage    = errors.New("message needs text content or an attachment")
	ErrBadReply        = errors.New("reply target must be a message in the same chat")
)

type MessageService struct {
	messageRepo    repository.MessageRepository
	chatRepo       repository.ChatRepository
	membershipRepo repository.MembershipRepository
	userRepo       repository.UserRepository
	notifRepo      repository.NotificationRepository
	store          storage.Store
	notifier       Notifier
}

func NewMessageService(
	messageRepo repository.MessageRepository,
	chatRepo repository.ChatRepository,
	membershipRepo repository.MembershipRepository,
	userRepo repository.UserRepository,
	notifRepo repository.NotificationRepository,
	store storage.Store,
) *MessageService {
	return &MessageService{
		messageRepo:    messageRepo,
		chatRepo:       chatRepo,
		membershipRepo: membershipRepo,
		userRepo:       userRepo,
		notifRepo:      notifRepo,
		store:          store,
	}
}

func (s *MessageService) SetNotifier(n Notifier) {
	s.notifier = n
}

type SendMessageInput struct {
	Content        string
	Type           domain.MessageType
	ReplyToID      *uuid.UUID
	Attachment     io.Reader
	AttachmentName string
}

type EditMessageInput struct {
	Content string `json:"content"`
}

type MessageListResponse struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// Send inserts a message. With an attachment this is two-phase: the blob is
// uploaded first for a durable reference, then the row is inserted. If the
// insert fails the orphaned blob is not retried; the whole send surfaces as
// a failure and the caller resubmits.
func (s *MessageService) Send(ctx context.Context, userID, chatID uuid.UUID, input SendMessageInput) (*domain.Message, error) {
	chat, m, err := s.requireMembership(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if !authority.Allowed(chat, m, userID, authority.ActionSendMessages) {
		return nil, ErrForbidden
	}

	if strings.TrimSpace(input.Content) == "" && input.Attachment == nil {
		return nil, ErrEmptyMessage
	}

	if input.ReplyToID != nil {
		parent, err := s.messageRepo.GetByID(ctx, *input.ReplyToID)
		if err != nil {
			return nil, err
		}
		if parent == nil || parent.ChatID != chatID {
			return nil, ErrBadReply
		}
	}

	msgType := input.Type
	if msgType == "" {
		msgType = domain.MessageText
	}
	if !msgType.Valid() {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrEmptyMessage, input.Type)
	}

	now := time.Now()
	msg := &domain.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		SenderID:  userID,
		Type:      msgType,
		ReplyToID: input.ReplyToID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if c := strings.TrimSpace(input.Content); c != "" {
		msg.Content = &c
	}

	if input.Attachment != nil {
		name := path.Base(input.AttachmentName)
		ref, err := s.store.Upload(ctx, fmt.Sprintf("chats/%s/%s%s", chatID, msg.ID, path.Ext(name)), input.Attachment)
		if err != nil {
			return nil, fmt.Errorf("uploading attachment: %w", err)
		}
		msg.AttachmentRef = &ref
		msg.AttachmentName = &name
	}

	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	if err := s.chatRepo.Touch(ctx, chatID, msg.CreatedAt); err != nil {
		log.Printf("message service: touching chat %s: %v", chatID, err)
	}

	full, err := s.messageRepo.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, err
	}

	memberIDs, err := s.membershipRepo.ListUserIDs(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.MessageDelta(domain.OpInsert, full, memberIDs)
	}
	s.notifyChatPreview(ctx, chatID, memberIDs)
	s.fanOutNotifications(ctx, chat, full, memberIDs)

	return full, nil
}

func (s *MessageService) List(ctx context.Context, userID, chatID uuid.UUID, before *uuid.UUID, limit int) (*MessageListResponse, error) {
	if _, _, err := s.requireMembership(ctx, chatID, userID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	messages, err := s.messageRepo.ListByChat(ctx, chatID, before, limit+1)
	if err != nil {
		return nil, err
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[len(messages)-limit:]
	}

	if messages == nil {
		messages = []domain.Message{}
	}

	return &MessageListResponse{
		Messages: messages,
		HasMore:  hasMore,
	}, nil
}

// Edit is restricted to the original sender; admins delete, they don't
// rewrite.
func (s *MessageService) Edit(ctx context.Context, userID, messageID uuid.UUID, input EditMessageInput) (*domain.Message, error) {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	if msg.SenderID != userID {
		return nil, ErrNotMessageOwner
	}

	content := strings.TrimSpace(input.Content)
	if content == "" && msg.AttachmentRef == nil {
		return nil, ErrEmptyMessage
	}
	msg.Content = &content

	if err := s.messageRepo.Update(ctx, msg); err != nil {
		return nil, fmt.Errorf("updating message: %w", err)
	}

	updated, err := s.messageRepo.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		memberIDs, err := s.membershipRepo.ListUserIDs(ctx, msg.ChatID)
		if err == nil {
			s.notifier.MessageDelta(domain.OpUpdate, updated, memberIDs)
		}
	}

	return updated, nil
}

// Delete removes the caller's own message, or another member's message when
// the caller holds the delete-messages capability.
func (s *MessageService) Delete(ctx context.Context, userID, messageID uuid.UUID) error {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrMessageNotFound
	}

	if msg.SenderID != userID {
		chat, m, err := s.requireMembership(ctx, msg.ChatID, userID)
		if err != nil {
			return err
		}
		if !authority.Allowed(chat, m, userID, authority.ActionDeleteMessages) {
			return ErrForbidden
		}
	}

	if err := s.messageRepo.SoftDelete(ctx, messageID); err != nil {
		return err
	}

	memberIDs, err := s.membershipRepo.ListUserIDs(ctx, msg.ChatID)
	if err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.MessageDelta(domain.OpDelete, msg, memberIDs)
	}
	s.notifyChatPreview(ctx, msg.ChatID, memberIDs)

	return nil
}

func (s *MessageService) requireMembership(ctx context.Context, chatID, userID uuid.UUID) (*domain.Chat, *domain.Membership, error) {
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

// notifyChatPreview refreshes the directory rows whose last-message preview
// or updated_at changed with this message.
func (s *MessageService) notifyChatPreview(ctx context.Context, chatID uuid.UUID, memberIDs []uuid.UUID) {
	if s.notifier == nil {
		return
	}

	targets := make([]ChatDeltaTarget, 0, len(memberIDs))
	for _, memberID := range memberIDs {
		summary, err := s.chatRepo.GetSummary(ctx, chatID, memberID)
		if err != nil || summary == nil {
			log.Printf("message service: summary for %s/%s: %v", chatID, memberID, err)
			continue
		}
		targets = append(targets, ChatDeltaTarget{UserID: memberID, Summary: summary})
	}
	s.notifier.ChatDelta(domain.OpUpdate, targets)
}

// fanOutNotifications writes an unread-feed entry for every other member.
// Muted chats produce no notifications; a mention of a member's username
// upgrades their entry to a mention.
func (s *MessageService) fanOutNotifications(ctx context.Context, chat *domain.Chat, msg *domain.Message, memberIDs []uuid.UUID) {
	if chat.Muted {
		return
	}

	body := previewText(msg)
	payload, _ := json.Marshal(map[string]string{
		"chat_id":    chat.ID.String(),
		"message_id": msg.ID.String(),
	})

	members, err := s.membershipRepo.List(ctx, chat.ID)
	if err != nil {
		log.Printf("message service: listing members for fanout: %v", err)
		return
	}
	usernames := make(map[uuid.UUID]string, len(members))
	for _, m := range members {
		usernames[m.UserID] = m.Username
	}

	for _, memberID := range memberIDs {
		if memberID == msg.SenderID {
			continue
		}

		notifType := domain.NotificationNewMessage
		if msg.Content != nil && usernames[memberID] != "" &&
			strings.Contains(*msg.Content, "@"+usernames[memberID]) {
			notifType = domain.NotificationMention
		}

		n := &domain.Notification{
			ID:        uuid.New(),
			UserID:    memberID,
			Type:      notifType,
			Title:     msg.SenderDisplayName,
			Body:      body,
			Payload:   payload,
			CreatedAt: time.Now(),
		}
		if err := s.notifRepo.Create(ctx, n); err != nil {
			log.Printf("message service: creating notification for %s: %v", memberID, err)
			continue
		}
		if s.notifier != nil {
			s.notifier.NotificationDelta(domain.OpInsert, n)
		}
	}
}

func previewText(msg *domain.Message) string {
	if msg.Content != nil && *msg.Content != "" {
		// Cut on a rune boundary so the preview stays valid UTF-8.
		if runes := []rune(*msg.Content); len(runes) > 120 {
			return string(runes[:120])
		}
		return *msg.Content
	}
	if msg.AttachmentName != nil {
		return *msg.AttachmentName
	}
	return string(msg.Type)
}
