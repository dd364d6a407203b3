package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkresic/strand/internal/service"
	"github.com/nkresic/strand/internal/transport/http/middleware"
	"github.com/nkresic/strand/pkg/validator"
)

type ChatHandler struct {
	chatService *service.ChatService
}

func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input service.CreateChatInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if errs := validator.ValidateChat(input.Name, string(input.Kind)); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	summary, err := h.chatService.Create(r.Context(), userID, input)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPersonalChat):
			writeError(w, http.StatusBadRequest, "INVALID_KIND", "Personal chats are created via /chats/personal")
		case errors.Is(err, service.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
		default:
			log.Printf("ERROR create chat: %v", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusCreated, summary)
}

type personalChatInput struct {
	UserID uuid.UUID `json:"user_id"`
}

// FindOrCreatePersonal is the single entry point for starting a direct chat.
// It returns the existing chat when one already links the pair.
func (h *ChatHandler) FindOrCreatePersonal(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input personalChatInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.UserID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "user_id is required")
		return
	}

	chatID, err := h.chatService.FindOrCreatePersonal(r.Context(), userID, input.UserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCannotChatSelf):
			writeError(w, http.StatusBadRequest, "SELF_CHAT", "Cannot start a chat with yourself")
		case errors.Is(err, service.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
		default:
			log.Printf("ERROR personal chat: %v", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	summary, err := h.chatService.Get(r.Context(), userID, chatID)
	if err != nil {
		log.Printf("ERROR personal chat summary: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	summaries, err := h.chatService.ListDirectory(r.Context(), userID)
	if err != nil {
		log.Printf("ERROR list chats: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"chats": summaries})
}

func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chatID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid chat ID")
		return
	}

	summary, err := h.chatService.Get(r.Context(), userID, chatID)
	if err != nil {
		h.writeChatError(w, "get chat", err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

type chatFlagsInput struct {
	Pinned   *bool `json:"pinned"`
	Archived *bool `json:"archived"`
	Muted    *bool `json:"muted"`
}

// SetFlags toggles the per-chat pinned, archived, and muted flags. Each
// toggle bumps the chat in the directory ordering.
func (h *ChatHandler) SetFlags(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chatID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid chat ID")
		return
	}

	var input chatFlagsInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if input.Pinned == nil && input.Archived == nil && input.Muted == nil {
		writeError(w, http.StatusBadRequest, "EMPTY_UPDATE", "Provide pinned, archived, or muted")
		return
	}

	if input.Pinned != nil {
		err = h.chatService.SetPinned(r.Context(), userID, chatID, *input.Pinned)
	}
	if err == nil && input.Archived != nil {
		err = h.chatService.SetArchived(r.Context(), userID, chatID, *input.Archived)
	}
	if err == nil && input.Muted != nil {
		err = h.chatService.SetMuted(r.Context(), userID, chatID, *input.Muted)
	}
	if err != nil {
		h.writeChatError(w, "set chat flags", err)
		return
	}

	summary, err := h.chatService.Get(r.Context(), userID, chatID)
	if err != nil {
		h.writeChatError(w, "set chat flags", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *ChatHandler) UpdateInfo(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chatID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid chat ID")
		return
	}

	var input service.UpdateChatInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	summary, err := h.chatService.UpdateInfo(r.Context(), userID, chatID, input)
	if err != nil {
		h.writeChatError(w, "update chat", err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chatID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid chat ID")
		return
	}

	if err := h.chatService.Delete(r.Context(), userID, chatID); err != nil {
		h.writeChatError(w, "delete chat", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chatID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid chat ID")
		return
	}

	if err := h.chatService.Leave(r.Context(), userID, chatID); err != nil {
		h.writeChatError(w, "leave chat", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type joinInput struct {
	Token string `json:"token"`
}

func (h *ChatHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input joinInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.Token == "" {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "token is required")
		return
	}

	summary, err := h.chatService.JoinByInvite(r.Context(), userID, input.Token)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInviteInvalid):
			writeError(w, http.StatusNotFound, "INVALID_INVITE", "Invite link is invalid or expired")
		case errors.Is(err, service.ErrAlreadyMember):
			writeError(w, http.StatusConflict, "ALREADY_MEMBER", "You are already a member of this chat")
		default:
			log.Printf("ERROR join chat: %v", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

type addMemberInput struct {
	UserID uuid.UUID `json:"user_id"`
}

func (h *ChatHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	requesterID := middleware.GetUserID(r.Context())
	chatID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid chat ID")
		return
	}

	var input addMemberInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.UserID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "user_id is required")
		return
	}

	if err := h.chatService.AddMember(r.Context(), requesterID, chatID, input.UserID); err != nil {
		switch {
		case errors.Is(err, service.ErrAlreadyMember):
			writeError(w, http.StatusConflict, "ALREADY_MEMBER", "User is already a member")
		case errors.Is(err, service.ErrPersonalChat):
			writeError(w, http.StatusBadRequest, "PERSONAL_CHAT", "Cannot add members to a personal chat")
		case errors.Is(err, service.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
		default:
			h.writeChatError(w, "add member", err)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	requesterID := middleware.GetUserID(r.Context())
	chatID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid chat ID")
		return
	}
	userID, err := uuid.Parse(r.PathValue("userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	if err := h.chatService.RemoveMember(r.Context(), requesterID, chatID, userID); err != nil {
		switch {
		case errors.Is(err, service.ErrLastAdmin):
			writeError(w, http.StatusConflict, "LAST_ADMIN", "Cannot remove the last admin")
		default:
			h.writeChatError(w, "remove member", err)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	requesterID := middleware.GetUserID(r.Context())
	chatID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid chat ID")
		return
	}
	userID, err := uuid.Parse(r.PathValue("userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	var input service.UpdateMemberInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	member, err := h.chatService.UpdateMember(r.Context(), requesterID, chatID, userID, input)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrLastAdmin):
			writeError(w, http.StatusConflict, "LAST_ADMIN", "Cannot demote the last admin")
		default:
			h.writeChatError(w, "update member", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, member)
}

func (h *ChatHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chatID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid chat ID")
		return
	}

	members, err := h.chatService.ListMembers(r.Context(), userID, chatID)
	if err != nil {
		h.writeChatError(w, "list members", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

// writeChatError maps the shared chat service sentinels; callers handle
// their endpoint-specific ones first.
func (h *ChatHandler) writeChatError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrChatNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Chat not found")
	case errors.Is(err, service.ErrNotMember):
		writeError(w, http.StatusForbidden, "NOT_MEMBER", "You are not a member of this chat")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "You do not have permission to do this")
	case errors.Is(err, service.ErrPersonalChat):
		writeError(w, http.StatusBadRequest, "PERSONAL_CHAT", "Not allowed for personal chats")
	default:
		log.Printf("ERROR %s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
	}
}
