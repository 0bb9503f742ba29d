package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatline/internal/gate"
	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/repository"
	"github.com/chatline/internal/service"
)

// MessageSender is what the HTTP layer needs from the message service.
type MessageSender interface {
	Send(ctx context.Context, senderID, chatID, content string) (*model.Message, error)
	History(ctx context.Context, chatID string) ([]model.Message, error)
	SetReaction(ctx context.Context, messageID, userID, emoji string) (*model.Message, error)
	ClearReaction(ctx context.Context, messageID, userID string) (*model.Message, error)
}

// ChatMembership answers whether a chat exists and who belongs to it.
type ChatMembership interface {
	GetByID(ctx context.Context, id string) (*model.Chat, error)
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
}

type MessageHandler struct {
	svc     MessageSender
	members ChatMembership
}

func NewMessageHandler(svc MessageSender, members ChatMembership) *MessageHandler {
	return &MessageHandler{svc: svc, members: members}
}

// deniedResponse is the 403 body for a send blocked by admission control.
// Code distinguishes the two deny reasons; RequestID points at the
// pending request the sender is waiting on.
type deniedResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req struct {
		ChatID  string `json:"chat_id"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChatID == "" {
		writeError(w, http.StatusBadRequest, "chat_id required")
		return
	}

	msg, err := h.svc.Send(r.Context(), userID, req.ChatID, req.Content)
	if err != nil {
		var denied *gate.DeniedError
		switch {
		case errors.As(err, &denied):
			writeJSON(w, http.StatusForbidden, deniedResponse{
				Error:     "message not allowed",
				Code:      denied.Reason,
				RequestID: denied.RequestID,
			})
		case errors.Is(err, service.ErrEmptyContent):
			writeError(w, http.StatusBadRequest, "content is empty")
		case errors.Is(err, service.ErrNotMember):
			writeError(w, http.StatusForbidden, "not a member")
		case errors.Is(err, service.ErrInvalidChatMembers):
			writeError(w, http.StatusUnprocessableEntity, "personal chat must have two members")
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "chat not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to send message")
		}
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	userID := middleware.GetUserID(r.Context())

	// Resolve the chat before the membership check so an unknown chat
	// reads as 404, not 403.
	if _, err := h.members.GetByID(r.Context(), chatID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}

	isMember, err := h.members.IsMember(r.Context(), chatID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !isMember {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}

	messages, err := h.svc.History(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *MessageHandler) AddReaction(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	userID := middleware.GetUserID(r.Context())

	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji required")
		return
	}

	msg, err := h.svc.SetReaction(r.Context(), messageID, userID, req.Emoji)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to set reaction")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	userID := middleware.GetUserID(r.Context())

	msg, err := h.svc.ClearReaction(r.Context(), messageID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to remove reaction")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}
