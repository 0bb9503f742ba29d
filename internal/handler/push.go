package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/repository"
)

// SubscriptionSaver persists browser push subscriptions.
type SubscriptionSaver interface {
	Save(ctx context.Context, s *repository.PushSubscription) error
	Delete(ctx context.Context, endpoint string) error
}

type PushHandler struct {
	subs           SubscriptionSaver
	vapidPublicKey string
}

func NewPushHandler(subs SubscriptionSaver, vapidPublicKey string) *PushHandler {
	return &PushHandler{subs: subs, vapidPublicKey: vapidPublicKey}
}

// Subscribe stores the browser's push subscription for the caller.
// The body is the PushSubscription JSON the browser produces.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint, keys.p256dh and keys.auth required")
		return
	}

	sub := &repository.PushSubscription{
		Endpoint: req.Endpoint,
		UserID:   userID,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	}
	if err := h.subs.Save(r.Context(), sub); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unsubscribe removes a subscription by endpoint.
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.subs.Delete(r.Context(), req.Endpoint); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VAPIDPublic returns the public key the browser needs to subscribe.
func (h *PushHandler) VAPIDPublic(w http.ResponseWriter, r *http.Request) {
	if h.vapidPublicKey == "" {
		writeError(w, http.StatusServiceUnavailable, "push not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"vapid_public_key": h.vapidPublicKey})
}
