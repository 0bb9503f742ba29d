package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/repository"
)

// RequestLedger is the slice of the request repository the HTTP layer uses.
// Requests are created only by the admission path of the send endpoint,
// so there is no create operation here.
type RequestLedger interface {
	ListIncoming(ctx context.Context, userID string) ([]model.MessageRequest, error)
	ListOutgoing(ctx context.Context, userID string) ([]model.MessageRequest, error)
	Accept(ctx context.Context, id, actingUser string) (*model.MessageRequest, error)
	Decline(ctx context.Context, id, actingUser string) (*model.MessageRequest, error)
}

type RequestHandler struct {
	ledger RequestLedger
}

func NewRequestHandler(ledger RequestLedger) *RequestHandler {
	return &RequestHandler{ledger: ledger}
}

// GetIncoming returns pending requests addressed to the caller, newest first.
func (h *RequestHandler) GetIncoming(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	requests, err := h.ledger.ListIncoming(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get requests")
		return
	}
	if requests == nil {
		requests = []model.MessageRequest{}
	}
	writeJSON(w, http.StatusOK, requests)
}

// GetSent returns pending requests the caller created, newest first.
func (h *RequestHandler) GetSent(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	requests, err := h.ledger.ListOutgoing(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get requests")
		return
	}
	if requests == nil {
		requests = []model.MessageRequest{}
	}
	writeJSON(w, http.StatusOK, requests)
}

// Accept resolves a pending request addressed to the caller. Only the
// recipient can accept; anything else is reported as not found, the
// same as a request that was already resolved.
func (h *RequestHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.ledger.Accept)
}

// Decline resolves a pending request addressed to the caller. Declining
// is final for this request but does not prevent the other user from
// being admitted through a later first message.
func (h *RequestHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.ledger.Decline)
}

func (h *RequestHandler) resolve(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, id, actingUser string) (*model.MessageRequest, error),
) {
	requestID := chi.URLParam(r, "requestId")
	userID := middleware.GetUserID(r.Context())

	req, err := op(r.Context(), requestID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to resolve request")
		return
	}
	writeJSON(w, http.StatusOK, req)
}
