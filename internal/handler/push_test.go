package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/repository"
)

type fakeSubStore struct {
	saved   *repository.PushSubscription
	deleted string
}

func (f *fakeSubStore) Save(ctx context.Context, s *repository.PushSubscription) error {
	f.saved = s
	return nil
}

func (f *fakeSubStore) Delete(ctx context.Context, endpoint string) error {
	f.deleted = endpoint
	return nil
}

func newPushRouter(subs SubscriptionSaver, vapidKey string) http.Handler {
	h := NewPushHandler(subs, vapidKey)
	r := chi.NewRouter()
	r.Get("/api/config/push", h.VAPIDPublic)
	r.Group(func(r chi.Router) {
		r.Use(middleware.DevIdentity)
		r.Post("/api/push/subscribe", h.Subscribe)
		r.Delete("/api/push/subscribe", h.Unsubscribe)
	})
	return r
}

func TestSubscribeStoresCallerSubscription(t *testing.T) {
	store := &fakeSubStore{}
	router := newPushRouter(store, "pub-key")

	body := `{"endpoint":"https://push.example/ep1","keys":{"p256dh":"k1","auth":"a1"}}`
	rec := doJSON(t, router, http.MethodPost, "/api/push/subscribe", "alice", body)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusNoContent, rec.Body.String())
	}
	if store.saved == nil || store.saved.UserID != "alice" || store.saved.Endpoint != "https://push.example/ep1" {
		t.Fatalf("unexpected saved subscription %+v", store.saved)
	}
}

func TestSubscribeRejectsIncompleteSubscription(t *testing.T) {
	router := newPushRouter(&fakeSubStore{}, "pub-key")
	rec := doJSON(t, router, http.MethodPost, "/api/push/subscribe", "alice", `{"endpoint":"https://push.example/ep1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestUnsubscribeDeletesByEndpoint(t *testing.T) {
	store := &fakeSubStore{}
	router := newPushRouter(store, "pub-key")

	rec := doJSON(t, router, http.MethodDelete, "/api/push/subscribe", "alice", `{"endpoint":"https://push.example/ep1"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if store.deleted != "https://push.example/ep1" {
		t.Fatalf("deleted = %q", store.deleted)
	}
}

func TestVAPIDPublicKey(t *testing.T) {
	rec := doJSON(t, newPushRouter(&fakeSubStore{}, "pub-key"), http.MethodGet, "/api/config/push", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = doJSON(t, newPushRouter(&fakeSubStore{}, ""), http.MethodGet, "/api/config/push", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
