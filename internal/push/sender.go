package push

import (
	"context"
	"encoding/json"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/repository"
)

const sendTimeout = 10 * time.Second

// SubscriptionStore is the slice of the subscription repository the
// sender needs.
type SubscriptionStore interface {
	ListByUser(ctx context.Context, userID string) ([]repository.PushSubscription, error)
	Delete(ctx context.Context, endpoint string) error
}

// Sender delivers Web Push notifications to every subscription a user
// has registered. A nil vapid config means push is disabled and Notify
// is a no-op.
type Sender struct {
	subs  SubscriptionStore
	vapid *webpush.Options
}

// NewSender builds a sender. Empty keys disable delivery (subscriptions
// are still stored, nothing is sent).
func NewSender(subs SubscriptionStore, publicKey, privateKey string) *Sender {
	var opts *webpush.Options
	if publicKey != "" && privateKey != "" {
		opts = &webpush.Options{
			Subscriber:      "chatline-push",
			VAPIDPublicKey:  publicKey,
			VAPIDPrivateKey: privateKey,
			TTL:             30,
		}
	}
	return &Sender{subs: subs, vapid: opts}
}

// Enabled reports whether VAPID keys are configured.
func (s *Sender) Enabled() bool {
	return s.vapid != nil
}

// Notify sends the notification to all of the user's subscriptions.
// Endpoints the push service reports gone (404/410) are pruned.
func (s *Sender) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if s.vapid == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	subs, err := s.subs.ListByUser(ctx, userID)
	if err != nil {
		logger.Errorf("push: list subscriptions user=%s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, _ := json.Marshal(map[string]any{"title": title, "body": body, "data": data})
	for i := range subs {
		sub := &subs[i]
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, s.vapid)
		if err != nil {
			logger.Errorf("push: send %s: %v", sub.Endpoint[:min(50, len(sub.Endpoint))], err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			if err := s.subs.Delete(ctx, sub.Endpoint); err != nil {
				logger.Errorf("push: prune %s: %v", sub.Endpoint[:min(50, len(sub.Endpoint))], err)
			}
		}
	}
}
