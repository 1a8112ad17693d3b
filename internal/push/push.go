package push

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"tetatet/internal/models"
	"tetatet/internal/storage"

	webpush "github.com/SherClockHolmes/webpush-go"
)

type subscriptionStore interface {
	ListPushSubscriptions(userID string) ([]storage.PushSubscription, error)
	DeletePushSubscription(userID, endpoint string) error
}

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
}

// Notifier sends webpush notifications to users with no live connections.
// Strictly best-effort: failures are logged and dead endpoints pruned,
// nothing is queued or retried.
type Notifier struct {
	cfg   Config
	store subscriptionStore
}

// New returns nil when VAPID keys are not configured; the router treats a
// nil notifier as disabled.
func New(cfg Config, store subscriptionStore) *Notifier {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil
	}
	return &Notifier{cfg: cfg, store: store}
}

type notificationPayload struct {
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
	AuthorID string `json:"authorId"`
}

// MessageReceived notifies the offline receiver's registered browsers
// about the new message.
func (n *Notifier) MessageReceived(receiverID string, msg models.Message) {
	subs, err := n.store.ListPushSubscriptions(receiverID)
	if err != nil {
		slog.Error("failed to list push subscriptions", "user_id", receiverID, "error", err)
		return
	}

	body := msg.Text
	if body == "" && msg.MediaURL != "" {
		body = "Sent you a media message"
	}
	payload, err := json.Marshal(notificationPayload{
		Title:    "New message",
		Body:     body,
		AuthorID: msg.AuthorID,
	})
	if err != nil {
		slog.Error("failed to marshal push payload", "error", err)
		return
	}

	for _, sub := range subs {
		resp, err := webpush.SendNotification(payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		}, &webpush.Options{
			VAPIDPublicKey:  n.cfg.VAPIDPublicKey,
			VAPIDPrivateKey: n.cfg.VAPIDPrivateKey,
			Subscriber:      n.cfg.Subscriber,
			TTL:             60,
		})
		if err != nil {
			slog.Warn("webpush send failed", "user_id", receiverID, "error", err)
			continue
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			// Endpoint no longer valid, drop the registration.
			_ = n.store.DeletePushSubscription(receiverID, sub.Endpoint)
		}
		_ = resp.Body.Close()
	}
}
