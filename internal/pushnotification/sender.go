package pushnotification

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/sourcegraph/conc/pool"

	"github.com/kazz187/agentdash/internal/config"
	"github.com/kazz187/agentdash/internal/pushsubscription"
)

const (
	// pushTTL is how long (seconds) the push service keeps an undelivered
	// message for an offline device.
	pushTTL = 86400
	// maxConcurrentSends bounds the deliveries in flight for one owner.
	maxConcurrentSends = 4
)

type NotificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Sender delivers web-push messages signed with the server's VAPID keys.
type Sender struct {
	vapidEnv *config.VAPIDEnv
	repo     pushsubscription.Repository
	client   webpush.HTTPClient
}

func NewSender(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository) *Sender {
	return &Sender{vapidEnv: vapidEnv, repo: repo, client: http.DefaultClient}
}

// Enabled reports whether VAPID keys are configured.
func (s *Sender) Enabled() bool {
	return s.vapidEnv.VAPIDPrivateKey != "" && s.vapidEnv.VAPIDPublicKey != ""
}

// SendToOwner delivers payload to every subscription registered by ownerID.
// Delivery failures are logged and never returned.
func (s *Sender) SendToOwner(ctx context.Context, ownerID string, payload *NotificationPayload) {
	if !s.Enabled() {
		slog.DebugContext(ctx, "push disabled, VAPID keys not configured")
		return
	}
	subs, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list push subscriptions", "owner_id", ownerID, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal push payload", "error", err)
		return
	}

	p := pool.New().WithMaxGoroutines(maxConcurrentSends)
	for _, sub := range subs {
		p.Go(func() { s.send(ctx, sub, data) })
	}
	p.Wait()
}

func (s *Sender) send(ctx context.Context, sub *pushsubscription.Subscription, data []byte) {
	resp, err := webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dhKey, Auth: sub.AuthKey},
	}, &webpush.Options{
		HTTPClient:      s.client,
		VAPIDPublicKey:  s.vapidEnv.VAPIDPublicKey,
		VAPIDPrivateKey: s.vapidEnv.VAPIDPrivateKey,
		Subscriber:      s.vapidEnv.VAPIDContact,
		TTL:             pushTTL,
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to send push notification", "endpoint", sub.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		// The browser dropped the subscription; it will never accept again.
		slog.InfoContext(ctx, "removing expired push subscription", "id", sub.ID, "owner_id", sub.OwnerID)
		if err := s.repo.Delete(ctx, sub.ID); err != nil {
			slog.ErrorContext(ctx, "failed to delete expired push subscription", "id", sub.ID, "error", err)
		}
	case resp.StatusCode >= http.StatusBadRequest:
		slog.WarnContext(ctx, "push service rejected notification", "endpoint", sub.Endpoint, "status", resp.StatusCode)
	}
}
