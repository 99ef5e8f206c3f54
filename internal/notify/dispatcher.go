// Package notify delivers Web Push notifications for alert events. Delivery
// is best-effort: failures are reported per subscription and never propagate
// back to ingestion.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"aquawatch-backend/internal/storage"
)

type Store interface {
	ListUserIDsByRole(ctx context.Context, role string) ([]string, error)
	ListSubscriptions(ctx context.Context, userIDs []string) ([]storage.SubscriptionRecord, error)
	DeleteSubscription(ctx context.Context, id string) error
}

type Dispatcher struct {
	Store           Store
	Logger          *slog.Logger
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             int
}

// Notification targets either one user or every user holding a role.
type Notification struct {
	UserID        string
	BroadcastRole string
	Title         string
	Body          string
}

type DeliveryResult struct {
	SubscriptionID string `json:"id"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

// Dispatch fans the notification out to every matching subscription. A 410
// Gone response means the browser dropped the subscription; it is pruned.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) ([]DeliveryResult, error) {
	if n.UserID == "" && n.BroadcastRole == "" {
		return nil, errors.New("notification needs a user or a broadcast role")
	}

	targets := []string{}
	if n.UserID != "" {
		targets = append(targets, n.UserID)
	}
	if n.BroadcastRole != "" {
		ids, err := d.Store.ListUserIDsByRole(ctx, n.BroadcastRole)
		if err != nil {
			return nil, fmt.Errorf("resolve role %q: %w", n.BroadcastRole, err)
		}
		targets = append(targets, ids...)
	}

	subs, err := d.Store.ListSubscriptions(ctx, targets)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"title": n.Title, "body": n.Body})
	if err != nil {
		return nil, err
	}

	results := make([]DeliveryResult, 0, len(subs))
	for _, sub := range subs {
		results = append(results, d.send(ctx, sub, payload))
	}
	return results, nil
}

func (d *Dispatcher) send(ctx context.Context, sub storage.SubscriptionRecord, payload []byte) DeliveryResult {
	target := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, target, &webpush.Options{
		Subscriber:      d.Subscriber,
		VAPIDPublicKey:  d.VAPIDPublicKey,
		VAPIDPrivateKey: d.VAPIDPrivateKey,
		TTL:             d.TTL,
	})
	if err != nil {
		return DeliveryResult{SubscriptionID: sub.ID, Status: "failed", Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		if err := d.Store.DeleteSubscription(ctx, sub.ID); err != nil {
			d.Logger.Error("stale subscription cleanup failed",
				slog.String("subscription_id", sub.ID),
				slog.String("error", err.Error()))
		}
		return DeliveryResult{SubscriptionID: sub.ID, Status: "deleted"}
	}
	if resp.StatusCode >= 400 {
		return DeliveryResult{SubscriptionID: sub.ID, Status: "failed", Error: resp.Status}
	}
	return DeliveryResult{SubscriptionID: sub.ID, Status: "sent"}
}
