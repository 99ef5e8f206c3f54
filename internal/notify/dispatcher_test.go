package notify

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"

	"aquawatch-backend/internal/storage"
)

type mockStore struct {
	roleUsers map[string][]string
	subs      []storage.SubscriptionRecord
	deleted   []string
}

func (m *mockStore) ListUserIDsByRole(ctx context.Context, role string) ([]string, error) {
	return m.roleUsers[role], nil
}

func (m *mockStore) ListSubscriptions(ctx context.Context, userIDs []string) ([]storage.SubscriptionRecord, error) {
	return m.subs, nil
}

func (m *mockStore) DeleteSubscription(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

// browserSubscription builds a subscription with real P-256 keys so the push
// payload encryption succeeds against a local test endpoint.
func browserSubscription(t *testing.T, id, endpoint string) storage.SubscriptionRecord {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate browser key: %v", err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatalf("generate auth secret: %v", err)
	}
	return storage.SubscriptionRecord{
		ID:       id,
		UserID:   "user-1",
		Endpoint: endpoint,
		P256dh:   base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:     base64.RawURLEncoding.EncodeToString(auth),
	}
}

func newTestDispatcher(t *testing.T, store Store) *Dispatcher {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate vapid keys: %v", err)
	}
	return &Dispatcher{
		Store:           store,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Subscriber:      "mailto:ops@example.com",
		VAPIDPublicKey:  pub,
		VAPIDPrivateKey: priv,
		TTL:             30,
	}
}

func TestDispatchBroadcast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store := &mockStore{
		roleUsers: map[string][]string{"admin": {"user-1"}},
		subs:      []storage.SubscriptionRecord{browserSubscription(t, "sub-1", srv.URL)},
	}
	d := newTestDispatcher(t, store)

	results, err := d.Dispatch(context.Background(), Notification{
		BroadcastRole: "admin",
		Title:         "Critical Water Quality Alert",
		Body:          "Device Well #4 reported High TDS: 900 ppm",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Status != "sent" {
		t.Fatalf("expected one sent delivery, got %+v", results)
	}
	if len(store.deleted) != 0 {
		t.Fatalf("healthy subscription must not be pruned")
	}
}

func TestDispatchPrunesGoneSubscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	store := &mockStore{
		roleUsers: map[string][]string{"admin": {"user-1"}},
		subs:      []storage.SubscriptionRecord{browserSubscription(t, "sub-1", srv.URL)},
	}
	d := newTestDispatcher(t, store)

	results, err := d.Dispatch(context.Background(), Notification{BroadcastRole: "admin", Title: "t", Body: "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Status != "deleted" {
		t.Fatalf("expected pruned delivery, got %+v", results)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "sub-1" {
		t.Fatalf("expected sub-1 deleted, got %v", store.deleted)
	}
}

func TestDispatchRequiresTarget(t *testing.T) {
	d := newTestDispatcher(t, &mockStore{})
	if _, err := d.Dispatch(context.Background(), Notification{Title: "t", Body: "b"}); err == nil {
		t.Fatalf("expected error without user or role")
	}
}
