package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"aquawatch-backend/internal/bus"
	"aquawatch-backend/internal/storage"
	"aquawatch-backend/internal/telemetry"
)

// Store is the persistence surface the pipeline needs. *storage.Repository
// satisfies it.
type Store interface {
	GetDeviceCredentials(ctx context.Context, deviceID string) ([]byte, int64, error)
	GetBlockReason(ctx context.Context, deviceID string) (string, bool, error)
	CommitNonce(ctx context.Context, deviceID string, nonce int64) (bool, error)
	ResolveAPIKey(ctx context.Context, apiKey string) (storage.DeviceRecord, error)
	InsertReading(ctx context.Context, reading telemetry.Reading) error
	UpdateDeviceStatus(ctx context.Context, deviceID string, status telemetry.DeviceStatus, seenAt time.Time) error
	CreateAlert(ctx context.Context, alert storage.AlertRecord) (string, error)
	InsertSecurityEvent(ctx context.Context, event storage.SecurityEventRecord) error
}

// HeartbeatApplier feeds an accepted reading into the liveness state machine.
type HeartbeatApplier interface {
	Apply(ctx context.Context, deviceID string, voltage *float64, seenAt time.Time) (telemetry.DeviceState, error)
}

// Publisher dispatches alert events. Publishing is fire-and-forget: errors
// are logged and never fail the request.
type Publisher interface {
	Publish(subject string, payload any) error
}

type Pipeline struct {
	Store  Store
	Hearts HeartbeatApplier
	Bus    Publisher
	Logger *slog.Logger
	Now    func() time.Time
}

func NewPipeline(store Store, hearts HeartbeatApplier, publisher Publisher, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		Store:  store,
		Hearts: hearts,
		Bus:    publisher,
		Logger: logger,
		Now:    time.Now,
	}
}

// ErrInvalidAPIKey is returned by IngestSimple when no device carries the key.
var ErrInvalidAPIKey = errors.New("invalid api key")

// IngestSecure runs the full guard chain over a signed message and, on
// success, commits the nonce, persists the reading, and updates the
// heartbeat. Any guard failure returns a *RejectionError with no state
// mutated beyond the corresponding security event.
func (p *Pipeline) IngestSecure(ctx context.Context, msg SecureMessage, sourceIP string) (SecureResult, error) {
	now := p.Now()

	reason, blocked, err := p.Store.GetBlockReason(ctx, msg.DeviceID)
	if err != nil {
		return SecureResult{}, fmt.Errorf("block lookup: %w", err)
	}
	if blocked {
		return SecureResult{}, &RejectionError{Reason: RejectBlocked, Message: "Device Blocked", BlockReason: reason}
	}

	secret, lastNonce, err := p.Store.GetDeviceCredentials(ctx, msg.DeviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return SecureResult{}, reject(RejectNotProvisioned, "Device not found or not provisioned")
		}
		return SecureResult{}, fmt.Errorf("device lookup: %w", err)
	}

	if rej := CheckReplay(msg.Nonce, lastNonce); rej != nil {
		p.logSecurityEvent(ctx, msg.DeviceID, telemetry.ReasonReplayAttack, sourceIP,
			map[string]any{"nonce": msg.Nonce, "last_nonce": lastNonce})
		return SecureResult{}, rej
	}

	sentAt, err := msg.SentAt()
	if err != nil {
		// An unparseable timestamp cannot be proven fresh; treat it as stale.
		p.logSecurityEvent(ctx, msg.DeviceID, telemetry.ReasonStaleTimestamp, sourceIP,
			map[string]any{"timestamp": msg.Timestamp, "now": now})
		return SecureResult{}, reject(RejectStale, "Timestamp out of bounds")
	}
	if rej := CheckFreshness(sentAt, now); rej != nil {
		p.logSecurityEvent(ctx, msg.DeviceID, telemetry.ReasonStaleTimestamp, sourceIP,
			map[string]any{"timestamp": msg.Timestamp, "now": now})
		return SecureResult{}, rej
	}

	if !VerifySignature(secret, msg) {
		p.logSecurityEvent(ctx, msg.DeviceID, telemetry.ReasonInvalidSignature, sourceIP,
			map[string]any{"provided": msg.Signature})
		return SecureResult{}, reject(RejectBadSignature, "Invalid Signature")
	}

	// The conditional nonce commit is the gate for concurrent messages from
	// the same device; the loser of a race is refused before anything is
	// persisted for it.
	committed, err := p.Store.CommitNonce(ctx, msg.DeviceID, msg.Nonce)
	if err != nil {
		return SecureResult{}, fmt.Errorf("nonce commit: %w", err)
	}
	if !committed {
		p.logSecurityEvent(ctx, msg.DeviceID, telemetry.ReasonReplayAttack, sourceIP,
			map[string]any{"nonce": msg.Nonce, "last_nonce": lastNonce})
		return SecureResult{}, reject(RejectReplay, "Invalid Nonce: Replay Detected")
	}

	reading := telemetry.Reading{
		DeviceID:    msg.DeviceID,
		TDS:         msg.TDS,
		Temperature: msg.Temperature,
		Voltage:     msg.Voltage,
		RecordedAt:  now,
	}
	if err := p.Store.InsertReading(ctx, reading); err != nil {
		return SecureResult{}, fmt.Errorf("persist reading: %w", err)
	}

	// From here on the reading is durable. A failed heartbeat update is a
	// distinct partial-failure mode, logged but not surfaced: losing the
	// reading would be worse than a stale heartbeat.
	if _, err := p.Hearts.Apply(ctx, msg.DeviceID, msg.Voltage, now); err != nil {
		p.Logger.Error("heartbeat update failed after reading persisted",
			slog.String("device_id", msg.DeviceID),
			slog.String("error", err.Error()))
	}

	return SecureResult{Nonce: msg.Nonce}, nil
}

// IngestSimple handles the API-key mode: resolve the device, persist the
// reading, recompute the legacy status, and raise threshold alerts. It offers
// no replay or spoofing protection.
func (p *Pipeline) IngestSimple(ctx context.Context, msg SimpleMessage) (SimpleResult, error) {
	device, err := p.Store.ResolveAPIKey(ctx, msg.APIKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return SimpleResult{}, ErrInvalidAPIKey
		}
		return SimpleResult{}, fmt.Errorf("api key lookup: %w", err)
	}

	now := p.Now()
	reading := telemetry.Reading{
		DeviceID:    device.ID,
		TDS:         msg.TDS,
		Temperature: msg.Temperature,
		Voltage:     msg.Voltage,
		RecordedAt:  now,
	}
	if err := p.Store.InsertReading(ctx, reading); err != nil {
		return SimpleResult{}, fmt.Errorf("persist reading: %w", err)
	}

	status := telemetry.ClassifyStatus(msg.TDS, msg.Voltage)
	if err := p.Store.UpdateDeviceStatus(ctx, device.ID, status, now); err != nil {
		p.Logger.Error("device status update failed after reading persisted",
			slog.String("device_id", device.ID),
			slog.String("error", err.Error()))
	}

	triggered := 0
	if msg.TDS != nil && *msg.TDS > telemetry.TDSCriticalPPM {
		message := fmt.Sprintf("High TDS Detected: %s ppm", telemetry.FormatValue(msg.TDS))
		p.raiseAlert(ctx, device, telemetry.SeverityCritical, message, "Critical Water Quality Alert")
		triggered++
	}
	if msg.Voltage != nil && *msg.Voltage < telemetry.StatusCriticalVoltage {
		message := fmt.Sprintf("Low Battery Voltage: %sV", telemetry.FormatValue(msg.Voltage))
		p.raiseAlert(ctx, device, telemetry.SeverityWarning, message, "")
		triggered++
	}

	return SimpleResult{Status: status, AlertsTriggered: triggered}, nil
}

func (p *Pipeline) raiseAlert(ctx context.Context, device storage.DeviceRecord, severity telemetry.Severity, message, pushTitle string) {
	id, err := p.Store.CreateAlert(ctx, storage.AlertRecord{
		DeviceID: device.ID,
		Message:  message,
		Severity: severity,
		Status:   telemetry.AlertOpen,
	})
	if err != nil {
		p.Logger.Error("alert creation failed",
			slog.String("device_id", device.ID),
			slog.String("error", err.Error()))
		return
	}
	// Push dispatch only for critical alerts; the notifier worker does the
	// actual delivery.
	if pushTitle == "" {
		return
	}
	event := bus.AlertEvent{
		AlertID:       id,
		DeviceID:      device.ID,
		Severity:      string(severity),
		Title:         pushTitle,
		Body:          fmt.Sprintf("Device %s reported %s", device.Name, message),
		BroadcastRole: "admin",
	}
	if err := p.Bus.Publish(bus.SubjectAlertCreated, event); err != nil {
		p.Logger.Error("alert event publish failed",
			slog.String("alert_id", id),
			slog.String("error", err.Error()))
	}
}

func (p *Pipeline) logSecurityEvent(ctx context.Context, deviceID string, reason telemetry.SecurityReason, sourceIP string, payload map[string]any) {
	data, _ := json.Marshal(payload)
	if sourceIP == "" {
		sourceIP = "Unknown"
	}
	err := p.Store.InsertSecurityEvent(ctx, storage.SecurityEventRecord{
		DeviceID: deviceID,
		Reason:   reason,
		Payload:  data,
		SourceIP: sourceIP,
	})
	if err != nil {
		// Audit failure must not mask the rejection itself.
		p.Logger.Error("security event insert failed",
			slog.String("device_id", deviceID),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()))
	}
}
