// Package heartbeat derives a device's health state from periodic voltage
// reports. OFFLINE is never produced here; it is inferred by an external
// liveness monitor from the last-seen timestamp this package maintains.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"aquawatch-backend/internal/bus"
	"aquawatch-backend/internal/storage"
	"aquawatch-backend/internal/telemetry"
)

type Store interface {
	GetHeartbeat(ctx context.Context, deviceID string) (storage.HeartbeatRecord, error)
	UpsertHeartbeat(ctx context.Context, rec storage.HeartbeatRecord) error
	InsertStateHistory(ctx context.Context, deviceID string, oldState, newState telemetry.DeviceState) error
	CreateAlert(ctx context.Context, alert storage.AlertRecord) (string, error)
}

type Publisher interface {
	Publish(subject string, payload any) error
}

type Machine struct {
	Store  Store
	Bus    Publisher
	Logger *slog.Logger
}

func NewMachine(store Store, publisher Publisher, logger *slog.Logger) *Machine {
	return &Machine{Store: store, Bus: publisher, Logger: logger}
}

// Next is the transition function. Manual MAINTENANCE overrides the automatic
// classification; otherwise a present voltage below the degraded floor means
// DEGRADED, anything else ONLINE.
func Next(current telemetry.DeviceState, voltage *float64) telemetry.DeviceState {
	if current == telemetry.StateMaintenance {
		return telemetry.StateMaintenance
	}
	if voltage != nil && *voltage < telemetry.HeartbeatDegradedVoltage {
		return telemetry.StateDegraded
	}
	return telemetry.StateOnline
}

// Apply records a heartbeat for an accepted telemetry message: upserts the
// heartbeat row, appends state history on a transition, and raises a warning
// alert on ONLINE -> DEGRADED. Repeated DEGRADED reports and MAINTENANCE
// transitions raise nothing.
func (m *Machine) Apply(ctx context.Context, deviceID string, voltage *float64, seenAt time.Time) (telemetry.DeviceState, error) {
	current, err := m.Store.GetHeartbeat(ctx, deviceID)
	known := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("heartbeat lookup: %w", err)
	}

	oldState := current.Status
	newState := Next(oldState, voltage)

	rec := storage.HeartbeatRecord{
		DeviceID: deviceID,
		LastSeen: seenAt,
		Status:   newState,
	}
	if voltage != nil {
		rec.Voltage = *voltage
	}
	if err := m.Store.UpsertHeartbeat(ctx, rec); err != nil {
		return "", fmt.Errorf("heartbeat upsert: %w", err)
	}

	if !known || oldState == newState {
		return newState, nil
	}

	if err := m.Store.InsertStateHistory(ctx, deviceID, oldState, newState); err != nil {
		return newState, fmt.Errorf("state history: %w", err)
	}

	if oldState == telemetry.StateOnline && newState == telemetry.StateDegraded {
		message := fmt.Sprintf("Device voltage low (%sV). Status degraded.", telemetry.FormatValue(voltage))
		id, err := m.Store.CreateAlert(ctx, storage.AlertRecord{
			DeviceID: deviceID,
			Message:  message,
			Severity: telemetry.SeverityWarning,
			Status:   telemetry.AlertOpen,
		})
		if err != nil {
			return newState, fmt.Errorf("degraded alert: %w", err)
		}
		if m.Bus != nil {
			event := bus.AlertEvent{
				AlertID:       id,
				DeviceID:      deviceID,
				Severity:      string(telemetry.SeverityWarning),
				Title:         "Device Degraded",
				Body:          message,
				BroadcastRole: "admin",
			}
			if err := m.Bus.Publish(bus.SubjectAlertCreated, event); err != nil {
				m.Logger.Error("alert event publish failed",
					slog.String("alert_id", id),
					slog.String("error", err.Error()))
			}
		}
	}

	return newState, nil
}
