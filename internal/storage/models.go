package storage

import (
	"time"

	"aquawatch-backend/internal/telemetry"
)

type DeviceRecord struct {
	ID        string
	Name      string
	APIKey    string
	Secret    []byte
	LastNonce int64
	Status    telemetry.DeviceStatus
	Latitude  *float64
	Longitude *float64
	LastSeen  *time.Time
	CreatedAt time.Time
}

type ReadingRecord struct {
	ID          string
	DeviceID    string
	TDS         *float64
	Temperature *float64
	Voltage     *float64
	RecordedAt  time.Time
}

type HeartbeatRecord struct {
	DeviceID string
	LastSeen time.Time
	Voltage  float64
	Status   telemetry.DeviceState
}

type StateHistoryRecord struct {
	ID        int64
	DeviceID  string
	OldState  telemetry.DeviceState
	NewState  telemetry.DeviceState
	CreatedAt time.Time
}

type AlertRecord struct {
	ID              string
	DeviceID        string
	Message         string
	Severity        telemetry.Severity
	Status          telemetry.AlertStatus
	EscalationLevel int
	AcknowledgedBy  *string
	AcknowledgedAt  *time.Time
	ResolvedBy      *string
	ResolvedAt      *time.Time
	CreatedAt       time.Time
}

type SecurityEventRecord struct {
	ID        int64
	DeviceID  string
	Reason    telemetry.SecurityReason
	Payload   []byte
	SourceIP  string
	CreatedAt time.Time
}

type EscalationRule struct {
	Severity          telemetry.Severity `yaml:"severity"`
	MinutesToEscalate float64            `yaml:"minutes_to_escalate"`
	NextRole          string             `yaml:"next_role"`
}

type SubscriptionRecord struct {
	ID       string
	UserID   string
	Endpoint string
	P256dh   string
	Auth     string
}
