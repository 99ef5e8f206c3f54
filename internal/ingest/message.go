// Package ingest implements the telemetry ingestion pipeline: replay and
// freshness guarding, message authentication, and the two ingestion modes
// (HMAC-signed secure mode and static API-key mode).
package ingest

import (
	"time"

	"aquawatch-backend/internal/telemetry"
)

// SecureMessage is one signed inbound telemetry message. It exists only for
// the duration of a request; on acceptance its payload is persisted as a
// telemetry.Reading.
type SecureMessage struct {
	DeviceID string `json:"device_id"`
	// Timestamp is kept as the sender's raw ISO-8601 string because the
	// signature is computed over the exact bytes the device sent.
	Timestamp   string   `json:"timestamp"`
	Nonce       int64    `json:"nonce"`
	TDS         *float64 `json:"tds,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Voltage     *float64 `json:"voltage,omitempty"`
	Signature   string   `json:"signature"`
}

func (m SecureMessage) SentAt() (time.Time, error) {
	return time.Parse(time.RFC3339, m.Timestamp)
}

// SimpleMessage is the unauthenticated API-key ingestion payload.
type SimpleMessage struct {
	APIKey      string   `json:"api_key"`
	TDS         *float64 `json:"tds,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Voltage     *float64 `json:"voltage,omitempty"`
}

// RejectReason identifies which guard stage refused a message. External
// responses stay uniform; the reason is for internal logging and the
// security-event audit trail.
type RejectReason string

const (
	RejectBlocked        RejectReason = "DEVICE_BLOCKED"
	RejectNotProvisioned RejectReason = "NOT_PROVISIONED"
	RejectReplay         RejectReason = "REPLAY_ATTACK"
	RejectStale          RejectReason = "STALE_TIMESTAMP"
	RejectBadSignature   RejectReason = "INVALID_SIGNATURE"
)

// RejectionError is returned for every security or provisioning failure.
// Message is the client-facing text; BlockReason is set only for blocked
// devices.
type RejectionError struct {
	Reason      RejectReason
	Message     string
	BlockReason string
}

func (e *RejectionError) Error() string { return e.Message }

func reject(reason RejectReason, message string) *RejectionError {
	return &RejectionError{Reason: reason, Message: message}
}

// SecureResult acknowledges an accepted secure message.
type SecureResult struct {
	Nonce int64 `json:"nonce"`
}

// SimpleResult acknowledges an accepted API-key message.
type SimpleResult struct {
	Status          telemetry.DeviceStatus
	AlertsTriggered int
}
