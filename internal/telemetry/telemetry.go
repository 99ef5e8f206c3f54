// Package telemetry holds the shared schema for device telemetry: state and
// severity enums, threshold constants, and the reading payload exchanged
// between the ingestion pipeline, the heartbeat state machine, and storage.
// Handlers must not redeclare any of these values.
package telemetry

import (
	"strconv"
	"time"
)

// DeviceState is the heartbeat-derived health state of a device.
type DeviceState string

const (
	StateOnline      DeviceState = "ONLINE"
	StateDegraded    DeviceState = "DEGRADED"
	StateMaintenance DeviceState = "MAINTENANCE"
	// StateOffline is never produced by the transition function; it is
	// inferred by an external liveness monitor from a stale last-seen.
	StateOffline DeviceState = "OFFLINE"
)

// DeviceStatus is the legacy per-device status written by API-key ingestion.
type DeviceStatus string

const (
	StatusOnline   DeviceStatus = "online"
	StatusWarning  DeviceStatus = "warning"
	StatusCritical DeviceStatus = "critical"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// SecurityReason classifies a rejected inbound message in the audit trail.
type SecurityReason string

const (
	ReasonReplayAttack     SecurityReason = "REPLAY_ATTACK"
	ReasonStaleTimestamp   SecurityReason = "STALE_TIMESTAMP"
	ReasonInvalidSignature SecurityReason = "INVALID_SIGNATURE"
)

// FreshnessWindow bounds the accepted clock skew between the sender-supplied
// timestamp and the server clock.
const FreshnessWindow = 30 * time.Second

// HeartbeatDegradedVoltage is the supply-voltage floor for mains-powered
// units; below it the heartbeat state machine reports DEGRADED. The
// battery-generation thresholds below are a different hardware revision and
// must stay separate.
const HeartbeatDegradedVoltage = 11.5

const (
	StatusCriticalVoltage = 3.0
	StatusWarningVoltage  = 3.3
	TDSCriticalPPM        = 800.0
)

// Reading is one accepted sensor sample. Optional sensors are nil when the
// device did not report them.
type Reading struct {
	DeviceID    string    `json:"device_id"`
	TDS         *float64  `json:"tds,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Voltage     *float64  `json:"voltage,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// ClassifyStatus recomputes the legacy device status from a reading.
func ClassifyStatus(tds, voltage *float64) DeviceStatus {
	if (tds != nil && *tds > TDSCriticalPPM) || (voltage != nil && *voltage < StatusCriticalVoltage) {
		return StatusCritical
	}
	if voltage != nil && *voltage < StatusWarningVoltage {
		return StatusWarning
	}
	return StatusOnline
}

// FormatValue renders a sensor value the way devices serialize it: shortest
// decimal form, empty string when absent. Missing fields must not collapse to
// "0", which would be indistinguishable from a legitimate zero reading.
func FormatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
