package ingest

import (
	"time"

	"aquawatch-backend/internal/telemetry"
)

// CheckReplay rejects a nonce at or below the device's last accepted one.
// Nonces are strictly increasing per device; equal means replay, lower means
// replay or out-of-order delivery, both refused.
func CheckReplay(nonce, lastNonce int64) *RejectionError {
	if nonce <= lastNonce {
		return reject(RejectReplay, "Invalid Nonce: Replay Detected")
	}
	return nil
}

// CheckFreshness rejects timestamps outside the clock-skew window around now.
// This bounds the replay window regardless of nonce state and refuses devices
// with badly drifted clocks.
func CheckFreshness(sentAt, now time.Time) *RejectionError {
	skew := now.Sub(sentAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > telemetry.FreshnessWindow {
		return reject(RejectStale, "Timestamp out of bounds")
	}
	return nil
}
