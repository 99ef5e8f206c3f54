package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"aquawatch-backend/internal/telemetry"
)

// canonical builds the byte string the device signs: the concatenation of
// device id, raw timestamp, nonce, and the three sensor values. Absent
// sensors contribute an empty string so that a missing field can never be
// confused with a zero reading.
func canonical(m SecureMessage) string {
	var b strings.Builder
	b.WriteString(m.DeviceID)
	b.WriteString(m.Timestamp)
	b.WriteString(strconv.FormatInt(m.Nonce, 10))
	b.WriteString(telemetry.FormatValue(m.TDS))
	b.WriteString(telemetry.FormatValue(m.Temperature))
	b.WriteString(telemetry.FormatValue(m.Voltage))
	return b.String()
}

// ComputeSignature returns the hex HMAC-SHA256 tag for a message under the
// device's shared secret.
func ComputeSignature(secret []byte, m SecureMessage) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(canonical(m)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the supplied tag in constant time.
func VerifySignature(secret []byte, m SecureMessage) bool {
	expected := ComputeSignature(secret, m)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(m.Signature)))
}
