package ingest

import (
	"testing"
)

func fptr(v float64) *float64 { return &v }

func signedMessage(secret []byte) SecureMessage {
	msg := SecureMessage{
		DeviceID:    "dev-1",
		Timestamp:   "2026-08-31T10:00:00Z",
		Nonce:       42,
		TDS:         fptr(512),
		Temperature: fptr(21.5),
		Voltage:     fptr(12.1),
	}
	msg.Signature = ComputeSignature(secret, msg)
	return msg
}

func TestVerifySignatureRoundTrip(t *testing.T) {
	secret := []byte("shared-secret")
	msg := signedMessage(secret)
	if !VerifySignature(secret, msg) {
		t.Fatalf("expected valid signature")
	}
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	msg := signedMessage([]byte("shared-secret"))
	if VerifySignature([]byte("other-secret"), msg) {
		t.Fatalf("expected rejection with wrong secret")
	}
}

func TestVerifySignatureTamperedValue(t *testing.T) {
	secret := []byte("shared-secret")
	msg := signedMessage(secret)
	msg.TDS = fptr(900)
	if VerifySignature(secret, msg) {
		t.Fatalf("expected rejection after tampering")
	}
}

func TestVerifySignatureUppercaseHex(t *testing.T) {
	secret := []byte("shared-secret")
	msg := signedMessage(secret)
	upper := ""
	for _, c := range msg.Signature {
		if c >= 'a' && c <= 'f' {
			c = c - 'a' + 'A'
		}
		upper += string(c)
	}
	msg.Signature = upper
	if !VerifySignature(secret, msg) {
		t.Fatalf("expected hex case to be irrelevant")
	}
}

func TestCanonicalMissingFieldNotZero(t *testing.T) {
	secret := []byte("shared-secret")
	missing := SecureMessage{DeviceID: "dev-1", Timestamp: "2026-08-31T10:00:00Z", Nonce: 7}
	zero := missing
	zero.Voltage = fptr(0)
	if ComputeSignature(secret, missing) == ComputeSignature(secret, zero) {
		t.Fatalf("missing field must not serialize like a zero reading")
	}
}
