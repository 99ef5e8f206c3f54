package ingest

import (
	"testing"
	"time"
)

func TestCheckReplay(t *testing.T) {
	tests := []struct {
		name      string
		nonce     int64
		lastNonce int64
		reject    bool
	}{
		{name: "fresh nonce", nonce: 10, lastNonce: 9, reject: false},
		{name: "equal nonce", nonce: 9, lastNonce: 9, reject: true},
		{name: "older nonce", nonce: 3, lastNonce: 9, reject: true},
		{name: "first message", nonce: 1, lastNonce: 0, reject: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rej := CheckReplay(tc.nonce, tc.lastNonce)
			if tc.reject && rej == nil {
				t.Fatalf("expected replay rejection")
			}
			if !tc.reject && rej != nil {
				t.Fatalf("unexpected rejection: %v", rej)
			}
			if rej != nil && rej.Reason != RejectReplay {
				t.Fatalf("expected replay reason, got %s", rej.Reason)
			}
		})
	}
}

func TestCheckFreshness(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		sentAt time.Time
		reject bool
	}{
		{name: "current", sentAt: now, reject: false},
		{name: "within window past", sentAt: now.Add(-29 * time.Second), reject: false},
		{name: "within window future", sentAt: now.Add(29 * time.Second), reject: false},
		{name: "at boundary", sentAt: now.Add(-30 * time.Second), reject: false},
		{name: "too old", sentAt: now.Add(-31 * time.Second), reject: true},
		{name: "too far ahead", sentAt: now.Add(31 * time.Second), reject: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rej := CheckFreshness(tc.sentAt, now)
			if tc.reject && rej == nil {
				t.Fatalf("expected staleness rejection")
			}
			if !tc.reject && rej != nil {
				t.Fatalf("unexpected rejection: %v", rej)
			}
			if rej != nil && rej.Reason != RejectStale {
				t.Fatalf("expected stale reason, got %s", rej.Reason)
			}
		})
	}
}
