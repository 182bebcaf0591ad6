package webhook

import (
	"strconv"
	"testing"
	"time"
)

func TestVerifySignatureRoundTrip(t *testing.T) {
	secret := "tenant-secret"
	timestamp := "1767225600"
	body := []byte(`{"object":"whatsapp_business_account"}`)

	sig := ComputeSignature(secret, timestamp, body)

	if !VerifySignature(secret, timestamp, body, sig) {
		t.Fatalf("expected signature to verify")
	}
	if !VerifySignature(secret, timestamp, body, "sha256="+sig) {
		t.Fatalf("expected prefixed signature to verify")
	}
}

func TestVerifySignatureRejectsTampering(t *testing.T) {
	secret := "tenant-secret"
	timestamp := "1767225600"
	body := []byte(`{"object":"whatsapp_business_account"}`)
	sig := ComputeSignature(secret, timestamp, body)

	if VerifySignature("other-secret", timestamp, body, sig) {
		t.Fatalf("expected wrong secret to fail verification")
	}
	if VerifySignature(secret, "1767225601", body, sig) {
		t.Fatalf("expected altered timestamp to fail verification")
	}
	if VerifySignature(secret, timestamp, []byte(`{}`), sig) {
		t.Fatalf("expected altered body to fail verification")
	}
}

func TestTimestampFresh(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	fresh := strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)
	if !TimestampFresh(fresh, now) {
		t.Fatalf("expected one-minute-old timestamp to be fresh")
	}

	stale := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
	if TimestampFresh(stale, now) {
		t.Fatalf("expected ten-minute-old timestamp to be rejected")
	}

	if TimestampFresh("not-a-number", now) {
		t.Fatalf("expected malformed timestamp to be rejected")
	}
}
