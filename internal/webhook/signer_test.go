package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestSign_MatchesManualHMAC(t *testing.T) {
	secret := "s3cr3t"
	payload := []byte(`{"entity_id":"light.a"}`)

	got := Sign(secret, payload)

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	want := hex.EncodeToString(h.Sum(nil))

	if got != want {
		t.Errorf("Sign = %q, want %q", got, want)
	}
}

func TestSign_DifferentSecretsDiffer(t *testing.T) {
	payload := []byte(`{"a":1}`)
	if Sign("one", payload) == Sign("two", payload) {
		t.Error("expected different secrets to produce different signatures")
	}
}
