package webhookintake

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature_Valid(t *testing.T) {
	secret := []byte("topsecret")
	body := []byte(`{"action":"opened"}`)
	in := New(secret, nil, nil, nil)

	if err := in.VerifySignature(body, sign(secret, body)); err != nil {
		t.Errorf("expected valid signature to pass, got %v", err)
	}
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	body := []byte(`{"action":"opened"}`)
	in := New([]byte("topsecret"), nil, nil, nil)

	if err := in.VerifySignature(body, sign([]byte("wrongsecret"), body)); err == nil {
		t.Error("expected mismatched secret to fail verification")
	}
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	secret := []byte("topsecret")
	signed := sign(secret, []byte(`{"action":"opened"}`))
	in := New(secret, nil, nil, nil)

	if err := in.VerifySignature([]byte(`{"action":"closed"}`), signed); err == nil {
		t.Error("expected tampered body to fail verification")
	}
}

func TestVerifySignature_MissingPrefix(t *testing.T) {
	in := New([]byte("topsecret"), nil, nil, nil)
	if err := in.VerifySignature([]byte("body"), "deadbeef"); err == nil {
		t.Error("expected header without sha256= prefix to be rejected")
	}
}

func TestVerifySignature_NotHex(t *testing.T) {
	in := New([]byte("topsecret"), nil, nil, nil)
	if err := in.VerifySignature([]byte("body"), "sha256=not-hex!!"); err == nil {
		t.Error("expected non-hex signature to be rejected")
	}
}

func TestVerifySignature_LengthMismatch(t *testing.T) {
	in := New([]byte("topsecret"), nil, nil, nil)
	if err := in.VerifySignature([]byte("body"), "sha256=ab"); err == nil {
		t.Error("expected short signature to be rejected")
	}
}
