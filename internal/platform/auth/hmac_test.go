package auth

import "testing"

func TestHMACVerifier(t *testing.T) {
	verifier, err := NewHMACVerifier("carrier-secret")
	if err != nil {
		t.Fatalf("NewHMACVerifier: %v", err)
	}

	payload := []byte(`{"tracking_number":"TRK123","status":"in_transit"}`)
	sig := verifier.Sign(payload)

	if err := verifier.Verify(payload, sig); err != nil {
		t.Fatalf("Verify valid signature: %v", err)
	}
	if err := verifier.Verify(payload, "sha256="+sig); err != nil {
		t.Fatalf("Verify prefixed signature: %v", err)
	}

	if err := verifier.Verify([]byte(`{"tampered":true}`), sig); err == nil {
		t.Fatal("expected mismatch for tampered payload")
	}
	if err := verifier.Verify(payload, ""); err == nil {
		t.Fatal("expected error for empty signature")
	}
	if err := verifier.Verify(payload, "zz-not-hex"); err == nil {
		t.Fatal("expected error for malformed signature")
	}
}

func TestNewHMACVerifierRequiresSecret(t *testing.T) {
	if _, err := NewHMACVerifier(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
