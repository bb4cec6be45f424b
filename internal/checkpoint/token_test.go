package checkpoint

import (
	"testing"
	"time"
)

func TestSigner_SignVerifyRoundTrip(t *testing.T) {
	signer := NewSigner([]byte("secret"), time.Minute)
	blob := FromExecution(sampleExecution(), NodeAwaitingApproval, 1)

	token, err := signer.Sign(blob)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	got, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.ExecutionID != blob.ExecutionID || got.NodePointer != blob.NodePointer {
		t.Errorf("Verify round-trip mismatch: got %+v, want %+v", got, blob)
	}
}

func TestSigner_VerifyRejectsWrongSecret(t *testing.T) {
	signer := NewSigner([]byte("secret"), 0)
	token, err := signer.Sign(FromExecution(sampleExecution(), NodeAgent, 0))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	wrongSigner := NewSigner([]byte("a-different-secret"), 0)
	if _, err := wrongSigner.Verify(token); err == nil {
		t.Error("Verify with wrong secret: want error, got nil")
	}
}

func TestSigner_VerifyRejectsExpiredToken(t *testing.T) {
	signer := NewSigner([]byte("secret"), -time.Second)
	token, err := signer.Sign(FromExecution(sampleExecution(), NodeAgent, 0))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := signer.Verify(token); err == nil {
		t.Error("Verify with expired token: want error, got nil")
	}
}
