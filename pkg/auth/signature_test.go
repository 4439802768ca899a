package auth

import (
	"testing"

	"sentrygate/pkg/models"
)

func testVerdict() models.Verdict {
	return models.Verdict{
		TraceID:  "trace-1",
		Decision: models.Allow,
		Reason:   models.ReasonAllValidatorsOK,
	}
}

func TestSignThenVerify(t *testing.T) {
	s := Signer{Secret: []byte("top-secret")}
	v := testVerdict()
	sig, err := s.Sign(v)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig == "" {
		t.Fatal("expected non-empty signature")
	}
	v.Signature = sig
	if !s.Verify(v) {
		t.Fatal("expected signature to verify")
	}
}

func TestVerifyRejectsMutatedFields(t *testing.T) {
	s := Signer{Secret: []byte("top-secret")}
	v := testVerdict()
	sig, err := s.Sign(v)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	v.Signature = sig

	mutated := v
	mutated.Decision = models.Deny
	if s.Verify(mutated) {
		t.Fatal("expected verify to fail after decision mutation")
	}

	mutated = v
	mutated.Reason = "different reason"
	if s.Verify(mutated) {
		t.Fatal("expected verify to fail after reason mutation")
	}

	mutated = v
	mutated.TraceID = "trace-2"
	if s.Verify(mutated) {
		t.Fatal("expected verify to fail after trace_id mutation")
	}
}

func TestSignFailsWithoutSecret(t *testing.T) {
	s := Signer{}
	_, err := s.Sign(testVerdict())
	if err != ErrNoSecret {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
}

func TestVerifyRejectsEmptySignature(t *testing.T) {
	s := Signer{Secret: []byte("top-secret")}
	v := testVerdict()
	if s.Verify(v) {
		t.Fatal("expected verify to fail on empty signature")
	}
}

func TestVerifyRejectsUnknownSecret(t *testing.T) {
	signer := Signer{Secret: []byte("secret-a")}
	other := Signer{Secret: []byte("secret-b")}
	v := testVerdict()
	sig, err := signer.Sign(v)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	v.Signature = sig
	if other.Verify(v) {
		t.Fatal("expected verify to fail under a different secret")
	}
}
