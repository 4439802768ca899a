// Package auth computes and verifies the keyed MAC that binds a Verdict for
// non-repudiation.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"sentrygate/pkg/models"
)

// ErrNoSecret is returned by Sign when the process-wide secret is empty, e.g.
// because it was rotated out after startup.
var ErrNoSecret = errors.New("signature secret not available")

// Signer computes and verifies the verdict MAC. Secret is loaded once at process
// startup (see cmd/gateway) and treated as a constant thereafter; the gate never
// reassigns it, but a Signer with an empty Secret is a valid state that Sign must
// reject as a signing failure rather than panic on.
type Signer struct {
	Secret []byte
}

// signedFields is the fixed subset of a Verdict that is bound by the signature,
// serialized with sorted keys. validator_name is always "gate": the signature
// attests to the gate's own verdict, not to any individual validator's result.
type signedFields struct {
	Decision      models.Decision `json:"decision"`
	Reason        string          `json:"reason"`
	TraceID       string          `json:"trace_id"`
	ValidatorName string          `json:"validator_name"`
}

func payload(v models.Verdict) ([]byte, error) {
	raw, err := json.Marshal(signedFields{
		Decision:      v.Decision,
		Reason:        v.Reason,
		TraceID:       v.TraceID,
		ValidatorName: "gate",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal signature payload: %w", err)
	}
	canon, err := models.CanonicalizeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize signature payload: %w", err)
	}
	return canon, nil
}

// Sign returns the hex-encoded HMAC-SHA256 over the verdict's signed fields.
func (s Signer) Sign(v models.Verdict) (string, error) {
	if len(s.Secret) == 0 {
		return "", ErrNoSecret
	}
	msg, err := payload(v)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether v.Signature is a valid MAC over v's signed fields under
// the current secret. A single-bit mutation of decision, reason, or trace_id makes
// this return false.
func (s Signer) Verify(v models.Verdict) bool {
	if len(s.Secret) == 0 || v.Signature == "" {
		return false
	}
	expected, err := s.Sign(v)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(v.Signature)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	return hmac.Equal(got, want)
}
