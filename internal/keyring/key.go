// Package keyring manages the asymmetric signing keys used for token
// issuance and verification: one active key for new signatures, retiring
// keys that stay verifiable until their notAfter, and revoked keys.
package keyring

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"time"
)

// Key status values. Exactly one key is active at any time; retiring keys
// verify but never sign; revoked keys do neither.
const (
	StatusActive   = "active"
	StatusRetiring = "retiring"
	StatusRevoked  = "revoked"
)

var (
	// ErrUnknownKey is returned when a kid does not resolve to a usable key.
	// Callers must treat this as "re-authentication required": it usually
	// means the key set rotated past the token, not that the token is forged.
	ErrUnknownKey = errors.New("unknown signing key")
	// ErrNoActiveKey is returned when the ring has no active key to sign with.
	ErrNoActiveKey = errors.New("no active signing key")
	// ErrInvalidKey is returned when PEM or key type is invalid.
	ErrInvalidKey = errors.New("invalid key")
)

// SigningKey is one immutable entry in the ring. Private material never
// leaves this package except through the Signer method.
type SigningKey struct {
	KID       string
	Algorithm string // RS256 or ES256
	Status    string
	NotBefore time.Time
	NotAfter  time.Time // zero while active; set when the key starts retiring
	CreatedAt time.Time

	private crypto.Signer
	public  crypto.PublicKey
}

// Public returns the verification key.
func (k *SigningKey) Public() crypto.PublicKey { return k.public }

// Signer returns the private signing key. Only the token service should call
// this; the keyring never serializes private material in exports.
func (k *SigningKey) Signer() crypto.Signer { return k.private }

// Verifiable reports whether tokens signed under this key may still be
// accepted at now: active always, retiring until NotAfter, revoked never.
func (k *SigningKey) Verifiable(now time.Time) bool {
	switch k.Status {
	case StatusActive:
		return true
	case StatusRetiring:
		return now.Before(k.NotAfter)
	default:
		return false
	}
}

// Alg returns "RS256" for RSA and "ES256" for ECDSA P-256; empty otherwise.
func Alg(pub crypto.PublicKey) string {
	switch pub.(type) {
	case *rsa.PublicKey:
		return "RS256"
	case *ecdsa.PublicKey:
		return "ES256"
	default:
		return ""
	}
}
