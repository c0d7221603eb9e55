package keyring

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
)

// JWK is one public key in the JWKS export. Only the fields for the key's
// type are populated (n/e for RSA, crv/x/y for EC).
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS is the JSON Web Key Set document served at the well-known endpoint.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// PublicSet exports every still-verifiable key (active and retiring) as a
// JWKS. Private material is never included.
func (r *Ring) PublicSet() JWKS {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	set := JWKS{Keys: []JWK{}}
	for _, k := range r.keys {
		if !k.Verifiable(now) {
			continue
		}
		if jwk, ok := publicJWK(k); ok {
			set.Keys = append(set.Keys, jwk)
		}
	}
	return set
}

func publicJWK(k *SigningKey) (JWK, bool) {
	switch pub := k.public.(type) {
	case *rsa.PublicKey:
		return JWK{
			Kty: "RSA",
			Kid: k.KID,
			Alg: "RS256",
			Use: "sig",
			N:   b64url(pub.N),
			E:   b64url(big.NewInt(int64(pub.E))),
		}, true
	case *ecdsa.PublicKey:
		size := (pub.Curve.Params().BitSize + 7) / 8
		return JWK{
			Kty: "EC",
			Kid: k.KID,
			Alg: "ES256",
			Use: "sig",
			Crv: "P-256",
			X:   b64urlPadded(pub.X, size),
			Y:   b64urlPadded(pub.Y, size),
		}, true
	default:
		return JWK{}, false
	}
}

func b64url(n *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(n.Bytes())
}

// EC coordinates are fixed-width; short big-endian encodings are left-padded.
func b64urlPadded(n *big.Int, size int) string {
	b := n.Bytes()
	if len(b) < size {
		padded := make([]byte, size)
		copy(padded[size-len(b):], b)
		b = padded
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
