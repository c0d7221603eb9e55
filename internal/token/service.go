// Package token issues and verifies the access/refresh token pairs that bind
// a user to a session and a signing-key version.
package token

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"auth-session-core/backend/internal/keyring"
)

// Token type claim values.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Verification failures are distinct kinds, not strings: callers choose
// between retry, re-login, and reuse handling by errors.Is.
var (
	ErrTokenMalformed    = errors.New("token malformed")
	ErrSignatureInvalid  = errors.New("token signature invalid")
	ErrTokenExpired      = errors.New("token expired")
	ErrWrongTokenType    = errors.New("wrong token type")
	ErrUnknownSigningKey = keyring.ErrUnknownKey
)

// Claims are the verified contents of an access or refresh token.
type Claims struct {
	jwt.RegisteredClaims
	Email       string `json:"email,omitempty"`
	SessionID   string `json:"sid"`
	TokenFamily string `json:"fam"`
	TokenType   string `json:"typ"`
}

// UserID returns the subject claim.
func (c *Claims) UserID() string { return c.Subject }

// JTI returns the token's unique identifier.
func (c *Claims) JTI() string { return c.ID }

// Pair is an ephemeral access/refresh pair. It is returned to the caller and
// never persisted; the session row keeps only the jtis and a binding hash.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessJTI        string
	RefreshJTI       string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Service signs with the ring's active key and verifies against whichever
// ring key the token's kid names.
type Service struct {
	ring       *keyring.Ring
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
	now        func() time.Time
}

// NewService returns a token service. leeway is the clock-skew tolerance
// applied to exp/iat/nbf on verification.
func NewService(ring *keyring.Ring, issuer, audience string, accessTTL, refreshTTL, leeway time.Duration) *Service {
	return &Service{
		ring:       ring,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		leeway:     leeway,
		now:        time.Now,
	}
}

// IssuePair mints an access and a refresh token for the session under the
// active key. Both carry fresh jtis; the caller stores them on the session.
func (s *Service) IssuePair(userID, email, sessionID, family string) (*Pair, error) {
	now := s.now().UTC()
	accessJTI := uuid.New().String()
	refreshJTI := uuid.New().String()
	accessExp := now.Add(s.accessTTL)
	refreshExp := now.Add(s.refreshTTL)

	access, err := s.sign(Claims{
		RegisteredClaims: s.registered(userID, accessJTI, now, accessExp),
		Email:            email,
		SessionID:        sessionID,
		TokenFamily:      family,
		TokenType:        TypeAccess,
	})
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(Claims{
		RegisteredClaims: s.registered(userID, refreshJTI, now, refreshExp),
		Email:            email,
		SessionID:        sessionID,
		TokenFamily:      family,
		TokenType:        TypeRefresh,
	})
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessJTI:        accessJTI,
		RefreshJTI:       refreshJTI,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess validates signature, expiry (with leeway), issuer, audience,
// and that the token is an access token.
func (s *Service) VerifyAccess(tokenString string) (*Claims, error) {
	return s.verify(tokenString, TypeAccess)
}

// VerifyRefresh validates the token the same way and requires type refresh.
func (s *Service) VerifyRefresh(tokenString string) (*Claims, error) {
	return s.verify(tokenString, TypeRefresh)
}

// DecodeUnsafe parses claims without any verification. Audit logging of
// rejected tokens only; never use the result for an authorization decision.
func (s *Service) DecodeUnsafe(tokenString string) *Claims {
	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return nil
	}
	return &claims
}

func (s *Service) registered(userID, jti string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   userID,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (s *Service) sign(claims Claims) (string, error) {
	key, err := s.ring.Active()
	if err != nil {
		return "", err
	}
	var method jwt.SigningMethod
	switch key.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", keyring.ErrInvalidKey
	}
	t := jwt.NewWithClaims(method, claims)
	t.Header["kid"] = key.KID
	return t.SignedString(key.Signer())
}

func (s *Service) verify(tokenString, wantType string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, s.keyfunc,
		jwt.WithLeeway(s.leeway),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.TokenType != wantType {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongTokenType, claims.TokenType, wantType)
	}
	return claims, nil
}

func (s *Service) keyfunc(t *jwt.Token) (interface{}, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, ErrTokenMalformed
	}
	key, err := s.ring.ByID(kid)
	if err != nil {
		return nil, err
	}
	return key.Public(), nil
}

// mapJWTError flattens golang-jwt's joined errors into this package's kinds.
// Order matters: an unknown kid surfaces via the keyfunc inside a generic
// "unverifiable" wrapper and must win over the malformed fallback.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, keyring.ErrUnknownKey):
		return ErrUnknownSigningKey
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	default:
		return ErrTokenMalformed
	}
}
