package keyring

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ring holds the signing keys. Reads take the RLock so verification keeps
// running while a rotation swaps the active key; retiring keys stay
// verifiable until their NotAfter, so rotation needs no stop-the-world step.
type Ring struct {
	mu        sync.RWMutex
	keys      map[string]*SigningKey
	activeKID string

	alg         string
	retireGrace time.Duration
	repo        Repository
	now         func() time.Time
}

// NewRing builds a ring that generates alg (RS256 or ES256) keys and keeps a
// rotated-out key verifiable for retireGrace (the refresh TTL plus clock
// skew bounds the oldest live token). repo may be nil for an ephemeral ring.
// If the store holds no active key, one is generated immediately.
func NewRing(ctx context.Context, alg string, retireGrace time.Duration, repo Repository) (*Ring, error) {
	if alg != "RS256" && alg != "ES256" {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidKey, alg)
	}
	if retireGrace <= 0 {
		return nil, fmt.Errorf("keyring: retire grace must be positive")
	}
	r := &Ring{
		keys:        make(map[string]*SigningKey),
		alg:         alg,
		retireGrace: retireGrace,
		repo:        repo,
		now:         time.Now,
	}
	if repo != nil {
		stored, err := repo.ListUsable(ctx)
		if err != nil {
			return nil, fmt.Errorf("keyring: load keys: %w", err)
		}
		for _, sk := range stored {
			k, err := sk.toKey()
			if err != nil {
				return nil, fmt.Errorf("keyring: restore key %s: %w", sk.KID, err)
			}
			r.keys[k.KID] = k
			if k.Status == StatusActive {
				r.activeKID = k.KID
			}
		}
	}
	if r.activeKID == "" {
		if _, err := r.Rotate(ctx); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Active returns the key used for new issuance.
func (r *Ring) Active() (*SigningKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[r.activeKID]
	if !ok {
		return nil, ErrNoActiveKey
	}
	return k, nil
}

// ByID returns the key for kid if tokens signed under it are still
// acceptable. An unknown, revoked, or expired-retiring kid yields
// ErrUnknownKey so callers can demand re-authentication.
func (r *Ring) ByID(kid string) (*SigningKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keys[kid]
	if !ok || !k.Verifiable(r.now()) {
		return nil, ErrUnknownKey
	}
	return k, nil
}

// Rotate generates a new active key and moves the current active key to
// retiring with NotAfter = now + retireGrace. The swap is a single
// write-locked update: a token issued an instant before Rotate still
// verifies afterward under the retiring key.
func (r *Ring) Rotate(ctx context.Context) (*SigningKey, error) {
	signer, err := generate(r.alg)
	if err != nil {
		return nil, fmt.Errorf("keyring: generate: %w", err)
	}
	now := r.now().UTC()
	next := &SigningKey{
		KID:       uuid.New().String(),
		Algorithm: r.alg,
		Status:    StatusActive,
		NotBefore: now,
		CreatedAt: now,
		private:   signer,
		public:    signer.Public(),
	}
	retireAt := now.Add(r.retireGrace)

	// Persist before swapping so a storage failure leaves the ring unchanged.
	if r.repo != nil {
		stored, err := next.toStored()
		if err != nil {
			return nil, err
		}
		if err := r.repo.Save(ctx, stored); err != nil {
			return nil, fmt.Errorf("keyring: save key: %w", err)
		}
		r.mu.RLock()
		prevKID := r.activeKID
		r.mu.RUnlock()
		if prevKID != "" {
			if err := r.repo.UpdateStatus(ctx, prevKID, StatusRetiring, retireAt); err != nil {
				return nil, fmt.Errorf("keyring: retire key %s: %w", prevKID, err)
			}
		}
	}

	r.mu.Lock()
	if prev, ok := r.keys[r.activeKID]; ok {
		retired := *prev
		retired.Status = StatusRetiring
		retired.NotAfter = retireAt
		r.keys[retired.KID] = &retired
	}
	r.keys[next.KID] = next
	r.activeKID = next.KID
	r.mu.Unlock()

	return next, nil
}

// PurgeExpired marks retiring keys past their NotAfter as revoked. Called by
// the background worker; every token signed under such a key has expired.
func (r *Ring) PurgeExpired(ctx context.Context) error {
	now := r.now()
	var expired []string
	r.mu.Lock()
	for kid, k := range r.keys {
		if k.Status == StatusRetiring && !now.Before(k.NotAfter) {
			dead := *k
			dead.Status = StatusRevoked
			r.keys[kid] = &dead
			expired = append(expired, kid)
		}
	}
	r.mu.Unlock()
	if r.repo == nil {
		return nil
	}
	for _, kid := range expired {
		if err := r.repo.UpdateStatus(ctx, kid, StatusRevoked, now); err != nil {
			return fmt.Errorf("keyring: revoke key %s: %w", kid, err)
		}
	}
	return nil
}

func generate(alg string) (crypto.Signer, error) {
	switch alg {
	case "RS256":
		return rsa.GenerateKey(rand.Reader, 2048)
	case "ES256":
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	default:
		return nil, ErrInvalidKey
	}
}
