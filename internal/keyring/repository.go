package keyring

import (
	"context"
	"time"
)

// StoredKey is the persistence shape of a signing key. Private material is
// stored as PKCS8 PEM; the signing_keys table is only readable by this
// service's role.
type StoredKey struct {
	KID        string
	Algorithm  string
	Status     string
	PrivatePEM string
	NotBefore  time.Time
	NotAfter   time.Time // zero until the key starts retiring
	CreatedAt  time.Time
}

// Repository persists signing keys across restarts so retiring keys stay
// verifiable after a deploy.
type Repository interface {
	// ListUsable returns active and retiring keys (revoked keys are never loaded).
	ListUsable(ctx context.Context) ([]*StoredKey, error)
	Save(ctx context.Context, k *StoredKey) error
	UpdateStatus(ctx context.Context, kid, status string, notAfter time.Time) error
}

func (k *SigningKey) toStored() (*StoredKey, error) {
	pemStr, err := MarshalPrivateKey(k.private)
	if err != nil {
		return nil, err
	}
	return &StoredKey{
		KID:        k.KID,
		Algorithm:  k.Algorithm,
		Status:     k.Status,
		PrivatePEM: pemStr,
		NotBefore:  k.NotBefore,
		NotAfter:   k.NotAfter,
		CreatedAt:  k.CreatedAt,
	}, nil
}

func (s *StoredKey) toKey() (*SigningKey, error) {
	signer, err := ParsePrivateKey(s.PrivatePEM)
	if err != nil {
		return nil, err
	}
	return &SigningKey{
		KID:       s.KID,
		Algorithm: s.Algorithm,
		Status:    s.Status,
		NotBefore: s.NotBefore,
		NotAfter:  s.NotAfter,
		CreatedAt: s.CreatedAt,
		private:   signer,
		public:    signer.Public(),
	}, nil
}
