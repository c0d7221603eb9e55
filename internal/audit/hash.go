package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"auth-session-core/backend/internal/audit/domain"
)

// GenesisHash is the defined predecessor of the first chain entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// chainBody is the canonical serialization of an event for hashing. Field
// order is fixed by the struct; json.Marshal sorts the metadata map keys, so
// the same event always produces the same bytes.
type chainBody struct {
	ID             string            `json:"id"`
	Sequence       int64             `json:"seq"`
	UserID         string            `json:"user_id"`
	SessionID      string            `json:"session_id,omitempty"`
	EventType      string            `json:"event_type"`
	Severity       string            `json:"severity"`
	IPAddress      string            `json:"ip,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
	Result         string            `json:"result"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	RiskIndicators []string          `json:"risk_indicators,omitempty"`
	CreatedAt      string            `json:"created_at"`
}

// CanonicalBody returns the bytes of the event that are covered by its hash.
func CanonicalBody(e *domain.Event) ([]byte, error) {
	body := chainBody{
		ID:             e.ID,
		Sequence:       e.Sequence,
		UserID:         e.UserID,
		SessionID:      e.SessionID,
		EventType:      e.EventType,
		Severity:       e.Severity,
		IPAddress:      e.IPAddress,
		UserAgent:      e.UserAgent,
		Result:         e.Result,
		Metadata:       e.Metadata,
		RiskIndicators: e.RiskIndicators,
		CreatedAt:      e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("canonicalize audit event: %w", err)
	}
	return b, nil
}

// EventHash computes the chained hash of an event given its predecessor's hash.
func EventHash(prevHash string, e *domain.Event) (string, error) {
	body, err := CanonicalBody(e)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}
