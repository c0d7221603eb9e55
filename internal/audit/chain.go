// Package audit implements the hash-linked, append-only audit log. Each event
// embeds the hash of its predecessor, so retroactive edits break the chain.
package audit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"auth-session-core/backend/internal/audit/domain"
	"auth-session-core/backend/internal/audit/repository"
)

// Sink receives events that could not be written to the primary store.
type Sink interface {
	Write(ctx context.Context, e *domain.Event) error
}

// Chain is the sole writer of audit events. Appends are serialized by a
// mutex so the previous-hash linkage is never raced.
type Chain struct {
	repo     repository.Repository
	fallback Sink
	now      func() time.Time

	mu   sync.Mutex
	head string
	seq  int64
}

// NewChain returns a chain appender over repo, resuming from the stored head.
// fallback may be nil; then dropped events only reach the process log.
func NewChain(ctx context.Context, repo repository.Repository, fallback Sink) (*Chain, error) {
	c := &Chain{repo: repo, fallback: fallback, now: time.Now, head: GenesisHash}
	last, err := repo.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("load audit chain head: %w", err)
	}
	if last != nil {
		c.head = last.EventHash
		c.seq = last.Sequence
	}
	return c, nil
}

// Append links and persists the event. It is best-effort: persistence
// failures divert the event to the fallback sink and never surface to the
// caller, so a broken audit store cannot fail a login or refresh.
func (c *Chain) Append(ctx context.Context, e *domain.Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = c.now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e.Sequence = c.seq + 1
	e.PreviousEventHash = c.head
	hash, err := EventHash(c.head, e)
	if err != nil {
		log.Printf("audit: hashing event %s failed: %v", e.EventType, err)
		c.divert(ctx, e)
		return
	}
	e.EventHash = hash

	if err := c.repo.Append(ctx, e); err != nil {
		log.Printf("audit: appending event %s failed: %v", e.EventType, err)
		// The head does not advance: the diverted event is outside the chain
		// and the next append links to the last persisted entry.
		c.divert(ctx, e)
		return
	}
	c.head = hash
	c.seq = e.Sequence
}

// VerifyChain recomputes hashes for sequences [from, to] and confirms
// linkage. from <= 1 starts at the genesis constant; otherwise the stored
// previous-hash of the first event in range anchors the walk.
func (c *Chain) VerifyChain(ctx context.Context, from, to int64) (bool, error) {
	if from < 1 {
		from = 1
	}
	events, err := c.repo.ListRange(ctx, from, to)
	if err != nil {
		return false, fmt.Errorf("load audit range: %w", err)
	}
	if len(events) == 0 {
		return true, nil
	}

	prev := events[0].PreviousEventHash
	if events[0].Sequence == 1 && prev != GenesisHash {
		return false, nil
	}
	expectSeq := events[0].Sequence
	for _, e := range events {
		if e.Sequence != expectSeq {
			return false, nil
		}
		if e.PreviousEventHash != prev {
			return false, nil
		}
		recomputed, err := EventHash(prev, e)
		if err != nil {
			return false, err
		}
		if recomputed != e.EventHash {
			return false, nil
		}
		prev = e.EventHash
		expectSeq++
	}
	return true, nil
}

// Head returns the current chain head hash and sequence.
func (c *Chain) Head() (string, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, c.seq
}

func (c *Chain) divert(ctx context.Context, e *domain.Event) {
	if c.fallback == nil {
		return
	}
	if err := c.fallback.Write(ctx, e); err != nil {
		log.Printf("audit: fallback sink write failed for event %s: %v", e.EventType, err)
	}
}
