package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"auth-session-core/backend/internal/audit/domain"
	"auth-session-core/backend/internal/audit/repository"
)

func newTestChain(t *testing.T) (*Chain, *repository.MemoryRepository) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	c, err := NewChain(context.Background(), repo, nil)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	return c, repo
}

func appendN(t *testing.T, c *Chain, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		c.Append(context.Background(), &domain.Event{
			UserID:    "u1",
			EventType: domain.TypeLoginSuccess,
			Severity:  domain.SeverityInfo,
			Result:    domain.ResultSuccess,
			IPAddress: "192.0.2.1",
		})
	}
}

func TestChain_AppendLinksToGenesis(t *testing.T) {
	c, repo := newTestChain(t)
	appendN(t, c, 1)

	last, err := repo.Last(context.Background())
	if err != nil || last == nil {
		t.Fatalf("Last: %v, %v", last, err)
	}
	if last.PreviousEventHash != GenesisHash {
		t.Errorf("first event prev hash = %s, want genesis", last.PreviousEventHash)
	}
	if last.Sequence != 1 {
		t.Errorf("first event sequence = %d, want 1", last.Sequence)
	}
	if last.EventHash == "" || last.ID == "" {
		t.Error("appender must assign id and hash")
	}
}

func TestChain_VerifyPrefix(t *testing.T) {
	c, _ := newTestChain(t)
	appendN(t, c, 10)

	for to := int64(1); to <= 10; to++ {
		ok, err := c.VerifyChain(context.Background(), 1, to)
		if err != nil {
			t.Fatalf("VerifyChain(1,%d): %v", to, err)
		}
		if !ok {
			t.Errorf("VerifyChain(1,%d) = false, want true", to)
		}
	}
}

func TestChain_TamperDetected(t *testing.T) {
	c, repo := newTestChain(t)
	appendN(t, c, 5)

	if !repo.Mutate(3, func(e *domain.Event) { e.IPAddress = "10.0.0.99" }) {
		t.Fatal("mutate target not found")
	}

	ok, err := c.VerifyChain(context.Background(), 1, 5)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if ok {
		t.Error("tampered body must fail verification")
	}

	// The untouched prefix still verifies.
	ok, err = c.VerifyChain(context.Background(), 1, 2)
	if err != nil || !ok {
		t.Errorf("VerifyChain(1,2) = %v, %v, want true", ok, err)
	}
}

func TestChain_BrokenLinkDetected(t *testing.T) {
	c, repo := newTestChain(t)
	appendN(t, c, 5)

	repo.Mutate(4, func(e *domain.Event) {
		e.PreviousEventHash = "beef" + e.PreviousEventHash[4:]
	})

	ok, err := c.VerifyChain(context.Background(), 1, 5)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if ok {
		t.Error("relinked event must fail verification")
	}
}

func TestChain_ResumesFromStoredHead(t *testing.T) {
	c, repo := newTestChain(t)
	appendN(t, c, 3)

	// New appender over the same store, as after a restart.
	c2, err := NewChain(context.Background(), repo, nil)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	appendN(t, c2, 2)

	ok, err := c2.VerifyChain(context.Background(), 1, 5)
	if err != nil || !ok {
		t.Fatalf("VerifyChain after resume = %v, %v, want true", ok, err)
	}
	if _, seq := c2.Head(); seq != 5 {
		t.Errorf("head sequence = %d, want 5", seq)
	}
}

// failOnceRepo fails the first Append and delegates the rest.
type failOnceRepo struct {
	repository.Repository
	mu     sync.Mutex
	failed bool
}

func (r *failOnceRepo) Append(ctx context.Context, e *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.failed {
		r.failed = true
		return errors.New("db down")
	}
	return r.Repository.Append(ctx, e)
}

type captureSink struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (s *captureSink) Write(ctx context.Context, e *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

func TestChain_StoreFailureDivertsToFallback(t *testing.T) {
	mem := repository.NewMemoryRepository()
	repo := &failOnceRepo{Repository: mem}
	sink := &captureSink{}
	c, err := NewChain(context.Background(), repo, sink)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	// First append fails into the sink, second lands in the store.
	appendN(t, c, 2)

	if len(sink.events) != 1 {
		t.Fatalf("fallback received %d events, want 1", len(sink.events))
	}
	last, _ := mem.Last(context.Background())
	if last == nil || last.Sequence != 1 {
		t.Fatalf("stored head = %+v, want sequence 1", last)
	}
	// The diverted event never advanced the head, so the chain stays intact.
	if last.PreviousEventHash != GenesisHash {
		t.Errorf("stored event prev hash = %s, want genesis", last.PreviousEventHash)
	}
	ok, err := c.VerifyChain(context.Background(), 1, 1)
	if err != nil || !ok {
		t.Errorf("VerifyChain = %v, %v, want true", ok, err)
	}
}

func TestChain_ConcurrentAppendsStayLinked(t *testing.T) {
	c, _ := newTestChain(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			appendN(t, c, 5)
		}()
	}
	wg.Wait()

	ok, err := c.VerifyChain(context.Background(), 1, 40)
	if err != nil || !ok {
		t.Fatalf("VerifyChain after concurrent appends = %v, %v, want true", ok, err)
	}
}

func TestCanonicalBody_Deterministic(t *testing.T) {
	e := &domain.Event{
		ID:        "e1",
		Sequence:  1,
		UserID:    "u1",
		EventType: domain.TypeTokenRefresh,
		Severity:  domain.SeverityInfo,
		Result:    domain.ResultSuccess,
		Metadata:  map[string]string{"b": "2", "a": "1", "c": "3"},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	first, err := CanonicalBody(e)
	if err != nil {
		t.Fatalf("CanonicalBody: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := CanonicalBody(e)
		if err != nil {
			t.Fatalf("CanonicalBody: %v", err)
		}
		if string(again) != string(first) {
			t.Fatalf("canonical body not deterministic:\n%s\n%s", first, again)
		}
	}
}
