package risk

import (
	"context"
	"testing"
	"time"
)

func TestRedisStore_EmptyHistoryIsNeutral(t *testing.T) {
	store, _ := newTestStore(t, nil)
	sig := store.Fetch(context.Background(), Context{UserID: "u1", IP: "198.51.100.7"})
	if sig != (Signals{}) {
		t.Fatalf("signals = %+v, want zero value", sig)
	}
}

func TestRedisStore_UnseenFingerprintOnKnownAccount(t *testing.T) {
	store, _ := newTestStore(t, nil)
	ctx := context.Background()
	store.RecordSuccess(ctx, attempt("u1", "198.51.100.7", "fp-1"))

	sig := store.Fetch(ctx, Context{UserID: "u1", DeviceFingerprint: "fp-other"})
	if sig.KnownDevice {
		t.Fatal("KnownDevice = true for a fingerprint never recorded")
	}
	if !sig.SeenAnyDevice {
		t.Fatal("SeenAnyDevice = false despite device history")
	}
}

func TestRedisStore_LastCountryTracked(t *testing.T) {
	geo := staticGeo{byIP: map[string]string{"1.1.1.1": "AU", "2.2.2.2": "DE"}}
	store, _ := newTestStore(t, geo)
	ctx := context.Background()

	store.RecordSuccess(ctx, attempt("u1", "1.1.1.1", "fp-1"))
	sig := store.Fetch(ctx, Context{UserID: "u1", IP: "2.2.2.2"})
	if sig.LastCountry != "AU" {
		t.Fatalf("LastCountry = %q, want AU", sig.LastCountry)
	}
	if sig.Country != "DE" {
		t.Fatalf("Country = %q, want DE", sig.Country)
	}
}

func TestRedisStore_FailureWindowExpires(t *testing.T) {
	store, mr := newTestStore(t, nil)
	ctx := context.Background()
	rc := attempt("u1", "198.51.100.7", "fp-1")

	store.RecordFailure(ctx, rc)
	store.RecordFailure(ctx, rc)
	if sig := store.Fetch(ctx, rc); sig.RecentFailedLogins != 2 {
		t.Fatalf("RecentFailedLogins = %d, want 2", sig.RecentFailedLogins)
	}

	mr.FastForward(failureWindow + time.Second)
	if sig := store.Fetch(ctx, rc); sig.RecentFailedLogins != 0 {
		t.Fatalf("RecentFailedLogins = %d after window, want 0", sig.RecentFailedLogins)
	}
}

func TestRedisStore_SessionCounterNeverNegative(t *testing.T) {
	store, _ := newTestStore(t, nil)
	ctx := context.Background()

	store.RecordSessionClosed(ctx, "u1")
	if sig := store.Fetch(ctx, Context{UserID: "u1"}); sig.ActiveSessions != 0 {
		t.Fatalf("ActiveSessions = %d, want 0", sig.ActiveSessions)
	}

	store.RecordSuccess(ctx, attempt("u1", "198.51.100.7", "fp-1"))
	store.RecordSuccess(ctx, attempt("u1", "198.51.100.7", "fp-1"))
	store.RecordSessionClosed(ctx, "u1")
	if sig := store.Fetch(ctx, Context{UserID: "u1"}); sig.ActiveSessions != 1 {
		t.Fatalf("ActiveSessions = %d, want 1", sig.ActiveSessions)
	}
}
