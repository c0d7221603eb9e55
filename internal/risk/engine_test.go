package risk

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type staticGeo struct {
	byIP map[string]string
}

func (g staticGeo) Country(ctx context.Context, ip string) (string, error) {
	if c, ok := g.byIP[ip]; ok {
		return c, nil
	}
	return "", errors.New("unknown ip")
}

func newTestStore(t *testing.T, geo GeoResolver) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(client, geo), mr
}

func attempt(userID, ip, fp string) Context {
	return Context{UserID: userID, IP: ip, DeviceFingerprint: fp, UserAgent: "test-agent", At: time.Now().UTC()}
}

func TestScore_CleanAttemptIsZero(t *testing.T) {
	store, _ := newTestStore(t, nil)
	e := NewEngine(store, DefaultWeights(), nil)

	rc := attempt("u1", "198.51.100.10", "fp-1")
	// Seed device history so the fingerprint is known.
	store.RecordSuccess(context.Background(), rc)

	res := e.Score(context.Background(), rc)
	if res.Score != 0 {
		t.Errorf("clean attempt score = %d (%v), want 0", res.Score, res.Indicators)
	}
}

func TestScore_BadIPAndNewDeviceReachesStepUp(t *testing.T) {
	store, _ := newTestStore(t, nil)
	e := NewEngine(store, DefaultWeights(), []string{"203.0.113.5"})

	res := e.Score(context.Background(), attempt("u1", "203.0.113.5", "never-seen-device"))
	if res.Score < 50 {
		t.Errorf("score = %d, want >= 50 for blocklisted IP + new device", res.Score)
	}
	wantIndicators := map[string]bool{IndicatorIPBlocklist: false, IndicatorNewDevice: false}
	for _, ind := range res.Indicators {
		if _, ok := wantIndicators[ind]; ok {
			wantIndicators[ind] = true
		}
	}
	for ind, seen := range wantIndicators {
		if !seen {
			t.Errorf("indicator %q not triggered: %v", ind, res.Indicators)
		}
	}
}

func TestScore_GeoJump(t *testing.T) {
	geo := staticGeo{byIP: map[string]string{"1.1.1.1": "AU", "2.2.2.2": "DE"}}
	store, _ := newTestStore(t, geo)
	e := NewEngine(store, DefaultWeights(), nil)
	ctx := context.Background()

	store.RecordSuccess(ctx, attempt("u1", "1.1.1.1", "fp-1"))
	res := e.Score(ctx, attempt("u1", "2.2.2.2", "fp-1"))
	if res.Score != DefaultWeights().GeoJump {
		t.Errorf("score = %d (%v), want geo jump only", res.Score, res.Indicators)
	}
}

func TestScore_GeoLookupOutageIsNeutral(t *testing.T) {
	geo := staticGeo{byIP: map[string]string{"1.1.1.1": "AU"}}
	store, _ := newTestStore(t, geo)
	e := NewEngine(store, DefaultWeights(), nil)
	ctx := context.Background()

	store.RecordSuccess(ctx, attempt("u1", "1.1.1.1", "fp-1"))
	// 9.9.9.9 is not resolvable; the geo signal must be neutral, not an error.
	res := e.Score(ctx, attempt("u1", "9.9.9.9", "fp-1"))
	for _, ind := range res.Indicators {
		if ind == IndicatorGeoJump {
			t.Error("geo jump fired on a failed lookup")
		}
	}
}

func TestScore_FailedLoginBurst(t *testing.T) {
	store, _ := newTestStore(t, nil)
	e := NewEngine(store, DefaultWeights(), nil)
	ctx := context.Background()

	rc := attempt("u1", "198.51.100.10", "fp-1")
	store.RecordSuccess(ctx, rc) // make device known
	for i := 0; i < DefaultWeights().FailedLoginBurst; i++ {
		store.RecordFailure(ctx, rc)
	}
	res := e.Score(ctx, rc)
	if res.Score != DefaultWeights().FailedLogins {
		t.Errorf("score = %d (%v), want failed-login points only", res.Score, res.Indicators)
	}
	// Success clears the counter.
	store.RecordSuccess(ctx, rc)
	res = e.Score(ctx, rc)
	if res.Score != 0 {
		t.Errorf("score after success = %d (%v), want 0", res.Score, res.Indicators)
	}
}

func TestScore_SessionCountAnomaly(t *testing.T) {
	store, _ := newTestStore(t, nil)
	w := DefaultWeights()
	w.MaxActiveSessions = 2
	e := NewEngine(store, w, nil)
	ctx := context.Background()

	rc := attempt("u1", "198.51.100.10", "fp-1")
	for i := 0; i < 3; i++ {
		store.RecordSuccess(ctx, rc)
	}
	res := e.Score(ctx, rc)
	if res.Score != w.SessionAnomaly {
		t.Errorf("score = %d (%v), want session anomaly only", res.Score, res.Indicators)
	}
	store.RecordSessionClosed(ctx, "u1")
	res = e.Score(ctx, rc)
	if res.Score != 0 {
		t.Errorf("score after close = %d (%v), want 0", res.Score, res.Indicators)
	}
}

func TestScore_UnusualHour(t *testing.T) {
	store, mr := newTestStore(t, nil)
	e := NewEngine(store, DefaultWeights(), nil)
	ctx := context.Background()

	rc := attempt("u1", "198.51.100.10", "fp-1")
	store.RecordSuccess(ctx, rc)
	// Build history entirely in a different hour than the attempt.
	otherHour := (rc.At.UTC().Hour() + 12) % 24
	mr.HSet(hourKey("u1"), "0", "0")
	for h := 0; h < 24; h++ {
		mr.HDel(hourKey("u1"), strconv.Itoa(h))
	}
	mr.HSet(hourKey("u1"), strconv.Itoa(otherHour), "50")

	res := e.Score(ctx, rc)
	if res.Score != DefaultWeights().UnusualHour {
		t.Errorf("score = %d (%v), want unusual-hour points only", res.Score, res.Indicators)
	}
}

func TestScore_RedisOutageDegradesToNeutral(t *testing.T) {
	store, mr := newTestStore(t, nil)
	e := NewEngine(store, DefaultWeights(), []string{"203.0.113.5"})
	mr.Close()

	// With Redis down only the in-memory blocklist can contribute.
	res := e.Score(context.Background(), attempt("u1", "203.0.113.5", ""))
	if res.Score != DefaultWeights().IPBlocklist {
		t.Errorf("score = %d (%v), want blocklist points only", res.Score, res.Indicators)
	}
}

func TestScore_CappedAt100(t *testing.T) {
	store, _ := newTestStore(t, staticGeo{byIP: map[string]string{"1.1.1.1": "AU"}})
	w := DefaultWeights()
	w.IPBlocklist = 90
	w.NewDevice = 90
	e := NewEngine(store, w, []string{"203.0.113.5"})

	res := e.Score(context.Background(), attempt("u1", "203.0.113.5", "new-fp"))
	if res.Score != 100 {
		t.Errorf("score = %d, want capped at 100", res.Score)
	}
}

func TestNoopSource(t *testing.T) {
	e := NewEngine(nil, DefaultWeights(), nil)
	res := e.Score(context.Background(), attempt("u1", "198.51.100.10", ""))
	if res.Score != 0 {
		t.Errorf("noop source score = %d, want 0", res.Score)
	}
}
