package risk

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// SignalSource produces the historical snapshot for one scoring pass.
// Implementations must degrade gracefully: an outage yields neutral (zero)
// signals, never an error, because scoring must not block authentication.
type SignalSource interface {
	Fetch(ctx context.Context, rc Context) Signals
}

// Recorder persists the outcome of authentication attempts so future
// scorings have history. All methods are best-effort.
type Recorder interface {
	RecordSuccess(ctx context.Context, rc Context)
	RecordFailure(ctx context.Context, rc Context)
	RecordSessionClosed(ctx context.Context, userID string)
}

// GeoResolver maps an IP to a country code. A failed lookup returns ("",
// error) and contributes a neutral signal.
type GeoResolver interface {
	Country(ctx context.Context, ip string) (string, error)
}

// NoopSource returns neutral signals. Used when Redis is not configured.
type NoopSource struct{}

func (NoopSource) Fetch(context.Context, Context) Signals         { return Signals{} }
func (NoopSource) RecordSuccess(context.Context, Context)         {}
func (NoopSource) RecordFailure(context.Context, Context)         {}
func (NoopSource) RecordSessionClosed(context.Context, string)    {}

const (
	failureWindow = 15 * time.Minute
	fetchTimeout  = 2 * time.Second
)

// RedisStore keeps per-user signal history in Redis: a failed-login counter
// with a sliding TTL, the set of seen device fingerprints, the last login
// country, an active-session counter, and an hour-of-day login histogram.
type RedisStore struct {
	client *redis.Client
	geo    GeoResolver
}

// NewRedisStore returns a store over client. geo may be nil; the geo-jump
// signal is then always neutral.
func NewRedisStore(client *redis.Client, geo GeoResolver) *RedisStore {
	return &RedisStore{client: client, geo: geo}
}

// Fetch builds the snapshot. Every sub-read that fails contributes its zero
// value; the fetch itself never fails.
func (s *RedisStore) Fetch(ctx context.Context, rc Context) Signals {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	var sig Signals
	if n, err := s.client.Get(ctx, failKey(rc.UserID)).Int(); err == nil {
		sig.RecentFailedLogins = n
	} else if err != redis.Nil {
		log.Printf("risk: failed-login fetch for %s: %v", rc.UserID, err)
	}
	if rc.DeviceFingerprint != "" {
		if known, err := s.client.SIsMember(ctx, deviceKey(rc.UserID), rc.DeviceFingerprint).Result(); err == nil {
			sig.KnownDevice = known
		} else {
			log.Printf("risk: device fetch for %s: %v", rc.UserID, err)
		}
	}
	if n, err := s.client.SCard(ctx, deviceKey(rc.UserID)).Result(); err == nil {
		sig.SeenAnyDevice = n > 0
	}
	if last, err := s.client.Get(ctx, geoKey(rc.UserID)).Result(); err == nil {
		sig.LastCountry = last
	} else if err != redis.Nil {
		log.Printf("risk: last-country fetch for %s: %v", rc.UserID, err)
	}
	if s.geo != nil && rc.IP != "" {
		if country, err := s.geo.Country(ctx, rc.IP); err == nil {
			sig.Country = country
		}
		// lookup outage: country stays empty, geo-jump is neutral
	}
	if n, err := s.client.Get(ctx, sessKey(rc.UserID)).Int(); err == nil {
		sig.ActiveSessions = n
	} else if err != redis.Nil {
		log.Printf("risk: session-count fetch for %s: %v", rc.UserID, err)
	}
	if hours, err := s.client.HGetAll(ctx, hourKey(rc.UserID)).Result(); err == nil {
		for h, v := range hours {
			var hour, n int
			if _, err := fmt.Sscanf(h, "%d", &hour); err != nil {
				continue
			}
			if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
				continue
			}
			if hour >= 0 && hour < 24 {
				sig.LoginHourHistogram[hour] = n
			}
		}
	}
	return sig
}

// RecordSuccess updates device history, last country, the hour histogram,
// and the active-session counter, and clears the failure counter.
func (s *RedisStore) RecordSuccess(ctx context.Context, rc Context) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	if rc.DeviceFingerprint != "" {
		if err := s.client.SAdd(ctx, deviceKey(rc.UserID), rc.DeviceFingerprint).Err(); err != nil {
			log.Printf("risk: record device for %s: %v", rc.UserID, err)
		}
	}
	if s.geo != nil && rc.IP != "" {
		if country, err := s.geo.Country(ctx, rc.IP); err == nil && country != "" {
			_ = s.client.Set(ctx, geoKey(rc.UserID), country, 0).Err()
		}
	}
	_ = s.client.HIncrBy(ctx, hourKey(rc.UserID), fmt.Sprintf("%d", rc.At.UTC().Hour()), 1).Err()
	_ = s.client.Incr(ctx, sessKey(rc.UserID)).Err()
	_ = s.client.Del(ctx, failKey(rc.UserID)).Err()
}

// RecordFailure bumps the failed-login counter and refreshes its window.
func (s *RedisStore) RecordFailure(ctx context.Context, rc Context) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	n, err := s.client.Incr(ctx, failKey(rc.UserID)).Result()
	if err != nil {
		log.Printf("risk: record failure for %s: %v", rc.UserID, err)
		return
	}
	if n == 1 {
		_ = s.client.Expire(ctx, failKey(rc.UserID), failureWindow).Err()
	}
}

// RecordSessionClosed decrements the active-session counter.
func (s *RedisStore) RecordSessionClosed(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	n, err := s.client.Decr(ctx, sessKey(userID)).Result()
	if err != nil {
		return
	}
	if n < 0 {
		_ = s.client.Set(ctx, sessKey(userID), 0, 0).Err()
	}
}

func failKey(userID string) string   { return "risk:fl:" + userID }
func deviceKey(userID string) string { return "risk:dev:" + userID }
func geoKey(userID string) string    { return "risk:geo:" + userID }
func sessKey(userID string) string   { return "risk:sess:" + userID }
func hourKey(userID string) string   { return "risk:hours:" + userID }
