// Server wires the auth core behind the HTTP surface: Postgres-backed stores
// (in-memory fallback when DATABASE_URL is unset), the signing key ring, the
// risk engine over Redis signals, the policy decision point, and the audit
// chain with its Kafka fallback sink.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"auth-session-core/backend/internal/audit"
	auditdomain "auth-session-core/backend/internal/audit/domain"
	auditrepo "auth-session-core/backend/internal/audit/repository"
	auditsink "auth-session-core/backend/internal/audit/sink"
	"auth-session-core/backend/internal/auth"
	"auth-session-core/backend/internal/config"
	"auth-session-core/backend/internal/db"
	"auth-session-core/backend/internal/httpapi"
	"auth-session-core/backend/internal/keyring"
	"auth-session-core/backend/internal/policy/engine"
	policyrepo "auth-session-core/backend/internal/policy/repository"
	"auth-session-core/backend/internal/risk"
	"auth-session-core/backend/internal/security"
	sessionrepo "auth-session-core/backend/internal/session/repository"
	"auth-session-core/backend/internal/telemetry/otel"
	"auth-session-core/backend/internal/token"
	userrepo "auth-session-core/backend/internal/user/repository"
)

const policyCacheTTL = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "auth-core-server", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	var (
		conn     *sql.DB
		users    userrepo.Repository
		sessions sessionrepo.Repository
		policies policyrepo.Repository
		events   auditrepo.Repository
		keys     keyring.Repository
	)
	if cfg.DatabaseURL != "" {
		conn, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer conn.Close()
		users = userrepo.NewPostgresRepository(conn)
		sessions = sessionrepo.NewPostgresRepository(conn)
		policies = policyrepo.NewPostgresRepository(conn)
		events = auditrepo.NewPostgresRepository(conn)
		keys = keyring.NewPostgresRepository(conn)
	} else {
		log.Println("DATABASE_URL is unset; using in-memory stores (development only)")
		users = userrepo.NewMemoryRepository()
		sessions = sessionrepo.NewMemoryRepository()
		policies = policyrepo.NewMemoryRepository()
		events = auditrepo.NewMemoryRepository()
	}

	// A rotated-out key must stay verifiable for the longest-lived token
	// plus clock skew.
	ring, err := keyring.NewRing(ctx, cfg.JWTSigningAlg, cfg.RefreshTTL()+cfg.ClockSkew(), keys)
	if err != nil {
		log.Fatalf("keyring: %v", err)
	}
	tokens := token.NewService(ring, cfg.JWTIssuer, cfg.JWTAudience,
		cfg.AccessTTL(), cfg.RefreshTTL(), cfg.ClockSkew())

	var (
		source   risk.SignalSource = risk.NoopSource{}
		recorder risk.Recorder     = risk.NoopSource{}
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer client.Close()
		store := risk.NewRedisStore(client, nil)
		source, recorder = store, store
	} else {
		log.Println("REDIS_ADDR is unset; risk signals disabled")
	}
	riskEngine := risk.NewEngine(source, risk.DefaultWeights(), cfg.IPBlocklist())

	kafkaSink := auditsink.NewKafkaSink(cfg.AuditKafkaBrokersList(), cfg.AuditKafkaTopic)
	defer kafkaSink.Close()
	var fallback audit.Sink
	if kafkaSink != nil {
		fallback = kafkaSink
	}
	chain, err := audit.NewChain(ctx, events, fallback)
	if err != nil {
		log.Fatalf("audit chain: %v", err)
	}

	svc := auth.NewService(users, sessions, tokens, security.NewHasher(cfg.BcryptCost),
		riskEngine, recorder, chain,
		cfg.RiskBlockThreshold, cfg.RiskStepUpThreshold, cfg.RefreshTTL())
	authz := auth.NewAuthorizer(svc, engine.NewPDP(policies, policyCacheTTL))

	// Rotation stays in this process: the chain has a single appender, and
	// the rotation event must go through it.
	if interval := cfg.RotationInterval(); interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					key, err := ring.Rotate(ctx)
					if err != nil {
						log.Printf("key rotation: %v", err)
						continue
					}
					if err := ring.PurgeExpired(ctx); err != nil {
						log.Printf("key purge: %v", err)
					}
					chain.Append(ctx, &auditdomain.Event{
						EventType: auditdomain.TypeKeyRotated,
						Severity:  auditdomain.SeverityInfo,
						Result:    auditdomain.ResultSuccess,
						Metadata:  map[string]string{"kid": key.KID},
					})
					log.Printf("signing key rotated, new kid %s", key.KID)
				}
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewServer(ring, svc, authz, events).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}
