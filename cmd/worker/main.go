// Worker runs the background maintenance loops: the periodic expired-session
// sweep, a scheduled integrity check over the audit chain, and the fallback
// pipeline that drains diverted audit events from Kafka into Loki.
// Requires DATABASE_URL; the Kafka consumer runs only when
// AUDIT_KAFKA_BROKERS and LOKI_URL are both set.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"auth-session-core/backend/internal/audit"
	auditrepo "auth-session-core/backend/internal/audit/repository"
	"auth-session-core/backend/internal/config"
	"auth-session-core/backend/internal/db"
	"auth-session-core/backend/internal/risk"
	sessionrepo "auth-session-core/backend/internal/session/repository"
	"auth-session-core/backend/internal/telemetry/loki"
	"auth-session-core/backend/internal/telemetry/otel"
)

const verifyInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("worker: DATABASE_URL is required")
	}

	providers, err := otel.NewProviders(context.Background(), cfg.OTLPEndpoint, "auth-core-worker", cfg.OTLPInsecure)
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

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	sessions := sessionrepo.NewPostgresRepository(conn)
	events := auditrepo.NewPostgresRepository(conn)
	chain, err := audit.NewChain(context.Background(), events, nil)
	if err != nil {
		log.Fatalf("audit chain: %v", err)
	}

	var recorder risk.Recorder = risk.NoopSource{}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer client.Close()
		recorder = risk.NewRedisStore(client, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	go sweepLoop(ctx, sessions, recorder, cfg.SweepEvery())
	go verifyLoop(ctx, chain, events)

	brokers := cfg.AuditKafkaBrokersList()
	if len(brokers) > 0 && cfg.LokiURL != "" {
		consumeFallback(ctx, cfg, brokers)
	} else {
		log.Println("worker: fallback consumer disabled (AUDIT_KAFKA_BROKERS or LOKI_URL unset)")
		<-ctx.Done()
	}
	log.Println("worker: stopped")
}

// sweepLoop marks sessions past their expiry as revoked and keeps the
// per-user active-session counters in the signal store in step.
func sweepLoop(ctx context.Context, sessions sessionrepo.Repository, recorder risk.Recorder, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := sessions.ExpireSweep(ctx, time.Now().UTC())
			if err != nil {
				log.Printf("worker: expire sweep: %v", err)
				continue
			}
			total := 0
			for userID, n := range swept {
				total += n
				for i := 0; i < n; i++ {
					recorder.RecordSessionClosed(ctx, userID)
				}
			}
			if total > 0 {
				log.Printf("worker: expired %d sessions", total)
			}
		}
	}
}

// verifyLoop recomputes the audit chain linkage over the full stored range.
func verifyLoop(ctx context.Context, chain *audit.Chain, events auditrepo.Repository) {
	ticker := time.NewTicker(verifyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last, err := events.Last(ctx)
			if err != nil {
				log.Printf("worker: chain head lookup: %v", err)
				continue
			}
			if last == nil {
				continue
			}
			ok, err := chain.VerifyChain(ctx, 1, last.Sequence)
			if err != nil {
				log.Printf("worker: chain verify: %v", err)
				continue
			}
			if !ok {
				log.Printf("worker: AUDIT CHAIN INTEGRITY FAILURE in [1, %d]", last.Sequence)
				continue
			}
			log.Printf("worker: audit chain verified through sequence %d", last.Sequence)
		}
	}
}

// consumeFallback drains diverted audit events from Kafka into Loki. Events
// land here only when the primary store rejected them, so losing one to a
// failed push is logged loudly.
func consumeFallback(ctx context.Context, cfg *config.Config, brokers []string) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.AuditKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	log.Printf("worker: consuming fallback events from %s (group %s), pushing to %s",
		cfg.AuditKafkaTopic, cfg.KafkaGroupID, cfg.LokiURL)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("worker: kafka read error: %v", err)
			continue
		}

		pushCtx, pushCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := loki.PushEventJSON(pushCtx, cfg.LokiURL, msg.Value); err != nil {
			log.Printf("worker: loki push failed for diverted event: %v", err)
		}
		pushCancel()
	}
}
