// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev user (dev@example.com) already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"auth-session-core/backend/internal/config"
	"auth-session-core/backend/internal/db"
	policydomain "auth-session-core/backend/internal/policy/domain"
	policyrepo "auth-session-core/backend/internal/policy/repository"
	"auth-session-core/backend/internal/security"
	userdomain "auth-session-core/backend/internal/user/domain"
	userrepo "auth-session-core/backend/internal/user/repository"
)

// engineeringOnlyCondition gates the reports resource on the subject's
// department claim, exercising the Rego condition path end to end.
const engineeringOnlyCondition = `package authz

default allow = false

allow if {
	input.context.department == "engineering"
}
`

const (
	devUserEmail   = "dev@example.com"
	adminUserEmail = "admin@example.com"
	devPassword    = "Dev-Passw0rd-2024!"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; set it in the environment or a .env file")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	policies := policyrepo.NewPostgresRepository(conn)
	ctx := context.Background()

	existing, err := users.GetByEmail(ctx, devUserEmail)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Println("Seed already applied (dev@example.com exists). Skipping.")
		os.Exit(0)
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	passwordHash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC()

	if err := users.Create(ctx, &userdomain.User{
		ID:            "dev-user-001",
		Email:         devUserEmail,
		Name:          "Dev User",
		PasswordHash:  passwordHash,
		SecurityLevel: 1,
		Status:        userdomain.UserStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}); err != nil {
		log.Fatalf("create dev user: %v", err)
	}

	if err := users.Create(ctx, &userdomain.User{
		ID:            "dev-user-002",
		Email:         adminUserEmail,
		Name:          "Admin User",
		PasswordHash:  passwordHash,
		SecurityLevel: 5,
		Status:        userdomain.UserStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}); err != nil {
		log.Fatalf("create admin user: %v", err)
	}

	seedPolicies := []policydomain.Policy{
		{
			ID:                    "dev-policy-001",
			Resource:              "documents",
			Action:                "read",
			RequiredSecurityLevel: 1,
			Enabled:               true,
		},
		{
			ID:                    "dev-policy-002",
			Resource:              "documents",
			Action:                "write",
			RequiredSecurityLevel: 3,
			Enabled:               true,
		},
		{
			ID:                    "dev-policy-003",
			Resource:              "admin",
			Action:                policydomain.Wildcard,
			RequiredSecurityLevel: 5,
			Enabled:               true,
		},
		{
			ID:                    "dev-policy-004",
			Resource:              "reports",
			Action:                "read",
			RequiredSecurityLevel: 1,
			Conditions:            engineeringOnlyCondition,
			Enabled:               true,
		},
	}
	for i := range seedPolicies {
		if err := policies.Create(ctx, &seedPolicies[i]); err != nil {
			log.Fatalf("create policy %s: %v", seedPolicies[i].ID, err)
		}
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Dev login (level 1): %s / %s\n", devUserEmail, devPassword)
	fmt.Printf("Admin login (level 5): %s / %s\n", adminUserEmail, devPassword)
}
