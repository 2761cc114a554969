package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"casevault/backend/internal/auth"
	"casevault/backend/internal/config"
	"casevault/backend/internal/logging"
	"casevault/backend/internal/repository"
	"casevault/backend/internal/seed"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	ctx := context.Background()

	configPath := flag.String("config", "", "Path to config file")
	principal := flag.String("principal", auth.DevPrincipalID, "Principal granted access to the seeded tenants")
	backendBase := flag.String("backend-base", "", "Tenant backend connection string prefix (default derived from db.*)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.NewLogger(true)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgresDirectory(pool)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate control-plane schema: %v", err)
	}

	base := *backendBase
	if base == "" {
		base = fmt.Sprintf("postgres://%s:%s@%s:%d/", cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port)
	}

	if err := seed.Apply(ctx, store, seed.DevTenants(base, *principal), logger); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	logger.Info("Seeding complete!", "principal_id", *principal)
}
