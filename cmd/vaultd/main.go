package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/terminal-bench/vaultengine/internal/archive"
	"github.com/terminal-bench/vaultengine/internal/claim"
	"github.com/terminal-bench/vaultengine/internal/gateway"
	"github.com/terminal-bench/vaultengine/internal/oracle"
	"github.com/terminal-bench/vaultengine/internal/telemetry"
	"github.com/terminal-bench/vaultengine/internal/token"
	"github.com/terminal-bench/vaultengine/internal/vault"
	"github.com/terminal-bench/vaultengine/pkg/messaging"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Invalid duration in %s, using %s", key, fallback)
	}
	return fallback
}

func envAmount(key, fallback string) *uint256.Int {
	raw := env(key, fallback)
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		log.Fatalf("Invalid amount in %s: %v", key, err)
	}
	return amount
}

func main() {
	port := env("PORT", "8010")
	controllerRaw := os.Getenv("CONTROLLER_ID")
	if controllerRaw == "" {
		log.Fatal("CONTROLLER_ID is required")
	}
	controller, err := uuid.Parse(controllerRaw)
	if err != nil {
		log.Fatalf("Invalid CONTROLLER_ID: %v", err)
	}

	minTransfer := envAmount("MIN_TRANSFER", "1000000000000000")
	minLiquidity := envAmount("MIN_LIQUIDITY", "10000000000000000")
	minDeposit := envAmount("MIN_DEPOSIT", "1000000000000000")
	issuanceWindow := envDuration("ISSUANCE_WINDOW", 180*24*time.Hour)
	weightCooldown := envDuration("WEIGHT_COOLDOWN", time.Hour)

	clock := clockwork.NewRealClock()

	// Event publishing is optional; without NATS every component falls back
	// to the no-op publisher.
	var (
		publisher  messaging.Publisher = messaging.NopPublisher{}
		natsClient *messaging.Client
	)
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsClient, err = messaging.NewClient(messaging.Config{
			URL:            natsURL,
			Name:           "vaultd",
			ReconnectWait:  time.Second,
			MaxReconnects:  5,
			ConnectTimeout: 5 * time.Second,
		})
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		publisher = natsClient
		defer natsClient.Close()
	}

	backingA := token.NewLedger(env("BACKING_A_NAME", "backing-a"))
	backingB := token.NewLedger(env("BACKING_B_NAME", "backing-b"))
	poolAsset := token.NewLedger(env("POOL_ASSET_NAME", "pool-asset"))

	vaultA, err := vault.New(vault.Config{
		Name:           env("VAULT_A_NAME", "vault-a"),
		Controller:     controller,
		MinTransfer:    minTransfer,
		MinLiquidity:   minLiquidity,
		IssuanceWindow: issuanceWindow,
	}, backingA, clock, publisher)
	if err != nil {
		log.Fatalf("Failed to create vault A: %v", err)
	}

	vaultB, err := vault.New(vault.Config{
		Name:           env("VAULT_B_NAME", "vault-b"),
		Controller:     controller,
		MinTransfer:    minTransfer,
		MinLiquidity:   minLiquidity,
		IssuanceWindow: issuanceWindow,
	}, backingB, clock, publisher)
	if err != nil {
		log.Fatalf("Failed to create vault B: %v", err)
	}

	// The weight source reads external supplies from Redis when configured,
	// otherwise it tracks the local share supplies.
	var supplies oracle.SupplySource
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(redisOpts)
		supplies = oracle.NewRedisSupplySource(rdb,
			env("SUPPLY_KEY_A", "vault:supply:a"),
			env("SUPPLY_KEY_B", "vault:supply:b"))
	} else {
		supplies = &oracle.LedgerSupplySource{A: vaultA, B: vaultB}
	}
	weights := oracle.New(supplies, clock, weightCooldown, publisher)

	claimVault, err := claim.New(claim.Config{
		Name:        env("CLAIM_NAME", "claim"),
		MinTransfer: minTransfer,
		MinDeposit:  minDeposit,
	}, poolAsset, vaultA, vaultB, weights, publisher)
	if err != nil {
		log.Fatalf("Failed to create claim vault: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Background loops report non-fatal failures here.
	errs := make(chan error, 16)
	g.Go(func() error {
		for {
			select {
			case err := <-errs:
				log.Printf("Background error: %v", err)
			case <-ctx.Done():
				return nil
			}
		}
	})

	// Event archive is optional; it needs both Postgres and NATS.
	var store *archive.Store
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		store = archive.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to ensure archive schema: %v", err)
		}

		if natsClient != nil {
			if err := store.Follow(ctx, natsClient, errs); err != nil {
				log.Fatalf("Failed to start event archive: %v", err)
			}
		}
	}

	// Telemetry is optional.
	if influxURL := os.Getenv("INFLUXDB_URL"); influxURL != "" {
		client := influxdb2.NewClient(influxURL, os.Getenv("INFLUXDB_TOKEN"))
		defer client.Close()

		recorder := telemetry.NewRecorder(client,
			env("INFLUXDB_ORG", "vaultengine"),
			env("INFLUXDB_BUCKET", "vault_metrics"))

		interval := envDuration("TELEMETRY_INTERVAL", 30*time.Second)
		g.Go(func() error {
			return recorder.Run(ctx, interval, []*vault.ReserveVault{vaultA, vaultB}, claimVault, errs)
		})
	}

	gw := gateway.NewGateway(gateway.Config{
		Port:         port,
		JWTSecret:    env("JWT_SECRET", "dev-secret"),
		ReadTimeout:  envDuration("READ_TIMEOUT", 10*time.Second),
		WriteTimeout: envDuration("WRITE_TIMEOUT", 10*time.Second),
	}, []*vault.ReserveVault{vaultA, vaultB}, claimVault, store, natsClient)

	g.Go(func() error {
		log.Printf("Vault engine listening on port %s", port)
		return gw.Start(":" + port)
	})

	if interval := os.Getenv("WEIGHT_UPDATE_INTERVAL"); interval != "" {
		seconds, err := strconv.Atoi(interval)
		if err != nil || seconds <= 0 {
			log.Fatalf("Invalid WEIGHT_UPDATE_INTERVAL: %s", interval)
		}
		g.Go(func() error {
			ticker := time.NewTicker(time.Duration(seconds) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if _, err := weights.UpdateWeight(ctx); err != nil {
						log.Printf("Weight update skipped: %v", err)
					}
				case <-ctx.Done():
					return nil
				}
			}
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("Service failed: %v", err)
	}
	log.Println("Shutting down")
}
