/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the storefront HTTP server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, storefront.yaml, STOREFRONT_* env)
  2. Build the zap logger
  3. Open the catalog store (memory, sqlite or postgres)
  4. Pick the block clock (local, optionally auto-mined, or wall-clock interval)
  5. Restore the token ledger (durable stores) and mint configured
     allocations into an empty one
  6. Attach event publishers (metrics, RabbitMQ when configured)
  7. Create the catalog engine and apply the seed file
  8. Start the HTTP server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (http.shutdown_timeout)
  3. Close publishers and the database connection
  4. Exit

EXAMPLES:
  # In-memory store, local chain mined every 12 seconds
  STOREFRONT_STOREFRONT_OWNER=0x... ./server

  # SQLite file, 12 second blocks since genesis
  STOREFRONT_STORE_DRIVER=sqlite \
  STOREFRONT_CHAIN_GENESIS=2025-01-01T00:00:00Z ./server

SEE ALSO:
  - config/config.go: All settings and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/warp/storefront/api"
	"github.com/warp/storefront/catalog"
	"github.com/warp/storefront/catalog/store"
	"github.com/warp/storefront/chain"
	"github.com/warp/storefront/config"
	"github.com/warp/storefront/factory"
	"github.com/warp/storefront/logger"
	"github.com/warp/storefront/messaging"
	"github.com/warp/storefront/metrics"
	"github.com/warp/storefront/store/postgres"
	"github.com/warp/storefront/store/sqlite"
	"github.com/warp/storefront/token"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, log); err != nil {
		log.Error("server failed", zap.Error(err))
		return 1
	}
	log.Info("server stopped")
	return 0
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// Store
	catalogStore, health, closeStore, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// Block clock
	clock, err := openClock(cfg.Chain, log)
	if err != nil {
		return err
	}
	if local, ok := clock.(*chain.Local); ok && cfg.Chain.AutoMine {
		miner := chain.NewMiner(local, cfg.Chain.BlockTime, log)
		miner.Start()
		defer miner.Stop()
	}

	// Payment Authority
	ledger, err := openLedger(ctx, cfg.Token.Domain, catalogStore, log)
	if err != nil {
		return err
	}
	supply, err := ledger.TotalSupply(ctx)
	if err != nil {
		return err
	}
	if supply == 0 {
		if err := mintAllocations(ctx, ledger, cfg.Token.Allocations, log); err != nil {
			return err
		}
	} else if len(cfg.Token.Allocations) > 0 {
		log.Info("ledger already funded, skipping allocations", zap.Uint64("supply", uint64(supply)))
	}

	// Publishers
	recorder := metrics.NewRecorder()
	publishers := []catalog.Publisher{recorder}
	if cfg.RabbitMQ.URL != "" {
		conn, err := amqp.Dial(cfg.RabbitMQ.URL)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		defer conn.Close()

		publisher, err := messaging.NewRabbitPublisher(conn, cfg.RabbitMQ.Queue)
		if err != nil {
			return fmt.Errorf("init publisher: %w", err)
		}
		defer publisher.Close()
		publishers = append(publishers, publisher)
		log.Info("publishing events", zap.String("queue", cfg.RabbitMQ.Queue))
	}

	// Engine
	owner := catalog.MustParseAddress(cfg.Storefront.Owner)
	account := catalog.MustParseAddress(cfg.Storefront.Address)
	refunds, err := cfg.RefundPolicy()
	if err != nil {
		return err
	}
	engine, err := catalog.NewEngine(catalog.Config{
		Owner:      owner,
		Account:    account,
		Store:      catalogStore,
		Payments:   token.NewMerchant(ledger, account),
		Clock:      clock,
		Refunds:    refunds,
		Publishers: publishers,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	if cfg.Seed.Path != "" {
		seed, err := factory.LoadSeed(cfg.Seed.Path)
		if err != nil {
			return err
		}
		n, err := seed.Apply(ctx, engine)
		if err != nil {
			return err
		}
		log.Info("catalog seeded", zap.String("path", cfg.Seed.Path), zap.Int("products", n))
	}

	// HTTP
	checks := map[string]api.HealthCheck{}
	if health != nil {
		checks["store"] = health
	}
	handler := api.NewHandler(api.Config{
		Engine:   engine,
		Ledger:   ledger,
		Audience: cfg.App.Name,
		Faucet: api.FaucetConfig{
			Enabled: cfg.Token.Faucet && !cfg.IsProduction(),
			Limit:   catalog.Amount(cfg.Token.FaucetLimit),
		},
		Metrics:          recorder.Handler(),
		HealthChecks:     checks,
		CORSAllowOrigins: cfg.HTTP.CORSAllowOrigins,
		Logger:           log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("env", cfg.App.Env),
			zap.String("store", cfg.Store.Driver),
			zap.Stringer("owner", owner),
			zap.Stringer("account", account),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// openStore returns the configured catalog store, its health check (nil
// for memory) and a close function.
func openStore(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (catalog.TxStore, api.HealthCheck, func(), error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info("sqlite store opened", zap.String("path", cfg.SQLitePath))
		return s, s.Ping, closer(s.Close, log), nil

	case config.DriverPostgres:
		if err := postgres.Migrate(cfg.PostgresURL); err != nil {
			return nil, nil, nil, err
		}
		s, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, nil, err
		}
		s.SetPool(cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime)
		log.Info("postgres store opened")
		return s, s.Ping, closer(s.Close, log), nil

	default:
		log.Warn("using in-memory store, catalog is lost on restart")
		return store.NewTxMemory(), nil, func() {}, nil
	}
}

// mintAllocations funds a fresh ledger from token.allocations.
func mintAllocations(ctx context.Context, ledger *token.Ledger, allocations map[string]uint64, log *zap.Logger) error {
	for raw, amount := range allocations {
		addr, err := catalog.ParseAddress(raw)
		if err != nil {
			return err
		}
		if err := ledger.Mint(ctx, addr, catalog.Amount(amount)); err != nil {
			return fmt.Errorf("mint allocation for %s: %w", addr, err)
		}
		log.Info("token allocation minted", zap.Stringer("account", addr), zap.Uint64("amount", amount))
	}
	return nil
}

// openLedger restores the token ledger from the catalog database when the
// store can hold accounts, so balances and nonces survive a restart.
func openLedger(ctx context.Context, domain string, catalogStore catalog.TxStore, log *zap.Logger) (*token.Ledger, error) {
	accounts, ok := catalogStore.(token.AccountStore)
	if !ok {
		return token.NewLedger(domain, token.WithLogger(log)), nil
	}
	return token.LoadLedger(ctx, domain, accounts, token.WithLogger(log))
}

func openClock(cfg config.ChainConfig, log *zap.Logger) (catalog.BlockClock, error) {
	if cfg.Genesis.IsZero() {
		log.Info("using local block clock")
		return chain.NewLocal(), nil
	}
	log.Info("using interval block clock",
		zap.Time("genesis", cfg.Genesis),
		zap.Duration("block_time", cfg.BlockTime),
	)
	return chain.NewInterval(cfg.Genesis, cfg.BlockTime)
}

func closer(fn func() error, log *zap.Logger) func() {
	return func() {
		if err := fn(); err != nil {
			log.Warn("close store", zap.Error(err))
		}
	}
}
