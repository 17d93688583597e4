package scanner

import (
	"context"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/moment-museum/giftscan/pkg/catalog"
	"github.com/moment-museum/giftscan/pkg/classify"
	"github.com/moment-museum/giftscan/pkg/db"
	"github.com/moment-museum/giftscan/pkg/db/clickhouse"
	"github.com/moment-museum/giftscan/pkg/db/postgres"
	"github.com/moment-museum/giftscan/pkg/flow"
	"github.com/moment-museum/giftscan/pkg/leaderboard"
	"github.com/moment-museum/giftscan/pkg/logging"
	"github.com/moment-museum/giftscan/pkg/redis"
	scan "github.com/moment-museum/giftscan/pkg/scanner"
	"github.com/moment-museum/giftscan/pkg/scoring"
	"github.com/moment-museum/giftscan/pkg/utils"
)

// App wires the gift scanner process: store, scan loop, re-score cron
// and the ops HTTP server.
type App struct {
	Logger     *zap.Logger
	Store      db.Store
	Scanner    *scan.Scanner
	Aggregator *leaderboard.Aggregator
	Cron       *cron.Cron
	Server     *http.Server

	// Event window served by the ops leaderboard endpoint.
	WindowStart time.Time
	WindowEnd   time.Time
	Schedule    leaderboard.Schedule
}

// Initialize builds the application from the environment.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	genesis := utils.EnvUint64("GENESIS_HEIGHT", db.DefaultGenesisHeight)

	var store db.Store
	switch engine := utils.Env("DB_ENGINE", "postgres"); engine {
	case "clickhouse":
		store, err = clickhouse.New(ctx, logger, clickhouse.Opts{GenesisHeight: genesis})
	default:
		store, err = postgres.New(ctx, logger, postgres.Opts{GenesisHeight: genesis})
	}
	if err != nil {
		logger.Fatal("Unable to initialize store", zap.Error(err))
	}

	chain := flow.New(logger, flow.Opts{
		BaseURL:     utils.Env("NODE_URL", "http://localhost:8080/v1"),
		Timeout:     utils.EnvDuration("NODE_TIMEOUT", 15*time.Second),
		SafetyDelay: utils.EnvUint64("SAFETY_DELAY_BLOCKS", 480),
	})

	catalogClient := catalog.NewClient(logger, catalog.Opts{
		Endpoint: utils.Env("CATALOG_URL", "https://public-api.nbatopshot.com/graphql"),
		Timeout:  utils.EnvDuration("CATALOG_TIMEOUT", 15*time.Second),
	})
	var resolver catalog.Resolver = catalogClient
	if utils.Env("REDIS_HOST", "") != "" {
		rdb, rdbErr := redis.NewClient(ctx, logger)
		if rdbErr != nil {
			// Cache is an optimization; the catalog client works without it.
			logger.Warn("Redis unavailable, catalog cache disabled", zap.Error(rdbErr))
		}
		resolver = catalog.NewCachedResolver(logger, catalogClient, rdb,
			utils.EnvDuration("CATALOG_CACHE_TTL", catalog.DefaultCacheTTL))
	}

	vault := utils.Env("VAULT_ACCOUNT", "0xf853bd09d46e7db6")
	rule := classify.Rule{
		WithdrawEvent: utils.Env("WITHDRAW_EVENT", "A.0b2a3299cc857e29.TopShot.Withdraw"),
		DepositEvent:  utils.Env("DEPOSIT_EVENT", "A.0b2a3299cc857e29.TopShot.Deposit"),
		Vault:         vault,
	}

	scorer := scoring.NewResolver(logger, resolver, scoring.Opts{
		PlayerIdentity: utils.Env("PLAYER_IDENTITY", "Nikola Jokić"),
	})

	scanner := scan.New(logger, chain, classify.NewClassifier(logger, chain, rule), scorer, store, scan.Config{
		WindowSize:   utils.EnvUint64("WINDOW_SIZE", 100),
		DepositEvent: rule.DepositEvent,
		Vault:        vault,
		WaitInterval: utils.EnvDuration("WAIT_INTERVAL", 10*time.Second),
		ErrorBackoff: utils.EnvDuration("ERROR_BACKOFF", 5*time.Second),
		Concurrency:  utils.EnvInt("WINDOW_CONCURRENCY", 4),
	})

	app := &App{
		Logger:      logger,
		Store:       store,
		Scanner:     scanner,
		Aggregator:  leaderboard.NewAggregator(store),
		WindowStart: utils.EnvTime("EVENT_START", time.Date(2025, 10, 23, 21, 0, 0, 0, time.UTC)),
		WindowEnd:   utils.EnvTime("EVENT_END", time.Date(2025, 11, 24, 0, 0, 0, 0, time.UTC)),
		Schedule: leaderboard.Schedule{
			{Cutoff: utils.EnvTime("BOOST1_CUTOFF", time.Date(2025, 10, 17, 0, 0, 0, 0, time.UTC)),
				Multiplier: utils.EnvFloat("BOOST1_MULTIPLIER", 1.4)},
			{Cutoff: utils.EnvTime("BOOST2_CUTOFF", time.Date(2025, 10, 21, 0, 0, 0, 0, time.UTC)),
				Multiplier: utils.EnvFloat("BOOST2_MULTIPLIER", 1.2)},
		},
	}

	if err := app.setupScheduler(ctx); err != nil {
		logger.Fatal("Unable to schedule maintenance pass", zap.Error(err))
	}
	app.setupServer()

	return app
}

// setupScheduler runs the zero-point re-scoring pass on a cron
// schedule, bounded per run.
func (a *App) setupScheduler(ctx context.Context) error {
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	spec := utils.Env("RESCORE_CRON", "0 0 * * * *")
	_, err := a.Cron.AddFunc(spec, func() {
		rctx, cancel := context.WithTimeout(ctx, utils.EnvDuration("RESCORE_TIMEOUT", 10*time.Minute))
		defer cancel()
		updated, err := a.Scanner.RescoreZeroPoint(rctx)
		if err != nil {
			a.Logger.Warn("Re-score pass failed", zap.Error(err))
			return
		}
		if updated > 0 {
			a.Logger.Info("Re-score pass finished", zap.Int("updated", updated))
		}
	})
	return err
}

// Start runs the scan loop and ops server until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	a.Cron.Start()

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("Ops server stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := a.Scanner.Run(ctx); err != nil && ctx.Err() == nil {
			a.Logger.Error("Scan loop stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	a.Stop()
}

// Stop shuts the process down cleanly. The in-flight window either
// committed or will replay on the next start; the cursor is never left
// half-advanced.
func (a *App) Stop() {
	stopCtx := a.Cron.Stop()
	<-stopCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	a.Scanner.Close()
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("Store close failed", zap.Error(err))
	}
	a.Logger.Info("Scanner stopped")
}
