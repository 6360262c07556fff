package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"wealthwars/application"
	"wealthwars/config"
	"wealthwars/database"
	"wealthwars/domain/interfaces"
	"wealthwars/domain/services"
	"wealthwars/infrastructure"
	"wealthwars/infrastructure/chain"
	"wealthwars/infrastructure/observability"
	"wealthwars/repository"
	"wealthwars/repository/memstore"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// App holds the wired domain services for callers such as an HTTP layer or a chat bot
type App struct {
	Links      interfaces.WalletLinkService
	Identities interfaces.IdentityService
	Balances   interfaces.BalanceService
	Rounds     interfaces.RoundService
	Settlement interfaces.SettlementService
	Claims     interfaces.ClaimService
	Worker     *application.RoundWorker

	closers []func()
}

// Close releases the store, the event stream and the metrics exporter in reverse order
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Run initializes the application and runs the round worker until ctx ends
func Run(ctx context.Context) error {
	cfg := config.Get()
	ConfigureLogging(cfg)

	log.WithField("environment", cfg.Environment).Info("Starting wealthwars...")

	app, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	stopWorker := app.Worker.Start(ctx)

	log.Infof("Wealthwars is running in %s mode...", cfg.Environment)
	<-ctx.Done()

	log.Info("Shutting down...")
	stopWorker()
	return nil
}

// Build wires the services described by cfg
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{}

	metrics := observability.NewMetricsProvider(cfg)
	if err := metrics.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	app.closers = append(app.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Error shutting down metrics: %v", err)
		}
	})

	store, err := openStore(ctx, cfg, app)
	if err != nil {
		app.Close()
		return nil, err
	}

	publisher, err := connectEvents(ctx, cfg, app)
	if err != nil {
		app.Close()
		return nil, err
	}

	uowFactory := infrastructure.NewUnitOfWorkFactory(store, publisher)

	rpcClient := chain.NewClient(cfg.SolanaRPCURL)
	source, err := chain.NewBalanceSource(rpcClient, cfg.TokenMint)
	if err != nil {
		app.Close()
		return nil, err
	}
	sink, err := newTransferSink(rpcClient, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	cacheConfig := services.DefaultBalanceCacheConfig()
	cacheConfig.TTL = cfg.BalanceTTL
	cacheConfig.DegradedTTL = cfg.BalanceDegradedTTL
	cacheConfig.MaxEntries = cfg.BalanceCacheSize
	cacheConfig.Decimals = cfg.TokenDecimals
	cacheConfig.RateLimit = rate.Limit(cfg.BalanceRateLimit)

	clock := services.SystemClock{}
	authority := services.NewAuthority(cfg.AuthorityName, cfg.AuthoritySecret)

	app.Balances = services.NewBalanceCache(source, clock, cacheConfig, metrics)
	app.Links = services.NewWalletLinkService(uowFactory, clock, cfg.LinkWindow, metrics)
	app.Identities = services.NewIdentityService(uowFactory, clock)
	app.Rounds = services.NewRoundService(uowFactory, app.Balances, authority, clock, services.RoundConfig{
		AllowMultipleEntries: cfg.AllowMultipleEntries,
		RequireBalance:       cfg.RequireBalance,
		MaxTicketsPerEntry:   cfg.MaxTicketsPerEntry,
	}, metrics)
	app.Settlement = services.NewSettlementService(uowFactory, authority, clock, services.CryptoRandom{}, metrics)
	app.Claims = services.NewClaimService(uowFactory, sink, app.Balances, clock, cfg.ClaimLease, metrics)
	app.Worker = application.NewRoundWorker(uowFactory, app.Rounds, app.Settlement, app.Claims, app.Links, clock, application.RoundWorkerConfig{
		Interval:         cfg.WorkerInterval,
		OperationTimeout: cfg.OperationTimeout,
	})

	return app, nil
}

func openStore(ctx context.Context, cfg *config.Config, app *App) (interfaces.UnitOfWorkFactory, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn("Using the in-memory store; state is lost on exit")
		return memstore.New().UnitOfWorkFactory(), nil
	}

	log.Info("Connecting to database...")
	db, err := database.NewConnectionWithOptions(ctx, cfg.GetDatabaseURL(), database.PoolOptions{
		MaxConns: cfg.DBMaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	app.closers = append(app.closers, func() {
		log.Info("Closing database connection...")
		db.Close()
	})
	log.Info("Database connection established successfully")

	return repository.NewUnitOfWorkFactory(db), nil
}

func connectEvents(ctx context.Context, cfg *config.Config, app *App) (interfaces.EventPublisher, error) {
	if cfg.NATSServers == "" {
		log.Info("NATS_SERVERS not set, domain events are logged only")
		return infrastructure.NewNoopEventPublisher(), nil
	}

	client := infrastructure.NewNATSClient(cfg.NATSServers)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	app.closers = append(app.closers, func() {
		if err := client.Close(); err != nil {
			log.Warnf("Error closing NATS connection: %v", err)
		}
	})

	publisher := infrastructure.NewNATSEventPublisher(client, infrastructure.NewEventSubjectMapper())
	if err := publisher.EnsureDomainEventStream(); err != nil {
		return nil, fmt.Errorf("failed to ensure event stream: %w", err)
	}
	return publisher, nil
}

func newTransferSink(client chain.RPC, cfg *config.Config) (interfaces.TransferSink, error) {
	if cfg.TreasuryKey == "" {
		log.Warn("TREASURY_PRIVATE_KEY not set, claims will fail until it is configured")
		return unconfiguredSink{}, nil
	}
	sink, err := chain.NewTransferSink(client, cfg.TreasuryKey, chain.TransferSinkConfig{
		ConfirmTimeout: cfg.TransferTimeout,
		Lookback:       cfg.SignatureLookback,
	})
	if err != nil {
		return nil, err
	}
	log.WithField("treasury", sink.Treasury().String()).Info("Treasury transfer sink ready")
	return sink, nil
}

type unconfiguredSink struct{}

func (unconfiguredSink) Transfer(context.Context, interfaces.TransferRequest) (*interfaces.TransferReceipt, error) {
	return nil, fmt.Errorf("treasury key not configured")
}

// ConfigureLogging applies the configured logrus level and format
func ConfigureLogging(cfg *config.Config) {
	log.SetOutput(os.Stdout)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("Unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
