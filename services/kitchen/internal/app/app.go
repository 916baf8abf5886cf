package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	aptevents "github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/apt/middleware"
	"github.com/appetiteclub/kds/pkg"
	"github.com/appetiteclub/kds/pkg/event"
	"github.com/appetiteclub/kds/pkg/routing"
	"github.com/appetiteclub/kds/services/kitchen/internal/events"
	"github.com/appetiteclub/kds/services/kitchen/internal/hub"
	"github.com/appetiteclub/kds/services/kitchen/internal/kitchen"
	"github.com/appetiteclub/kds/services/kitchen/internal/metrics"
	"github.com/appetiteclub/kds/services/kitchen/internal/mongo"
	"github.com/appetiteclub/kds/services/kitchen/internal/transcription"
)

const (
	AppName    = "kitchen"
	AppVersion = "0.1.0"

	defaultNATSURL     = "nats://localhost:4222"
	defaultEventLogTTL = 24 * time.Hour
	// Budget in provider cost units per window.
	defaultBudgetCeiling = 10000
	streamName           = "KDS_EVENTS"
	streamConsumer       = "kitchen-metrics"
)

// App assembles the kitchen display service.
type App struct {
	config *apt.Config
	logger apt.Logger
	cfg    settings
	micro  *apt.Micro

	baseRepo   *mongo.BaseRepo
	lifecycles []interface{}
}

func New(config *apt.Config, logger apt.Logger) (*App, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &App{
		config: config,
		logger: logger,
		cfg:    settings{config: config, logger: logger},
	}, nil
}

// Initialize connects the backing services and builds the micro service.
// seedCtx bounds the background demo seeding.
func (a *App) Initialize(ctx, seedCtx context.Context) error {
	router, err := a.loadRouter()
	if err != nil {
		return err
	}

	a.baseRepo = mongo.NewBaseRepo(a.config, a.logger)
	if err := a.baseRepo.Start(ctx); err != nil {
		return fmt.Errorf("cannot start base repository: %w", err)
	}
	a.onStop(a.baseRepo.Stop)

	db := a.baseRepo.GetDatabase()
	if db == nil {
		return errors.New("repository database is nil")
	}

	store := mongo.NewStore(db)
	eventLog := mongo.NewEventLog(db, a.cfg.duration("hub.log.ttl", defaultEventLogTTL))
	timings := mongo.NewTimingRepo(db)
	for _, ix := range []interface {
		EnsureIndexes(context.Context) error
	}{store, eventLog, timings} {
		if err := ix.EnsureIndexes(ctx); err != nil {
			return err
		}
	}

	publisher, stream, subscriber, err := a.connectNATS(ctx)
	if err != nil {
		return err
	}

	board := kitchen.NewBoard(store, a.logger)
	displays := hub.New(hub.Deps{
		Store:      eventLog,
		Snapshots:  board,
		Authorizer: hub.NewRoleAuthorizer(router),
		Stations:   router.StationIDs,
	}, hub.Config{
		RetentionEvents:  a.cfg.integer("hub.retention.events", hub.DefaultRetentionEvents),
		RetentionAge:     a.cfg.duration("hub.retention.age", hub.DefaultRetentionAge),
		QueueDepth:       a.cfg.integer("hub.queue.depth", hub.DefaultQueueDepth),
		HeartbeatTimeout: a.cfg.duration("hub.heartbeat.timeout", hub.DefaultHeartbeatTimeout),
	}, a.logger)

	engine := kitchen.NewEngine(kitchen.EngineDeps{
		Store:     store,
		Board:     board,
		Journal:   displays,
		Publisher: publisher,
	}, kitchen.EngineConfig{
		RecallLimit:  a.cfg.integer("kitchen.recall.limit", kitchen.DefaultRecallLimit),
		RecallPolicy: kitchen.RecallPolicy(a.cfg.str("kitchen.recall.policy", string(kitchen.RecallPolicyFlag))),
	}, a.logger)
	ingestor := kitchen.NewIngestor(store, router, engine, a.logger)

	metricsDeps := metrics.Deps{
		Source:   displays,
		Sink:     timings,
		EventLog: eventLog,
		Stations: router.StationIDs,
	}
	if stream != nil {
		metricsDeps.Stream = stream
	}
	aggregator := metrics.NewAggregator(metricsDeps, metrics.Config{
		Window: a.cfg.duration("metrics.window", metrics.DefaultWindow),
	}, a.logger)

	guard, err := a.buildGuard(ctx)
	if err != nil {
		return err
	}
	bridge := transcription.NewBridge(guard, ingestor, a.logger)

	orderSub := events.NewOrderSubscriber(subscriber, ingestor, engine, bridge, events.Config{
		VoiceWorkers: a.cfg.integer("orders.voice.workers", events.DefaultVoiceWorkers),
	}, a.logger)

	kitchenHandler := kitchen.NewHandler(kitchen.HandlerDeps{
		Ingestor: ingestor,
		Engine:   engine,
		Router:   router,
	}, a.config, a.logger)
	sseHandler := hub.NewSSEHandler(displays, a.logger)
	metricsHandler := metrics.NewHandler(aggregator, a.logger)
	voiceHandler := transcription.NewHandler(bridge, guard, a.logger)
	grpcServer := hub.NewGRPCServer(displays, a.logger)

	// The board and the station logs are rebuilt before the hub accepts
	// subscribers and before any new order is routed.
	a.lifecycles = append(a.lifecycles, apt.LifecycleHooks{
		OnStart: func(ctx context.Context) error {
			if err := board.Warm(ctx); err != nil {
				return fmt.Errorf("cannot warm ticket board: %w", err)
			}
			if err := displays.Warm(ctx, router.StationIDs()); err != nil {
				return fmt.Errorf("cannot warm station logs: %w", err)
			}
			a.logger.Info("kitchen state restored", "tickets", board.Count())
			return nil
		},
	}, displays, aggregator, orderSub)

	if a.cfg.enabled("seeding.demo") {
		a.logger.Info("Demo seeding enabled for kitchen service")
		a.lifecycles = append(a.lifecycles, apt.LifecycleHooks{
			OnStart: kitchen.DemoSeedingFunc(seedCtx, ingestor, a.baseRepo.GetDatabase, a.logger),
		})
	}

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      a.logger,
		DisableCORS: true,
	})
	stack = append(stack, middleware.InternalOnly())

	a.micro = apt.NewMicro(
		apt.WithConfig(a.config),
		apt.WithLogger(a.logger),
		apt.WithHTTPMiddleware(stack...),
		apt.WithHTTPServerModules("web.port", kitchenHandler, sseHandler, metricsHandler, voiceHandler),
		apt.WithGRPCServerModules("grpc.port", grpcServer),
		apt.WithLifecycle(a.lifecycles...),
		apt.WithHealthChecks(AppName),
	)
	return nil
}

func (a *App) loadRouter() (*routing.Router, error) {
	path, ok := a.config.GetString("routing.file")
	if !ok || path == "" {
		a.logger.Info("no routing file configured, using the default table")
		return routing.NewRouter(routing.DefaultTable()), nil
	}
	table, err := routing.LoadFile(path)
	if err != nil {
		return nil, err
	}
	a.logger.Info("routing table loaded", "file", path, "stations", len(table.StationIDs()))
	return routing.NewRouter(table), nil
}

// connectNATS returns the ticket event publisher, the replayable stream when
// JetStream is enabled, and the subscriber for inbound orders.
func (a *App) connectNATS(ctx context.Context) (aptevents.Publisher, *pkg.NATSStream, *pkg.NATSSubscriber, error) {
	natsURL := a.cfg.str("nats.url", defaultNATSURL)

	var (
		publisher aptevents.Publisher
		stream    *pkg.NATSStream
	)
	if a.cfg.enabled("nats.stream.enabled") {
		s, err := pkg.NewNATSStream(ctx, pkg.NATSStreamConfig{
			URL:          natsURL,
			StreamName:   streamName,
			Topic:        event.KitchenTicketsTopic,
			ConsumerName: streamConsumer,
			MaxAge:       24 * time.Hour,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("cannot create NATS stream: %w", err)
		}
		a.logger.Info("NATS stream initialized for persistent events")
		stream = s
		publisher = s
		a.onStop(func(context.Context) error { return s.Close() })
	} else {
		p, err := pkg.NewNATSPublisher(natsURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("cannot connect to NATS publisher: %w", err)
		}
		publisher = p
		a.onStop(func(context.Context) error { return p.Close() })
	}

	subscriber, err := pkg.NewNATSSubscriber(natsURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("cannot connect to NATS subscriber: %w", err)
	}
	subscriber.OnError = func(topic string, err error) {
		a.logger.Error("order message failed", "topic", topic, "error", err)
	}
	a.onStop(func(context.Context) error { return subscriber.Close() })

	return publisher, stream, subscriber, nil
}

// buildGuard wires the transcription guard. Without a provider URL every
// voice order that misses the cache asks for manual entry.
func (a *App) buildGuard(ctx context.Context) (*transcription.Guard, error) {
	var cache transcription.Cache = transcription.NewMemoryCache()
	if url, ok := a.cfg.lookup("transcription.cache.redis.url"); ok {
		client, err := transcription.NewRedisClient(ctx, url)
		if err != nil {
			return nil, err
		}
		cache = transcription.NewRedisCache(client)
		a.onStop(func(context.Context) error { return client.Close() })
		a.logger.Info("transcription cache backed by redis")
	}

	ledger := transcription.NewLedger(
		a.cfg.integer64("transcription.budget.ceiling", defaultBudgetCeiling),
		a.cfg.duration("transcription.budget.window", transcription.DefaultBudgetWindow),
	)

	deps := transcription.GuardDeps{
		Cache:         cache,
		Ledger:        ledger,
		Fingerprinter: transcription.NewFingerprinter(a.cfg.str("transcription.fingerprint.secret", AppName)),
	}

	if url, ok := a.cfg.lookup("transcription.provider.url"); ok {
		provider := transcription.NewHTTPProvider(url,
			a.cfg.str("transcription.provider.key", ""),
			a.cfg.duration("transcription.provider.timeout", 0),
		)
		batcher := transcription.NewBatcher(provider,
			a.cfg.integer("transcription.batch.size", transcription.DefaultBatchSize),
			a.cfg.duration("transcription.batch.wait", transcription.DefaultBatchWait),
			a.logger,
		)
		a.onStop(func(context.Context) error {
			batcher.Close()
			return nil
		})
		deps.Provider = provider
		deps.Batcher = batcher
	} else {
		a.logger.Info("no transcription provider configured, voice orders need manual entry")
	}

	return transcription.NewGuard(deps, transcription.GuardConfig{
		CacheTTL:  a.cfg.duration("transcription.cache.ttl", transcription.DefaultCacheTTL),
		Estimate:  a.cfg.integer64("transcription.cost.estimate", transcription.DefaultEstimate),
		NearRatio: a.cfg.float("transcription.batch.near_ratio", transcription.DefaultNearRatio),
	}, a.logger), nil
}

func (a *App) onStop(stop func(context.Context) error) {
	a.lifecycles = append(a.lifecycles, apt.LifecycleHooks{OnStop: stop})
}

// Run blocks until ctx is cancelled or the micro service fails.
func (a *App) Run(ctx context.Context) error {
	if a.micro == nil {
		return errors.New("app is not initialized")
	}
	a.logger.Infof("Starting %s(%s)", AppName, AppVersion)
	if err := a.micro.Run(ctx); err != nil {
		return err
	}
	a.logger.Infof("%s(%s) stopped", AppName, AppVersion)
	return nil
}

// Shutdown releases the database when Initialize failed half way. A running
// service is stopped through its lifecycles instead.
func (a *App) Shutdown(ctx context.Context) error {
	if a.baseRepo == nil {
		return nil
	}
	return a.baseRepo.Stop(ctx)
}
