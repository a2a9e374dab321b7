package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"offlinesync/internal/api"
	"offlinesync/internal/config"
	"offlinesync/internal/connectivity"
	"offlinesync/internal/database"
	"offlinesync/internal/domain"
	"offlinesync/internal/events"
	"offlinesync/internal/logging"
	"offlinesync/internal/metrics"
	"offlinesync/internal/notify"
	"offlinesync/internal/remote"
	"offlinesync/internal/repository"
	"offlinesync/internal/worker"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

// stores is the storage backend picked from config.
type stores struct {
	queue   domain.QueueStore
	history domain.HistoryStore
	dead    domain.DeadLetterStore
	ready   api.ReadyFunc
	db      *database.DB
	closers []io.Closer
}

func (s *stores) Close() error {
	var result *multierror.Error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("close stores")
		}
	}()

	bus := events.NewEventBus()
	bus.OnError(func(e *events.Event, err error) {
		logger.Warn().Err(err).Str("event", e.Type).Msg("event handler failed")
	})
	notify.NewLogNotifier(componentLogger(logger, "notifier")).Attach(bus)

	var wg sync.WaitGroup
	if tg := initTelegram(cfg, logger); tg != nil {
		tg.Attach(bus)
		wg.Add(1)
		go func() {
			defer wg.Done()
			tg.Run(ctx)
		}()
	}

	registry, err := remote.BuildRegistry(ctx, cfg.Remote, cfg.Google, componentLogger(logger, "remote"))
	if err != nil {
		return fmt.Errorf("build handler registry: %w", err)
	}

	monitor := connectivity.NewMonitor(cfg.Connectivity.AssumeOnline, cfg.Sync.SettleDelay, bus, componentLogger(logger, "connectivity"))
	monitor.Subscribe(metrics.SetOnline)
	metrics.SetOnline(monitor.Online())

	processor, err := worker.NewSyncProcessor(worker.Deps{
		Queue:        st.queue,
		History:      st.history,
		DeadLetters:  st.dead,
		Registry:     registry,
		Connectivity: monitor,
		Events:       bus,
		Logger:       componentLogger(logger, "sync-processor"),
	}, processorOptions(cfg))
	if err != nil {
		return fmt.Errorf("create sync processor: %w", err)
	}
	monitor.OnRestore(processor.Trigger)

	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		runConnectivity(ctx, cfg, monitor, logger)
	}()

	if st.db != nil {
		backup := database.NewBackupService(st.db, cfg.Backup, componentLogger(logger, "backup"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			backup.Start(ctx)
		}()
	}

	metricsServer := startMetrics(cfg, logger)

	var httpServer *api.HTTPServer
	if cfg.API.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, processor, st.ready, componentLogger(logger, "http"))
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
				stop()
			}
		}()
	}

	var grpcServer *api.GRPCServer
	if cfg.API.Enabled && cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API, processor, st.ready, componentLogger(logger, "grpc"))
		if err != nil {
			stop()
			_ = shutdown(httpServer, nil, metricsServer)
			wg.Wait()
			return fmt.Errorf("create grpc server: %w", err)
		}
		monitor.Subscribe(func(bool) { grpcServer.Refresh(ctx) })
		wg.Add(1)
		go func() {
			defer wg.Done()
			grpcServer.WatchHealth(ctx, cfg.API.GRPC.HealthInterval)
		}()
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
				stop()
			}
		}()
	}

	logger.Info().
		Str("backend", cfg.Storage.Backend).
		Strs("modules", registry.Modules()).
		Bool("api", cfg.API.Enabled).
		Bool("grpc", grpcServer != nil).
		Msg("sync daemon started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	err = shutdown(httpServer, grpcServer, metricsServer)
	wg.Wait()

	logger.Info().Msg("sync daemon stopped")
	return err
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "syncd-main").Logger()

	return cfg, &logger, closer, nil
}

func componentLogger(logger *zerolog.Logger, component string) *zerolog.Logger {
	l := logger.With().Str("component", component).Logger()
	return &l
}

func openStores(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*stores, error) {
	limit := cfg.Sync.HistoryLimit

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		logger.Warn().Msg("memory backend selected, queued mutations will not survive a restart")
		queue := repository.NewMemoryQueueStore()
		return &stores{queue: queue, history: repository.NewMemoryHistoryStore(limit), dead: queue}, nil

	case config.BackendRedis:
		client := repository.NewRedisClient(cfg.Redis)
		if err := repository.Ping(ctx, client); err != nil {
			_ = client.Close()
			logger.Error().Err(err).Str("addr", cfg.Redis.Address).Msg("redis connection failed")
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")

		queue := repository.NewRedisQueueStore(client)
		history := repository.NewFailoverHistoryStore(
			repository.NewRedisHistoryStore(client, limit),
			repository.NewMemoryHistoryStore(limit),
			componentLogger(logger, "history"),
		)
		return &stores{
			queue:   queue,
			history: history,
			dead:    queue,
			ready:   redisReady(client),
			closers: []io.Closer{client},
		}, nil

	default:
		db, err := database.NewDB(cfg.Database.Path, componentLogger(logger, "database"))
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
			return nil, err
		}
		queue := db.Queue()
		return &stores{
			queue:   queue,
			history: db.History(limit),
			dead:    queue,
			ready:   db.Ping,
			db:      db,
			closers: []io.Closer{db},
		}, nil
	}
}

func redisReady(client *redis.Client) api.ReadyFunc {
	return func(ctx context.Context) error {
		return repository.Ping(ctx, client)
	}
}

func processorOptions(cfg *config.Config) worker.Options {
	return worker.Options{
		HandlerTimeout: cfg.Sync.HandlerTimeout,
		Retry:          worker.RetryPolicyFromConfig(cfg.Sync),
		AutoRetry:      cfg.Sync.Retry.Enabled,
		DrainOnEnqueue: cfg.Sync.DrainOnEnqueue,
	}
}

func runConnectivity(ctx context.Context, cfg *config.Config, monitor *connectivity.Monitor, logger *zerolog.Logger) {
	if cfg.Connectivity.ProbeURL == "" {
		logger.Warn().Bool("online", monitor.Online()).Msg("no probe url configured, connectivity is fixed")
		<-ctx.Done()
		monitor.Stop()
		return
	}
	prober := connectivity.NewProber(cfg.Connectivity.ProbeURL, cfg.Connectivity.ProbeTimeout, nil)
	monitor.Run(ctx, prober, cfg.Connectivity.ProbeInterval)
}

func initTelegram(cfg *config.Config, logger *zerolog.Logger) *notify.TelegramNotifier {
	if cfg.Telegram.BotToken == "" || len(cfg.Telegram.ChatIDs) == 0 {
		return nil
	}

	bot, err := notify.NewTelegramBot(cfg.Telegram.BotToken)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without telegram notifications")
		return nil
	}

	logger.Info().Str("bot", bot.Self.UserName).Int("chats", len(cfg.Telegram.ChatIDs)).Msg("telegram notifications enabled")
	return notify.NewTelegramNotifier(bot, cfg.Telegram.ChatIDs, componentLogger(logger, "telegram"))
}

func startMetrics(cfg *config.Config, logger *zerolog.Logger) *http.Server {
	if !cfg.Monitoring.PrometheusEnabled {
		return nil
	}

	metrics.Register()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Int("port", cfg.Monitoring.PrometheusPort).Msg("metrics server started")
	return srv
}

func shutdown(httpServer *api.HTTPServer, grpcServer *api.GRPCServer, metricsServer *http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var result *multierror.Error
	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("http server: %w", err))
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("metrics server: %w", err))
		}
	}
	return result.ErrorOrNil()
}
