package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/watchlist-kata/movietracker/internal/cache"
	"github.com/watchlist-kata/movietracker/internal/catalog"
	"github.com/watchlist-kata/movietracker/internal/config"
	"github.com/watchlist-kata/movietracker/internal/events"
	"github.com/watchlist-kata/movietracker/internal/handler"
	"github.com/watchlist-kata/movietracker/internal/health"
	"github.com/watchlist-kata/movietracker/internal/metrics"
	"github.com/watchlist-kata/movietracker/internal/ratelimit"
	"github.com/watchlist-kata/movietracker/internal/repository"
	"github.com/watchlist-kata/movietracker/internal/service"
	"github.com/watchlist-kata/movietracker/pkg/utils"
	"github.com/watchlist-kata/protos/watchlist"
)

const (
	catalogCacheTTL     = 10 * time.Minute
	healthWatchInterval = 30 * time.Second
	shutdownTimeout     = 15 * time.Second
)

// RunServer запускает HTTP и gRPC серверы и блокируется до отмены ctx
func RunServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Подключение к базе данных
	db, err := utils.ConnectToDatabase(cfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	defer sqlDB.Close()

	if err := repository.AutoMigrate(db); err != nil {
		logger.Error("failed to migrate database", slog.Any("error", err))
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Создание репозитория
	repo := repository.NewGormRepository(db, logger)

	// Кэш и хранилище лимитов: Redis, если задан адрес, иначе память процесса
	var (
		store      ratelimit.Store
		cacheStore cache.Cache
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		cacheStore = cache.NewRedisCache(rdb, cfg.ServiceName+":cache:")
		store = ratelimit.NewRedisStore(rdb, cfg.ServiceName+":ratelimit:")
	} else {
		cacheStore = cache.NewMemoryCache(catalogCacheTTL)
		store = ratelimit.NewMemoryStore(cfg.RateLimitWindow)
	}

	// Клиент каталога фильмов
	tmdb := catalog.NewClient(catalog.Config{
		BaseURL: cfg.TMDBBaseURL,
		APIKey:  cfg.TMDBAPIKey,
		Timeout: cfg.TMDBTimeout,
	}, nil, logger)

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	m, err := metrics.New(strings.ReplaceAll(cfg.ServiceName, "-", "_"))
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	aggregator := health.NewAggregator(logger, []health.Checker{
		health.NewDatabaseCheck(db),
		health.NewCacheCheck(cacheStore),
		health.NewExternalAPICheck("tmdb", tmdb),
		health.NewMemoryCheck(),
		health.NewDiskCheck(cfg.DiskPath),
	},
		health.WithVersion(cfg.Version),
		health.WithObserver(func(r health.Result) { m.SetHealth(r.Name, r.Status.Gauge()) }),
	)

	h := handler.New(handler.Deps{
		Watchlist: repo,
		History:   repo,
		Movies:    repo,
		Catalog:   catalog.NewCached(tmdb, cacheStore, catalogCacheTTL, logger),
		Limiter:   ratelimit.NewLimiter(store, cfg.RateLimitRequests, cfg.RateLimitWindow),
		Publisher: publisher,
		Health:    aggregator,
		Auth:      handler.NewSessionAuthenticator([]byte(cfg.SessionSecret), cfg.SessionName, cfg.SessionSecure),
		Metrics:   m,
		Logger:    logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPPort,
		Handler:           h.NewEcho(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Создание gRPC сервиса
	svc := service.NewWatchlistService(repo, logger)
	grpcServer := grpc.NewServer()
	watchlist.RegisterWatchlistServiceServer(grpcServer, svc)
	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		logger.Error("failed to listen", slog.Any("error", err))
		return fmt.Errorf("failed to listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server", slog.String("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to serve HTTP", slog.Any("error", err))
			return fmt.Errorf("failed to serve HTTP: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("starting gRPC server", slog.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("failed to serve", slog.Any("error", err))
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})

	// Статус grpc.health.v1 следует за агрегированным состоянием
	g.Go(func() error {
		aggregator.Watch(gctx, healthWatchInterval, func(r health.Report) {
			status := healthpb.HealthCheckResponse_SERVING
			if r.Status == health.StatusDown {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			healthServer.SetServingStatus("", status)
			healthServer.SetServingStatus(watchlist.WatchlistService_ServiceDesc.ServiceName, status)
		})
		return nil
	})

	// Корректное завершение по отмене контекста
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		if err != nil {
			return fmt.Errorf("failed to shut down HTTP server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// newPublisher выбирает Kafka для событий аналитики, если заданы брокеры
func newPublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Warn("KAFKA_BROKERS is empty, analytics events are only logged")
		return events.NewLogPublisher(logger), nil
	}
	p, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.AnalyticsTopic, logger)
	if err != nil {
		logger.Error("failed to create analytics producer", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create analytics producer: %w", err)
	}
	return p, nil
}
