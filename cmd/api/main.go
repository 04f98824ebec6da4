package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"reading-tracker/internal/adapters/httpapi"
	"reading-tracker/internal/adapters/repo"
	"reading-tracker/internal/domain"
	cacheinfra "reading-tracker/internal/infra/cache"
	"reading-tracker/internal/infra/config"
	"reading-tracker/internal/infra/db"
	httpinfra "reading-tracker/internal/infra/http"
	applog "reading-tracker/internal/infra/log"
	"reading-tracker/internal/infra/metrics"
	"reading-tracker/internal/infra/queue"
	catalogusecase "reading-tracker/internal/usecase/catalog"
	statsusecase "reading-tracker/internal/usecase/stats"
	trackerusecase "reading-tracker/internal/usecase/tracker"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var bookCache domain.Cache
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		bookCache = cacheinfra.NewRedis(redisClient)
	}

	var statsQueue domain.StatsQueue
	switch {
	case cfg.RabbitURL != "":
		rabbit, err := queue.NewRabbitStatsQueue(cfg.RabbitURL, cfg.Queues.Stats)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: не удалось инициализировать очередь RabbitMQ")
		}
		defer rabbit.Close()
		statsQueue = rabbit
	case redisClient != nil:
		statsQueue = queue.NewRedisStatsQueue(redisClient, cfg.Queues.Stats)
	default:
		logger.Fatal().Msg("api: не указан брокер очереди (RABBITMQ_URL или REDIS_ADDR)")
	}

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal().Msg("api: не указан секрет подписи токенов (AUTH_JWT_SECRET)")
	}

	catalogService := catalogusecase.NewService(repoAdapter, bookCache, time.Duration(cfg.Cache.BookListTTL)*time.Second)
	trackerService := trackerusecase.NewService(repoAdapter, repoAdapter)
	statsService := statsusecase.NewService(repoAdapter, repoAdapter, repoAdapter, logger.With().Str("component", "stats").Logger())

	handler := httpapi.NewHandler(logger.With().Str("component", "api").Logger(), catalogService, trackerService, statsService, statsQueue)

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	server.Router.Group(func(protected chi.Router) {
		protected.Use(httpinfra.AuthMiddleware(cfg.Auth.JWTSecret))
		handler.Register(protected)
	})

	go func() {
		logger.Info().Msg("api: старт")
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
