package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"reading-tracker/internal/adapters/repo"
	"reading-tracker/internal/domain"
	"reading-tracker/internal/infra/config"
	"reading-tracker/internal/infra/db"
	applog "reading-tracker/internal/infra/log"
	"reading-tracker/internal/infra/queue"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var statsQueue domain.StatsQueue
	switch {
	case cfg.RabbitURL != "":
		rabbit, err := queue.NewRabbitStatsQueue(cfg.RabbitURL, cfg.Queues.Stats)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: не удалось инициализировать очередь RabbitMQ")
		}
		defer rabbit.Close()
		statsQueue = rabbit
	case cfg.RedisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		statsQueue = queue.NewRedisStatsQueue(client, cfg.Queues.Stats)
	default:
		logger.Fatal().Msg("scheduler: не указан брокер очереди (RABBITMQ_URL или REDIS_ADDR)")
	}

	refreshAt, err := time.Parse("15:04", cfg.Schedule.DailyRefresh)
	if err != nil {
		logger.Fatal().Err(err).Str("value", cfg.Schedule.DailyRefresh).Msg("scheduler: неверный формат DAILY_REFRESH_TIME")
	}

	logger.Info().Str("daily_refresh", cfg.Schedule.DailyRefresh).Msg("scheduler: старт")

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler: остановка")
			return
		case <-ticker.C:
		}

		now := time.Now().UTC()
		if now.Hour() != refreshAt.Hour() || now.Minute() != refreshAt.Minute() {
			continue
		}

		users, err := repoAdapter.ListAll(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("scheduler: ошибка выборки пользователей")
			continue
		}

		day := now.Truncate(24 * time.Hour)
		for _, user := range users {
			acquired, err := repoAdapter.AcquireScheduleTask(ctx, user.ID, day)
			if err != nil {
				logger.Error().Err(err).Int64("user", user.ID).Msg("scheduler: не удалось зарезервировать постановку задачи")
				continue
			}
			if !acquired {
				continue
			}
			job := domain.StatsJob{
				ID:          uuid.NewString(),
				UserID:      user.ID,
				RequestedAt: now,
				Cause:       domain.StatsCauseScheduled,
			}
			if err := statsQueue.Enqueue(ctx, job); err != nil {
				logger.Error().Err(err).Int64("user", user.ID).Msg("scheduler: не удалось поставить задачу пересчёта")
			}
		}
		logger.Info().Int("users", len(users)).Msg("scheduler: ночной пересчёт поставлен в очередь")
	}
}
