package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"reading-tracker/internal/adapters/repo"
	"reading-tracker/internal/domain"
	"reading-tracker/internal/infra/config"
	"reading-tracker/internal/infra/db"
	applog "reading-tracker/internal/infra/log"
	"reading-tracker/internal/infra/metrics"
	"reading-tracker/internal/infra/queue"
	statsusecase "reading-tracker/internal/usecase/stats"
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
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var statsQueue domain.StatsQueue
	switch {
	case cfg.RabbitURL != "":
		rabbit, err := queue.NewRabbitStatsQueue(cfg.RabbitURL, cfg.Queues.Stats)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось инициализировать очередь RabbitMQ")
		}
		defer rabbit.Close()
		statsQueue = rabbit
	case cfg.RedisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		statsQueue = queue.NewRedisStatsQueue(client, cfg.Queues.Stats)
	default:
		logger.Fatal().Msg("worker: не указан брокер очереди (RABBITMQ_URL или REDIS_ADDR)")
	}

	statsService := statsusecase.NewService(repoAdapter, repoAdapter, repoAdapter, logger.With().Str("component", "stats").Logger())

	worker := &jobWorker{
		log:      logger,
		queue:    statsQueue,
		statuses: repoAdapter,
		service:  statsService,
	}

	logger.Info().Msg("worker: запуск обработки очереди")
	worker.Run(ctx)
	logger.Info().Msg("worker: остановлен")
}

type jobWorker struct {
	log      zerolog.Logger
	queue    domain.StatsQueue
	statuses domain.StatsJobStatusRepo
	service  *statsusecase.Service
}

const maxDeliveryAttempts = 5

func (w *jobWorker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Int64("user", job.UserID).
			Str("cause", string(job.Cause)).
			Logger()

		if job.ID == "" {
			jobLog.Error().Msg("worker: получена задача без идентификатора, подтверждаем и пропускаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу без идентификатора")
			}
			continue
		}

		done, attempt, err := w.statuses.EnsureStatsJob(ctx, job.ID)
		if err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось зарегистрировать задачу")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу в очередь")
			}
			time.Sleep(time.Second)
			continue
		}

		jobLog = jobLog.With().Int("attempt", attempt).Logger()

		if done {
			jobLog.Info().Msg("worker: задача уже была обработана, подтверждаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось подтвердить ранее обработанную задачу")
			}
			continue
		}

		err = w.service.RefreshUserStatistics(ctx, job.UserID)
		metrics.ObserveStatsJob(string(job.Cause), err)
		if err != nil && attempt < maxDeliveryAttempts {
			jobLog.Warn().Err(err).Msg("worker: пересчёт завершился ошибкой, повторим позже")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу после ошибки")
			}
			continue
		}
		if err != nil {
			jobLog.Error().Err(err).Msg("worker: достигнут предел попыток, помечаем задачу как завершённую")
		}

		if err := w.statuses.MarkStatsJobDone(ctx, job.ID); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось пометить задачу обработанной")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу после ошибки статуса")
			}
			time.Sleep(time.Second)
			continue
		}

		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
		}
	}
}
