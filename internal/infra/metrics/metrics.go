package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	SessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reading_sessions_started_total",
		Help: "Количество открытых сессий чтения",
	})
	SessionsEnded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reading_sessions_ended_total",
		Help: "Количество явно закрытых сессий чтения",
	})
	SessionsAutoClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reading_sessions_auto_closed_total",
		Help: "Количество сессий, закрытых неявно при старте новой",
	})
	StatsRefreshSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stats_refresh_seconds",
		Help:    "Время пересчёта статистики пользователя",
		Buckets: prometheus.DefBuckets,
	})
	StatsJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_jobs_total",
		Help: "Количество обработанных задач пересчёта",
	}, []string{"cause", "outcome"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		SessionsStarted,
		SessionsEnded,
		SessionsAutoClosed,
		StatsRefreshSeconds,
		StatsJobsTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveStatsJob записывает исход обработки задачи пересчёта.
func ObserveStatsJob(cause string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	StatsJobsTotal.WithLabelValues(cause, outcome).Inc()
}
