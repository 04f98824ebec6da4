package domain

import (
	"context"
	"time"
)

// StatsJobCause описывает источник запроса на пересчёт статистики.
type StatsJobCause string

const (
	// StatsCauseManual — пользователь запросил пересчёт вручную.
	StatsCauseManual StatsJobCause = "manual"
	// StatsCauseScheduled — пересчёт запланирован по расписанию.
	StatsCauseScheduled StatsJobCause = "scheduled"
)

// StatsJob содержит информацию о задаче пересчёта статистики пользователя.
type StatsJob struct {
	ID          string        `json:"job_id,omitempty"`
	UserID      int64         `json:"user_id"`
	RequestedAt time.Time     `json:"requested_at"`
	Cause       StatsJobCause `json:"cause"`
}

// StatsQueue описывает очередь задач на пересчёт статистики.
type StatsQueue interface {
	Enqueue(ctx context.Context, job StatsJob) error
	Receive(ctx context.Context) (StatsJob, StatsAckFunc, error)
}

// StatsAckFunc подтверждает успешную обработку или возвращает задачу в очередь.
type StatsAckFunc func(success bool) error

// ScheduleTaskRepo отвечает за идемпотентное планирование ночного пересчёта.
type ScheduleTaskRepo interface {
	// AcquireScheduleTask помечает постановку задачи на указанный день и
	// возвращает true, если запись была создана. При конфликте — false без ошибки.
	AcquireScheduleTask(ctx context.Context, userID int64, scheduledFor time.Time) (bool, error)
}

// StatsJobStatusRepo отслеживает статус обработки задач пересчёта.
type StatsJobStatusRepo interface {
	// EnsureStatsJob регистрирует попытку обработки и возвращает признак
	// завершённости и номер текущей попытки.
	EnsureStatsJob(ctx context.Context, jobID string) (done bool, attempt int, err error)
	// MarkStatsJobDone помечает задачу как окончательно обработанную.
	MarkStatsJobDone(ctx context.Context, jobID string) error
}
