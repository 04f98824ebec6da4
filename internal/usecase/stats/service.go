package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"reading-tracker/internal/domain"
	"reading-tracker/internal/infra/metrics"
)

const day = 24 * time.Hour

// Service пересчитывает статистику чтения пользователей.
type Service struct {
	users    domain.UserRepo
	sessions domain.SessionRepo
	profiles domain.ProfileRepo
	log      zerolog.Logger
}

// NewService создаёт агрегатор статистики.
func NewService(users domain.UserRepo, sessions domain.SessionRepo, profiles domain.ProfileRepo, logger zerolog.Logger) *Service {
	return &Service{users: users, sessions: sessions, profiles: profiles, log: logger}
}

// RefreshUserStatistics полностью пересчитывает все 37 суточных корзин профиля
// и общее время чтения. Границы суток отсчитываются от момента запуска, а не
// от календаря. Несуществующий пользователь — штатный no-op без ошибки:
// у задачи нет ожидающего вызывающего.
func (s *Service) RefreshUserStatistics(ctx context.Context, userID int64) error {
	began := time.Now()
	defer func() { metrics.StatsRefreshSeconds.Observe(time.Since(began).Seconds()) }()

	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.log.Debug().Int64("user", userID).Msg("stats: пользователь не существует, пересчёт пропущен")
			return nil
		}
		return fmt.Errorf("получение пользователя: %w", err)
	}

	now := time.Now().UTC()
	slices, err := s.sessions.ListClosedSlices(ctx, userID, now.Add(-domain.MonthlyBuckets*day))
	if err != nil {
		return fmt.Errorf("выборка закрытых сессий: %w", err)
	}
	total, err := s.sessions.SumClosedByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("суммирование времени чтения: %w", err)
	}
	profile, err := s.profiles.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("получение профиля: %w", err)
	}

	profile.Last7Days, profile.Last30Days = BucketTotals(slices, now)
	profile.TotalReadingTime = total
	profile.UpdatedAt = now
	if err := s.profiles.SaveProfile(ctx, profile); err != nil {
		return fmt.Errorf("сохранение профиля: %w", err)
	}
	return nil
}

// UserStatistics возвращает профиль пользователя, создавая его с нулями при
// отсутствии. Если сама идентичность пользователя исчезла — domain.ErrUserNotFound.
func (s *Service) UserStatistics(ctx context.Context, userID int64) (domain.UserProfile, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return domain.UserProfile{}, err
	}
	profile, err := s.profiles.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("получение профиля: %w", err)
	}
	return profile, nil
}

// BucketTotals раскладывает закрытые сессии по суточным корзинам относительно now.
// Корзина k покрывает [now-k·24h, now-(k-1)·24h); сессия попадает в корзину
// по своему start_time. Корзина 1 — последние сутки.
func BucketTotals(slices []domain.SessionSlice, now time.Time) ([domain.WeeklyBuckets]float64, [domain.MonthlyBuckets]float64) {
	var week [domain.WeeklyBuckets]float64
	var month [domain.MonthlyBuckets]float64
	for _, slice := range slices {
		age := now.Sub(slice.StartTime)
		if age < 0 {
			continue
		}
		idx := int(age / day)
		if idx >= domain.MonthlyBuckets {
			continue
		}
		month[idx] += slice.Seconds
		if idx < domain.WeeklyBuckets {
			week[idx] += slice.Seconds
		}
	}
	return week, month
}
