package stats

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"reading-tracker/internal/domain"
)

type stubUsers struct {
	users map[int64]domain.User
}

func (s *stubUsers) GetByID(_ context.Context, id int64) (domain.User, error) {
	user, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (s *stubUsers) ListAll(context.Context) ([]domain.User, error)      { return nil, nil }
func (s *stubUsers) Create(context.Context, string) (domain.User, error) { return domain.User{}, nil }

type stubSessions struct {
	slices []domain.SessionSlice
	total  float64
}

func (s *stubSessions) InUserTx(context.Context, int64, func(domain.SessionStore) error) error {
	return nil
}

func (s *stubSessions) CloseOpenSession(context.Context, int64, int64, time.Time) (domain.ReadingSession, error) {
	return domain.ReadingSession{}, domain.ErrOpenSessionNotFound
}

func (s *stubSessions) FindOpenForBook(context.Context, int64, int64) (domain.ReadingSession, bool, error) {
	return domain.ReadingSession{}, false, nil
}

func (s *stubSessions) ListSessions(context.Context) ([]domain.ReadingSession, error) {
	return nil, nil
}

func (s *stubSessions) SumClosedByBook(context.Context, int64) (float64, error) { return 0, nil }

func (s *stubSessions) ListClosedSlices(context.Context, int64, time.Time) ([]domain.SessionSlice, error) {
	return s.slices, nil
}

func (s *stubSessions) SumClosedByUser(context.Context, int64) (float64, error) {
	return s.total, nil
}

type stubProfiles struct {
	created int
	saved   *domain.UserProfile
}

func (s *stubProfiles) GetOrCreateProfile(_ context.Context, userID int64) (domain.UserProfile, error) {
	s.created++
	return domain.UserProfile{UserID: userID}, nil
}

func (s *stubProfiles) SaveProfile(_ context.Context, profile domain.UserProfile) error {
	s.saved = &profile
	return nil
}

func TestBucketTotals(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	slices := []domain.SessionSlice{
		{StartTime: now.Add(-2 * time.Hour), Seconds: 1800},          // корзина 1
		{StartTime: now.Add(-30 * time.Hour), Seconds: 2700},         // корзина 2
		{StartTime: now.Add(-10 * 24 * time.Hour), Seconds: 600},     // только месяц
		{StartTime: now.Add(-31 * 24 * time.Hour), Seconds: 999},     // за горизонтом
		{StartTime: now.Add(time.Hour), Seconds: 100},                // из будущего
	}

	week, month := BucketTotals(slices, now)

	if week[0] != 1800 {
		t.Fatalf("ожидали 1800 в первой корзине недели, получили %v", week[0])
	}
	if week[1] != 2700 {
		t.Fatalf("ожидали 2700 во второй корзине недели, получили %v", week[1])
	}
	if month[9] != 600 {
		t.Fatalf("ожидали 600 в десятой корзине месяца, получили %v", month[9])
	}
	var weekSum, monthSum float64
	for _, v := range week {
		weekSum += v
	}
	for _, v := range month {
		monthSum += v
	}
	if weekSum != 4500 {
		t.Fatalf("ожидали 4500 секунд за неделю, получили %v", weekSum)
	}
	if monthSum != 5100 {
		t.Fatalf("ожидали 5100 секунд за месяц, получили %v", monthSum)
	}
}

func TestBucketTotalsEmpty(t *testing.T) {
	week, month := BucketTotals(nil, time.Now().UTC())
	for i, v := range week {
		if v != 0 {
			t.Fatalf("ожидали ноль в недельной корзине %d", i+1)
		}
	}
	for i, v := range month {
		if v != 0 {
			t.Fatalf("ожидали ноль в месячной корзине %d", i+1)
		}
	}
}

func TestBucketTotalsBoundary(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	slices := []domain.SessionSlice{
		// ровно 24 часа назад — уже вторая корзина
		{StartTime: now.Add(-24 * time.Hour), Seconds: 60},
	}
	week, _ := BucketTotals(slices, now)
	if week[0] != 0 {
		t.Fatalf("ожидали пустую первую корзину, получили %v", week[0])
	}
	if week[1] != 60 {
		t.Fatalf("ожидали 60 во второй корзине, получили %v", week[1])
	}
}

func TestRefreshUserStatistics(t *testing.T) {
	now := time.Now().UTC()
	users := &stubUsers{users: map[int64]domain.User{7: {ID: 7, Username: "reader"}}}
	sessions := &stubSessions{
		slices: []domain.SessionSlice{{StartTime: now.Add(-time.Hour), Seconds: 1200}},
		total:  5400,
	}
	profiles := &stubProfiles{}
	service := NewService(users, sessions, profiles, zerolog.Nop())

	if err := service.RefreshUserStatistics(context.Background(), 7); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if profiles.saved == nil {
		t.Fatalf("ожидали сохранение профиля")
	}
	if profiles.saved.TotalReadingTime != 5400 {
		t.Fatalf("ожидали общий итог 5400, получили %v", profiles.saved.TotalReadingTime)
	}
	if profiles.saved.Last7Days[0] != 1200 {
		t.Fatalf("ожидали 1200 в первой корзине, получили %v", profiles.saved.Last7Days[0])
	}
	if profiles.saved.UpdatedAt.IsZero() {
		t.Fatalf("ожидали проставленный updated_at")
	}
}

func TestRefreshUserStatisticsUnknownUserIsNoop(t *testing.T) {
	users := &stubUsers{users: map[int64]domain.User{}}
	profiles := &stubProfiles{}
	service := NewService(users, &stubSessions{}, profiles, zerolog.Nop())

	if err := service.RefreshUserStatistics(context.Background(), 404); err != nil {
		t.Fatalf("ожидали штатный no-op, получили ошибку: %v", err)
	}
	if profiles.created != 0 || profiles.saved != nil {
		t.Fatalf("ожидали, что профиль не будет создан")
	}
}

func TestUserStatisticsUnknownUser(t *testing.T) {
	users := &stubUsers{users: map[int64]domain.User{}}
	service := NewService(users, &stubSessions{}, &stubProfiles{}, zerolog.Nop())
	_, err := service.UserStatistics(context.Background(), 404)
	if err == nil {
		t.Fatalf("ожидали ошибку для несуществующего пользователя")
	}
}
