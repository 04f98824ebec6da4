package domain

import "time"

// User описывает идентичность читателя в системе.
type User struct {
	ID        int64
	Username  string
	CreatedAt time.Time
}

// Book описывает книгу каталога. Справочные данные, после создания не меняются.
type Book struct {
	ID                int64
	Title             string
	Author            string
	YearOfPublication int
	ShortDescription  string
	FullDescription   string
	Pages             *int
	Language          string
	Country           string
	CreatedAt         time.Time
}

// ReadingSession описывает сессию чтения. Открытая сессия имеет EndTime == nil.
type ReadingSession struct {
	ID        int64
	UserID    int64
	BookID    int64
	StartTime time.Time
	EndTime   *time.Time
}

// Open сообщает, идёт ли сессия прямо сейчас.
func (s ReadingSession) Open() bool {
	return s.EndTime == nil
}

// ReadingSeconds возвращает длительность закрытой сессии в секундах.
// Для открытой сессии длительность не определена.
func (s ReadingSession) ReadingSeconds() (float64, bool) {
	if s.EndTime == nil {
		return 0, false
	}
	return s.EndTime.Sub(s.StartTime).Seconds(), true
}

// Количество суточных корзин статистики.
const (
	WeeklyBuckets  = 7
	MonthlyBuckets = 30
)

// UserProfile — кэш агрегированной статистики чтения одного пользователя.
// Не авторитетен: агрегатор в любой момент может пересчитать его с нуля.
type UserProfile struct {
	UserID           int64
	TotalReadingTime float64
	Last7Days        [WeeklyBuckets]float64
	Last30Days       [MonthlyBuckets]float64
	UpdatedAt        time.Time
}

// SessionSlice — пара (начало, длительность) закрытой сессии для агрегатора.
type SessionSlice struct {
	StartTime time.Time
	Seconds   float64
}
