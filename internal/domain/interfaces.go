package domain

import (
	"context"
	"time"
)

// UserRepo управляет пользователями.
type UserRepo interface {
	GetByID(ctx context.Context, id int64) (User, error)
	ListAll(ctx context.Context) ([]User, error)
	Create(ctx context.Context, username string) (User, error)
}

// BookRepo управляет каталогом книг.
type BookRepo interface {
	CreateBook(ctx context.Context, book Book) (Book, error)
	GetBook(ctx context.Context, id int64) (Book, error)
	ListBooks(ctx context.Context) ([]Book, error)
}

// SessionStore — операции над сессиями внутри пользовательской транзакции.
type SessionStore interface {
	// FindOpen возвращает открытую сессию пользователя, если она есть.
	FindOpen(userID int64) (ReadingSession, bool, error)
	// Close выставляет end_time у сессии.
	Close(sessionID int64, endTime time.Time) error
	// Create открывает новую сессию.
	Create(userID, bookID int64, startTime time.Time) (ReadingSession, error)
}

// SessionRepo управляет сессиями чтения.
type SessionRepo interface {
	// InUserTx выполняет fn в транзакции, сериализованной по пользователю.
	// Две конкурентные InUserTx одного пользователя не пересекаются.
	InUserTx(ctx context.Context, userID int64, fn func(SessionStore) error) error
	// CloseOpenSession закрывает открытую сессию (user, book).
	// Возвращает ErrOpenSessionNotFound, если закрывать нечего.
	CloseOpenSession(ctx context.Context, userID, bookID int64, endTime time.Time) (ReadingSession, error)
	// FindOpenForBook возвращает открытую сессию пользователя по книге.
	FindOpenForBook(ctx context.Context, userID, bookID int64) (ReadingSession, bool, error)
	// ListSessions возвращает все сессии.
	ListSessions(ctx context.Context) ([]ReadingSession, error)
	// SumClosedByBook суммирует секунды закрытых сессий книги по всем пользователям.
	SumClosedByBook(ctx context.Context, bookID int64) (float64, error)
	// ListClosedSlices возвращает (start_time, секунды) закрытых сессий
	// пользователя с start_time >= since.
	ListClosedSlices(ctx context.Context, userID int64, since time.Time) ([]SessionSlice, error)
	// SumClosedByUser суммирует секунды всех закрытых сессий пользователя.
	SumClosedByUser(ctx context.Context, userID int64) (float64, error)
}

// ProfileRepo управляет профилями статистики.
type ProfileRepo interface {
	// GetOrCreateProfile возвращает профиль, создавая его с нулями при отсутствии.
	GetOrCreateProfile(ctx context.Context, userID int64) (UserProfile, error)
	// SaveProfile записывает пересчитанный профиль целиком.
	SaveProfile(ctx context.Context, profile UserProfile) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
	Del(key string) error
}
