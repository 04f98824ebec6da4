package tracker

import (
	"context"
	"fmt"
	"time"

	"reading-tracker/internal/domain"
	"reading-tracker/internal/infra/metrics"
)

// Service реализует жизненный цикл сессий чтения.
// Инвариант: у пользователя не больше одной открытой сессии.
type Service struct {
	books    domain.BookRepo
	sessions domain.SessionRepo
}

// NewService создаёт трекер сессий.
func NewService(books domain.BookRepo, sessions domain.SessionRepo) *Service {
	return &Service{books: books, sessions: sessions}
}

// StartSession открывает сессию чтения книги. Открытая сессия по другой книге
// молча закрывается тем же моментом. Повторный старт по той же книге — no-op,
// возвращается уже открытая сессия.
func (s *Service) StartSession(ctx context.Context, userID, bookID int64) (domain.ReadingSession, error) {
	if _, err := s.books.GetBook(ctx, bookID); err != nil {
		return domain.ReadingSession{}, err
	}

	var result domain.ReadingSession
	err := s.sessions.InUserTx(ctx, userID, func(store domain.SessionStore) error {
		open, ok, err := store.FindOpen(userID)
		if err != nil {
			return fmt.Errorf("поиск открытой сессии: %w", err)
		}
		if ok && open.BookID == bookID {
			result = open
			return nil
		}
		now := time.Now().UTC()
		if ok {
			if err := store.Close(open.ID, now); err != nil {
				return fmt.Errorf("автозакрытие сессии: %w", err)
			}
			metrics.SessionsAutoClosed.Inc()
		}
		result, err = store.Create(userID, bookID, now)
		if err != nil {
			return fmt.Errorf("создание сессии: %w", err)
		}
		metrics.SessionsStarted.Inc()
		return nil
	})
	if err != nil {
		return domain.ReadingSession{}, err
	}
	return result, nil
}

// EndSession закрывает открытую сессию пользователя по книге.
func (s *Service) EndSession(ctx context.Context, userID, bookID int64) (domain.ReadingSession, error) {
	sess, err := s.sessions.CloseOpenSession(ctx, userID, bookID, time.Now().UTC())
	if err != nil {
		return domain.ReadingSession{}, err
	}
	metrics.SessionsEnded.Inc()
	return sess, nil
}

// ActiveOrBook возвращает открытую сессию пользователя по книге, если она есть,
// иначе — статичную карточку книги. Выбор происходит в момент чтения,
// состояние нигде не хранится.
func (s *Service) ActiveOrBook(ctx context.Context, userID, bookID int64) (domain.Book, *domain.ReadingSession, error) {
	book, err := s.books.GetBook(ctx, bookID)
	if err != nil {
		return domain.Book{}, nil, err
	}
	sess, ok, err := s.sessions.FindOpenForBook(ctx, userID, bookID)
	if err != nil {
		return domain.Book{}, nil, fmt.Errorf("поиск открытой сессии: %w", err)
	}
	if !ok {
		return book, nil, nil
	}
	return book, &sess, nil
}

// BookReadingTime возвращает книгу и суммарное время её чтения в секундах.
// Считаются только закрытые сессии, пересчёт при каждом вызове.
func (s *Service) BookReadingTime(ctx context.Context, bookID int64) (domain.Book, float64, error) {
	book, err := s.books.GetBook(ctx, bookID)
	if err != nil {
		return domain.Book{}, 0, err
	}
	total, err := s.sessions.SumClosedByBook(ctx, bookID)
	if err != nil {
		return domain.Book{}, 0, fmt.Errorf("суммирование времени чтения: %w", err)
	}
	return book, total, nil
}

// Sessions возвращает все сессии чтения.
func (s *Service) Sessions(ctx context.Context) ([]domain.ReadingSession, error) {
	return s.sessions.ListSessions(ctx)
}
