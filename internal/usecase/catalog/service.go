package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reading-tracker/internal/domain"
)

// ErrInvalidBook возвращается при отсутствии обязательных полей книги.
var ErrInvalidBook = errors.New("не заполнены обязательные поля книги")

const bookListCacheKey = "catalog:books"

// CreateBookParams описывает вход создания книги.
type CreateBookParams struct {
	Title             string
	Author            string
	YearOfPublication int
	ShortDescription  string
	FullDescription   string
	Pages             *int
	Language          string
	Country           string
}

// Service управляет каталогом книг.
type Service struct {
	books   domain.BookRepo
	cache   domain.Cache
	listTTL time.Duration
}

// NewService создаёт сервис каталога. cache может быть nil.
func NewService(books domain.BookRepo, cache domain.Cache, listTTL time.Duration) *Service {
	return &Service{books: books, cache: cache, listTTL: listTTL}
}

// ListBooks возвращает каталог, при наличии кэша — из него.
func (s *Service) ListBooks(ctx context.Context) ([]domain.Book, error) {
	if s.cache != nil && s.listTTL > 0 {
		if raw, err := s.cache.Get(bookListCacheKey); err == nil && len(raw) > 0 {
			var books []domain.Book
			if err := json.Unmarshal(raw, &books); err == nil {
				return books, nil
			}
		}
	}
	books, err := s.books.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("список книг: %w", err)
	}
	if s.cache != nil && s.listTTL > 0 {
		if raw, err := json.Marshal(books); err == nil {
			_ = s.cache.Set(bookListCacheKey, raw, s.listTTL)
		}
	}
	return books, nil
}

// GetBook возвращает книгу по идентификатору.
func (s *Service) GetBook(ctx context.Context, id int64) (domain.Book, error) {
	return s.books.GetBook(ctx, id)
}

// CreateBook валидирует и сохраняет книгу.
func (s *Service) CreateBook(ctx context.Context, params CreateBookParams) (domain.Book, error) {
	switch {
	case params.Title == "":
		return domain.Book{}, fmt.Errorf("%w: title", ErrInvalidBook)
	case params.Author == "":
		return domain.Book{}, fmt.Errorf("%w: author", ErrInvalidBook)
	case params.YearOfPublication == 0:
		return domain.Book{}, fmt.Errorf("%w: year_of_publication", ErrInvalidBook)
	}
	country := params.Country
	if country == "" {
		country = "Unknown"
	}
	book, err := s.books.CreateBook(ctx, domain.Book{
		Title:             params.Title,
		Author:            params.Author,
		YearOfPublication: params.YearOfPublication,
		ShortDescription:  params.ShortDescription,
		FullDescription:   params.FullDescription,
		Pages:             params.Pages,
		Language:          params.Language,
		Country:           country,
	})
	if err != nil {
		return domain.Book{}, fmt.Errorf("сохранение книги: %w", err)
	}
	if s.cache != nil {
		_ = s.cache.Del(bookListCacheKey)
	}
	return book, nil
}
