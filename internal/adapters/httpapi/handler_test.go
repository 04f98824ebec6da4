package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"reading-tracker/internal/domain"
	httpinfra "reading-tracker/internal/infra/http"
	"reading-tracker/internal/usecase/catalog"
	"reading-tracker/internal/usecase/stats"
	"reading-tracker/internal/usecase/tracker"
)

const testSecret = "test-secret"

type stubRepo struct {
	users    map[int64]domain.User
	books    map[int64]domain.Book
	nextID   int64
	sessions []domain.ReadingSession
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		users: map[int64]domain.User{1: {ID: 1, Username: "reader"}},
		books: map[int64]domain.Book{},
	}
}

func (s *stubRepo) GetByID(_ context.Context, id int64) (domain.User, error) {
	user, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (s *stubRepo) ListAll(context.Context) ([]domain.User, error)      { return nil, nil }
func (s *stubRepo) Create(context.Context, string) (domain.User, error) { return domain.User{}, nil }

func (s *stubRepo) CreateBook(_ context.Context, book domain.Book) (domain.Book, error) {
	s.nextID++
	book.ID = s.nextID
	s.books[book.ID] = book
	return book, nil
}

func (s *stubRepo) GetBook(_ context.Context, id int64) (domain.Book, error) {
	book, ok := s.books[id]
	if !ok {
		return domain.Book{}, domain.ErrBookNotFound
	}
	return book, nil
}

func (s *stubRepo) ListBooks(context.Context) ([]domain.Book, error) {
	books := make([]domain.Book, 0, len(s.books))
	for _, b := range s.books {
		books = append(books, b)
	}
	return books, nil
}

func (s *stubRepo) InUserTx(_ context.Context, _ int64, fn func(domain.SessionStore) error) error {
	return fn(&stubStore{repo: s})
}

type stubStore struct {
	repo *stubRepo
}

func (s *stubStore) FindOpen(userID int64) (domain.ReadingSession, bool, error) {
	for _, sess := range s.repo.sessions {
		if sess.UserID == userID && sess.Open() {
			return sess, true, nil
		}
	}
	return domain.ReadingSession{}, false, nil
}

func (s *stubStore) Close(sessionID int64, endTime time.Time) error {
	for i, sess := range s.repo.sessions {
		if sess.ID == sessionID {
			end := endTime
			s.repo.sessions[i].EndTime = &end
		}
	}
	return nil
}

func (s *stubStore) Create(userID, bookID int64, startTime time.Time) (domain.ReadingSession, error) {
	s.repo.nextID++
	sess := domain.ReadingSession{ID: s.repo.nextID, UserID: userID, BookID: bookID, StartTime: startTime}
	s.repo.sessions = append(s.repo.sessions, sess)
	return sess, nil
}

func (s *stubRepo) CloseOpenSession(_ context.Context, userID, bookID int64, endTime time.Time) (domain.ReadingSession, error) {
	for i, sess := range s.sessions {
		if sess.UserID == userID && sess.BookID == bookID && sess.Open() {
			end := endTime
			s.sessions[i].EndTime = &end
			return s.sessions[i], nil
		}
	}
	return domain.ReadingSession{}, domain.ErrOpenSessionNotFound
}

func (s *stubRepo) FindOpenForBook(_ context.Context, userID, bookID int64) (domain.ReadingSession, bool, error) {
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.BookID == bookID && sess.Open() {
			return sess, true, nil
		}
	}
	return domain.ReadingSession{}, false, nil
}

func (s *stubRepo) ListSessions(context.Context) ([]domain.ReadingSession, error) {
	return s.sessions, nil
}

func (s *stubRepo) SumClosedByBook(context.Context, int64) (float64, error) { return 0, nil }

func (s *stubRepo) ListClosedSlices(context.Context, int64, time.Time) ([]domain.SessionSlice, error) {
	return nil, nil
}

func (s *stubRepo) SumClosedByUser(context.Context, int64) (float64, error) { return 0, nil }

func (s *stubRepo) GetOrCreateProfile(_ context.Context, userID int64) (domain.UserProfile, error) {
	return domain.UserProfile{UserID: userID}, nil
}

func (s *stubRepo) SaveProfile(context.Context, domain.UserProfile) error { return nil }

type stubQueue struct {
	jobs []domain.StatsJob
}

func (q *stubQueue) Enqueue(_ context.Context, job domain.StatsJob) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *stubQueue) Receive(ctx context.Context) (domain.StatsJob, domain.StatsAckFunc, error) {
	<-ctx.Done()
	return domain.StatsJob{}, nil, ctx.Err()
}

func newTestServer(repo *stubRepo, queue *stubQueue) *httptest.Server {
	catalogService := catalog.NewService(repo, nil, 0)
	trackerService := tracker.NewService(repo, repo)
	statsService := stats.NewService(repo, repo, repo, zerolog.Nop())
	handler := NewHandler(zerolog.Nop(), catalogService, trackerService, statsService, queue)

	r := chi.NewRouter()
	r.Group(func(protected chi.Router) {
		protected.Use(httpinfra.AuthMiddleware(testSecret))
		handler.Register(protected)
	})
	return httptest.NewServer(r)
}

func authRequest(t *testing.T, method, url string, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("не удалось создать запрос: %v", err)
	}
	token, err := httpinfra.IssueToken(testSecret, 1, time.Hour)
	if err != nil {
		t.Fatalf("не удалось выпустить токен: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func doRequest(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("запрос завершился ошибкой: %v", err)
	}
	return resp
}

func TestRequestsWithoutTokenRejected(t *testing.T) {
	srv := newTestServer(newStubRepo(), &stubQueue{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/books/")
	if err != nil {
		t.Fatalf("запрос завершился ошибкой: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("ожидали 401, получили %d", resp.StatusCode)
	}
}

func TestCreateBook(t *testing.T) {
	srv := newTestServer(newStubRepo(), &stubQueue{})
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{
		"title":               "Мастер и Маргарита",
		"author":              "Булгаков",
		"year_of_publication": 1967,
	})
	resp := doRequest(t, authRequest(t, http.MethodPost, srv.URL+"/books/", body))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ожидали 201, получили %d", resp.StatusCode)
	}
	var created bookResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("не удалось разобрать ответ: %v", err)
	}
	if created.Country != "Unknown" {
		t.Fatalf("ожидали страну Unknown, получили %q", created.Country)
	}
}

func TestCreateBookValidation(t *testing.T) {
	srv := newTestServer(newStubRepo(), &stubQueue{})
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{"author": "Булгаков"})
	resp := doRequest(t, authRequest(t, http.MethodPost, srv.URL+"/books/", body))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("ожидали 400, получили %d", resp.StatusCode)
	}
}

func TestStartSessionUnknownBook(t *testing.T) {
	srv := newTestServer(newStubRepo(), &stubQueue{})
	defer srv.Close()

	resp := doRequest(t, authRequest(t, http.MethodPost, srv.URL+"/start-reading-session/99/", nil))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("ожидали 404, получили %d", resp.StatusCode)
	}
}

func TestStartAndEndSession(t *testing.T) {
	repo := newStubRepo()
	repo.books[1] = domain.Book{ID: 1, Title: "Книга", Author: "Автор", YearOfPublication: 2020, Country: "Unknown"}
	repo.nextID = 1
	srv := newTestServer(repo, &stubQueue{})
	defer srv.Close()

	resp := doRequest(t, authRequest(t, http.MethodPost, srv.URL+"/start-reading-session/1/", nil))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ожидали 201, получили %d", resp.StatusCode)
	}
	var started sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("не удалось разобрать ответ: %v", err)
	}
	resp.Body.Close()
	if started.EndTime != nil {
		t.Fatalf("ожидали открытую сессию")
	}

	// карточка книги теперь отдаёт открытую сессию
	resp = doRequest(t, authRequest(t, http.MethodGet, srv.URL+"/books/1/", nil))
	var detail sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		t.Fatalf("не удалось разобрать ответ: %v", err)
	}
	resp.Body.Close()
	if detail.ID != started.ID || detail.BookID != 1 {
		t.Fatalf("ожидали открытую сессию в карточке книги")
	}

	resp = doRequest(t, authRequest(t, http.MethodPatch, srv.URL+"/end-reading-session/1/", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", resp.StatusCode)
	}
	var ended sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&ended); err != nil {
		t.Fatalf("не удалось разобрать ответ: %v", err)
	}
	resp.Body.Close()
	if ended.EndTime == nil {
		t.Fatalf("ожидали закрытую сессию")
	}
}

func TestEndSessionWithoutOpen(t *testing.T) {
	repo := newStubRepo()
	repo.books[1] = domain.Book{ID: 1, Title: "Книга", Author: "Автор", YearOfPublication: 2020, Country: "Unknown"}
	repo.nextID = 1
	srv := newTestServer(repo, &stubQueue{})
	defer srv.Close()

	resp := doRequest(t, authRequest(t, http.MethodPatch, srv.URL+"/end-reading-session/1/", nil))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("ожидали 404, получили %d", resp.StatusCode)
	}
}

func TestUserStatistics(t *testing.T) {
	srv := newTestServer(newStubRepo(), &stubQueue{})
	defer srv.Close()

	resp := doRequest(t, authRequest(t, http.MethodGet, srv.URL+"/user-statistics/", nil))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", resp.StatusCode)
	}
	var profile profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		t.Fatalf("не удалось разобрать ответ: %v", err)
	}
	if len(profile.Last7Days) != 7 || len(profile.Last30Days) != 30 {
		t.Fatalf("ожидали 7 и 30 корзин, получили %d и %d", len(profile.Last7Days), len(profile.Last30Days))
	}
}

func TestRefreshStatisticsEnqueuesJob(t *testing.T) {
	queue := &stubQueue{}
	srv := newTestServer(newStubRepo(), queue)
	defer srv.Close()

	resp := doRequest(t, authRequest(t, http.MethodPost, srv.URL+"/user-statistics/refresh/", nil))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("ожидали 202, получили %d", resp.StatusCode)
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("ожидали 1 задачу в очереди, получили %d", len(queue.jobs))
	}
	job := queue.jobs[0]
	if job.UserID != 1 || job.Cause != domain.StatsCauseManual || job.ID == "" {
		t.Fatalf("ожидали ручную задачу пересчёта для пользователя 1, получили %+v", job)
	}
}
