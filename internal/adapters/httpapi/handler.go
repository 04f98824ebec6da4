package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"reading-tracker/internal/domain"
	httpinfra "reading-tracker/internal/infra/http"
	"reading-tracker/internal/usecase/catalog"
	"reading-tracker/internal/usecase/stats"
	"reading-tracker/internal/usecase/tracker"
)

// Handler отдаёт HTTP API трекера чтения.
type Handler struct {
	log     zerolog.Logger
	catalog *catalog.Service
	tracker *tracker.Service
	stats   *stats.Service
	queue   domain.StatsQueue
}

// NewHandler создаёт обработчик API.
func NewHandler(logger zerolog.Logger, catalogSvc *catalog.Service, trackerSvc *tracker.Service, statsSvc *stats.Service, queue domain.StatsQueue) *Handler {
	return &Handler{log: logger, catalog: catalogSvc, tracker: trackerSvc, stats: statsSvc, queue: queue}
}

// Register вешает маршруты на роутер. Все маршруты требуют аутентификации.
func (h *Handler) Register(r chi.Router) {
	r.Get("/books/", h.listBooks)
	r.Post("/books/", h.createBook)
	r.Get("/books/{id}/", h.bookDetail)
	r.Get("/books/{id}/reading-time/", h.bookReadingTime)
	r.Get("/reading-sessions/", h.listSessions)
	r.Post("/start-reading-session/{book_id}/", h.startSession)
	r.Patch("/end-reading-session/{book_id}/", h.endSession)
	r.Get("/user-statistics/", h.userStatistics)
	r.Post("/user-statistics/refresh/", h.refreshStatistics)
}

type bookResponse struct {
	ID                int64  `json:"id"`
	Title             string `json:"title"`
	Author            string `json:"author"`
	YearOfPublication int    `json:"year_of_publication"`
	ShortDescription  string `json:"short_description,omitempty"`
	FullDescription   string `json:"full_description,omitempty"`
	Pages             *int   `json:"pages,omitempty"`
	Language          string `json:"language,omitempty"`
	Country           string `json:"country"`
}

type sessionResponse struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	BookID      int64      `json:"book_id"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	ReadingTime *float64   `json:"reading_time,omitempty"`
}

type profileResponse struct {
	UserID           int64     `json:"user_id"`
	TotalReadingTime float64   `json:"total_reading_time"`
	Last7Days        []float64 `json:"reading_time_last_7_days"`
	Last30Days       []float64 `json:"reading_time_last_30_days"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toBookResponse(b domain.Book) bookResponse {
	return bookResponse{
		ID:                b.ID,
		Title:             b.Title,
		Author:            b.Author,
		YearOfPublication: b.YearOfPublication,
		ShortDescription:  b.ShortDescription,
		FullDescription:   b.FullDescription,
		Pages:             b.Pages,
		Language:          b.Language,
		Country:           b.Country,
	}
}

func toSessionResponse(s domain.ReadingSession) sessionResponse {
	resp := sessionResponse{
		ID:        s.ID,
		UserID:    s.UserID,
		BookID:    s.BookID,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
	}
	if seconds, ok := s.ReadingSeconds(); ok {
		resp.ReadingTime = &seconds
	}
	return resp
}

func toProfileResponse(p domain.UserProfile) profileResponse {
	return profileResponse{
		UserID:           p.UserID,
		TotalReadingTime: p.TotalReadingTime,
		Last7Days:        p.Last7Days[:],
		Last30Days:       p.Last30Days[:],
		UpdatedAt:        p.UpdatedAt,
	}
}

func (h *Handler) listBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.catalog.ListBooks(r.Context())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	resp := make([]bookResponse, 0, len(books))
	for _, b := range books {
		resp = append(resp, toBookResponse(b))
	}
	httpinfra.WriteJSON(w, http.StatusOK, resp)
}

type createBookRequest struct {
	Title             string `json:"title"`
	Author            string `json:"author"`
	YearOfPublication int    `json:"year_of_publication"`
	ShortDescription  string `json:"short_description"`
	FullDescription   string `json:"full_description"`
	Pages             *int   `json:"pages"`
	Language          string `json:"language"`
	Country           string `json:"country"`
}

func (h *Handler) createBook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req createBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	book, err := h.catalog.CreateBook(r.Context(), catalog.CreateBookParams{
		Title:             req.Title,
		Author:            req.Author,
		YearOfPublication: req.YearOfPublication,
		ShortDescription:  req.ShortDescription,
		FullDescription:   req.FullDescription,
		Pages:             req.Pages,
		Language:          req.Language,
		Country:           req.Country,
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, toBookResponse(book))
}

// bookDetail возвращает открытую сессию вызывающего по этой книге, если она
// есть, иначе — статичную карточку книги.
func (h *Handler) bookDetail(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpinfra.UserID(r.Context())
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	bookID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	book, sess, err := h.tracker.ActiveOrBook(r.Context(), userID, bookID)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if sess != nil {
		httpinfra.WriteJSON(w, http.StatusOK, toSessionResponse(*sess))
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toBookResponse(book))
}

type bookReadingTimeResponse struct {
	bookResponse
	TotalReadingTime float64 `json:"total_reading_time"`
}

func (h *Handler) bookReadingTime(w http.ResponseWriter, r *http.Request) {
	bookID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	book, total, err := h.tracker.BookReadingTime(r.Context(), bookID)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, bookReadingTimeResponse{
		bookResponse:     toBookResponse(book),
		TotalReadingTime: total,
	})
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.tracker.Sessions(r.Context())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	resp := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, toSessionResponse(s))
	}
	httpinfra.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpinfra.UserID(r.Context())
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	bookID, ok := pathID(w, r, "book_id")
	if !ok {
		return
	}
	sess, err := h.tracker.StartSession(r.Context(), userID, bookID)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpinfra.UserID(r.Context())
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	bookID, ok := pathID(w, r, "book_id")
	if !ok {
		return
	}
	sess, err := h.tracker.EndSession(r.Context(), userID, bookID)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handler) userStatistics(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpinfra.UserID(r.Context())
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	profile, err := h.stats.UserStatistics(r.Context(), userID)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, toProfileResponse(profile))
}

// refreshStatistics ставит задачу пересчёта и сразу отвечает подтверждением.
// Результат вычисляется воркером, вызывающий его не дожидается.
func (h *Handler) refreshStatistics(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpinfra.UserID(r.Context())
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	job := domain.StatsJob{
		ID:          uuid.NewString(),
		UserID:      userID,
		RequestedAt: time.Now().UTC(),
		Cause:       domain.StatsCauseManual,
	}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		h.log.Error().Err(err).Int64("user", userID).Msg("api: не удалось поставить задачу пересчёта")
		httpinfra.WriteError(w, http.StatusInternalServerError, "failed to enqueue refresh")
		return
	}
	httpinfra.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "refresh scheduled",
		"job_id": job.ID,
	})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpinfra.WriteError(w, http.StatusNotFound, "not found")
		return 0, false
	}
	return id, true
}

func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrBookNotFound),
		errors.Is(err, domain.ErrOpenSessionNotFound),
		errors.Is(err, domain.ErrUserNotFound):
		httpinfra.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, catalog.ErrInvalidBook):
		httpinfra.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("api: внутренняя ошибка")
		httpinfra.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
