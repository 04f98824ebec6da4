package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reading-tracker/internal/domain"
	"reading-tracker/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserRepo           = (*Postgres)(nil)
	_ domain.BookRepo           = (*Postgres)(nil)
	_ domain.SessionRepo        = (*Postgres)(nil)
	_ domain.ProfileRepo        = (*Postgres)(nil)
	_ domain.ScheduleTaskRepo   = (*Postgres)(nil)
	_ domain.StatsJobStatusRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// GetByID возвращает пользователя по идентификатору.
func (p *Postgres) GetByID(ctx context.Context, id int64) (domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var user domain.User
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, username, created_at FROM users WHERE id=$1
`, id).Scan(&user.ID, &user.Username, &user.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_get_by_id", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, err
}

// ListAll возвращает всех пользователей. Используется ночным планировщиком.
func (p *Postgres) ListAll(ctx context.Context) ([]domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT id, username, created_at FROM users ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "users_list_all", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Create заводит нового пользователя.
func (p *Postgres) Create(ctx context.Context, username string) (domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var user domain.User
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO users (username) VALUES ($1)
RETURNING id, username, created_at
`, username).Scan(&user.ID, &user.Username, &user.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_insert", "users", start, err)
	return user, err
}

// CreateBook сохраняет книгу каталога.
func (p *Postgres) CreateBook(ctx context.Context, book domain.Book) (domain.Book, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		created domain.Book
		pages   sql.NullInt64
	)
	var pagesArg any
	if book.Pages != nil {
		pagesArg = *book.Pages
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO books (title, author, year_of_publication, short_description, full_description, pages, language, country)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE(NULLIF($8,''),'Unknown'))
RETURNING id, title, author, year_of_publication, short_description, full_description, pages, language, country, created_at
`, book.Title, book.Author, book.YearOfPublication, book.ShortDescription, book.FullDescription, pagesArg, book.Language, book.Country).
		Scan(&created.ID, &created.Title, &created.Author, &created.YearOfPublication, &created.ShortDescription,
			&created.FullDescription, &pages, &created.Language, &created.Country, &created.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "books_insert", "books", start, err)
	if err != nil {
		return domain.Book{}, err
	}
	if pages.Valid {
		v := int(pages.Int64)
		created.Pages = &v
	}
	return created, nil
}

// GetBook возвращает книгу по идентификатору.
func (p *Postgres) GetBook(ctx context.Context, id int64) (domain.Book, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		book  domain.Book
		pages sql.NullInt64
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, title, author, year_of_publication, short_description, full_description, pages, language, country, created_at
FROM books WHERE id=$1
`, id).Scan(&book.ID, &book.Title, &book.Author, &book.YearOfPublication, &book.ShortDescription,
		&book.FullDescription, &pages, &book.Language, &book.Country, &book.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "books_get", "books", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Book{}, domain.ErrBookNotFound
	}
	if err != nil {
		return domain.Book{}, err
	}
	if pages.Valid {
		v := int(pages.Int64)
		book.Pages = &v
	}
	return book, nil
}

// ListBooks возвращает каталог.
func (p *Postgres) ListBooks(ctx context.Context) ([]domain.Book, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, title, author, year_of_publication, short_description, full_description, pages, language, country, created_at
FROM books ORDER BY id
`)
	metrics.ObserveNetworkRequest("postgres", "books_list", "books", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var books []domain.Book
	for rows.Next() {
		var (
			b     domain.Book
			pages sql.NullInt64
		)
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.YearOfPublication, &b.ShortDescription,
			&b.FullDescription, &pages, &b.Language, &b.Country, &b.CreatedAt); err != nil {
			return nil, err
		}
		if pages.Valid {
			v := int(pages.Int64)
			b.Pages = &v
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

type sessionTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (s *sessionTx) FindOpen(userID int64) (domain.ReadingSession, bool, error) {
	var (
		sess domain.ReadingSession
		end  sql.NullTime
	)
	start := time.Now()
	err := s.tx.QueryRow(s.ctx, `
SELECT id, user_id, book_id, start_time, end_time
FROM reading_sessions
WHERE user_id=$1 AND end_time IS NULL
ORDER BY start_time DESC
LIMIT 1
`, userID).Scan(&sess.ID, &sess.UserID, &sess.BookID, &sess.StartTime, &end)
	metrics.ObserveNetworkRequest("postgres", "sessions_find_open", "reading_sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReadingSession{}, false, nil
	}
	if err != nil {
		return domain.ReadingSession{}, false, err
	}
	if end.Valid {
		t := end.Time
		sess.EndTime = &t
	}
	return sess, true, nil
}

func (s *sessionTx) Close(sessionID int64, endTime time.Time) error {
	start := time.Now()
	_, err := s.tx.Exec(s.ctx, `UPDATE reading_sessions SET end_time=$2 WHERE id=$1 AND end_time IS NULL`, sessionID, endTime)
	metrics.ObserveNetworkRequest("postgres", "sessions_close", "reading_sessions", start, err)
	return err
}

func (s *sessionTx) Create(userID, bookID int64, startTime time.Time) (domain.ReadingSession, error) {
	sess := domain.ReadingSession{UserID: userID, BookID: bookID, StartTime: startTime}
	start := time.Now()
	err := s.tx.QueryRow(s.ctx, `
INSERT INTO reading_sessions (user_id, book_id, start_time)
VALUES ($1, $2, $3)
RETURNING id
`, userID, bookID, startTime).Scan(&sess.ID)
	metrics.ObserveNetworkRequest("postgres", "sessions_insert", "reading_sessions", start, err)
	return sess, err
}

// InUserTx выполняет fn в транзакции с блокировкой строки пользователя.
// Блокировка — точка сериализации перехода состояний сессий одного пользователя.
func (p *Postgres) InUserTx(ctx context.Context, userID int64, fn func(domain.SessionStore) error) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "reading_sessions", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var one int
	start = time.Now()
	err = tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id=$1 FOR UPDATE`, userID).Scan(&one)
	metrics.ObserveNetworkRequest("postgres", "users_lock", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrUserNotFound
	}
	if err != nil {
		return err
	}

	if err := fn(&sessionTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "reading_sessions", start, err)
	return err
}

// CloseOpenSession закрывает открытую сессию (user, book).
func (p *Postgres) CloseOpenSession(ctx context.Context, userID, bookID int64, endTime time.Time) (domain.ReadingSession, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		sess domain.ReadingSession
		end  sql.NullTime
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
UPDATE reading_sessions SET end_time=$3
WHERE user_id=$1 AND book_id=$2 AND end_time IS NULL
RETURNING id, user_id, book_id, start_time, end_time
`, userID, bookID, endTime).Scan(&sess.ID, &sess.UserID, &sess.BookID, &sess.StartTime, &end)
	metrics.ObserveNetworkRequest("postgres", "sessions_close_open", "reading_sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReadingSession{}, domain.ErrOpenSessionNotFound
	}
	if err != nil {
		return domain.ReadingSession{}, err
	}
	if end.Valid {
		t := end.Time
		sess.EndTime = &t
	}
	return sess, nil
}

// FindOpenForBook возвращает открытую сессию пользователя по книге.
func (p *Postgres) FindOpenForBook(ctx context.Context, userID, bookID int64) (domain.ReadingSession, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		sess domain.ReadingSession
		end  sql.NullTime
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, user_id, book_id, start_time, end_time
FROM reading_sessions
WHERE user_id=$1 AND book_id=$2 AND end_time IS NULL
ORDER BY start_time DESC
LIMIT 1
`, userID, bookID).Scan(&sess.ID, &sess.UserID, &sess.BookID, &sess.StartTime, &end)
	metrics.ObserveNetworkRequest("postgres", "sessions_find_open_for_book", "reading_sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReadingSession{}, false, nil
	}
	if err != nil {
		return domain.ReadingSession{}, false, err
	}
	if end.Valid {
		t := end.Time
		sess.EndTime = &t
	}
	return sess, true, nil
}

// ListSessions возвращает все сессии чтения.
func (p *Postgres) ListSessions(ctx context.Context) ([]domain.ReadingSession, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, book_id, start_time, end_time
FROM reading_sessions ORDER BY start_time DESC
`)
	metrics.ObserveNetworkRequest("postgres", "sessions_list", "reading_sessions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []domain.ReadingSession
	for rows.Next() {
		var (
			s   domain.ReadingSession
			end sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.UserID, &s.BookID, &s.StartTime, &end); err != nil {
			return nil, err
		}
		if end.Valid {
			t := end.Time
			s.EndTime = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// SumClosedByBook суммирует секунды закрытых сессий книги. Открытые дают ноль.
func (p *Postgres) SumClosedByBook(ctx context.Context, bookID int64) (float64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var total float64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(EXTRACT(EPOCH FROM (end_time - start_time))), 0)
FROM reading_sessions
WHERE book_id=$1 AND end_time IS NOT NULL
`, bookID).Scan(&total)
	metrics.ObserveNetworkRequest("postgres", "sessions_sum_by_book", "reading_sessions", start, err)
	return total, err
}

// ListClosedSlices возвращает (start_time, секунды) закрытых сессий пользователя.
func (p *Postgres) ListClosedSlices(ctx context.Context, userID int64, since time.Time) ([]domain.SessionSlice, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT start_time, EXTRACT(EPOCH FROM (end_time - start_time))
FROM reading_sessions
WHERE user_id=$1 AND end_time IS NOT NULL AND start_time >= $2
`, userID, since)
	metrics.ObserveNetworkRequest("postgres", "sessions_list_closed_slices", "reading_sessions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slices []domain.SessionSlice
	for rows.Next() {
		var s domain.SessionSlice
		if err := rows.Scan(&s.StartTime, &s.Seconds); err != nil {
			return nil, err
		}
		slices = append(slices, s)
	}
	return slices, rows.Err()
}

// SumClosedByUser суммирует секунды всех закрытых сессий пользователя.
func (p *Postgres) SumClosedByUser(ctx context.Context, userID int64) (float64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var total float64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(EXTRACT(EPOCH FROM (end_time - start_time))), 0)
FROM reading_sessions
WHERE user_id=$1 AND end_time IS NOT NULL
`, userID).Scan(&total)
	metrics.ObserveNetworkRequest("postgres", "sessions_sum_by_user", "reading_sessions", start, err)
	return total, err
}

// profileBucketColumns перечисляет 37 колонок суточных корзин в порядке хранения.
func profileBucketColumns() []string {
	cols := make([]string, 0, domain.WeeklyBuckets+domain.MonthlyBuckets)
	for i := 1; i <= domain.WeeklyBuckets; i++ {
		cols = append(cols, fmt.Sprintf("reading_time_last_7_days_%d", i))
	}
	for i := 1; i <= domain.MonthlyBuckets; i++ {
		cols = append(cols, fmt.Sprintf("reading_time_last_30_days_%d", i))
	}
	return cols
}

func profileScanTargets(p *domain.UserProfile) []any {
	targets := make([]any, 0, 3+domain.WeeklyBuckets+domain.MonthlyBuckets)
	targets = append(targets, &p.UserID, &p.TotalReadingTime)
	for i := range p.Last7Days {
		targets = append(targets, &p.Last7Days[i])
	}
	for i := range p.Last30Days {
		targets = append(targets, &p.Last30Days[i])
	}
	targets = append(targets, &p.UpdatedAt)
	return targets
}

// GetOrCreateProfile возвращает профиль, создавая его с нулями при отсутствии.
func (p *Postgres) GetOrCreateProfile(ctx context.Context, userID int64) (domain.UserProfile, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	cols := strings.Join(profileBucketColumns(), ", ")
	query := fmt.Sprintf(`
INSERT INTO user_profiles (user_id) VALUES ($1)
ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
RETURNING user_id, total_reading_time, %s, updated_at
`, cols)

	var profile domain.UserProfile
	start := time.Now()
	err := p.pool.QueryRow(ctx, query, userID).Scan(profileScanTargets(&profile)...)
	metrics.ObserveNetworkRequest("postgres", "user_profiles_get_or_create", "user_profiles", start, err)
	return profile, err
}

// SaveProfile записывает пересчитанный профиль целиком.
func (p *Postgres) SaveProfile(ctx context.Context, profile domain.UserProfile) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	bucketCols := profileBucketColumns()
	assignments := make([]string, 0, len(bucketCols))
	args := make([]any, 0, 2+len(bucketCols))
	args = append(args, profile.UserID, profile.TotalReadingTime)
	for i, col := range bucketCols {
		assignments = append(assignments, fmt.Sprintf("%s=$%d", col, i+3))
		if i < domain.WeeklyBuckets {
			args = append(args, profile.Last7Days[i])
		} else {
			args = append(args, profile.Last30Days[i-domain.WeeklyBuckets])
		}
	}
	query := fmt.Sprintf(`
UPDATE user_profiles
SET total_reading_time=$2, %s, updated_at=now()
WHERE user_id=$1
`, strings.Join(assignments, ", "))

	start := time.Now()
	_, err := p.pool.Exec(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "user_profiles_save", "user_profiles", start, err)
	return err
}

// AcquireScheduleTask вставляет запись о поставленной задаче и возвращает true, если удалось.
func (p *Postgres) AcquireScheduleTask(ctx context.Context, userID int64, scheduledFor time.Time) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
INSERT INTO stats_schedule_tasks (user_id, scheduled_for)
VALUES ($1, $2)
ON CONFLICT (user_id, scheduled_for) DO NOTHING
`, userID, scheduledFor)
	metrics.ObserveNetworkRequest("postgres", "stats_schedule_tasks_acquire", "stats_schedule_tasks", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// EnsureStatsJob регистрирует попытку обработки задачи пересчёта.
func (p *Postgres) EnsureStatsJob(ctx context.Context, jobID string) (bool, int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		done     sql.NullTime
		attempts int
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO stats_job_statuses (job_id, attempts, updated_at)
VALUES ($1, 1, now())
ON CONFLICT (job_id) DO UPDATE
    SET attempts = stats_job_statuses.attempts + 1,
        updated_at = now()
RETURNING done_at, attempts
`, jobID).Scan(&done, &attempts)
	metrics.ObserveNetworkRequest("postgres", "stats_job_statuses_upsert", "stats_job_statuses", start, err)
	if err != nil {
		return false, 0, err
	}
	return done.Valid, attempts, nil
}

// MarkStatsJobDone помечает задачу как обработанную.
func (p *Postgres) MarkStatsJobDone(ctx context.Context, jobID string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE stats_job_statuses
SET done_at = COALESCE(done_at, now()),
    updated_at = now()
WHERE job_id = $1
`, jobID)
	metrics.ObserveNetworkRequest("postgres", "stats_job_statuses_mark_done", "stats_job_statuses", start, err)
	return err
}
