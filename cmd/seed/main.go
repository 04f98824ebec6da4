package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"reading-tracker/internal/adapters/repo"
	"reading-tracker/internal/infra/config"
	"reading-tracker/internal/infra/db"
	httpinfra "reading-tracker/internal/infra/http"
	applog "reading-tracker/internal/infra/log"
)

// Заводит пользователя и печатает токен доступа. Инструмент для стендов.
func main() {
	username := flag.String("username", "", "имя нового пользователя")
	ttl := flag.Duration("ttl", 30*24*time.Hour, "срок жизни токена")
	flag.Parse()

	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	if *username == "" {
		logger.Fatal().Msg("seed: не указано имя пользователя (-username)")
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Fatal().Msg("seed: не указан секрет подписи токенов (AUTH_JWT_SECRET)")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed: нет подключения к БД")
	}
	defer pool.Close()

	user, err := repo.NewPostgres(pool).Create(context.Background(), *username)
	if err != nil {
		logger.Fatal().Err(err).Str("username", *username).Msg("seed: не удалось создать пользователя")
	}

	token, err := httpinfra.IssueToken(cfg.Auth.JWTSecret, user.ID, *ttl)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed: не удалось выпустить токен")
	}

	fmt.Printf("user_id=%d\ntoken=%s\n", user.ID, token)
}
