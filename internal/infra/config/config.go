package config

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"UTC"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Auth struct {
		JWTSecret string `envconfig:"AUTH_JWT_SECRET"`
	} `envconfig:""`

	Queues struct {
		Stats string `envconfig:"STATS_QUEUE_KEY" default:"stats_jobs"`
	} `envconfig:""`

	Schedule struct {
		// DailyRefresh — время суток (HH:MM, UTC), когда планировщик ставит
		// задачи пересчёта для всех пользователей.
		DailyRefresh string `envconfig:"DAILY_REFRESH_TIME" default:"00:00"`
	} `envconfig:""`

	Cache struct {
		BookListTTL int `envconfig:"BOOK_LIST_CACHE_TTL_SECONDS" default:"60"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения, предварительно подхватив .env.
func Load() AppConfig {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env не найден, используем переменные окружения")
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
