package main

import (
	"database/sql"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env не найден, используем переменные окружения")
	}

	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		log.Fatal("не указана строка подключения (PG_DSN)")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("не удалось открыть подключение: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("БД недоступна: %v", err)
	}

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	migrationsDir := "./migrations"

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("не удалось выбрать диалект: %v", err)
	}

	switch command {
	case "up":
		if err := goose.Up(db, migrationsDir); err != nil {
			log.Fatalf("миграции не применились: %v", err)
		}
		log.Println("миграции применены")
	case "down":
		if err := goose.Down(db, migrationsDir); err != nil {
			log.Fatalf("откат не выполнен: %v", err)
		}
		log.Println("откат выполнен")
	case "status":
		if err := goose.Status(db, migrationsDir); err != nil {
			log.Fatalf("не удалось получить статус миграций: %v", err)
		}
	case "version":
		version, err := goose.GetDBVersion(db)
		if err != nil {
			log.Fatalf("не удалось получить версию: %v", err)
		}
		log.Printf("текущая версия миграций: %d", version)
	case "create":
		if len(os.Args) < 3 {
			log.Fatal("использование: migrate create <имя_миграции>")
		}
		if err := goose.Create(db, migrationsDir, os.Args[2], "sql"); err != nil {
			log.Fatalf("не удалось создать миграцию: %v", err)
		}
	default:
		log.Fatalf("неизвестная команда %q, доступны: up, down, status, version, create", command)
	}
}
