package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Поддерживаемые драйверы базы данных
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config содержит параметры конфигурации приложения
type Config struct {
	DBDriver   string // postgres или sqlite
	DBHost     string // Хост базы данных
	DBPort     string // Порт базы данных
	DBUser     string // Пользователь базы данных
	DBPassword string // Пароль базы данных
	DBName     string // Имя базы данных
	DBSSLMode  string // Режим SSL для базы данных
	DBPath     string // Путь к файлу SQLite

	KafkaBrokers   []string // Список брокеров Kafka, пустой список отключает Kafka
	KafkaTopic     string   // Тема Kafka для логов
	AnalyticsTopic string   // Тема Kafka для событий аналитики

	HTTPPort      string // Адрес HTTP сервера
	GRPCPort      string // Адрес gRPC сервиса
	ServiceName   string // Имя сервиса
	Version       string // Версия сервиса для health-check
	LogBufferSize int    // Размер буфера для логов
	LogLevel      string // Уровень логирования
	LogDir        string // Каталог для файловых логов

	SessionSecret string // Ключ подписи cookie сессии
	SessionName   string // Имя cookie сессии
	SessionSecure bool   // Отправлять cookie только по HTTPS

	TMDBAPIKey  string        // Ключ API каталога
	TMDBBaseURL string        // Базовый URL API каталога
	TMDBTimeout time.Duration // Таймаут запросов к каталогу

	RedisAddr     string // Адрес Redis, пустой адрес означает in-memory кэш
	RedisPassword string
	RedisDB       int

	RateLimitRequests int           // Запросов аналитики на клиента за окно
	RateLimitWindow   time.Duration // Окно ограничения
	DiskPath          string        // Путь для проверки свободного места
}

// LoadConfig загружает конфигурацию из .env файла и переменных окружения
func LoadConfig() (*Config, error) {
	// Файл .env необязателен: в контейнере переменные приходят из окружения
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	driver := strings.ToLower(getEnv("DB_DRIVER", DriverPostgres))
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("invalid DB_DRIVER value: %q", driver)
	}

	// Проверяем обязательные переменные окружения
	requiredEnvVars := []string{"SESSION_SECRET", "TMDB_API_KEY"}
	if driver == DriverPostgres {
		requiredEnvVars = append(requiredEnvVars,
			"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE")
	}

	for _, envVar := range requiredEnvVars {
		if value := os.Getenv(envVar); value == "" {
			return nil, fmt.Errorf("missing required environment variable: %s", envVar)
		}
	}

	// Преобразуем KAFKA_BROKERS в []string
	var kafkaBrokers []string
	for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			kafkaBrokers = append(kafkaBrokers, b)
		}
	}

	// Преобразуем LOG_BUFFER_SIZE в int с дефолтным значением 100, если не задано корректно
	logBufferSize, err := strconv.Atoi(os.Getenv("LOG_BUFFER_SIZE"))
	if err != nil || logBufferSize <= 0 {
		logBufferSize = 100
	}

	tmdbTimeout, err := getDuration("TMDB_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	rateLimitWindow, err := getDuration("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}
	rateLimitRequests, err := getInt("RATE_LIMIT_REQUESTS", 100)
	if err != nil {
		return nil, err
	}
	redisDB, err := getInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	return &Config{
		DBDriver:          driver,
		DBHost:            os.Getenv("DB_HOST"),
		DBPort:            os.Getenv("DB_PORT"),
		DBUser:            os.Getenv("DB_USER"),
		DBPassword:        os.Getenv("DB_PASSWORD"),
		DBName:            os.Getenv("DB_NAME"),
		DBSSLMode:         os.Getenv("DB_SSLMODE"),
		DBPath:            getEnv("DB_PATH", "movietracker.db"),
		KafkaBrokers:      kafkaBrokers,
		KafkaTopic:        os.Getenv("KAFKA_TOPIC"),
		AnalyticsTopic:    getEnv("ANALYTICS_TOPIC", "analytics-events"),
		HTTPPort:          getEnv("HTTP_PORT", ":8080"),
		GRPCPort:          getEnv("GRPC_PORT", ":50051"),
		ServiceName:       getEnv("SERVICE_NAME", "movietracker"),
		Version:           getEnv("APP_VERSION", "dev"),
		LogBufferSize:     logBufferSize,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogDir:            getEnv("LOG_DIR", "logs"),
		SessionSecret:     os.Getenv("SESSION_SECRET"),
		SessionName:       getEnv("SESSION_NAME", "movietracker_session"),
		SessionSecure:     getEnv("SESSION_SECURE", "false") == "true",
		TMDBAPIKey:        os.Getenv("TMDB_API_KEY"),
		TMDBBaseURL:       strings.TrimRight(getEnv("TMDB_BASE_URL", "https://api.themoviedb.org/3"), "/"),
		TMDBTimeout:       tmdbTimeout,
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           redisDB,
		RateLimitRequests: rateLimitRequests,
		RateLimitWindow:   rateLimitWindow,
		DiskPath:          getEnv("DISK_PATH", "/"),
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s value: %q", key, v)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s value: %q", key, v)
	}
	return d, nil
}
