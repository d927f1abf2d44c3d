// Пакет config — загрузка и валидация конфигурации Sync Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Sync Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- Backend ---

	// Базовый URL backend (REST, auth, storage, functions)
	BackendURL string
	// Публичный anon-ключ backend
	BackendAnonKey string
	// Таймаут HTTP-запросов к backend
	BackendTimeout time.Duration

	// --- Change-feed ---

	// Источник change-feed: websocket или pglisten
	FeedSource string
	// URL realtime endpoint backend (ws:// или wss://), для websocket
	RealtimeURL string
	// Строка подключения PostgreSQL, для pglisten
	DBConnString string

	// --- JWT ---

	// URL JWKS endpoint backend (пусто — структурный разбор без подписи)
	JWKSURL string
	// Ожидаемый issuer токенов backend
	JWTIssuer string
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Сессия ---

	// Путь к файлу зашифрованного хранилища токенов
	TokenStorePath string
	// Ключ шифрования хранилища токенов (base64 32 байта или произвольная строка)
	TokenStoreKey string
	// Интервал опроса профиля после регистрации
	ProfilePollInterval time.Duration
	// Таймаут ожидания профиля после регистрации
	ProfilePollTimeout time.Duration

	// --- Резолвер разрешений ---

	// Ёмкость LRU-кэша разрешений
	ResolverCacheSize int
	// TTL записи кэша разрешений
	ResolverCacheTTL time.Duration

	// --- Синхронизация ---

	// Tenant (condominium_id), обслуживаемый этим экземпляром
	Tenant string
	// Интервал периодического обновления финансовой статистики
	StatsRefreshInterval time.Duration
	// Размер кольцевого буфера уведомлений
	NotifyBufferSize int
	// Интервал отправки SSE-обновлений
	SSEInterval time.Duration

	// --- Мониторинг зависимостей ---

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// SM_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("SM_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("SM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// SM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SM_LOG_LEVEL: %w", err)
	}

	// SM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("SM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Backend ---

	// SM_BACKEND_URL — обязательный
	cfg.BackendURL, err = getEnvRequired("SM_BACKEND_URL")
	if err != nil {
		return nil, err
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")

	// SM_BACKEND_ANON_KEY — обязательный
	cfg.BackendAnonKey, err = getEnvRequired("SM_BACKEND_ANON_KEY")
	if err != nil {
		return nil, err
	}

	// SM_BACKEND_TIMEOUT — таймаут запросов к backend (по умолчанию 15s)
	cfg.BackendTimeout, err = getEnvDuration("SM_BACKEND_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_BACKEND_TIMEOUT: %w", err)
	}

	// --- Change-feed ---

	// SM_FEED_SOURCE — источник change-feed (по умолчанию websocket)
	cfg.FeedSource = getEnvDefault("SM_FEED_SOURCE", "websocket")
	switch cfg.FeedSource {
	case "websocket":
		// SM_REALTIME_URL — авто-вычисляется из BackendURL, если не задан
		cfg.RealtimeURL = getEnvDefault("SM_REALTIME_URL",
			strings.Replace(cfg.BackendURL, "http", "ws", 1)+"/realtime/v1")
	case "pglisten":
		// SM_DB_CONN_STRING — обязателен для pglisten
		cfg.DBConnString, err = getEnvRequired("SM_DB_CONN_STRING")
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("SM_FEED_SOURCE: недопустимое значение %q, допустимые: websocket, pglisten", cfg.FeedSource)
	}

	// --- JWT ---

	// SM_JWKS_URL — опционально; пусто — структурный разбор токенов
	cfg.JWKSURL = getEnvDefault("SM_JWKS_URL", "")

	// SM_JWT_ISSUER — ожидаемый issuer (по умолчанию <backend>/auth/v1)
	cfg.JWTIssuer = getEnvDefault("SM_JWT_ISSUER", cfg.BackendURL+"/auth/v1")

	// SM_JWKS_REFRESH_INTERVAL — интервал обновления ключей (по умолчанию 1h)
	cfg.JWKSRefreshInterval, err = getEnvDuration("SM_JWKS_REFRESH_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SM_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// SM_JWT_LEEWAY — допустимое отклонение времени (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("SM_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_JWT_LEEWAY: %w", err)
	}

	// --- Сессия ---

	// SM_TOKEN_STORE_PATH — путь к файлу токенов (по умолчанию ./data/session.enc)
	cfg.TokenStorePath = getEnvDefault("SM_TOKEN_STORE_PATH", "./data/session.enc")

	// SM_TOKEN_STORE_KEY — ключ шифрования (пусто — случайный, сессия
	// не переживёт рестарт)
	cfg.TokenStoreKey = getEnvDefault("SM_TOKEN_STORE_KEY", "")

	// SM_PROFILE_POLL_INTERVAL — интервал опроса профиля (по умолчанию 500ms)
	cfg.ProfilePollInterval, err = getEnvDuration("SM_PROFILE_POLL_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("SM_PROFILE_POLL_INTERVAL: %w", err)
	}

	// SM_PROFILE_POLL_TIMEOUT — таймаут ожидания профиля (по умолчанию 10s)
	cfg.ProfilePollTimeout, err = getEnvDuration("SM_PROFILE_POLL_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_PROFILE_POLL_TIMEOUT: %w", err)
	}

	// --- Резолвер разрешений ---

	// SM_RESOLVER_CACHE_SIZE — ёмкость кэша (по умолчанию 256)
	cfg.ResolverCacheSize, err = getEnvInt("SM_RESOLVER_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("SM_RESOLVER_CACHE_SIZE: %w", err)
	}
	if cfg.ResolverCacheSize < 1 {
		return nil, fmt.Errorf("SM_RESOLVER_CACHE_SIZE: значение %d должно быть положительным", cfg.ResolverCacheSize)
	}

	// SM_RESOLVER_CACHE_TTL — TTL записи (по умолчанию 5m)
	cfg.ResolverCacheTTL, err = getEnvDuration("SM_RESOLVER_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SM_RESOLVER_CACHE_TTL: %w", err)
	}

	// --- Синхронизация ---

	// SM_TENANT — обязательный tenant экземпляра
	cfg.Tenant, err = getEnvRequired("SM_TENANT")
	if err != nil {
		return nil, err
	}

	// SM_STATS_REFRESH_INTERVAL — интервал обновления статистики (по умолчанию 5m)
	cfg.StatsRefreshInterval, err = getEnvDuration("SM_STATS_REFRESH_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SM_STATS_REFRESH_INTERVAL: %w", err)
	}

	// SM_NOTIFY_BUFFER_SIZE — размер буфера уведомлений (по умолчанию 256)
	cfg.NotifyBufferSize, err = getEnvInt("SM_NOTIFY_BUFFER_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("SM_NOTIFY_BUFFER_SIZE: %w", err)
	}

	// SM_SSE_INTERVAL — интервал SSE-обновлений (по умолчанию 15s)
	cfg.SSEInterval, err = getEnvDuration("SM_SSE_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_SSE_INTERVAL: %w", err)
	}

	// --- Мониторинг зависимостей ---

	// SM_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("SM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// SM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("SM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
