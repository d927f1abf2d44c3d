// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Sync Module мониторит зависимости:
//   - backend — HTTP checker к auth health endpoint (critical)
//   - jwks — HTTP checker к JWKS endpoint (если настроен)
//   - postgresql — SQL checker через *sql.DB (только в режиме pglisten, critical)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для backend
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"     // PostgreSQL checker (режим pglisten)
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
//
// Параметры:
//   - serviceID — имя вершины графа текущего приложения (e.g. "sync-module")
//   - group — имя группы в метриках
//   - backendURL — корневой URL backend
//   - jwksURL — URL JWKS endpoint (пусто — проверка не добавляется)
//   - db — *sql.DB для режима pglisten (nil — проверка не добавляется)
//   - dbConnURL — строка подключения PostgreSQL (для лейблов метрик)
//   - checkInterval — интервал проверки зависимостей (SM_DEPHEALTH_CHECK_INTERVAL)
func NewDephealthService(
	serviceID string,
	group string,
	backendURL string,
	jwksURL string,
	db *sql.DB,
	dbConnURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, backendURL, jwksURL, db, dbConnURL, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	backendURL string,
	jwksURL string,
	db *sql.DB,
	dbConnURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, backendURL, jwksURL, db, dbConnURL, checkInterval, logger,
		dephealth.WithRegisterer(registerer))
}

// newDephealthService — внутренний конструктор.
func newDephealthService(
	serviceID string,
	group string,
	backendURL string,
	jwksURL string,
	db *sql.DB,
	dbConnURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		// Backend — HTTP checker к auth health endpoint.
		// Он отвечает без авторизации и подтверждает доступность
		// auth-сервиса, стоящего перед REST и storage.
		dephealth.HTTP("backend",
			dephealth.FromURL(backendURL),
			dephealth.WithHTTPHealthPath("/auth/v1/health"),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		),
	}

	// JWKS — отдельная проверка: ключи могут отдаваться другим сервисом.
	// Path берём из самого JWKS URL — health endpoint у него отсутствует.
	if jwksURL != "" {
		jwksHealthPath := "/health"
		if parsed, parseErr := url.Parse(jwksURL); parseErr == nil && parsed.Path != "" {
			jwksHealthPath = parsed.Path
		}
		opts = append(opts, dephealth.HTTP("jwks",
			dephealth.FromURL(jwksURL),
			dephealth.WithHTTPHealthPath(jwksHealthPath),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(false),
		))
	}

	// PostgreSQL — только в режиме pglisten: change-feed живёт на
	// LISTEN/NOTIFY и прямой доступ к БД критичен.
	// Используем pgcheck.New + dephealth.AddDependency напрямую,
	// чтобы не тянуть contrib/sqldb с транзитивной зависимостью на MySQL.
	if db != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(db)),
			dephealth.FromURL(dbConnURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		))
	}

	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
