// Точка входа Sync Module — слой синхронизации и разрешений CondoFlow.
// Загружает конфигурацию, восстанавливает сессию backend, открывает
// каналы change-feed, инициализирует резолвер разрешений, синхронизацию
// сущностей и финансов, запускает фоновые задачи (topologymetrics),
// HTTP-фасад с auth middleware и graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // драйвер database/sql для pgcheck

	"github.com/bigkaa/condoflow/sync-module/internal/api/handlers"
	"github.com/bigkaa/condoflow/sync-module/internal/api/middleware"
	"github.com/bigkaa/condoflow/sync-module/internal/backend"
	"github.com/bigkaa/condoflow/sync-module/internal/config"
	"github.com/bigkaa/condoflow/sync-module/internal/domain/model"
	"github.com/bigkaa/condoflow/sync-module/internal/notify"
	"github.com/bigkaa/condoflow/sync-module/internal/realtime"
	"github.com/bigkaa/condoflow/sync-module/internal/resolver"
	"github.com/bigkaa/condoflow/sync-module/internal/server"
	"github.com/bigkaa/condoflow/sync-module/internal/service"
	"github.com/bigkaa/condoflow/sync-module/internal/session"
	syncpkg "github.com/bigkaa/condoflow/sync-module/internal/sync"
	"github.com/bigkaa/condoflow/sync-module/internal/workflow"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Sync Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("tenant", cfg.Tenant),
		slog.String("feed_source", cfg.FeedSource),
	)

	ctx := context.Background()

	// 3. Клиент backend
	client := backend.New(cfg.BackendURL, cfg.BackendAnonKey, cfg.BackendTimeout, logger)
	logger.Info("Клиент backend создан", slog.String("url", cfg.BackendURL))

	// 4. Зашифрованное хранилище токенов
	tokens, err := session.NewTokenStore(cfg.TokenStorePath, cfg.TokenStoreKey)
	if err != nil {
		logger.Error("Ошибка создания хранилища токенов", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.TokenStoreKey == "" {
		logger.Warn("SM_TOKEN_STORE_KEY не задан, сессия не сохраняется между рестартами")
	}

	// 5. Session Store — восстановление сессии из хранилища токенов.
	// Ошибки восстановления не фатальны: модуль стартует анонимным.
	sessions := session.New(client, tokens, session.PollSettings{
		Interval: cfg.ProfilePollInterval,
		Timeout:  cfg.ProfilePollTimeout,
	}, logger)
	if err := sessions.Initialize(ctx); err != nil {
		logger.Warn("Восстановление сессии не удалось, анонимный старт",
			slog.String("error", err.Error()),
		)
	}
	defer sessions.Close()

	// 6. Верификатор access token для API-фасада
	var verifier *session.Verifier
	if cfg.JWKSURL != "" {
		verifier, err = session.NewVerifier(cfg.JWKSURL, cfg.JWTIssuer, cfg.JWKSRefreshInterval, cfg.JWTLeeway, logger)
		if err != nil {
			logger.Error("Ошибка создания верификатора токенов", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Верификатор токенов инициализирован", slog.String("jwks_url", cfg.JWKSURL))
	} else {
		verifier = session.NewStructuralVerifier(logger)
		logger.Warn("SM_JWKS_URL не задан, токены проверяются без подписи")
	}

	// 7. Источник change-feed: websocket или LISTEN/NOTIFY
	var source realtime.Source
	var pgDB *sql.DB
	switch cfg.FeedSource {
	case "pglisten":
		source = realtime.NewPGListenSource(cfg.DBConnString, logger)
		// *sql.DB для pgcheck topologymetrics: change-feed живёт на
		// прямом подключении к БД, её здоровье критично.
		pgDB, err = sql.Open("pgx", cfg.DBConnString)
		if err != nil {
			logger.Warn("Ошибка открытия *sql.DB для мониторинга",
				slog.String("error", err.Error()),
			)
		} else {
			defer pgDB.Close()
		}
	default:
		source = realtime.NewWSSource(cfg.RealtimeURL, cfg.BackendAnonKey,
			client.AccessToken, realtime.DefaultWSSourceSettings(), logger)
	}

	// 8. Подписчик change-feed
	subscriber := realtime.New(source, logger)
	defer subscriber.UnsubscribeAll()

	// 9. Уведомления
	center := notify.NewCenter(cfg.NotifyBufferSize, logger)

	// 10. Резолвер разрешений
	res := resolver.New(client, cfg.ResolverCacheSize, cfg.ResolverCacheTTL, logger)

	// 11. Синхронизация сущностей и финансов
	engine := syncpkg.NewEngine(center, logger)
	finance := syncpkg.NewFinanceSync(client, center, cfg.Tenant, cfg.StatsRefreshInterval, logger)

	// 11.1 Начальная загрузка снимков. Неуспех не фатален:
	// недостающие таблицы догрузит change-feed + refetch.
	if err := engine.Hydrate(ctx, client, cfg.Tenant); err != nil {
		logger.Warn("Начальная загрузка снимков не завершена",
			slog.String("error", err.Error()),
		)
	}
	if err := finance.RefreshStats(ctx); err != nil {
		logger.Warn("Начальная загрузка финансовой статистики не удалась",
			slog.String("error", err.Error()),
		)
	}

	// 12. Каналы change-feed сущностей.
	// Финансовые обработчики навешиваются на каналы payments/expenses —
	// один канал на таблицу, дублирующихся подписок нет.
	_, err = engine.SubscribeAll(ctx, subscriber, cfg.Tenant, func(table string, h realtime.Handlers) realtime.Handlers {
		switch table {
		case model.TablePayments:
			return realtime.Combine(h, financeHandlers(ctx, finance.HandlePaymentEvent))
		case model.TableExpenses:
			return realtime.Combine(h, financeHandlers(ctx, finance.HandleExpenseEvent))
		}
		return h
	})
	if err != nil {
		logger.Warn("Подписка на change-feed сущностей не удалась, работа по локальным снимкам",
			slog.String("error", err.Error()),
		)
	}

	// 12.1 Каналы инвалидации резолвера: персонал координации и профили.
	currentUser := func() string {
		if ident := sessions.CurrentIdentity(); ident != nil {
			return ident.UserID
		}
		return ""
	}
	staffHandler := func(ev model.ChangeEvent) { res.HandleStaffEvent(ev, currentUser()) }
	if _, err := subscriber.Subscribe(ctx, model.TableCoordinationStaff, cfg.Tenant, realtime.Handlers{
		OnInsert: staffHandler,
		OnUpdate: staffHandler,
		OnDelete: staffHandler,
	}); err != nil {
		logger.Warn("Подписка на coordination_staff не удалась",
			slog.String("error", err.Error()),
		)
	}
	profileHandler := func(ev model.ChangeEvent) { res.HandleProfileEvent(ev, currentUser()) }
	if _, err := subscriber.Subscribe(ctx, model.TableProfiles, cfg.Tenant, realtime.Handlers{
		OnUpdate: profileHandler,
		OnDelete: profileHandler,
	}); err != nil {
		logger.Warn("Подписка на profiles не удалась",
			slog.String("error", err.Error()),
		)
	}

	// 13. Периодическое обновление финансовой статистики
	finance.Start(ctx)

	// 14. Workflow повышения персонала
	wf := workflow.New(client, engine, cfg.Tenant, logger)

	// 15. topologymetrics — мониторинг зависимостей
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"sync-module",
		"condoflow",
		cfg.BackendURL,
		cfg.JWKSURL,
		pgDB,
		cfg.DBConnString,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 16. HTTP-фасад
	tokenAuth := middleware.NewTokenAuth(verifier, logger)
	srv := server.New(cfg, logger, server.Handlers{
		Health: handlers.NewHealthHandler(client, handlers.NewFeedReadinessChecker(subscriber)),
		State:  handlers.NewStateHandler(sessions, res, engine, finance, center, logger),
		Staff:  handlers.NewStaffHandler(wf, logger),
		Events: handlers.NewEventsHandler(center, subscriber, cfg.SSEInterval, logger),
	}, tokenAuth)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 17. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthSvc != nil && dephealthErr == nil {
		dephealthSvc.Stop()
	}
	finance.Stop()
	subscriber.UnsubscribeAll()

	logger.Info("Sync Module остановлен")
}

// financeHandlers навешивает финансовый обработчик на все типы событий.
func financeHandlers(ctx context.Context, handle func(context.Context, model.ChangeEvent)) realtime.Handlers {
	h := func(ev model.ChangeEvent) {
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		handle(hctx, ev)
	}
	return realtime.Handlers{OnInsert: h, OnUpdate: h, OnDelete: h}
}
