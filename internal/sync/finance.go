// finance.go — синхронизация агрегированной финансовой статистики.
//
// FinanceSync хранит последний снимок FinancialStats для tenant и
// обновляет его тремя путями: по требованию (RefreshStats), по таймеру
// (Start/Stop) и по событиям платежей и расходов того же tenant.
// Агрегация считается на стороне backend (RPC obter_saldo_disponivel) —
// локально суммы не пересчитываются. SaldoDisponivel может быть
// отрицательным: дефицит показывается, а не обнуляется.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/condoflow/sync-module/internal/domain/model"
	"github.com/bigkaa/condoflow/sync-module/internal/notify"
)

// Prometheus-метрики финансовой синхронизации.
var (
	statsRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sm_stats_refresh_duration_seconds",
		Help:    "Длительность обновления финансовой статистики",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms … ~5s
	})

	statsRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_stats_refresh_total",
		Help: "Количество обновлений финансовой статистики по результату",
	}, []string{"result"}) // result: ok, error
)

// StatsFetcher — источник финансовой статистики. Реализуется backend.Client.
type StatsFetcher interface {
	ObterSaldoDisponivel(ctx context.Context, condominiumID string) (model.FinancialStats, error)
}

// FinanceSync — сервис синхронизации финансовой статистики tenant.
type FinanceSync struct {
	fetcher  StatsFetcher
	notifier *notify.Center
	tenant   string
	interval time.Duration
	logger   *slog.Logger

	mu    sync.RWMutex
	stats *model.FinancialStats

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFinanceSync создаёт сервис финансовой синхронизации для tenant.
func NewFinanceSync(fetcher StatsFetcher, notifier *notify.Center, tenant string, interval time.Duration, logger *slog.Logger) *FinanceSync {
	return &FinanceSync{
		fetcher:  fetcher,
		notifier: notifier,
		tenant:   tenant,
		interval: interval,
		logger:   logger.With(slog.String("component", "finance_sync")),
	}
}

// Stats возвращает последний снимок статистики. Nil — ещё не загружена.
func (f *FinanceSync) Stats() *model.FinancialStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.stats == nil {
		return nil
	}
	s := *f.stats
	return &s
}

// RefreshStats запрашивает статистику у backend и заменяет снимок.
// Ошибка оставляет предыдущий снимок нетронутым.
func (f *FinanceSync) RefreshStats(ctx context.Context) error {
	start := time.Now()

	stats, err := f.fetcher.ObterSaldoDisponivel(ctx, f.tenant)
	statsRefreshDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		statsRefreshTotal.WithLabelValues("error").Inc()
		f.logger.Warn("Обновление финансовой статистики не удалось",
			slog.String("tenant", f.tenant),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("обновление статистики %s: %w", f.tenant, err)
	}

	f.mu.Lock()
	changed := f.stats == nil || *f.stats != stats
	f.stats = &stats
	f.mu.Unlock()

	statsRefreshTotal.WithLabelValues("ok").Inc()
	if changed {
		f.notifier.Publish(notify.ClassFinance, f.tenant, "Финансовая статистика обновлена",
			fmt.Sprintf("Доступный остаток: %.2f", stats.SaldoDisponivel), "")
	}
	return nil
}

// HandlePaymentEvent обновляет статистику по событию платежа своего tenant.
func (f *FinanceSync) HandlePaymentEvent(ctx context.Context, ev model.ChangeEvent) {
	f.handleFinancialEvent(ctx, ev)
}

// HandleExpenseEvent обновляет статистику по событию расхода своего tenant.
func (f *FinanceSync) HandleExpenseEvent(ctx context.Context, ev model.ChangeEvent) {
	f.handleFinancialEvent(ctx, ev)
}

func (f *FinanceSync) handleFinancialEvent(ctx context.Context, ev model.ChangeEvent) {
	if ev.Tenant != "" && ev.Tenant != f.tenant {
		return
	}
	if err := f.RefreshStats(ctx); err != nil {
		f.logger.Debug("Событийное обновление статистики не удалось",
			slog.String("table", ev.Table),
			slog.String("error", err.Error()),
		)
	}
}

// Start запускает фоновую горутину с периодическим обновлением.
// Вызывается один раз при старте приложения.
func (f *FinanceSync) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})

	go func() {
		defer close(f.done)

		f.logger.Info("Периодическое обновление финансовой статистики запущено",
			slog.String("tenant", f.tenant),
			slog.String("interval", f.interval.String()),
		)

		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				f.logger.Info("Периодическое обновление финансовой статистики остановлено")
				return
			case <-ticker.C:
				if err := f.RefreshStats(ctx); err != nil {
					f.logger.Error("Ошибка периодического обновления статистики",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (f *FinanceSync) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	if f.done != nil {
		<-f.done
	}
}
