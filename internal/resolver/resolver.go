// Пакет resolver — резолвер эффективных разрешений.
// Coordinator разрешается локально без обращения к backend; сохранённые
// наборы членов координации запрашиваются через RPC и кэшируются в
// expirable LRU. Ошибка RPC даёт ПУСТОЙ набор (fail closed) — лишний
// refetch дешевле ложного гранта.
//
// Гонка конкурентных разрешений решается монотонными порядковыми
// номерами per-user: завершившееся разрешение с номером ниже последнего
// применённого для этого пользователя отбрасывается. Побеждает
// последняя НАЧАТАЯ резолюция, а не последняя завершившаяся.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/condoflow/sync-module/internal/domain/model"
	"github.com/bigkaa/condoflow/sync-module/internal/domain/perm"
)

// Prometheus-метрики резолвера.
var (
	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_resolver_resolutions_total",
		Help: "Количество разрешений по результату (coordinator, hit, fetched, stale, error, empty)",
	}, []string{"result"})

	invalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_resolver_invalidations_total",
		Help: "Количество инвалидаций кэша разрешений",
	})
)

// PermissionFetcher — источник сохранённых наборов разрешений.
// Реализуется backend.Client.
type PermissionFetcher interface {
	GetCoordinationMemberPermissions(ctx context.Context, userID string) (model.PermissionSet, error)
}

// cacheEntry — кэшированный набор вместе со staff id, для которого
// он был получен: смена записи персонала делает запись недействительной.
type cacheEntry struct {
	staffID string
	set     model.PermissionSet
}

// Resolver — резолвер эффективных разрешений с кэшем и защитой
// от гонки конкурентных разрешений.
type Resolver struct {
	fetcher PermissionFetcher
	logger  *slog.Logger
	cache   *expirable.LRU[string, cacheEntry]

	mu      sync.Mutex
	nextSeq map[string]uint64 // user_id → следующий порядковый номер
	applied map[string]uint64 // user_id → последний применённый номер
}

// New создаёт резолвер. maxSize — ёмкость LRU, ttl — время жизни записи.
func New(fetcher PermissionFetcher, maxSize int, ttl time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		logger:  logger.With(slog.String("component", "resolver")),
		cache:   expirable.NewLRU[string, cacheEntry](maxSize, nil, ttl),
		nextSeq: make(map[string]uint64),
		applied: make(map[string]uint64),
	}
}

// Resolve вычисляет эффективный набор разрешений для identity.
// Никогда не возвращает nil-набор: при любой ошибке — пустой набор
// и сама ошибка (вызывающая сторона решает, повторять ли).
func (r *Resolver) Resolve(ctx context.Context, ident *model.Identity) (model.PermissionSet, error) {
	if ident == nil || ident.UserID == "" {
		resolutionsTotal.WithLabelValues("empty").Inc()
		return model.PermissionSet{}, nil
	}

	// Роль coordinator превосходит сохранённые гранты — без backend
	if ident.Role() == model.RoleCoordinator {
		resolutionsTotal.WithLabelValues("coordinator").Inc()
		return perm.CoordinatorSet(), nil
	}

	staffID := ident.CoordinationStaffID()
	if staffID == nil || *staffID == "" {
		resolutionsTotal.WithLabelValues("empty").Inc()
		return model.PermissionSet{}, nil
	}

	if entry, ok := r.cache.Get(ident.UserID); ok && entry.staffID == *staffID {
		resolutionsTotal.WithLabelValues("hit").Inc()
		return entry.set.Clone(), nil
	}

	seq := r.issueSeq(ident.UserID)

	stored, err := r.fetcher.GetCoordinationMemberPermissions(ctx, ident.UserID)
	if err != nil {
		resolutionsTotal.WithLabelValues("error").Inc()
		r.logger.Warn("Запрос разрешений не удался — пустой набор",
			slog.String("user_id", ident.UserID),
			slog.String("error", err.Error()),
		)
		return model.PermissionSet{}, fmt.Errorf("запрос разрешений %s: %w", ident.UserID, err)
	}

	effective := perm.Effective(ident.Role(), stored)

	if !r.apply(ident.UserID, seq) {
		// Пока шёл запрос, стартовала и применилась более новая резолюция
		resolutionsTotal.WithLabelValues("stale").Inc()
		r.logger.Debug("Устаревшая резолюция отброшена",
			slog.String("user_id", ident.UserID),
			slog.Uint64("seq", seq),
		)
		if entry, ok := r.cache.Get(ident.UserID); ok {
			return entry.set.Clone(), nil
		}
		return effective.Clone(), nil
	}

	r.cache.Add(ident.UserID, cacheEntry{staffID: *staffID, set: effective.Clone()})
	resolutionsTotal.WithLabelValues("fetched").Inc()
	return effective, nil
}

// issueSeq выдаёт следующий порядковый номер резолюции пользователя.
func (r *Resolver) issueSeq(userID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq[userID]++
	return r.nextSeq[userID]
}

// apply фиксирует завершение резолюции. False — номер ниже последнего
// применённого, результат отбрасывается.
func (r *Resolver) apply(userID string, seq uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq < r.applied[userID] {
		return false
	}
	r.applied[userID] = seq
	return true
}

// Invalidate сбрасывает кэшированный набор пользователя.
// Следующий Resolve пойдёт в backend.
func (r *Resolver) Invalidate(userID string) {
	if userID == "" {
		return
	}
	invalidationsTotal.Inc()
	r.cache.Remove(userID)
	r.logger.Debug("Кэш разрешений инвалидирован",
		slog.String("user_id", userID),
	)
}

// InvalidateAll сбрасывает весь кэш (смена identity).
func (r *Resolver) InvalidateAll() {
	invalidationsTotal.Inc()
	r.cache.Purge()
}

// HandleStaffEvent обрабатывает событие таблицы coordination_staff:
// кэш текущего пользователя сбрасывается, если его user_id фигурирует
// в старой или новой версии строки.
func (r *Resolver) HandleStaffEvent(ev model.ChangeEvent, currentUserID string) {
	if currentUserID == "" {
		return
	}
	if matchesUser(ev.NewUserID(), currentUserID) || matchesUser(ev.OldUserID(), currentUserID) {
		r.Invalidate(currentUserID)
	}
}

// HandleProfileEvent обрабатывает событие таблицы profiles: кэш
// сбрасывается при смене coordination_staff_id в профиле пользователя.
func (r *Resolver) HandleProfileEvent(ev model.ChangeEvent, currentUserID string) {
	if currentUserID == "" || ev.RecordID() != currentUserID {
		return
	}
	if ev.StaffIDChanged() {
		r.Invalidate(currentUserID)
	}
}

func matchesUser(id *string, userID string) bool {
	return id != nil && *id == userID
}
