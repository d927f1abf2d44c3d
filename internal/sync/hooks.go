// hooks.go — обработчики change-feed по типам сущностей.
// insert ⇒ upsert по id + уведомление; update ⇒ замена по id +
// уведомление о переходе статуса для статусных сущностей; delete ⇒
// удаление (отсутствующий id — no-op). Каждый обработчик помечает
// кэш запросов своего типа устаревшим. Обработчики не мутируют чужие
// снимки — межсущностная согласованность достигается только refetch.
package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/condoflow/sync-module/internal/domain/model"
	"github.com/bigkaa/condoflow/sync-module/internal/notify"
	"github.com/bigkaa/condoflow/sync-module/internal/realtime"
)

var appliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sm_sync_applied_total",
	Help: "Количество применённых событий синхронизации по таблицам и операциям",
}, []string{"table", "op"})

// Engine — реестр хранилищ сущностей и фабрика обработчиков change-feed.
type Engine struct {
	Residents     *Store[model.Resident]
	Payments      *Store[model.Payment]
	Visitors      *Store[model.Visitor]
	Occurrences   *Store[model.Occurrence]
	ActionPlans   *Store[model.ActionPlan]
	Documents     *Store[model.Document]
	Expenses      *Store[model.Expense]
	Announcements *Store[model.Announcement]

	notifier *notify.Center
	logger   *slog.Logger
}

// NewEngine создаёт реестр хранилищ сущностей.
func NewEngine(notifier *notify.Center, logger *slog.Logger) *Engine {
	return &Engine{
		Residents:     NewStore(func(r model.Resident) string { return r.ID }),
		Payments:      NewStore(func(p model.Payment) string { return p.ID }),
		Visitors:      NewStore(func(v model.Visitor) string { return v.ID }),
		Occurrences:   NewStore(func(o model.Occurrence) string { return o.ID }),
		ActionPlans:   NewStore(func(a model.ActionPlan) string { return a.ID }),
		Documents:     NewStore(func(d model.Document) string { return d.ID }),
		Expenses:      NewStore(func(e model.Expense) string { return e.ID }),
		Announcements: NewStore(func(a model.Announcement) string { return a.ID }),
		notifier:      notifier,
		logger:        logger.With(slog.String("component", "sync")),
	}
}

// Tables возвращает таблицы, на которые подписывается Engine.
func (e *Engine) Tables() []string {
	return []string{
		model.TableResidents, model.TablePayments, model.TableVisitors,
		model.TableOccurrences, model.TableActionPlans, model.TableDocuments,
		model.TableExpenses, model.TableAnnouncements,
	}
}

// Handlers возвращает обработчики change-feed для таблицы.
func (e *Engine) Handlers(table string) realtime.Handlers {
	switch table {
	case model.TableResidents:
		return makeHandlers(e, table, e.Residents, notify.ClassResident, "Житель", nil)
	case model.TablePayments:
		return makeHandlers(e, table, e.Payments, notify.ClassPayment, "Платёж",
			func(old, cur model.Payment) (notify.Class, string, bool) {
				if old.Status != cur.Status {
					return notify.ClassPaymentStatus,
						fmt.Sprintf("Статус платежа: %s → %s", old.Status, cur.Status), true
				}
				return "", "", false
			})
	case model.TableVisitors:
		return makeHandlers(e, table, e.Visitors, notify.ClassVisitor, "Посетитель",
			func(old, cur model.Visitor) (notify.Class, string, bool) {
				if !old.Approved && cur.Approved {
					return notify.ClassVisitorApproved, "Посетитель одобрен: " + cur.Name, true
				}
				return "", "", false
			})
	case model.TableOccurrences:
		return makeHandlers(e, table, e.Occurrences, notify.ClassOccurrence, "Обращение",
			func(old, cur model.Occurrence) (notify.Class, string, bool) {
				if old.Status != cur.Status {
					return notify.ClassOccurrenceStatus,
						fmt.Sprintf("Статус обращения: %s → %s", old.Status, cur.Status), true
				}
				return "", "", false
			})
	case model.TableActionPlans:
		return makeHandlers(e, table, e.ActionPlans, notify.ClassActionPlan, "План действий", nil)
	case model.TableDocuments:
		return makeHandlers(e, table, e.Documents, notify.ClassDocument, "Документ", nil)
	case model.TableExpenses:
		return makeHandlers(e, table, e.Expenses, notify.ClassExpense, "Расход",
			func(old, cur model.Expense) (notify.Class, string, bool) {
				if old.Status != cur.Status {
					return notify.ClassExpenseStatus,
						fmt.Sprintf("Статус расхода: %s → %s", old.Status, cur.Status), true
				}
				return "", "", false
			})
	case model.TableAnnouncements:
		return makeHandlers(e, table, e.Announcements, notify.ClassAnnouncement, "Объявление", nil)
	}
	return realtime.Handlers{}
}

// SubscribeAll открывает каналы change-feed для всех таблиц сущностей.
// decorate позволяет навесить дополнительные обработчики на канал таблицы
// (финансовая синхронизация на payments/expenses); nil — без дополнений.
// Частичный неуспех откатывает уже открытые каналы.
func (e *Engine) SubscribeAll(ctx context.Context, sub *realtime.Subscriber, tenant string, decorate func(table string, h realtime.Handlers) realtime.Handlers) ([]*realtime.Channel, error) {
	var channels []*realtime.Channel
	for _, table := range e.Tables() {
		h := e.Handlers(table)
		if decorate != nil {
			h = decorate(table, h)
		}
		ch, err := sub.Subscribe(ctx, table, tenant, h)
		if err != nil {
			for _, opened := range channels {
				sub.Unsubscribe(opened)
			}
			return nil, fmt.Errorf("подписка на %s: %w", table, err)
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// ClearAll очищает все хранилища (выход из tenant scope).
func (e *Engine) ClearAll() {
	e.Residents.Clear()
	e.Payments.Clear()
	e.Visitors.Clear()
	e.Occurrences.Clear()
	e.ActionPlans.Clear()
	e.Documents.Clear()
	e.Expenses.Clear()
	e.Announcements.Clear()
}

// Snapshot возвращает снимок строк типа сущности для API.
// False — неизвестный тип.
func (e *Engine) Snapshot(table string) (any, bool) {
	switch table {
	case model.TableResidents:
		return e.Residents.Snapshot(), true
	case model.TablePayments:
		return e.Payments.Snapshot(), true
	case model.TableVisitors:
		return e.Visitors.Snapshot(), true
	case model.TableOccurrences:
		return e.Occurrences.Snapshot(), true
	case model.TableActionPlans:
		return e.ActionPlans.Snapshot(), true
	case model.TableDocuments:
		return e.Documents.Snapshot(), true
	case model.TableExpenses:
		return e.Expenses.Snapshot(), true
	case model.TableAnnouncements:
		return e.Announcements.Snapshot(), true
	}
	return nil, false
}

// Stale возвращает признак устаревания кэша типа сущности.
// False — неизвестный тип или свежий кэш.
func (e *Engine) Stale(table string) bool {
	switch table {
	case model.TableResidents:
		return e.Residents.Stale()
	case model.TablePayments:
		return e.Payments.Stale()
	case model.TableVisitors:
		return e.Visitors.Stale()
	case model.TableOccurrences:
		return e.Occurrences.Stale()
	case model.TableActionPlans:
		return e.ActionPlans.Stale()
	case model.TableDocuments:
		return e.Documents.Stale()
	case model.TableExpenses:
		return e.Expenses.Stale()
	case model.TableAnnouncements:
		return e.Announcements.Stale()
	}
	return false
}

// transitionFunc — определяет переход статуса между версиями строки.
type transitionFunc[T any] func(old, cur T) (notify.Class, string, bool)

// makeHandlers собирает обработчики change-feed для одного типа сущности.
func makeHandlers[T any](e *Engine, table string, store *Store[T], insertClass notify.Class, title string, transition transitionFunc[T]) realtime.Handlers {
	return realtime.Handlers{
		OnInsert: func(ev model.ChangeEvent) {
			var item T
			ok, err := ev.DecodeNew(&item)
			if err != nil || !ok {
				e.logEventError(table, "insert", err)
				return
			}
			store.Upsert(item)
			store.MarkStale()
			appliedTotal.WithLabelValues(table, "insert").Inc()
			e.notifier.Publish(insertClass, ev.Tenant, title, "", ev.RecordID())
		},
		OnUpdate: func(ev model.ChangeEvent) {
			var cur T
			ok, err := ev.DecodeNew(&cur)
			if err != nil || !ok {
				e.logEventError(table, "update", err)
				return
			}
			store.Upsert(cur)
			store.MarkStale()
			appliedTotal.WithLabelValues(table, "update").Inc()

			if transition == nil {
				return
			}
			var old T
			if ok, err := ev.DecodeOld(&old); !ok || err != nil {
				return
			}
			if class, body, changed := transition(old, cur); changed {
				e.notifier.Publish(class, ev.Tenant, title, body, ev.RecordID())
			}
		},
		OnDelete: func(ev model.ChangeEvent) {
			id := ev.RecordID()
			if id == "" {
				return
			}
			store.Remove(id)
			store.MarkStale()
			appliedTotal.WithLabelValues(table, "delete").Inc()
		},
	}
}

func (e *Engine) logEventError(table, op string, err error) {
	if err == nil {
		return
	}
	e.logger.Warn("Невалидная строка в событии change-feed",
		slog.String("table", table),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}
