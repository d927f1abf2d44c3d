// hydrate.go — начальное заполнение хранилищ из backend.
// Change-feed доставляет только дельты; без начальной загрузки снимки
// пусты до первого события каждой таблицы.
package sync

import (
	"context"
	"fmt"

	"github.com/bigkaa/condoflow/sync-module/internal/backend"
	"github.com/bigkaa/condoflow/sync-module/internal/domain/model"
)

// RowSource — построчный доступ к таблицам backend.
type RowSource interface {
	SelectRows(ctx context.Context, q backend.Query, out any) error
}

// Hydrate загружает полные снимки всех таблиц сущностей tenant.
// Каждая таблица заменяется целиком; признак stale сбрасывается.
// Ошибка одной таблицы прерывает загрузку — частично заполненный
// Engine допустим, недостающие таблицы догрузит change-feed + refetch.
func (e *Engine) Hydrate(ctx context.Context, src RowSource, tenant string) error {
	if err := hydrateTable(ctx, src, tenant, model.TableResidents, e.Residents); err != nil {
		return err
	}
	if err := hydrateTable(ctx, src, tenant, model.TablePayments, e.Payments); err != nil {
		return err
	}
	if err := hydrateTable(ctx, src, tenant, model.TableVisitors, e.Visitors); err != nil {
		return err
	}
	if err := hydrateTable(ctx, src, tenant, model.TableOccurrences, e.Occurrences); err != nil {
		return err
	}
	if err := hydrateTable(ctx, src, tenant, model.TableActionPlans, e.ActionPlans); err != nil {
		return err
	}
	if err := hydrateTable(ctx, src, tenant, model.TableDocuments, e.Documents); err != nil {
		return err
	}
	if err := hydrateTable(ctx, src, tenant, model.TableExpenses, e.Expenses); err != nil {
		return err
	}
	return hydrateTable(ctx, src, tenant, model.TableAnnouncements, e.Announcements)
}

// hydrateTable загружает и заменяет снимок одной таблицы.
func hydrateTable[T any](ctx context.Context, src RowSource, tenant, table string, store *Store[T]) error {
	var rows []T
	err := src.SelectRows(ctx, backend.Query{
		Table:  table,
		Tenant: tenant,
		Order:  "created_at.asc",
	}, &rows)
	if err != nil {
		return fmt.Errorf("загрузка %s: %w", table, err)
	}
	store.Replace(rows)
	store.ClearStale()
	return nil
}
