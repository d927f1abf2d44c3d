// Пакет workflow — многошаговые операции над персоналом координации.
// Повышение и удаление выполняются атомарными RPC на стороне backend:
// либо весь эффект (запись персонала, роль, набор разрешений, связь в
// профиле) вступает в силу, либо вызов падает и локальное состояние не
// меняется. Инвалидация кэша разрешений идёт ТОЛЬКО через change-feed —
// workflow не трогает резолвер напрямую, источник истины один.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/condoflow/sync-module/internal/backend"
	"github.com/bigkaa/condoflow/sync-module/internal/domain/model"
	"github.com/bigkaa/condoflow/sync-module/internal/domain/perm"
	syncpkg "github.com/bigkaa/condoflow/sync-module/internal/sync"
)

// Workflow — операции повышения и удаления персонала координации.
type Workflow struct {
	client *backend.Client
	engine *syncpkg.Engine
	tenant string
	logger *slog.Logger
}

// New создаёт workflow для tenant.
func New(client *backend.Client, engine *syncpkg.Engine, tenant string, logger *slog.Logger) *Workflow {
	return &Workflow{
		client: client,
		engine: engine,
		tenant: tenant,
		logger: logger.With(slog.String("component", "workflow")),
	}
}

// Promote повышает жителя до члена координации.
// Уже связанный житель отклоняется локально до обращения к backend.
// После успеха список жителей перечитывается целиком — согласование
// снимка, а не точечная мутация.
func (w *Workflow) Promote(ctx context.Context, residentID string, role model.StaffRole, position string, hasSystemAccess bool) (string, error) {
	if residentID == "" {
		return "", &backend.ValidationError{Field: "resident_id", Message: "обязательное поле"}
	}
	if !perm.ValidStaffRole(role) {
		return "", &backend.ValidationError{Field: "role", Message: fmt.Sprintf("недопустимая роль %q", role)}
	}

	resident, ok := w.engine.Residents.Get(residentID)
	if !ok {
		return "", &backend.NotFoundError{Resource: "resident", ID: residentID}
	}
	if resident.CoordinationStaffID != nil && *resident.CoordinationStaffID != "" {
		return "", &backend.ValidationError{
			Field:   "resident_id",
			Message: "житель уже связан с записью персонала",
		}
	}

	result, err := w.client.PromoteResident(ctx, residentID, role, position, hasSystemAccess)
	if err != nil {
		return "", fmt.Errorf("повышение жителя %s: %w", residentID, err)
	}

	w.logger.Info("Житель повышен до координации",
		slog.String("resident_id", residentID),
		slog.String("staff_id", result.StaffID),
		slog.String("role", string(role)),
	)

	if err := w.reconcileResidents(ctx); err != nil {
		w.logger.Warn("Согласование списка жителей после повышения не удалось",
			slog.String("error", err.Error()),
		)
	}
	return result.StaffID, nil
}

// Remove удаляет члена координации по staff id.
// Неизвестная запись — NotFoundError.
func (w *Workflow) Remove(ctx context.Context, staffID string) error {
	if staffID == "" {
		return &backend.ValidationError{Field: "staff_id", Message: "обязательное поле"}
	}

	result, err := w.client.RemoveCoordinationStaff(ctx, staffID)
	if err != nil {
		var nf *backend.NotFoundError
		if errors.As(err, &nf) {
			return err
		}
		return fmt.Errorf("удаление члена координации %s: %w", staffID, err)
	}
	if !result.Removed {
		return &backend.NotFoundError{Resource: "coordination_staff", ID: staffID}
	}

	w.logger.Info("Член координации удалён",
		slog.String("staff_id", staffID),
	)

	if err := w.reconcileResidents(ctx); err != nil {
		w.logger.Warn("Согласование списка жителей после удаления не удалось",
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// reconcileResidents перечитывает список жителей tenant и заменяет снимок.
func (w *Workflow) reconcileResidents(ctx context.Context) error {
	var residents []model.Resident
	err := w.client.SelectRows(ctx, backend.Query{
		Table:  model.TableResidents,
		Tenant: w.tenant,
		Order:  "created_at.asc",
	}, &residents)
	if err != nil {
		return err
	}
	w.engine.Residents.Replace(residents)
	w.engine.Residents.ClearStale()
	return nil
}
