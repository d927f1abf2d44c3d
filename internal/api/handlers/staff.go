// staff.go — endpoints управления координационным персоналом.
// Единственные мутирующие операции фасада; вся остальная запись
// идёт в backend напрямую, минуя модуль.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/condoflow/sync-module/internal/api/errors"
	"github.com/bigkaa/condoflow/sync-module/internal/domain/model"
	"github.com/bigkaa/condoflow/sync-module/internal/workflow"
)

// StaffHandler — обработчик операций над персоналом координации.
type StaffHandler struct {
	workflow *workflow.Workflow
	logger   *slog.Logger
}

// NewStaffHandler создаёт обработчик операций над персоналом.
func NewStaffHandler(wf *workflow.Workflow, logger *slog.Logger) *StaffHandler {
	return &StaffHandler{
		workflow: wf,
		logger:   logger.With(slog.String("component", "api_staff")),
	}
}

// promoteRequest — тело POST /api/v1/staff/promote.
type promoteRequest struct {
	ResidentID      string          `json:"resident_id"`
	Role            model.StaffRole `json:"role"`
	Position        string          `json:"position"`
	HasSystemAccess bool            `json:"has_system_access"`
}

// promoteResponse — ответ успешного повышения.
type promoteResponse struct {
	StaffID string `json:"staff_id"`
}

// Promote — POST /api/v1/staff/promote.
// Повышает жителя до члена координации через атомарный RPC backend.
func (h *StaffHandler) Promote(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "некорректное тело запроса: "+err.Error())
		return
	}

	staffID, err := h.workflow.Promote(r.Context(), req.ResidentID, req.Role, req.Position, req.HasSystemAccess)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, promoteResponse{StaffID: staffID})
}

// Remove — DELETE /api/v1/staff/{id}.
// Удаляет члена координации; связанный профиль отвязывается на backend.
func (h *StaffHandler) Remove(w http.ResponseWriter, r *http.Request) {
	staffID := chi.URLParam(r, "id")

	if err := h.workflow.Remove(r.Context(), staffID); err != nil {
		apierrors.FromError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
