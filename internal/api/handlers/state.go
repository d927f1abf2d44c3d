// state.go — read-only фасад локального состояния Sync Module.
// Отдаёт разрешения текущего пользователя, снимки сущностей,
// финансовую статистику и последние уведомления.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/condoflow/sync-module/internal/api/errors"
	"github.com/bigkaa/condoflow/sync-module/internal/domain/model"
	"github.com/bigkaa/condoflow/sync-module/internal/notify"
	"github.com/bigkaa/condoflow/sync-module/internal/resolver"
	"github.com/bigkaa/condoflow/sync-module/internal/session"
	syncpkg "github.com/bigkaa/condoflow/sync-module/internal/sync"
)

// StateHandler — обработчик endpoints локального состояния.
type StateHandler struct {
	sessions *session.Store
	resolver *resolver.Resolver
	engine   *syncpkg.Engine
	finance  *syncpkg.FinanceSync
	center   *notify.Center
	logger   *slog.Logger
}

// NewStateHandler создаёт обработчик endpoints состояния.
func NewStateHandler(
	sessions *session.Store,
	res *resolver.Resolver,
	engine *syncpkg.Engine,
	finance *syncpkg.FinanceSync,
	center *notify.Center,
	logger *slog.Logger,
) *StateHandler {
	return &StateHandler{
		sessions: sessions,
		resolver: res,
		engine:   engine,
		finance:  finance,
		center:   center,
		logger:   logger.With(slog.String("component", "api_state")),
	}
}

// permissionsResponse — ответ GET /api/v1/state/permissions.
type permissionsResponse struct {
	UserID      string              `json:"user_id"`
	Role        model.Role          `json:"role,omitempty"`
	Permissions model.PermissionSet `json:"permissions"`
}

// GetPermissions — GET /api/v1/state/permissions.
// Разрешает набор разрешений текущего пользователя сессии.
// Ошибка RPC отдаёт пустой набор со статусом 200: состояние модуля
// валидно (fail-closed), клиенту не нужно различать причины отказа.
func (h *StateHandler) GetPermissions(w http.ResponseWriter, r *http.Request) {
	ident := h.sessions.CurrentIdentity()
	if ident == nil {
		apierrors.Unauthorized(w, "Нет активной сессии")
		return
	}

	set, err := h.resolver.Resolve(r.Context(), ident)
	if err != nil {
		h.logger.Warn("Разрешение прав завершилось ошибкой, отдан пустой набор",
			slog.String("user_id", ident.UserID),
			slog.String("error", err.Error()),
		)
	}

	resp := permissionsResponse{
		UserID:      ident.UserID,
		Permissions: set,
	}
	if ident.Profile != nil {
		resp.Role = ident.Profile.Role
	}
	writeJSON(w, http.StatusOK, resp)
}

// entitiesResponse — ответ GET /api/v1/state/entities/{type}.
type entitiesResponse struct {
	Type  string `json:"type"`
	Stale bool   `json:"stale"`
	Items any    `json:"items"`
}

// GetEntities — GET /api/v1/state/entities/{type}.
// Отдаёт локальный снимок таблицы вместе с признаком stale.
func (h *StateHandler) GetEntities(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "type")

	snap, ok := h.engine.Snapshot(entityType)
	if !ok {
		apierrors.ValidationError(w, fmt.Sprintf("неизвестный тип сущности %q", entityType))
		return
	}

	writeJSON(w, http.StatusOK, entitiesResponse{
		Type:  entityType,
		Stale: h.engine.Stale(entityType),
		Items: snap,
	})
}

// GetStats — GET /api/v1/state/stats.
// Отдаёт последний снимок финансовой статистики.
func (h *StateHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := h.finance.Stats()
	if stats == nil {
		apierrors.NotFound(w, "финансовая статистика ещё не загружена")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetNotifications — GET /api/v1/notifications?limit=N.
// Отдаёт последние уведомления из кольцевого буфера (от старых к новым).
func (h *StateHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			apierrors.ValidationError(w, fmt.Sprintf("некорректный limit %q", raw))
			return
		}
		limit = n
	}

	items := h.center.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": items,
		"count":         len(items),
	})
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
