// health.go — обработчики health endpoints Sync Module.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (backend + change-feed)
// /metrics — Prometheus метрики
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/condoflow/sync-module/internal/config"
	"github.com/bigkaa/condoflow/sync-module/internal/realtime"
)

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	backendChecker ReadinessChecker
	feedChecker    ReadinessChecker
	promHandler    http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// backendChecker — проверка backend, feedChecker — проверка change-feed.
// Оба могут быть nil (readiness вернёт "fail" для nil зависимостей).
func NewHealthHandler(backendChecker, feedChecker ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		backendChecker: backendChecker,
		feedChecker:    feedChecker,
		promHandler:    promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	Checks    struct {
		Backend healthCheckResult `json:"backend"`
		Feed    healthCheckResult `json:"feed"`
	} `json:"checks"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	resp := healthLiveResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "sync-module",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady — readiness probe. Проверяет backend и change-feed.
// Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "sync-module",
	}

	// Проверяем backend
	if h.backendChecker != nil {
		status, msg := h.backendChecker.CheckReady()
		resp.Checks.Backend = healthCheckResult{Status: status, Message: msg}
	} else {
		resp.Checks.Backend = healthCheckResult{Status: "fail", Message: "не инициализирован"}
	}

	// Проверяем change-feed
	if h.feedChecker != nil {
		status, msg := h.feedChecker.CheckReady()
		resp.Checks.Feed = healthCheckResult{Status: status, Message: msg}
	} else {
		resp.Checks.Feed = healthCheckResult{Status: "fail", Message: "не инициализирован"}
	}

	// Определяем итоговый статус
	resp.Status = overallStatus(resp.Checks.Backend.Status, resp.Checks.Feed.Status)

	w.Header().Set("Content-Type", "application/json")
	if resp.Status == "fail" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail — итог fail.
// Если хотя бы одна degraded — итог degraded.
// Иначе — ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == "fail" {
			return "fail"
		}
		if s == "degraded" {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return "degraded"
	}
	return "ok"
}

// FeedReadinessChecker — проверка состояния каналов change-feed.
// Канал в состоянии error → degraded: модуль обслуживает запросы из
// локальных снимков, но события больше не приходят.
type FeedReadinessChecker struct {
	sub *realtime.Subscriber
}

// NewFeedReadinessChecker создаёт checker поверх подписчика change-feed.
func NewFeedReadinessChecker(sub *realtime.Subscriber) *FeedReadinessChecker {
	return &FeedReadinessChecker{sub: sub}
}

// CheckReady возвращает статус каналов change-feed.
func (f *FeedReadinessChecker) CheckReady() (string, string) {
	states := f.sub.States()
	if len(states) == 0 {
		return "degraded", "нет открытых каналов change-feed"
	}

	errored := 0
	connecting := 0
	for _, state := range states {
		switch state {
		case "error":
			errored++
		case "connecting":
			connecting++
		}
	}

	switch {
	case errored > 0:
		return "degraded", fmt.Sprintf("каналов в ошибке: %d из %d", errored, len(states))
	case connecting > 0:
		return "degraded", fmt.Sprintf("каналов подключается: %d из %d", connecting, len(states))
	default:
		return "ok", fmt.Sprintf("каналов открыто: %d", len(states))
	}
}
