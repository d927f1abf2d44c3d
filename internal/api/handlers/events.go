// events.go — SSE (Server-Sent Events) endpoint Sync Module:
// поток уведомлений и периодические статусы каналов change-feed.
// Каждый SSE-клиент обслуживается отдельной горутиной.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bigkaa/condoflow/sync-module/internal/notify"
	"github.com/bigkaa/condoflow/sync-module/internal/realtime"
)

// EventsHandler — обработчик SSE endpoint /api/v1/events.
type EventsHandler struct {
	center      *notify.Center
	sub         *realtime.Subscriber
	sseInterval time.Duration
	logger      *slog.Logger
}

// NewEventsHandler создаёт обработчик SSE.
// sseInterval — интервал отправки статусов change-feed (SM_SSE_INTERVAL).
func NewEventsHandler(center *notify.Center, sub *realtime.Subscriber, sseInterval time.Duration, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		center:      center,
		sub:         sub,
		sseInterval: sseInterval,
		logger:      logger.With(slog.String("component", "api_events")),
	}
}

// feedStatusEvent — SSE-событие статусов каналов change-feed.
type feedStatusEvent struct {
	Channels map[string]string `json:"channels"`
}

// HandleEvents обрабатывает GET /api/v1/events — SSE endpoint.
// Уведомления отправляются по мере поступления, статусы change-feed —
// периодически. Формат: event: notification\ndata: {json}\n\n,
// event: feed-status\ndata: {json}\n\n.
// Graceful disconnect при закрытии клиентом соединения (context cancel).
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	// Настраиваем заголовки SSE
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Отключаем буферизацию Nginx

	// Используем http.ResponseController для корректной работы Flush()
	// через обёрнутый ResponseWriter (logging middleware и др.).
	// ResponseController вызывает Unwrap() и находит оригинальный http.Flusher.
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		http.Error(w, "SSE не поддерживается", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()

	events, unsubscribe := h.center.Subscribe(64)
	defer unsubscribe()

	h.logger.Debug("SSE клиент подключён",
		slog.String("remote_addr", r.RemoteAddr),
	)

	// Отправляем статус change-feed сразу при подключении
	h.sendFeedStatus(w, rc)

	ticker := time.NewTicker(h.sseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Клиент отключился
			h.logger.Debug("SSE клиент отключён",
				slog.String("remote_addr", r.RemoteAddr),
			)
			return
		case n := <-events:
			h.sendNotification(w, rc, n)
		case <-ticker.C:
			h.sendFeedStatus(w, rc)
		}
	}
}

// sendNotification отправляет SSE-событие с одним уведомлением.
func (h *EventsHandler) sendNotification(w http.ResponseWriter, rc *http.ResponseController, n notify.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		h.logger.Error("Ошибка сериализации notification", slog.String("error", err.Error()))
		return
	}

	// Формат SSE: event: notification\ndata: {json}\n\n
	fmt.Fprintf(w, "event: notification\ndata: %s\n\n", data)
	_ = rc.Flush()
}

// sendFeedStatus отправляет SSE-событие со статусами каналов change-feed.
func (h *EventsHandler) sendFeedStatus(w http.ResponseWriter, rc *http.ResponseController) {
	event := feedStatusEvent{Channels: h.sub.States()}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Ошибка сериализации feed-status", slog.String("error", err.Error()))
		return
	}

	fmt.Fprintf(w, "event: feed-status\ndata: %s\n\n", data)
	_ = rc.Flush()
}
