// ws.go — websocket-источник change-feed.
// Одно websocket-соединение на канал: после подключения отправляется
// subscribe-кадр, дальше читаются JSON-кадры событий. Ping/pong с
// дедлайнами; разрыв соединения завершает поток с ошибкой, без
// автоматического переподключения.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bigkaa/condoflow/sync-module/internal/domain/model"
)

// WSSourceSettings — таймауты websocket-источника.
type WSSourceSettings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
}

// DefaultWSSourceSettings возвращает настройки по умолчанию.
func DefaultWSSourceSettings() WSSourceSettings {
	return WSSourceSettings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     25 * time.Second,
	}
}

// TokenProvider — функция, возвращающая текущий access token
// для авторизации websocket-соединения.
type TokenProvider func() string

// WSSource — websocket-транспорт change-feed.
type WSSource struct {
	baseURL  string
	apiKey   string
	token    TokenProvider
	settings WSSourceSettings
	logger   *slog.Logger
}

// NewWSSource создаёт websocket-источник.
// baseURL — ws(s) URL realtime endpoint backend.
// token может быть nil — соединение авторизуется только apiKey.
func NewWSSource(baseURL, apiKey string, token TokenProvider, settings WSSourceSettings, logger *slog.Logger) *WSSource {
	return &WSSource{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		token:    token,
		settings: settings,
		logger:   logger.With(slog.String("component", "realtime.ws")),
	}
}

// subscribeFrame — кадр подписки, отправляемый после подключения.
// Ref — клиентский идентификатор подписки, возвращается backend в ack-кадре.
type subscribeFrame struct {
	Ref    string `json:"ref"`
	Action string `json:"action"`
	Table  string `json:"table"`
	Schema string `json:"schema"`
	Filter string `json:"filter,omitempty"`
}

// wireEvent — кадр события на проводе.
type wireEvent struct {
	EventKind string          `json:"event_kind"`
	Schema    string          `json:"schema"`
	Table     string          `json:"table"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
	NewRecord json.RawMessage `json:"new_record,omitempty"`
}

// Open открывает websocket-соединение и подписывается на таблицу.
func (s *WSSource) Open(ctx context.Context, table, filter string) (Stream, error) {
	connURL, err := s.buildURL()
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: s.settings.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, connURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", s.baseURL, err)
	}

	// Отправляем subscribe-кадр
	frame := subscribeFrame{
		Ref:    uuid.New().String(),
		Action: "subscribe",
		Table:  table,
		Schema: "public",
		Filter: filter,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		conn.Close()
		return nil, fmt.Errorf("отправка subscribe-кадра %s: %w", table, err)
	}

	stream := &wsStream{
		conn:   conn,
		events: make(chan model.ChangeEvent, 16),
		stop:   make(chan struct{}),
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
	})

	go stream.readPump(s.settings.ReadTimeout, s.logger)
	go stream.pingPump(ctx, s.settings.PingInterval, s.settings.WriteTimeout)

	return stream, nil
}

// buildURL собирает URL соединения с apikey и access token.
func (s *WSSource) buildURL() (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("некорректный realtime URL %q: %w", s.baseURL, err)
	}
	q := u.Query()
	q.Set("apikey", s.apiKey)
	if s.token != nil {
		if tok := s.token(); tok != "" {
			q.Set("token", tok)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// wsStream — поток событий одного websocket-соединения.
// stop закрывается в Close и разблокирует отправку в events,
// если потребитель перестал читать при полном буфере.
type wsStream struct {
	conn   *websocket.Conn
	events chan model.ChangeEvent
	stop   chan struct{}

	mu        sync.Mutex
	err       error
	closed    bool
	closeOnce sync.Once
}

// Events возвращает канал событий потока.
func (st *wsStream) Events() <-chan model.ChangeEvent { return st.events }

// Err возвращает причину завершения потока (nil — чистое закрытие).
func (st *wsStream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Close закрывает соединение. Идемпотентен.
func (st *wsStream) Close() error {
	st.closeOnce.Do(func() {
		st.mu.Lock()
		st.closed = true
		st.mu.Unlock()
		close(st.stop)
		st.conn.Close()
	})
	return nil
}

// readPump читает кадры событий до разрыва соединения.
func (st *wsStream) readPump(readTimeout time.Duration, logger *slog.Logger) {
	defer close(st.events)

	for {
		_ = st.conn.SetReadDeadline(time.Now().Add(readTimeout))
		msgType, data, err := st.conn.ReadMessage()
		if err != nil {
			st.mu.Lock()
			if !st.closed {
				st.err = err
			}
			st.mu.Unlock()
			return
		}
		if msgType != websocket.TextMessage || len(data) == 0 {
			continue
		}

		var wire wireEvent
		if err := json.Unmarshal(data, &wire); err != nil {
			logger.Warn("Невалидный кадр change-feed",
				slog.String("error", err.Error()),
			)
			continue
		}
		if wire.EventKind == "" {
			// Служебный кадр (ack подписки и т.п.)
			continue
		}

		select {
		case st.events <- model.ChangeEvent{
			Kind:  model.EventKind(strings.ToLower(wire.EventKind)),
			Table: wire.Table,
			Old:   wire.OldRecord,
			New:   wire.NewRecord,
		}:
		case <-st.stop:
			return
		}
	}
}

// pingPump периодически отправляет ping до отмены контекста.
func (st *wsStream) pingPump(ctx context.Context, interval, writeTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = st.Close()
			return
		case <-ticker.C:
			_ = st.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := st.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
