// pglisten.go — источник change-feed поверх PostgreSQL LISTEN/NOTIFY.
// Для развёртываний с прямым доступом к БД backend: серверные триггеры
// публикуют события в каналы cdc_<таблица>, payload — JSON ChangeEvent.
// Фильтр-предикат применяется на клиенте (NOTIFY не умеет фильтровать).
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/condoflow/sync-module/internal/domain/model"
)

// PGListenSource — LISTEN/NOTIFY транспорт change-feed.
// Каждый Open открывает выделенное соединение: WaitForNotification
// блокирует соединение целиком.
type PGListenSource struct {
	connString string
	logger     *slog.Logger
}

// NewPGListenSource создаёт LISTEN/NOTIFY источник.
func NewPGListenSource(connString string, logger *slog.Logger) *PGListenSource {
	return &PGListenSource{
		connString: connString,
		logger:     logger.With(slog.String("component", "realtime.pglisten")),
	}
}

// Open открывает выделенное соединение и подписывается на канал таблицы.
func (s *PGListenSource) Open(ctx context.Context, table, filter string) (Stream, error) {
	conn, err := pgx.Connect(ctx, s.connString)
	if err != nil {
		return nil, fmt.Errorf("подключение к PostgreSQL: %w", err)
	}

	channelName := "cdc_" + table
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channelName}.Sanitize()); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("LISTEN %s: %w", channelName, err)
	}

	col, val := parseEqFilter(filter)
	stream := &pgStream{
		conn:      conn,
		events:    make(chan model.ChangeEvent, 16),
		filterCol: col,
		filterVal: val,
		cancel:    func() {},
	}

	listenCtx, cancel := context.WithCancel(ctx)
	stream.cancel = cancel
	go stream.listen(listenCtx, table, s.logger)

	return stream, nil
}

// parseEqFilter разбирает предикат формата "колонка=eq.значение".
// Пустой фильтр — ("", "").
func parseEqFilter(filter string) (col, val string) {
	if filter == "" {
		return "", ""
	}
	parts := strings.SplitN(filter, "=eq.", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

// pgStream — поток событий одного LISTEN-соединения.
type pgStream struct {
	conn      *pgx.Conn
	events    chan model.ChangeEvent
	filterCol string
	filterVal string
	cancel    context.CancelFunc

	mu        sync.Mutex
	err       error
	closed    bool
	closeOnce sync.Once
}

// Events возвращает канал событий потока.
func (st *pgStream) Events() <-chan model.ChangeEvent { return st.events }

// Err возвращает причину завершения потока (nil — чистое закрытие).
func (st *pgStream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Close закрывает соединение. Идемпотентен.
func (st *pgStream) Close() error {
	st.closeOnce.Do(func() {
		st.mu.Lock()
		st.closed = true
		st.mu.Unlock()
		st.cancel()
	})
	return nil
}

// listen принимает уведомления до отмены контекста или ошибки соединения.
func (st *pgStream) listen(ctx context.Context, table string, logger *slog.Logger) {
	defer close(st.events)
	defer st.conn.Close(context.Background()) //nolint:errcheck

	for {
		notification, err := st.conn.WaitForNotification(ctx)
		if err != nil {
			st.mu.Lock()
			if !st.closed && ctx.Err() == nil {
				st.err = err
			}
			st.mu.Unlock()
			return
		}

		var ev model.ChangeEvent
		if err := json.Unmarshal([]byte(notification.Payload), &ev); err != nil {
			logger.Warn("Невалидный payload NOTIFY",
				slog.String("table", table),
				slog.String("error", err.Error()),
			)
			continue
		}
		ev.Kind = model.EventKind(strings.ToLower(string(ev.Kind)))
		if ev.Table == "" {
			ev.Table = table
		}

		if !st.matches(ev) {
			continue
		}

		select {
		case st.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// matches применяет клиентский фильтр-предикат к событию:
// значение колонки берётся из новой версии строки, для delete — из старой.
func (st *pgStream) matches(ev model.ChangeEvent) bool {
	if st.filterCol == "" {
		return true
	}
	if fieldEquals(ev.New, st.filterCol, st.filterVal) {
		return true
	}
	return fieldEquals(ev.Old, st.filterCol, st.filterVal)
}

// fieldEquals проверяет равенство поля raw JSON-строки значению.
func fieldEquals(raw json.RawMessage, col, val string) bool {
	if len(raw) == 0 {
		return false
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	got, ok := fields[col]
	if !ok {
		return false
	}
	return fmt.Sprintf("%v", got) == val
}
