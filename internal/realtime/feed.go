// Пакет realtime — подписчик change-feed backend.
// Один логический канал на пару (таблица, tenant). События одного канала
// доставляются в порядке, назначенном backend; порядок между каналами
// не гарантируется. При ошибке соединения канал переходит в состояние
// error и НЕ переподключается автоматически — retry/backoff лежит на
// вызывающей стороне.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/condoflow/sync-module/internal/domain/model"
)

// Prometheus-метрики change-feed.
var (
	feedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_feed_events_total",
		Help: "Количество событий change-feed по таблицам и типам",
	}, []string{"table", "kind"})

	feedChannelErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_feed_channel_errors_total",
		Help: "Количество переходов каналов change-feed в состояние error",
	}, []string{"table"})
)

// ErrAlreadySubscribed — канал для пары (таблица, tenant) уже открыт.
// Перед повторной подпиской необходимо вызвать Unsubscribe, иначе
// возможна дублирующаяся доставка.
var ErrAlreadySubscribed = errors.New("канал уже открыт для этой таблицы и tenant")

// ConnState — состояние соединения канала.
type ConnState int32

// Переходы: connecting → subscribed → error → closed.
const (
	StateConnecting ConnState = iota
	StateSubscribed
	StateError
	StateClosed
)

// String возвращает строковое представление состояния.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("unknown(%d)", int32(s))
}

// Handlers — обработчики событий канала. Любой может быть nil.
type Handlers struct {
	OnInsert func(model.ChangeEvent)
	OnUpdate func(model.ChangeEvent)
	OnDelete func(model.ChangeEvent)
}

// Combine объединяет несколько наборов обработчиков в один:
// каждое событие доставляется всем наборам в порядке аргументов.
func Combine(hs ...Handlers) Handlers {
	return Handlers{
		OnInsert: func(ev model.ChangeEvent) {
			for _, h := range hs {
				if h.OnInsert != nil {
					h.OnInsert(ev)
				}
			}
		},
		OnUpdate: func(ev model.ChangeEvent) {
			for _, h := range hs {
				if h.OnUpdate != nil {
					h.OnUpdate(ev)
				}
			}
		},
		OnDelete: func(ev model.ChangeEvent) {
			for _, h := range hs {
				if h.OnDelete != nil {
					h.OnDelete(ev)
				}
			}
		},
	}
}

// Stream — открытый поток событий одного источника.
// Events закрывается при завершении потока; Err после закрытия
// возвращает причину (nil — чистое закрытие).
type Stream interface {
	Events() <-chan model.ChangeEvent
	Err() error
	Close() error
}

// Source — транспорт change-feed (websocket или LISTEN/NOTIFY).
type Source interface {
	// Open открывает поток событий таблицы с фильтром-предикатом
	// (формат "колонка=eq.значение", пустая строка — без фильтра).
	Open(ctx context.Context, table, filter string) (Stream, error)
}

// channelKey — ключ канала: одна подписка на (таблица, tenant).
type channelKey struct {
	table  string
	tenant string
}

// Channel — логический канал change-feed.
// Эксклюзивно владеет своей подпиской; уничтожается при Unsubscribe
// или смене tenant scope владельца.
type Channel struct {
	key      channelKey
	filter   string
	handlers Handlers

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	sub *Subscriber
}

// State возвращает текущее состояние соединения.
func (ch *Channel) State() ConnState { return ConnState(ch.state.Load()) }

// Table возвращает имя таблицы канала.
func (ch *Channel) Table() string { return ch.key.table }

// Tenant возвращает tenant scope канала.
func (ch *Channel) Tenant() string { return ch.key.tenant }

// setState переводит канал в новое состояние с логированием перехода.
func (ch *Channel) setState(next ConnState) {
	prev := ConnState(ch.state.Swap(int32(next)))
	if prev == next {
		return
	}
	ch.sub.logger.Info("Переход состояния канала",
		slog.String("table", ch.key.table),
		slog.String("tenant", ch.key.tenant),
		slog.String("from", prev.String()),
		slog.String("to", next.String()),
	)
}

// Subscriber — реестр каналов change-feed поверх одного Source.
type Subscriber struct {
	source Source
	logger *slog.Logger

	mu       sync.Mutex
	channels map[channelKey]*Channel
}

// New создаёт подписчик change-feed.
func New(source Source, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		source:   source,
		logger:   logger.With(slog.String("component", "realtime")),
		channels: make(map[channelKey]*Channel),
	}
}

// Subscribe открывает канал (таблица, tenant) с фильтром по умолчанию
// condominium_id=eq.<tenant>.
func (s *Subscriber) Subscribe(ctx context.Context, table, tenant string, h Handlers) (*Channel, error) {
	return s.SubscribeFiltered(ctx, table, tenant, "condominium_id=eq."+tenant, h)
}

// SubscribeFiltered открывает канал с явным фильтром-предикатом
// (используется для подписок на одну строку, например "id=eq.<profile_id>").
func (s *Subscriber) SubscribeFiltered(ctx context.Context, table, tenant, filter string, h Handlers) (*Channel, error) {
	key := channelKey{table: table, tenant: tenant}

	s.mu.Lock()
	if _, exists := s.channels[key]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s/%s", ErrAlreadySubscribed, table, tenant)
	}

	chCtx, cancel := context.WithCancel(ctx)
	ch := &Channel{
		key:      key,
		filter:   filter,
		handlers: h,
		cancel:   cancel,
		done:     make(chan struct{}),
		sub:      s,
	}
	ch.state.Store(int32(StateConnecting))
	s.channels[key] = ch
	s.mu.Unlock()

	stream, err := s.source.Open(chCtx, table, filter)
	if err != nil {
		ch.setState(StateError)
		feedChannelErrors.WithLabelValues(table).Inc()
		s.remove(key)
		cancel()
		close(ch.done)
		return nil, fmt.Errorf("открытие потока %s: %w", table, err)
	}

	ch.setState(StateSubscribed)
	go s.pump(ch, stream)
	return ch, nil
}

// pump доставляет события потока обработчикам канала.
// Выполняется в одной горутине на канал — порядок внутри канала сохраняется.
func (s *Subscriber) pump(ch *Channel, stream Stream) {
	defer close(ch.done)
	defer stream.Close() //nolint:errcheck

	for ev := range stream.Events() {
		// Не применять события после выхода из scope владельца
		if ch.State() != StateSubscribed {
			return
		}
		ev.Tenant = ch.key.tenant
		feedEventsTotal.WithLabelValues(ch.key.table, string(ev.Kind)).Inc()
		dispatch(ch.handlers, ev)
	}

	if err := stream.Err(); err != nil && ch.State() == StateSubscribed {
		ch.setState(StateError)
		feedChannelErrors.WithLabelValues(ch.key.table).Inc()
		s.logger.Error("Поток change-feed завершился ошибкой",
			slog.String("table", ch.key.table),
			slog.String("tenant", ch.key.tenant),
			slog.String("error", err.Error()),
		)
	}
}

// dispatch вызывает обработчик, соответствующий типу события.
func dispatch(h Handlers, ev model.ChangeEvent) {
	switch ev.Kind {
	case model.EventInsert:
		if h.OnInsert != nil {
			h.OnInsert(ev)
		}
	case model.EventUpdate:
		if h.OnUpdate != nil {
			h.OnUpdate(ev)
		}
	case model.EventDelete:
		if h.OnDelete != nil {
			h.OnDelete(ev)
		}
	}
}

// Unsubscribe закрывает канал. Идемпотентен: повторный вызов и вызов
// на уже закрытом канале безопасны.
func (s *Subscriber) Unsubscribe(ch *Channel) {
	if ch == nil {
		return
	}
	ch.once.Do(func() {
		ch.setState(StateClosed)
		ch.cancel()
		s.remove(ch.key)
	})
}

// UnsubscribeAll закрывает все открытые каналы (смена tenant, shutdown).
func (s *Subscriber) UnsubscribeAll() {
	s.mu.Lock()
	channels := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	for _, ch := range channels {
		s.Unsubscribe(ch)
	}
}

// States возвращает снимок состояний открытых каналов: таблица → состояние.
func (s *Subscriber) States() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make(map[string]string, len(s.channels))
	for key, ch := range s.channels {
		states[key.table] = ch.State().String()
	}
	return states
}

// remove удаляет канал из реестра.
func (s *Subscriber) remove(key channelKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, key)
}
