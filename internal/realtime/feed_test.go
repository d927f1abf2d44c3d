package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/condoflow/sync-module/internal/domain/model"
)

// fakeStream — управляемый поток событий для тестов.
type fakeStream struct {
	events chan model.ChangeEvent

	mu  sync.Mutex
	err error
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan model.ChangeEvent, 32)}
}

func (st *fakeStream) Events() <-chan model.ChangeEvent { return st.events }

func (st *fakeStream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

func (st *fakeStream) Close() error { return nil }

// finish закрывает поток с указанной причиной.
func (st *fakeStream) finish(err error) {
	st.mu.Lock()
	st.err = err
	st.mu.Unlock()
	close(st.events)
}

// fakeSource — источник, выдающий заранее созданные потоки.
type fakeSource struct {
	mu      sync.Mutex
	streams map[string]*fakeStream // table → stream
	filters map[string]string      // table → полученный фильтр
	openErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		streams: make(map[string]*fakeStream),
		filters: make(map[string]string),
	}
}

func (s *fakeSource) Open(_ context.Context, table, filter string) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	st := newFakeStream()
	s.streams[table] = st
	s.filters[table] = filter
	return st, nil
}

func (s *fakeSource) stream(table string) *fakeStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[table]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// insertEvent создаёт insert-событие с указанным id.
func insertEvent(table, id string) model.ChangeEvent {
	rec, _ := json.Marshal(map[string]string{"id": id})
	return model.ChangeEvent{Kind: model.EventInsert, Table: table, New: rec}
}

func TestSubscribe_DeliveryOrder(t *testing.T) {
	source := newFakeSource()
	sub := New(source, testLogger())

	var mu sync.Mutex
	var got []string
	delivered := make(chan struct{}, 16)

	ch, err := sub.Subscribe(context.Background(), "payments", "condo-1", Handlers{
		OnInsert: func(ev model.ChangeEvent) {
			mu.Lock()
			got = append(got, ev.RecordID())
			mu.Unlock()
			delivered <- struct{}{}
		},
	})
	if err != nil {
		t.Fatalf("Subscribe() ошибка: %v", err)
	}
	defer sub.Unsubscribe(ch)

	if ch.State() != StateSubscribed {
		t.Fatalf("состояние = %s, хотели subscribed", ch.State())
	}

	stream := source.stream("payments")
	for _, id := range []string{"a", "b", "c"} {
		stream.events <- insertEvent("payments", id)
	}
	for range 3 {
		select {
		case <-delivered:
		case <-time.After(time.Second):
			t.Fatal("событие не доставлено за 1s")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("порядок доставки = %v, хотели [a b c]", got)
	}
}

func TestSubscribe_DefaultTenantFilter(t *testing.T) {
	source := newFakeSource()
	sub := New(source, testLogger())

	ch, err := sub.Subscribe(context.Background(), "residents", "condo-7", Handlers{})
	if err != nil {
		t.Fatalf("Subscribe() ошибка: %v", err)
	}
	defer sub.Unsubscribe(ch)

	if got := source.filters["residents"]; got != "condominium_id=eq.condo-7" {
		t.Errorf("фильтр = %q, хотели condominium_id=eq.condo-7", got)
	}
}

func TestSubscribe_Duplicate(t *testing.T) {
	source := newFakeSource()
	sub := New(source, testLogger())

	ch, err := sub.Subscribe(context.Background(), "payments", "condo-1", Handlers{})
	if err != nil {
		t.Fatalf("Subscribe() ошибка: %v", err)
	}
	defer sub.Unsubscribe(ch)

	_, err = sub.Subscribe(context.Background(), "payments", "condo-1", Handlers{})
	if !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("хотели ErrAlreadySubscribed, получили %v", err)
	}

	// Другой tenant — отдельный канал
	ch2, err := sub.Subscribe(context.Background(), "payments", "condo-2", Handlers{})
	if err != nil {
		t.Fatalf("Subscribe() для другого tenant: %v", err)
	}
	sub.Unsubscribe(ch2)
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	source := newFakeSource()
	sub := New(source, testLogger())

	ch, err := sub.Subscribe(context.Background(), "visitors", "condo-1", Handlers{})
	if err != nil {
		t.Fatalf("Subscribe() ошибка: %v", err)
	}

	sub.Unsubscribe(ch)
	sub.Unsubscribe(ch) // повторный вызов безопасен
	sub.Unsubscribe(nil)

	if ch.State() != StateClosed {
		t.Errorf("состояние = %s, хотели closed", ch.State())
	}

	// После Unsubscribe подписка на тот же ключ снова возможна
	ch2, err := sub.Subscribe(context.Background(), "visitors", "condo-1", Handlers{})
	if err != nil {
		t.Fatalf("повторная подписка после Unsubscribe: %v", err)
	}
	sub.Unsubscribe(ch2)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	source := newFakeSource()
	sub := New(source, testLogger())

	var delivered atomicCounter
	ch, err := sub.Subscribe(context.Background(), "expenses", "condo-1", Handlers{
		OnInsert: func(model.ChangeEvent) { delivered.inc() },
	})
	if err != nil {
		t.Fatalf("Subscribe() ошибка: %v", err)
	}

	sub.Unsubscribe(ch)

	// События после выхода из scope не применяются
	stream := source.stream("expenses")
	stream.events <- insertEvent("expenses", "late")
	stream.finish(nil)

	waitFor(t, func() bool { return ch.State() == StateClosed })
	time.Sleep(20 * time.Millisecond)

	if delivered.value() != 0 {
		t.Errorf("доставлено %d событий после Unsubscribe, хотели 0", delivered.value())
	}
}

func TestStreamError_NoRetry(t *testing.T) {
	source := newFakeSource()
	sub := New(source, testLogger())

	ch, err := sub.Subscribe(context.Background(), "occurrences", "condo-1", Handlers{})
	if err != nil {
		t.Fatalf("Subscribe() ошибка: %v", err)
	}

	source.stream("occurrences").finish(errors.New("соединение разорвано"))

	waitFor(t, func() bool { return ch.State() == StateError })

	// Канал остаётся в реестре в состоянии error — переподключение
	// лежит на вызывающей стороне
	if got := sub.States()["occurrences"]; got != "error" {
		t.Errorf("States()[occurrences] = %q, хотели error", got)
	}

	source.mu.Lock()
	opened := len(source.streams)
	source.mu.Unlock()
	if opened != 1 {
		t.Errorf("источник открыт %d раз, хотели 1 (без авто-retry)", opened)
	}

	sub.Unsubscribe(ch)
}

func TestSubscribe_OpenError(t *testing.T) {
	source := newFakeSource()
	source.openErr = errors.New("backend недоступен")
	sub := New(source, testLogger())

	_, err := sub.Subscribe(context.Background(), "payments", "condo-1", Handlers{})
	if err == nil {
		t.Fatal("хотели ошибку, получили nil")
	}

	// Неудачная подписка не должна блокировать повторную попытку
	source.openErr = nil
	ch, err := sub.Subscribe(context.Background(), "payments", "condo-1", Handlers{})
	if err != nil {
		t.Fatalf("повторная подписка: %v", err)
	}
	sub.Unsubscribe(ch)
}

func TestParseEqFilter(t *testing.T) {
	tests := []struct {
		filter  string
		wantCol string
		wantVal string
	}{
		{"condominium_id=eq.condo-1", "condominium_id", "condo-1"},
		{"id=eq.profile-42", "id", "profile-42"},
		{"", "", ""},
		{"garbage", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			col, val := parseEqFilter(tt.filter)
			if col != tt.wantCol || val != tt.wantVal {
				t.Errorf("parseEqFilter(%q) = (%q, %q), хотели (%q, %q)",
					tt.filter, col, val, tt.wantCol, tt.wantVal)
			}
		})
	}
}

func TestFieldEquals(t *testing.T) {
	rec := json.RawMessage(`{"condominium_id":"condo-1","amount":100}`)

	if !fieldEquals(rec, "condominium_id", "condo-1") {
		t.Error("fieldEquals не нашёл совпадение по строке")
	}
	if !fieldEquals(rec, "amount", "100") {
		t.Error("fieldEquals не нашёл совпадение по числу")
	}
	if fieldEquals(rec, "condominium_id", "condo-2") {
		t.Error("fieldEquals дал ложное совпадение")
	}
	if fieldEquals(nil, "condominium_id", "condo-1") {
		t.Error("fieldEquals на пустой строке должен вернуть false")
	}
}

// --- Вспомогательные типы ---

// atomicCounter — потокобезопасный счётчик для тестов.
type atomicCounter struct {
	mu sync.Mutex
	n  int
}

func (c *atomicCounter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *atomicCounter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// waitFor ждёт выполнения условия до 1 секунды.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("условие не выполнено за 1s")
}
