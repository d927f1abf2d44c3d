package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bigkaa/condoflow/sync-module/internal/domain/model"
	"github.com/bigkaa/condoflow/sync-module/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T) (*Engine, *notify.Center) {
	t.Helper()
	center := notify.NewCenter(64, testLogger())
	return NewEngine(center, testLogger()), center
}

func event(kind model.EventKind, table, oldJSON, newJSON string) model.ChangeEvent {
	ev := model.ChangeEvent{Kind: kind, Table: table, Tenant: "condo-1"}
	if oldJSON != "" {
		ev.Old = []byte(oldJSON)
	}
	if newJSON != "" {
		ev.New = []byte(newJSON)
	}
	return ev
}

func TestHooks_InsertThenUpdateCollapses(t *testing.T) {
	e, _ := newEngine(t)
	h := e.Handlers(model.TablePayments)

	h.OnInsert(event(model.EventInsert, model.TablePayments, "",
		`{"id":"p1","condominium_id":"condo-1","amount":100,"status":"pending"}`))
	h.OnUpdate(event(model.EventUpdate, model.TablePayments,
		`{"id":"p1","condominium_id":"condo-1","amount":100,"status":"pending"}`,
		`{"id":"p1","condominium_id":"condo-1","amount":100,"status":"paid"}`))

	// Одна запись с актуальными значениями, не две
	if e.Payments.Len() != 1 {
		t.Fatalf("записей %d, хотели 1", e.Payments.Len())
	}
	p, _ := e.Payments.Get("p1")
	if p.Status != "paid" {
		t.Errorf("статус = %q, хотели paid", p.Status)
	}
}

func TestHooks_DuplicateInsertIdempotent(t *testing.T) {
	e, _ := newEngine(t)
	h := e.Handlers(model.TableResidents)

	ev := event(model.EventInsert, model.TableResidents, "",
		`{"id":"r1","condominium_id":"condo-1","name":"Ана"}`)
	h.OnInsert(ev)
	h.OnInsert(ev) // повторная доставка

	if e.Residents.Len() != 1 {
		t.Errorf("записей %d после дублированной доставки, хотели 1", e.Residents.Len())
	}
}

func TestHooks_DoubleDeleteIdempotent(t *testing.T) {
	e, _ := newEngine(t)
	h := e.Handlers(model.TableOccurrences)

	h.OnInsert(event(model.EventInsert, model.TableOccurrences, "",
		`{"id":"o1","condominium_id":"condo-1","title":"Шум","status":"open"}`))

	del := event(model.EventDelete, model.TableOccurrences,
		`{"id":"o1"}`, "")
	h.OnDelete(del)
	h.OnDelete(del) // повторное удаление — no-op

	if e.Occurrences.Len() != 0 {
		t.Errorf("записей %d после удаления, хотели 0", e.Occurrences.Len())
	}
}

func TestHooks_DeleteAbsentNoop(t *testing.T) {
	e, _ := newEngine(t)
	h := e.Handlers(model.TableDocuments)

	// Удаление никогда не виданной строки не паникует и ничего не меняет
	h.OnDelete(event(model.EventDelete, model.TableDocuments, `{"id":"призрак"}`, ""))
	if e.Documents.Len() != 0 {
		t.Errorf("записей %d, хотели 0", e.Documents.Len())
	}
}

func TestHooks_MarkStale(t *testing.T) {
	e, _ := newEngine(t)
	h := e.Handlers(model.TableExpenses)

	if e.Expenses.Stale() {
		t.Fatal("хранилище stale до событий")
	}
	h.OnInsert(event(model.EventInsert, model.TableExpenses, "",
		`{"id":"e1","condominium_id":"condo-1","description":"Ремонт","amount":50,"status":"pending"}`))
	if !e.Expenses.Stale() {
		t.Error("insert не пометил кэш устаревшим")
	}
}

func collectClasses(ch <-chan notify.Notification) []notify.Class {
	var classes []notify.Class
	for {
		select {
		case n := <-ch:
			classes = append(classes, n.Class)
		default:
			return classes
		}
	}
}

func TestHooks_PaymentStatusTransition(t *testing.T) {
	e, center := newEngine(t)
	ch, unsubscribe := center.Subscribe(16)
	defer unsubscribe()

	h := e.Handlers(model.TablePayments)
	h.OnUpdate(event(model.EventUpdate, model.TablePayments,
		`{"id":"p1","status":"pending"}`,
		`{"id":"p1","status":"paid"}`))

	classes := collectClasses(ch)
	found := false
	for _, c := range classes {
		if c == notify.ClassPaymentStatus {
			found = true
		}
	}
	if !found {
		t.Errorf("классы уведомлений %v, хотели payment_status", classes)
	}
}

func TestHooks_UpdateWithoutTransition(t *testing.T) {
	e, center := newEngine(t)
	ch, unsubscribe := center.Subscribe(16)
	defer unsubscribe()

	h := e.Handlers(model.TablePayments)
	h.OnUpdate(event(model.EventUpdate, model.TablePayments,
		`{"id":"p1","status":"pending","amount":100}`,
		`{"id":"p1","status":"pending","amount":120}`))

	for _, c := range collectClasses(ch) {
		if c == notify.ClassPaymentStatus {
			t.Error("уведомление о переходе статуса без смены статуса")
		}
	}
}

func TestHooks_VisitorApproved(t *testing.T) {
	e, center := newEngine(t)
	ch, unsubscribe := center.Subscribe(16)
	defer unsubscribe()

	h := e.Handlers(model.TableVisitors)
	h.OnUpdate(event(model.EventUpdate, model.TableVisitors,
		`{"id":"v1","name":"Педро","approved":false}`,
		`{"id":"v1","name":"Педро","approved":true}`))

	found := false
	for _, c := range collectClasses(ch) {
		if c == notify.ClassVisitorApproved {
			found = true
		}
	}
	if !found {
		t.Error("не получено уведомление visitor_approved")
	}
}

func TestEngine_Snapshot(t *testing.T) {
	e, _ := newEngine(t)
	h := e.Handlers(model.TableAnnouncements)
	h.OnInsert(event(model.EventInsert, model.TableAnnouncements, "",
		`{"id":"a1","title":"Собрание"}`))

	snap, ok := e.Snapshot(model.TableAnnouncements)
	if !ok {
		t.Fatal("Snapshot() не нашёл таблицу announcements")
	}
	items, ok := snap.([]model.Announcement)
	if !ok || len(items) != 1 || items[0].Title != "Собрание" {
		t.Errorf("снимок = %+v", snap)
	}

	if _, ok := e.Snapshot("неизвестная"); ok {
		t.Error("Snapshot() принял неизвестную таблицу")
	}
}

// fakeStats — управляемый источник финансовой статистики.
type fakeStats struct {
	stats model.FinancialStats
	err   error
	calls int
}

func (f *fakeStats) ObterSaldoDisponivel(_ context.Context, _ string) (model.FinancialStats, error) {
	f.calls++
	return f.stats, f.err
}

func TestFinance_Refresh(t *testing.T) {
	f := &fakeStats{stats: model.FinancialStats{
		AnoAtual:        2026,
		ReceitaAtual:    1000,
		SaldoDisponivel: -250, // дефицит не обнуляется
	}}
	center := notify.NewCenter(16, testLogger())
	fin := NewFinanceSync(f, center, "condo-1", time.Minute, testLogger())

	if fin.Stats() != nil {
		t.Fatal("статистика до загрузки должна быть nil")
	}
	if err := fin.RefreshStats(context.Background()); err != nil {
		t.Fatalf("RefreshStats() ошибка: %v", err)
	}

	stats := fin.Stats()
	if stats == nil || stats.SaldoDisponivel != -250 {
		t.Errorf("статистика = %+v, хотели отрицательный остаток -250", stats)
	}
}

func TestFinance_ErrorKeepsPrevious(t *testing.T) {
	f := &fakeStats{stats: model.FinancialStats{AnoAtual: 2026, SaldoDisponivel: 500}}
	center := notify.NewCenter(16, testLogger())
	fin := NewFinanceSync(f, center, "condo-1", time.Minute, testLogger())

	if err := fin.RefreshStats(context.Background()); err != nil {
		t.Fatal(err)
	}

	f.err = errors.New("backend недоступен")
	if err := fin.RefreshStats(context.Background()); err == nil {
		t.Fatal("хотели ошибку")
	}

	// Предыдущий снимок не затёрт
	if stats := fin.Stats(); stats == nil || stats.SaldoDisponivel != 500 {
		t.Errorf("статистика = %+v, хотели предыдущий снимок 500", stats)
	}
}

func TestFinance_EventTriggersRefresh(t *testing.T) {
	f := &fakeStats{stats: model.FinancialStats{AnoAtual: 2026}}
	center := notify.NewCenter(16, testLogger())
	fin := NewFinanceSync(f, center, "condo-1", time.Minute, testLogger())

	fin.HandlePaymentEvent(context.Background(), model.ChangeEvent{
		Kind: model.EventInsert, Table: model.TablePayments, Tenant: "condo-1",
	})
	if f.calls != 1 {
		t.Errorf("backend вызван %d раз, хотели 1", f.calls)
	}

	// Событие чужого tenant игнорируется
	fin.HandleExpenseEvent(context.Background(), model.ChangeEvent{
		Kind: model.EventInsert, Table: model.TableExpenses, Tenant: "condo-999",
	})
	if f.calls != 1 {
		t.Errorf("backend вызван %d раз после чужого события, хотели 1", f.calls)
	}
}
