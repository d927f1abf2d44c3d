package notify

import (
	"io"
	"log/slog"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublish_SortableIDs(t *testing.T) {
	c := NewCenter(16, testLogger())

	var prev string
	for i := 0; i < 10; i++ {
		n := c.Publish(ClassPayment, "condo-1", "Новый платёж", "", "p1")
		if n.ID <= prev {
			t.Fatalf("ULID не монотонны: %q после %q", n.ID, prev)
		}
		prev = n.ID
	}
}

func TestRecent_RingOverflow(t *testing.T) {
	c := NewCenter(4, testLogger())

	for i := 0; i < 6; i++ {
		c.Publish(ClassOccurrence, "condo-1", "Обращение", "", "o1")
	}

	recent := c.Recent(0)
	if len(recent) != 4 {
		t.Fatalf("Recent() вернул %d записей, хотели 4 (размер буфера)", len(recent))
	}
	// Порядок от старых к новым
	for i := 1; i < len(recent); i++ {
		if recent[i].ID <= recent[i-1].ID {
			t.Errorf("нарушен порядок: %q после %q", recent[i].ID, recent[i-1].ID)
		}
	}
}

func TestRecent_Limit(t *testing.T) {
	c := NewCenter(16, testLogger())
	for i := 0; i < 5; i++ {
		c.Publish(ClassExpense, "condo-1", "Расход", "", "e1")
	}

	recent := c.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("Recent(2) вернул %d записей, хотели 2", len(recent))
	}
	all := c.Recent(0)
	if recent[1].ID != all[len(all)-1].ID {
		t.Error("Recent(limit) должен возвращать самые новые записи")
	}
}

func TestSubscribe_Delivery(t *testing.T) {
	c := NewCenter(16, testLogger())

	ch, unsubscribe := c.Subscribe(4)
	defer unsubscribe()

	published := c.Publish(ClassVisitorApproved, "condo-1", "Посетитель одобрен", "", "v1")

	got := <-ch
	if got.ID != published.ID || got.Class != ClassVisitorApproved {
		t.Errorf("получено %+v, хотели %+v", got, published)
	}
}

func TestSubscribe_SlowSubscriberDropsNotBlocks(t *testing.T) {
	c := NewCenter(16, testLogger())

	ch, unsubscribe := c.Subscribe(1)
	defer unsubscribe()

	// Буфер подписчика на 1 — второе уведомление теряется, Publish не виснет
	c.Publish(ClassPayment, "condo-1", "1", "", "")
	c.Publish(ClassPayment, "condo-1", "2", "", "")

	first := <-ch
	if first.Title != "1" {
		t.Errorf("первое уведомление = %q, хотели 1", first.Title)
	}
	select {
	case n := <-ch:
		t.Errorf("неожиданное уведомление %q: буфер был полон", n.Title)
	default:
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	c := NewCenter(16, testLogger())

	ch, unsubscribe := c.Subscribe(4)
	unsubscribe()
	unsubscribe() // повторный вызов безопасен

	// Публикация после отписки не доставляется
	c.Publish(ClassAnnouncement, "condo-1", "Объявление", "", "a1")
	select {
	case n := <-ch:
		t.Errorf("неожиданное уведомление %q после отписки", n.Title)
	default:
	}
}

func TestPublish_ConcurrentWithUnsubscribe(t *testing.T) {
	c := NewCenter(16, testLogger())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					c.Publish(ClassPayment, "condo-1", "Платёж", "", "p1")
				}
			}
		}()
	}

	// Подписка и отписка наперегонки с публикацией: отписка не должна
	// ронять конкурентный Publish
	for i := 0; i < 500; i++ {
		_, unsubscribe := c.Subscribe(1)
		unsubscribe()
	}

	close(stop)
	wg.Wait()
}
