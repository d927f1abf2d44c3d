// Пакет notify — приёмник уведомлений о событиях синхронизации.
// Уведомления типизированы по классам, получают сортируемые ULID
// идентификаторы и складываются в кольцевой буфер, потребляемый
// SSE endpoint. Подписчики получают уведомления через каналы;
// медленный подписчик теряет уведомления, а не блокирует источник.
package notify

import (
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики уведомлений.
var (
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_notifications_total",
		Help: "Количество уведомлений по классам",
	}, []string{"class"})

	notificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_notifications_dropped_total",
		Help: "Количество уведомлений, потерянных медленными подписчиками",
	})
)

// Class — класс уведомления.
type Class string

// Классы уведомлений по сущностям и переходам статусов.
const (
	ClassPayment          Class = "payment"
	ClassPaymentStatus    Class = "payment_status"
	ClassVisitor          Class = "visitor"
	ClassVisitorApproved  Class = "visitor_approved"
	ClassOccurrence       Class = "occurrence"
	ClassOccurrenceStatus Class = "occurrence_status"
	ClassExpense          Class = "expense"
	ClassExpenseStatus    Class = "expense_status"
	ClassAnnouncement     Class = "announcement"
	ClassDocument         Class = "document"
	ClassActionPlan       Class = "action_plan"
	ClassResident         Class = "resident"
	ClassStaff            Class = "staff"
	ClassFinance          Class = "finance"
	ClassFeedStatus       Class = "feed_status"
)

// Notification — уведомление о событии синхронизации.
type Notification struct {
	// ID — ULID: сортируем по времени создания.
	ID string `json:"id"`
	// Class — класс уведомления.
	Class Class `json:"class"`
	// Tenant — tenant scope события.
	Tenant string `json:"tenant,omitempty"`
	// Title — краткий заголовок.
	Title string `json:"title"`
	// Body — подробности (опционально).
	Body string `json:"body,omitempty"`
	// EntityID — id затронутой сущности.
	EntityID string `json:"entity_id,omitempty"`
	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// Center — центр уведомлений: кольцевой буфер + подписчики.
type Center struct {
	logger *slog.Logger

	mu      sync.Mutex
	ring    []Notification
	size    int
	next    int
	full    bool
	entropy *ulid.MonotonicEntropy
	subs    map[int]chan Notification
	nextSub int
}

// NewCenter создаёт центр уведомлений с кольцевым буфером на size записей.
func NewCenter(size int, logger *slog.Logger) *Center {
	if size <= 0 {
		size = 128
	}
	return &Center{
		logger:  logger.With(slog.String("component", "notify")),
		ring:    make([]Notification, size),
		size:    size,
		entropy: ulid.Monotonic(rand.Reader, 0),
		subs:    make(map[int]chan Notification),
	}
}

// Publish создаёт уведомление, присваивает ULID и рассылает подписчикам.
// Возвращает созданное уведомление.
func (c *Center) Publish(class Class, tenant, title, body, entityID string) Notification {
	now := time.Now()

	c.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(now), c.entropy).String()
	n := Notification{
		ID:        id,
		Class:     class,
		Tenant:    tenant,
		Title:     title,
		Body:      body,
		EntityID:  entityID,
		CreatedAt: now,
	}

	c.ring[c.next] = n
	c.next = (c.next + 1) % c.size
	if c.next == 0 {
		c.full = true
	}

	subs := make([]chan Notification, 0, len(c.subs))
	for _, ch := range c.subs {
		subs = append(subs, ch)
	}
	c.mu.Unlock()

	notificationsTotal.WithLabelValues(string(class)).Inc()
	c.logger.Debug("Уведомление опубликовано",
		slog.String("id", n.ID),
		slog.String("class", string(class)),
		slog.String("tenant", tenant),
	)

	for _, ch := range subs {
		select {
		case ch <- n:
		default:
			// Медленный подписчик: теряем уведомление, не блокируемся
			notificationsDropped.Inc()
		}
	}
	return n
}

// Subscribe регистрирует подписчика. Возвращает канал уведомлений
// и функцию отписки (идемпотентна). Канал не закрывается: Publish
// рассылает по снимку подписчиков вне мьютекса, и закрытие могло бы
// пересечься с отправкой. Отписанный канал забирает GC.
func (c *Center) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Notification, buffer)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	unsubscribe := func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
	return ch, unsubscribe
}

// Recent возвращает последние уведомления из кольцевого буфера,
// от старых к новым, не более limit.
func (c *Center) Recent(limit int) []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ordered []Notification
	if c.full {
		ordered = append(ordered, c.ring[c.next:]...)
		ordered = append(ordered, c.ring[:c.next]...)
	} else {
		ordered = append(ordered, c.ring[:c.next]...)
	}

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}
