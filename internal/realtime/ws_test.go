package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsTestServer поднимает websocket-сервер, который после subscribe-кадра
// отправляет pushCount событий и держит соединение до разрыва клиентом.
func wsTestServer(t *testing.T, pushCount int) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Ждём subscribe-кадр
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}

		frame, _ := json.Marshal(wireEvent{
			EventKind: "INSERT",
			Schema:    "public",
			Table:     "payments",
			NewRecord: json.RawMessage(`{"id":"p1","condominium_id":"condo-1"}`),
		})
		for i := 0; i < pushCount; i++ {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}

		// Держим соединение до закрытия клиентом
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestWSSource_DeliversEvents(t *testing.T) {
	srv := wsTestServer(t, 3)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	source := NewWSSource(wsURL, "anon-key", nil, DefaultWSSourceSettings(), testLogger())

	stream, err := source.Open(context.Background(), "payments", "condominium_id=eq.condo-1")
	if err != nil {
		t.Fatalf("Open() вернул ошибку: %v", err)
	}
	defer stream.Close()

	for i := 0; i < 3; i++ {
		select {
		case ev := <-stream.Events():
			if ev.Kind != "insert" || ev.Table != "payments" {
				t.Errorf("событие %d: kind=%q table=%q, хотели insert/payments", i, ev.Kind, ev.Table)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("событие %d не доставлено", i)
		}
	}
}

func TestWSSource_CloseUnblocksFullBuffer(t *testing.T) {
	// Сервер отправляет больше событий, чем вмещает буфер потока,
	// потребитель не читает ни одного
	srv := wsTestServer(t, 30)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	source := NewWSSource(wsURL, "anon-key", nil, DefaultWSSourceSettings(), testLogger())

	stream, err := source.Open(context.Background(), "payments", "")
	if err != nil {
		t.Fatalf("Open() вернул ошибку: %v", err)
	}

	// Даём readPump время упереться в полный буфер
	time.Sleep(100 * time.Millisecond)

	if err := stream.Close(); err != nil {
		t.Fatalf("Close() вернул ошибку: %v", err)
	}

	// После Close поток обязан завершиться: вычитываем остаток буфера
	// и ждём закрытия канала событий
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-stream.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("канал событий не закрылся после Close()")
		}
	}
}
