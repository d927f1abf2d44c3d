package sync

import "testing"

type row struct {
	ID   string
	Name string
}

func newRowStore() *Store[row] {
	return NewStore(func(r row) string { return r.ID })
}

func TestStore_UpsertPreservesOrder(t *testing.T) {
	s := newRowStore()
	s.Upsert(row{ID: "a", Name: "первый"})
	s.Upsert(row{ID: "b", Name: "второй"})
	s.Upsert(row{ID: "c", Name: "третий"})

	// Обновление существующей строки не меняет её позицию
	s.Upsert(row{ID: "a", Name: "первый v2"})

	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Len = %d, хотели 3", len(snap))
	}
	if snap[0].ID != "a" || snap[0].Name != "первый v2" {
		t.Errorf("snap[0] = %+v, хотели a/первый v2", snap[0])
	}
	if snap[1].ID != "b" || snap[2].ID != "c" {
		t.Errorf("порядок нарушен: %+v", snap)
	}
}

func TestStore_RemoveIdempotent(t *testing.T) {
	s := newRowStore()
	s.Upsert(row{ID: "a"})
	s.Upsert(row{ID: "b"})
	s.Upsert(row{ID: "c"})

	s.Remove("b")
	s.Remove("b") // повторное удаление — no-op
	s.Remove("нет-такого")

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].ID != "a" || snap[1].ID != "c" {
		t.Errorf("после удаления: %+v, хотели [a c]", snap)
	}

	// Индексы скорректированы: обновление c после удаления b работает
	s.Upsert(row{ID: "c", Name: "обновлён"})
	if got, ok := s.Get("c"); !ok || got.Name != "обновлён" {
		t.Errorf("Get(c) = (%+v, %v)", got, ok)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, хотели 2", s.Len())
	}
}

func TestStore_Replace(t *testing.T) {
	s := newRowStore()
	s.Upsert(row{ID: "старый"})

	s.Replace([]row{{ID: "x"}, {ID: "y"}})

	if s.Len() != 2 {
		t.Fatalf("Len = %d, хотели 2", s.Len())
	}
	if _, ok := s.Get("старый"); ok {
		t.Error("старая строка пережила Replace")
	}
	if _, ok := s.Get("y"); !ok {
		t.Error("новая строка не найдена после Replace")
	}
}

func TestStore_StaleFlag(t *testing.T) {
	s := newRowStore()
	if s.Stale() {
		t.Error("новое хранилище не должно быть stale")
	}
	s.MarkStale()
	if !s.Stale() {
		t.Error("MarkStale не выставил признак")
	}
	s.ClearStale()
	if s.Stale() {
		t.Error("ClearStale не сбросил признак")
	}
}

func TestStore_EmptyID(t *testing.T) {
	s := newRowStore()
	s.Upsert(row{ID: ""})
	if s.Len() != 0 {
		t.Error("строка с пустым id не должна сохраняться")
	}
}
