// Пакет sync — синхронизация локального состояния сущностей с backend
// через change-feed. Для каждого типа сущности поддерживается
// упорядоченный снимок строк; обработчики событий идемпотентны —
// повторная доставка не меняет результат.
package sync

import (
	"sync"
	"sync/atomic"
)

// Store — упорядоченное хранилище строк одного типа сущности.
// Upsert сохраняет позицию существующей строки; удаление отсутствующей
// строки — no-op. Признак stale выставляется обработчиками событий
// и потребляется кэшем запросов.
type Store[T any] struct {
	idOf func(T) string

	mu    sync.RWMutex
	index map[string]int
	items []T

	stale atomic.Bool
}

// NewStore создаёт хранилище. idOf извлекает идентификатор строки.
func NewStore[T any](idOf func(T) string) *Store[T] {
	return &Store[T]{
		idOf:  idOf,
		index: make(map[string]int),
	}
}

// Upsert вставляет строку или заменяет существующую по id.
// Позиция существующей строки сохраняется. Идемпотентен.
func (s *Store[T]) Upsert(item T) {
	id := s.idOf(item)
	if id == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if pos, ok := s.index[id]; ok {
		s.items[pos] = item
		return
	}
	s.index[id] = len(s.items)
	s.items = append(s.items, item)
}

// Remove удаляет строку по id. Отсутствующий id — no-op.
func (s *Store[T]) Remove(id string) {
	if id == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[id]
	if !ok {
		return
	}
	s.items = append(s.items[:pos], s.items[pos+1:]...)
	delete(s.index, id)
	for otherID, otherPos := range s.index {
		if otherPos > pos {
			s.index[otherID] = otherPos - 1
		}
	}
}

// Replace заменяет всё содержимое (полный refetch).
func (s *Store[T]) Replace(items []T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make([]T, len(items))
	copy(s.items, items)
	s.index = make(map[string]int, len(items))
	for pos, item := range s.items {
		s.index[s.idOf(item)] = pos
	}
}

// Get возвращает строку по id.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return s.items[pos], true
}

// Snapshot возвращает копию всех строк в текущем порядке.
func (s *Store[T]) Snapshot() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Len возвращает количество строк.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Clear удаляет все строки (выход из tenant scope).
func (s *Store[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.index = make(map[string]int)
}

// MarkStale помечает кэш запросов этого типа устаревшим.
func (s *Store[T]) MarkStale() { s.stale.Store(true) }

// Stale возвращает признак устаревания.
func (s *Store[T]) Stale() bool { return s.stale.Load() }

// ClearStale сбрасывает признак устаревания (после refetch).
func (s *Store[T]) ClearStale() { s.stale.Store(false) }
