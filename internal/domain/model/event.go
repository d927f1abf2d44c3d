package model

import "encoding/json"

// EventKind — тип события change-feed.
type EventKind string

// Типы событий.
const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// ChangeEvent — событие изменения строки из change-feed backend.
// Эфемерное: потребляется зарегистрированными обработчиками один раз,
// клиентом не сохраняется.
type ChangeEvent struct {
	// Kind — тип события (insert, update, delete).
	Kind EventKind `json:"event_kind"`
	// Table — имя таблицы backend.
	Table string `json:"table"`
	// Tenant — tenant scope (condominium_id), для которого открыт канал.
	Tenant string `json:"tenant_scope,omitempty"`
	// Old — старая версия строки (update, delete). Raw JSON.
	Old json.RawMessage `json:"old_record,omitempty"`
	// New — новая версия строки (insert, update). Raw JSON.
	New json.RawMessage `json:"new_record,omitempty"`
}

// DecodeOld декодирует старую версию строки в v.
// Возвращает false, если старой версии нет.
func (e *ChangeEvent) DecodeOld(v any) (bool, error) {
	if len(e.Old) == 0 {
		return false, nil
	}
	return true, json.Unmarshal(e.Old, v)
}

// DecodeNew декодирует новую версию строки в v.
// Возвращает false, если новой версии нет.
func (e *ChangeEvent) DecodeNew(v any) (bool, error) {
	if len(e.New) == 0 {
		return false, nil
	}
	return true, json.Unmarshal(e.New, v)
}

// recordRef — минимальная проекция строки для извлечения идентификаторов
// без знания конкретного типа сущности.
type recordRef struct {
	ID                  string  `json:"id"`
	UserID              *string `json:"user_id,omitempty"`
	CoordinationStaffID *string `json:"coordination_staff_id,omitempty"`
	Status              *string `json:"status,omitempty"`
}

// RecordID возвращает id затронутой строки (из new, иначе из old).
func (e *ChangeEvent) RecordID() string {
	var ref recordRef
	if ok, err := e.DecodeNew(&ref); ok && err == nil && ref.ID != "" {
		return ref.ID
	}
	ref = recordRef{}
	if ok, err := e.DecodeOld(&ref); ok && err == nil {
		return ref.ID
	}
	return ""
}

// OldUserID возвращает user_id из старой версии строки или nil.
func (e *ChangeEvent) OldUserID() *string {
	var ref recordRef
	if ok, err := e.DecodeOld(&ref); ok && err == nil {
		return ref.UserID
	}
	return nil
}

// NewUserID возвращает user_id из новой версии строки или nil.
func (e *ChangeEvent) NewUserID() *string {
	var ref recordRef
	if ok, err := e.DecodeNew(&ref); ok && err == nil {
		return ref.UserID
	}
	return nil
}

// StaffIDChanged — true если coordination_staff_id различается между
// старой и новой версией строки (триггер пересчёта разрешений).
func (e *ChangeEvent) StaffIDChanged() bool {
	var oldRef, newRef recordRef
	_, _ = e.DecodeOld(&oldRef)
	_, _ = e.DecodeNew(&newRef)
	return !strPtrEqual(oldRef.CoordinationStaffID, newRef.CoordinationStaffID)
}

// strPtrEqual сравнивает два указателя на строку по значению.
func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
