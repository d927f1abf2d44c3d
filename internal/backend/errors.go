// Пакет backend — типизированный клиент hosted backend-as-a-service:
// auth, построчный доступ к таблицам, RPC, object storage, edge functions.
package backend

import (
	"errors"
	"fmt"
)

// ErrSessionExpired — сессия уже недействительна на стороне backend.
// При выходе из системы трактуется как успешный локальный logout.
var ErrSessionExpired = errors.New("сессия уже истекла")

// ValidationError — некорректные или отсутствующие входные данные.
// Обнаруживается до какого-либо обращения к backend.
type ValidationError struct {
	// Field — имя поля с ошибкой (может быть пустым).
	Field string
	// Message — описание ошибки.
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("ошибка валидации поля %s: %s", e.Field, e.Message)
	}
	return "ошибка валидации: " + e.Message
}

// AuthError — ошибка учётных данных или сессии.
type AuthError struct {
	// Code — машиночитаемый код backend (invalid_credentials и т.п.).
	Code string
	// Message — описание ошибки.
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("ошибка аутентификации (%s): %s", e.Code, e.Message)
}

// BackendError — сбой операции RPC/таблицы, включая сетевые ошибки.
type BackendError struct {
	// Op — имя операции (таблица, RPC, endpoint).
	Op string
	// Status — HTTP-статус ответа (0 при сетевой ошибке).
	Status int
	// Err — исходная ошибка.
	Err error
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ошибка backend %s (статус %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("ошибка backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// NotFoundError — запрошенная сущность отсутствует.
type NotFoundError struct {
	// Resource — тип сущности (staff, resident, license...).
	Resource string
	// ID — идентификатор.
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s не найден", e.Resource, e.ID)
}

// PartialFailureError — многошаговая серверная операция, в которой ранний
// шаг успел выполниться и потребовал компенсации (например, auth-пользователь
// создан, но создание профиля провалилось и пользователь был удалён).
// Компенсация выполняется синхронно с ответом об ошибке.
type PartialFailureError struct {
	// Step — шаг, на котором произошёл сбой.
	Step string
	// Compensated — выполнил ли backend компенсирующее действие.
	Compensated bool
	// Err — исходная ошибка.
	Err error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("частичный сбой на шаге %s (компенсация: %v): %v", e.Step, e.Compensated, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }
