// functions.go — вызов edge functions backend: привилегированные
// многошаговые операции (создание координатора с rollback, сброс пароля,
// массовый поиск email). Ответ: {success, data?, error?, code?}.
// HTTP 200 — успех; 400 — валидация/auth с кодом-дискриминатором;
// 500 — INTERNAL_ERROR / USER_CREATION_FAILED.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Коды-дискриминаторы ошибок edge functions.
const (
	FnCodeMissingFields      = "MISSING_FIELDS"
	FnCodeAuthError          = "AUTH_ERROR"
	FnCodeProfileError       = "PROFILE_ERROR"
	FnCodeUserNotFound       = "USER_NOT_FOUND"
	FnCodeInternalError      = "INTERNAL_ERROR"
	FnCodeUserCreationFailed = "USER_CREATION_FAILED"
)

// fnEnvelope — конверт ответа edge function.
type fnEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// invokeFunction вызывает edge function и разбирает конверт ответа.
// out != nil — декодирует data при успехе.
func (c *Client) invokeFunction(ctx context.Context, name string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return &BackendError{Op: "functions/" + name, Err: fmt.Errorf("сериализация тела: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/functions/v1/"+name, bytes.NewReader(data))
	if err != nil {
		return &BackendError{Op: "functions/" + name, Err: err}
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &BackendError{Op: "functions/" + name, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	var env fnEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &BackendError{
			Op:     "functions/" + name,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("невалидный ответ: %w", err),
		}
	}

	if !env.Success {
		return fnError(name, resp.StatusCode, env)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &BackendError{Op: "functions/" + name, Err: fmt.Errorf("декодирование data: %w", err)}
		}
	}
	return nil
}

// fnError преобразует код-дискриминатор edge function в типизированную ошибку.
func fnError(name string, status int, env fnEnvelope) error {
	base := fmt.Errorf("%s", env.Error)
	switch env.Code {
	case FnCodeMissingFields:
		return &ValidationError{Message: env.Error}
	case FnCodeAuthError:
		return &AuthError{Code: env.Code, Message: env.Error}
	case FnCodeUserNotFound:
		return &NotFoundError{Resource: "user", ID: ""}
	case FnCodeUserCreationFailed:
		// Сервер выполнил компенсацию (удалил осиротевшего auth-пользователя)
		// синхронно с ответом об ошибке.
		return &PartialFailureError{Step: "create_user", Compensated: true, Err: base}
	case FnCodeProfileError:
		return &PartialFailureError{Step: "create_profile", Compensated: true, Err: base}
	default:
		return &BackendError{Op: "functions/" + name, Status: status, Err: base}
	}
}

// CreatedCoordinator — результат создания координатора.
type CreatedCoordinator struct {
	UserID    string `json:"user_id"`
	ProfileID string `json:"profile_id"`
	StaffID   string `json:"staff_id"`
}

// CreateCoordinator создаёт auth-пользователя, профиль и запись персонала
// координатора одной привилегированной операцией. При сбое на позднем
// шаге сервер откатывает ранние шаги до возврата ошибки.
func (c *Client) CreateCoordinator(ctx context.Context, email, password, name, condominiumID string) (CreatedCoordinator, error) {
	if email == "" || password == "" || name == "" || condominiumID == "" {
		return CreatedCoordinator{}, &ValidationError{Message: "email, пароль, имя и кондоминиум обязательны"}
	}

	var out CreatedCoordinator
	err := c.invokeFunction(ctx, "create-coordinator", map[string]string{
		"email":          email,
		"password":       password,
		"name":           name,
		"condominium_id": condominiumID,
	}, &out)
	return out, err
}

// ResetPassword запускает сброс пароля пользователя.
func (c *Client) ResetPassword(ctx context.Context, email string) error {
	if email == "" {
		return &ValidationError{Field: "email", Message: "обязательное поле"}
	}
	return c.invokeFunction(ctx, "reset-password", map[string]string{"email": email}, nil)
}

// EmailLookup — результат массового поиска email.
type EmailLookup struct {
	Found map[string]string `json:"found"` // email → user_id
}

// LookupEmails выполняет массовый поиск пользователей по email.
func (c *Client) LookupEmails(ctx context.Context, emails []string) (EmailLookup, error) {
	if len(emails) == 0 {
		return EmailLookup{}, &ValidationError{Field: "emails", Message: "пустой список"}
	}
	var out EmailLookup
	err := c.invokeFunction(ctx, "lookup-emails", map[string][]string{"emails": emails}, &out)
	return out, err
}
