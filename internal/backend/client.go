// client.go — базовый HTTP-клиент backend.
// Все запросы несут ключ проекта (apikey) и, при наличии сессии,
// Bearer access token текущего пользователя.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Client — HTTP-клиент hosted backend.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	logger     *slog.Logger

	// accessToken — токен текущей сессии. Обновляется Session Store
	// при каждой смене auth-состояния.
	accessToken atomic.Pointer[string]

	// authListeners — подписчики на смену auth-состояния.
	authListeners *authListeners
}

// New создаёт клиент backend.
// baseURL — корневой URL проекта (без trailing slash).
// anonKey — публичный ключ проекта (заголовок apikey).
func New(baseURL, anonKey string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		anonKey:       anonKey,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger.With(slog.String("component", "backend_client")),
		authListeners: newAuthListeners(),
	}
}

// SetAccessToken устанавливает access token для последующих запросов.
// Пустая строка сбрасывает токен (анонимные запросы с anon key).
func (c *Client) SetAccessToken(token string) {
	if token == "" {
		c.accessToken.Store(nil)
		return
	}
	c.accessToken.Store(&token)
}

// AccessToken возвращает текущий access token сессии.
// Пустая строка — активной сессии нет.
func (c *Client) AccessToken() string {
	if tok := c.accessToken.Load(); tok != nil {
		return *tok
	}
	return ""
}

// BaseURL возвращает корневой URL backend (для health-проверок).
func (c *Client) BaseURL() string { return c.baseURL }

// doJSON выполняет HTTP-запрос с JSON-телом и декодирует JSON-ответ в out.
// out == nil — тело ответа игнорируется. Статусы вне 2xx → BackendError.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &BackendError{Op: path, Err: fmt.Errorf("сериализация тела запроса: %w", err)}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &BackendError{Op: path, Err: err}
	}
	c.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &BackendError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFromResponse(path, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &BackendError{Op: path, Status: resp.StatusCode, Err: fmt.Errorf("декодирование ответа: %w", err)}
	}
	return nil
}

// setHeaders проставляет apikey и Authorization.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.anonKey)
	if tok := c.accessToken.Load(); tok != nil {
		req.Header.Set("Authorization", "Bearer "+*tok)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.anonKey)
	}
}

// backendErrorBody — типовое тело ошибки backend.
type backendErrorBody struct {
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Code             string `json:"error_code"`
}

// errorFromResponse преобразует не-2xx ответ в типизированную ошибку.
func (c *Client) errorFromResponse(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var eb backendErrorBody
	_ = json.Unmarshal(raw, &eb)
	msg := firstNonEmpty(eb.Message, eb.Msg, eb.ErrorDescription, eb.Error, strings.TrimSpace(string(raw)))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if strings.Contains(msg, "session") && (strings.Contains(msg, "not found") || strings.Contains(msg, "expired")) {
			return ErrSessionExpired
		}
		return &AuthError{Code: eb.Code, Message: msg}
	case http.StatusNotFound:
		return &NotFoundError{Resource: op, ID: ""}
	default:
		return &BackendError{
			Op:     op,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", msg),
		}
	}
}

// firstNonEmpty возвращает первую непустую строку.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
