// auth.go — операции аутентификации backend: sign-up, sign-in, sign-out,
// получение сессии и пользователя, подписка на смену auth-состояния.
package backend

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// AuthEvent — тип события смены auth-состояния.
type AuthEvent string

// События auth-состояния.
const (
	AuthSignedIn       AuthEvent = "SIGNED_IN"
	AuthSignedOut      AuthEvent = "SIGNED_OUT"
	AuthTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// Session — сессия пользователя backend.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    int64     `json:"expires_at"`
	User         *AuthUser `json:"user,omitempty"`
}

// AuthUser — пользователь auth-подсистемы backend.
type AuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Expired проверяет, истёк ли access token (с буфером 30 секунд).
func (s *Session) Expired() bool {
	return time.Now().Unix() >= s.ExpiresAt-30
}

// AuthListener — обработчик смены auth-состояния.
// session == nil при выходе из системы.
type AuthListener func(event AuthEvent, session *Session)

// authListeners — реестр подписчиков на смену auth-состояния.
type authListeners struct {
	mu      sync.Mutex
	nextID  int
	entries map[int]AuthListener
}

func newAuthListeners() *authListeners {
	return &authListeners{entries: make(map[int]AuthListener)}
}

// OnAuthStateChange регистрирует обработчик смены auth-состояния.
// Возвращает функцию отписки (идемпотентна).
func (c *Client) OnAuthStateChange(fn AuthListener) func() {
	c.authListeners.mu.Lock()
	defer c.authListeners.mu.Unlock()

	id := c.authListeners.nextID
	c.authListeners.nextID++
	c.authListeners.entries[id] = fn

	return func() {
		c.authListeners.mu.Lock()
		defer c.authListeners.mu.Unlock()
		delete(c.authListeners.entries, id)
	}
}

// notifyAuthChange уведомляет всех подписчиков о смене auth-состояния.
func (c *Client) notifyAuthChange(event AuthEvent, session *Session) {
	c.authListeners.mu.Lock()
	listeners := make([]AuthListener, 0, len(c.authListeners.entries))
	for _, fn := range c.authListeners.entries {
		listeners = append(listeners, fn)
	}
	c.authListeners.mu.Unlock()

	for _, fn := range listeners {
		fn(event, session)
	}
}

// signUpRequest — тело запроса регистрации.
type signUpRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

// SignUp регистрирует нового пользователя.
// metadata попадает в raw_user_meta_data и используется серверным
// триггером для создания профиля.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Session, error) {
	if email == "" {
		return nil, &ValidationError{Field: "email", Message: "обязательное поле"}
	}
	if password == "" {
		return nil, &ValidationError{Field: "password", Message: "обязательное поле"}
	}

	var session Session
	err := c.doJSON(ctx, http.MethodPost, "/auth/v1/signup",
		signUpRequest{Email: email, Password: password, Data: metadata}, &session)
	if err != nil {
		return nil, err
	}

	c.applySession(&session)
	c.notifyAuthChange(AuthSignedIn, &session)
	return &session, nil
}

// signInRequest — тело запроса входа.
type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignIn выполняет вход по email и паролю.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if email == "" || password == "" {
		return nil, &ValidationError{Message: "email и пароль обязательны"}
	}

	var session Session
	err := c.doJSON(ctx, http.MethodPost, "/auth/v1/token?grant_type=password",
		signInRequest{Email: email, Password: password}, &session)
	if err != nil {
		return nil, err
	}

	c.applySession(&session)
	c.notifyAuthChange(AuthSignedIn, &session)
	return &session, nil
}

// RefreshSession обменивает refresh token на новую сессию.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	var session Session
	err := c.doJSON(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token",
		map[string]string{"refresh_token": refreshToken}, &session)
	if err != nil {
		return nil, err
	}

	c.applySession(&session)
	c.notifyAuthChange(AuthTokenRefreshed, &session)
	return &session, nil
}

// GetUser запрашивает текущего пользователя по access token.
func (c *Client) GetUser(ctx context.Context) (*AuthUser, error) {
	var user AuthUser
	if err := c.doJSON(ctx, http.MethodGet, "/auth/v1/user", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SignOut инвалидирует сессию на стороне backend.
// Уже истёкшая сессия (ErrSessionExpired) НЕ является ошибкой для
// вызывающего — Session Store трактует её как успешный выход.
// Токен клиента сбрасывается в любом случае.
func (c *Client) SignOut(ctx context.Context) error {
	err := c.doJSON(ctx, http.MethodPost, "/auth/v1/logout", nil, nil)

	// Локальный сброс не зависит от результата удалённой инвалидации.
	c.SetAccessToken("")
	c.notifyAuthChange(AuthSignedOut, nil)

	if err != nil {
		c.logger.Warn("Инвалидация сессии backend завершилась ошибкой",
			slog.String("error", err.Error()),
		)
	}
	return err
}

// applySession устанавливает access token из сессии.
func (c *Client) applySession(s *Session) {
	if s != nil && s.AccessToken != "" {
		c.SetAccessToken(s.AccessToken)
	}
}
