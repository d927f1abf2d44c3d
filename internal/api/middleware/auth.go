// auth.go — middleware аутентификации API-фасада Sync Module.
// Извлекает Bearer token backend, проверяет через session.Verifier
// и помещает claims в контекст запроса.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/condoflow/sync-module/internal/api/errors"
	"github.com/bigkaa/condoflow/sync-module/internal/session"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims — извлечённые claims в контексте запроса.
	ContextKeyClaims contextKey = "token_claims"
)

// TokenAuth — middleware аутентификации по access token backend.
type TokenAuth struct {
	verifier *session.Verifier
	logger   *slog.Logger
}

// NewTokenAuth создаёт middleware с указанным верификатором.
func NewTokenAuth(verifier *session.Verifier, logger *slog.Logger) *TokenAuth {
	return &TokenAuth{
		verifier: verifier,
		logger:   logger.With(slog.String("component", "token_auth")),
	}
}

// Middleware возвращает HTTP middleware аутентификации.
// Извлекает Bearer token, проверяет его и помещает claims в контекст.
func (a *TokenAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := parts[1]
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			claims, err := a.verifier.Verify(r.Context(), tokenString)
			if err != nil {
				a.logger.Debug("Токен не прошёл проверку",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// --- Context helpers ---

// ClaimsFromContext извлекает claims из контекста запроса.
// Возвращает nil, если claims не найдены.
func ClaimsFromContext(ctx context.Context) *session.TokenClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*session.TokenClaims)
	return claims
}

// SubjectFromContext извлекает идентификатор пользователя из контекста запроса.
// Возвращает пустую строку, если claims не найдены.
func SubjectFromContext(ctx context.Context) string {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return ""
	}
	return claims.Subject
}
