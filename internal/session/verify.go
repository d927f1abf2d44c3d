// verify.go — проверка access token backend.
// Основная проверка подписи — на стороне backend; локальная нужна
// для API-фасада и для извлечения claims без лишнего round-trip.
// Без настроенного JWKS URL выполняется только структурный разбор
// (без проверки подписи) — допустимо за доверенным периметром.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims — claims access token backend, используемые модулем.
type TokenClaims struct {
	// Subject — идентификатор пользователя (auth.users.id).
	Subject string
	// Email — email пользователя.
	Email string
	// Role — роль уровня backend (authenticated, anon, service_role).
	Role string
	// ExpiresAt — время истечения токена.
	ExpiresAt time.Time
}

// backendClaims — raw claims токена backend.
type backendClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Verifier — верификатор access token backend через JWKS.
type Verifier struct {
	jwks   keyfunc.Keyfunc
	issuer string
	leeway time.Duration
	logger *slog.Logger
}

// NewVerifier создаёт верификатор с JWKS-хранилищем, обновляемым в фоне.
// NoErrorReturnFirstHTTPReq — модуль стартует даже при недоступном backend.
func NewVerifier(jwksURL, issuer string, refreshInterval, leeway time.Duration, logger *slog.Logger) (*Verifier, error) {
	log := logger.With(slog.String("component", "session.verify"))

	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			log.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &Verifier{jwks: k, issuer: issuer, leeway: leeway, logger: log}, nil
}

// NewStructuralVerifier создаёт верификатор без проверки подписи —
// только структурный разбор claims. Для развёртываний без JWKS endpoint.
func NewStructuralVerifier(logger *slog.Logger) *Verifier {
	return &Verifier{logger: logger.With(slog.String("component", "session.verify"))}
}

// Verify разбирает и проверяет access token, возвращает claims.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*TokenClaims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("пустой токен")
	}

	raw := &backendClaims{}

	if v.jwks == nil {
		// Структурный разбор без подписи: срок действия проверяется вручную
		parser := jwt.NewParser()
		if _, _, err := parser.ParseUnverified(tokenString, raw); err != nil {
			return nil, fmt.Errorf("разбор токена: %w", err)
		}
		if raw.ExpiresAt == nil || time.Now().After(raw.ExpiresAt.Time.Add(v.leeway)) {
			return nil, fmt.Errorf("токен просрочен или без срока действия")
		}
		return toTokenClaims(raw), nil
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, raw, v.jwks.KeyfuncCtx(ctx), parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("валидация токена: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("невалидный токен")
	}

	return toTokenClaims(raw), nil
}

func toTokenClaims(raw *backendClaims) *TokenClaims {
	claims := &TokenClaims{
		Subject: raw.Subject,
		Email:   raw.Email,
		Role:    raw.Role,
	}
	if raw.ExpiresAt != nil {
		claims.ExpiresAt = raw.ExpiresAt.Time
	}
	return claims
}
