// store.go — Session Store: владеет текущей Identity и машиной
// состояний аутентификации. Подписка на смену auth-состояния backend
// оформляется ДО запроса сохранённой сессии — событие, пришедшее во
// время инициализации, не теряется.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bigkaa/condoflow/sync-module/internal/backend"
	"github.com/bigkaa/condoflow/sync-module/internal/domain/model"
	"github.com/bigkaa/condoflow/sync-module/internal/poll"
)

// profileRow — строка таблицы profiles на проводе.
type profileRow struct {
	ID                  string    `json:"id"`
	FullName            string    `json:"full_name"`
	Role                string    `json:"role"`
	CondominiumID       *string   `json:"condominium_id"`
	CoordinationStaffID *string   `json:"coordination_staff_id"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (r *profileRow) toModel() *model.Profile {
	return &model.Profile{
		ID:                  r.ID,
		FullName:            r.FullName,
		Role:                model.Role(r.Role),
		CondominiumID:       r.CondominiumID,
		CoordinationStaffID: r.CoordinationStaffID,
		UpdatedAt:           r.UpdatedAt,
	}
}

// licenseRow — строка таблицы licenses на проводе.
type licenseRow struct {
	ID            string `json:"id"`
	CondominiumID string `json:"condominium_id"`
	Status        string `json:"status"`
	EndDate       string `json:"end_date"` // YYYY-MM-DD
}

// PollSettings — параметры ожидания профиля, создаваемого серверным
// триггером после регистрации.
type PollSettings struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultPollSettings возвращает параметры ожидания по умолчанию.
func DefaultPollSettings() PollSettings {
	return PollSettings{Interval: 500 * time.Millisecond, Timeout: 10 * time.Second}
}

// Store — Session Store.
// Identity заменяется целиком атомарно; частичных мутаций нет.
type Store struct {
	client *backend.Client
	tokens *TokenStore
	logger *slog.Logger
	polls  PollSettings

	state       atomic.Value // model.AuthState
	identity    atomic.Pointer[model.Identity]
	unsubscribe atomic.Value // func()
}

// New создаёт Session Store. tokens может быть nil — сессия не
// сохраняется между рестартами.
func New(client *backend.Client, tokens *TokenStore, polls PollSettings, logger *slog.Logger) *Store {
	s := &Store{
		client: client,
		tokens: tokens,
		logger: logger.With(slog.String("component", "session")),
		polls:  polls,
	}
	s.state.Store(model.AuthAnonymous)
	return s
}

// State возвращает текущее состояние машины аутентификации.
func (s *Store) State() model.AuthState {
	return s.state.Load().(model.AuthState)
}

// CurrentIdentity возвращает атомарный снимок текущей Identity.
// Nil — пользователь не вошёл в систему.
func (s *Store) CurrentIdentity() *model.Identity {
	return s.identity.Load()
}

// IsCoordinationMember — true если текущий пользователь связан
// с записью координационного персонала.
func (s *Store) IsCoordinationMember() bool {
	return s.CurrentIdentity().IsCoordinationMember()
}

// Initialize восстанавливает сессию из хранилища токенов.
// Ошибки восстановления НЕ фатальны: повреждённый токен очищается,
// недоступный backend оставляет анонимное состояние — модуль стартует
// в любом случае (fail open до анонимности).
func (s *Store) Initialize(ctx context.Context) error {
	// Подписка до запроса сессии: событие входа, пришедшее во время
	// инициализации, не должно потеряться
	unsub := s.client.OnAuthStateChange(s.handleAuthChange)
	s.unsubscribe.Store(unsub)

	if s.tokens == nil {
		return nil
	}

	sess, err := s.tokens.Load()
	if err != nil {
		s.logger.Warn("Повреждённый файл токенов — очистка, старт анонимно",
			slog.String("error", err.Error()),
		)
		_ = s.tokens.Clear()
		return nil
	}
	if sess == nil {
		return nil
	}

	s.state.Store(model.AuthAuthenticating)

	if sess.Expired() {
		refreshed, err := s.client.RefreshSession(ctx, sess.RefreshToken)
		if err != nil {
			s.logger.Warn("Обновление сохранённой сессии не удалось — старт анонимно",
				slog.String("error", err.Error()),
			)
			_ = s.tokens.Clear()
			s.state.Store(model.AuthAnonymous)
			return nil
		}
		sess = refreshed
	} else {
		s.client.SetAccessToken(sess.AccessToken)
	}

	user, err := s.client.GetUser(ctx)
	if err != nil {
		s.logger.Warn("Запрос пользователя по сохранённой сессии не удался — старт анонимно",
			slog.String("error", err.Error()),
		)
		_ = s.tokens.Clear()
		s.client.SetAccessToken("")
		s.state.Store(model.AuthAnonymous)
		return nil
	}

	s.identity.Store(&model.Identity{UserID: user.ID, Email: user.Email})
	s.state.Store(model.AuthAuthenticated)

	if err := s.RefreshProfile(ctx); err != nil {
		s.logger.Warn("Профиль не загружен при восстановлении сессии",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Close отписывается от событий auth-состояния backend.
func (s *Store) Close() {
	if unsub, ok := s.unsubscribe.Load().(func()); ok && unsub != nil {
		unsub()
	}
}

// handleAuthChange — обработчик событий auth-состояния backend.
// Сохраняет обновлённые токены, сбрасывает состояние при выходе.
func (s *Store) handleAuthChange(event backend.AuthEvent, sess *backend.Session) {
	switch event {
	case backend.AuthSignedIn, backend.AuthTokenRefreshed:
		if s.tokens != nil && sess != nil {
			if err := s.tokens.Save(sess); err != nil {
				s.logger.Warn("Сохранение токенов не удалось",
					slog.String("error", err.Error()),
				)
			}
		}
	case backend.AuthSignedOut:
		if s.tokens != nil {
			_ = s.tokens.Clear()
		}
		s.identity.Store(nil)
		s.state.Store(model.AuthAnonymous)
	}
}

// SignIn выполняет вход и загружает профиль.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	s.state.Store(model.AuthAuthenticating)

	sess, err := s.client.SignIn(ctx, email, password)
	if err != nil {
		s.state.Store(model.AuthAnonymous)
		return err
	}

	ident := &model.Identity{}
	if sess.User != nil {
		ident.UserID = sess.User.ID
		ident.Email = sess.User.Email
	}
	s.identity.Store(ident)
	s.state.Store(model.AuthAuthenticated)

	if err := s.RefreshProfile(ctx); err != nil {
		s.logger.Warn("Профиль не загружен после входа",
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// SignUp регистрирует пользователя и дожидается профиля, создаваемого
// серверным триггером, через явный опрос с таймаутом.
func (s *Store) SignUp(ctx context.Context, email, password string, metadata map[string]any) error {
	s.state.Store(model.AuthAuthenticating)

	sess, err := s.client.SignUp(ctx, email, password, metadata)
	if err != nil {
		s.state.Store(model.AuthAnonymous)
		return err
	}

	ident := &model.Identity{}
	if sess.User != nil {
		ident.UserID = sess.User.ID
		ident.Email = sess.User.Email
	}
	s.identity.Store(ident)
	s.state.Store(model.AuthAuthenticated)

	// Профиль создаётся триггером асинхронно
	err = poll.Until(ctx, s.polls.Interval, s.polls.Timeout, func(ctx context.Context) (bool, error) {
		if err := s.RefreshProfile(ctx); err != nil {
			var nf *backend.NotFoundError
			if errors.As(err, &nf) {
				return false, nil
			}
			return false, err
		}
		return s.CurrentIdentity().Profile != nil, nil
	})
	if err != nil {
		return fmt.Errorf("ожидание профиля после регистрации: %w", err)
	}
	return nil
}

// RefreshProfile перечитывает профиль и атомарно заменяет Identity.
// Без пользователя — no-op. Ошибка загрузки оставляет текущую Identity
// нетронутой (authenticated с nil-профилем допустимо).
func (s *Store) RefreshProfile(ctx context.Context) error {
	ident := s.CurrentIdentity()
	if ident == nil || ident.UserID == "" {
		return nil
	}

	var row profileRow
	err := s.client.SelectOne(ctx, backend.Query{
		Table:   model.TableProfiles,
		Filters: map[string]string{"id": ident.UserID},
	}, &row)
	if err != nil {
		return fmt.Errorf("загрузка профиля %s: %w", ident.UserID, err)
	}

	// Замена целиком — читатели видят либо старый, либо новый снимок
	s.identity.Store(&model.Identity{
		UserID:  ident.UserID,
		Email:   ident.Email,
		Profile: row.toModel(),
	})
	return nil
}

// CheckLicense проверяет действительность лицензии кондоминиума
// текущего пользователя. Super_admin лицензируется всегда. Отсутствие
// лицензии или приостановка (paused) — false независимо от даты.
func (s *Store) CheckLicense(ctx context.Context, today time.Time) (bool, error) {
	ident := s.CurrentIdentity()
	if ident == nil {
		return false, nil
	}
	if ident.Role() == model.RoleSuperAdmin {
		return true, nil
	}

	condoID := ident.CondominiumID()
	if condoID == nil || *condoID == "" {
		return false, nil
	}

	var row licenseRow
	err := s.client.SelectOne(ctx, backend.Query{
		Table:   model.TableLicenses,
		Filters: map[string]string{"condominium_id": *condoID},
	}, &row)
	if err != nil {
		var nf *backend.NotFoundError
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("загрузка лицензии %s: %w", *condoID, err)
	}

	endDate, err := time.Parse("2006-01-02", row.EndDate)
	if err != nil {
		return false, fmt.Errorf("некорректная дата окончания лицензии %q: %w", row.EndDate, err)
	}

	lic := &model.License{
		ID:            row.ID,
		CondominiumID: row.CondominiumID,
		Status:        model.LicenseStatus(row.Status),
		EndDate:       endDate,
	}
	return lic.Valid(today), nil
}

// SignOut выполняет выход. Удалённая инвалидация может завершиться
// ошибкой (истёкшая сессия, недоступный backend) — локальная очистка
// выполняется в любом случае. ErrSessionExpired трактуется как успех.
func (s *Store) SignOut(ctx context.Context) error {
	err := s.client.SignOut(ctx)

	// Очистка продублирована с обработчиком событий: выход должен
	// сработать даже если подписка не была оформлена
	if s.tokens != nil {
		_ = s.tokens.Clear()
	}
	s.identity.Store(nil)
	s.state.Store(model.AuthAnonymous)

	if err != nil && !errors.Is(err, backend.ErrSessionExpired) {
		return err
	}
	return nil
}
