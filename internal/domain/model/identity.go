// Пакет model — доменные модели Sync Module.
package model

import "time"

// Role — роль пользователя в системе.
type Role string

// Роли пользователей.
const (
	RoleSuperAdmin  Role = "super_admin"
	RoleCoordinator Role = "coordinator"
	RoleResident    Role = "resident"
	RoleCityViewer  Role = "city_viewer"
)

// AuthState — состояние машины аутентификации Session Store.
type AuthState string

// Состояния: anonymous → authenticating → authenticated → anonymous.
const (
	AuthAnonymous      AuthState = "anonymous"
	AuthAuthenticating AuthState = "authenticating"
	AuthAuthenticated  AuthState = "authenticated"
)

// Identity — текущая аутентифицированная личность.
// Создаётся при входе, заменяется целиком при re-fetch, уничтожается при выходе.
// Profile == nil означает "профиль ещё загружается или отсутствует",
// что отличается от "не вошёл в систему" (Identity == nil).
type Identity struct {
	// UserID — идентификатор пользователя в backend (auth.users.id).
	UserID string
	// Email — адрес электронной почты из сессии.
	Email string
	// Profile — строка профиля из таблицы profiles. Nil пока не загружен.
	Profile *Profile
}

// Profile — профиль пользователя из таблицы profiles.
type Profile struct {
	// ID — идентификатор профиля (совпадает с UserID).
	ID string
	// FullName — полное имя пользователя.
	FullName string
	// Role — роль пользователя.
	Role Role
	// CondominiumID — кондоминиум пользователя (nil для super_admin и city_viewer).
	CondominiumID *string
	// CoordinationStaffID — слабая ссылка на запись координационного персонала.
	// Nil если пользователь не является членом координации.
	CoordinationStaffID *string
	// UpdatedAt — время последнего обновления профиля.
	UpdatedAt time.Time
}

// Role возвращает роль из профиля или пустую строку, если профиль не загружен.
func (i *Identity) Role() Role {
	if i == nil || i.Profile == nil {
		return ""
	}
	return i.Profile.Role
}

// CondominiumID возвращает tenant пользователя или nil.
func (i *Identity) CondominiumID() *string {
	if i == nil || i.Profile == nil {
		return nil
	}
	return i.Profile.CondominiumID
}

// CoordinationStaffID возвращает ссылку на запись персонала или nil.
func (i *Identity) CoordinationStaffID() *string {
	if i == nil || i.Profile == nil {
		return nil
	}
	return i.Profile.CoordinationStaffID
}

// IsCoordinationMember — true если пользователь связан с записью персонала.
func (i *Identity) IsCoordinationMember() bool {
	return i.CoordinationStaffID() != nil
}

// License — лицензия кондоминиума.
type License struct {
	// ID — идентификатор лицензии.
	ID string
	// CondominiumID — кондоминиум, к которому относится лицензия.
	CondominiumID string
	// Status — статус лицензии: active, paused, expired.
	Status LicenseStatus
	// EndDate — дата окончания действия.
	EndDate time.Time
}

// LicenseStatus — статус лицензии.
type LicenseStatus string

// Статусы лицензий.
const (
	LicenseActive  LicenseStatus = "active"
	LicensePaused  LicenseStatus = "paused"
	LicenseExpired LicenseStatus = "expired"
)

// Valid проверяет действительность лицензии на указанную дату.
// Статус paused делает лицензию недействительной независимо от даты.
func (l *License) Valid(today time.Time) bool {
	if l == nil {
		return false
	}
	if l.Status != LicenseActive {
		return false
	}
	day := today.Truncate(24 * time.Hour)
	return !l.EndDate.Before(day)
}
