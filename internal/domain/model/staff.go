package model

import "time"

// StaffRole — роль/должность члена координационного персонала.
type StaffRole string

// Роли координационного персонала.
const (
	StaffCoordinator    StaffRole = "coordinator"
	StaffFinancial      StaffRole = "financial"
	StaffSecurity       StaffRole = "security"
	StaffMaintenance    StaffRole = "maintenance"
	StaffAdministration StaffRole = "administration"
	StaffSecretary      StaffRole = "secretary"
)

// Ключи разрешений PermissionSet.
const (
	PermAll               = "all"
	PermPayments          = "payments"
	PermExpenses          = "expenses"
	PermPayroll           = "payroll"
	PermFinancialReports  = "financial_reports"
	PermVisitors          = "visitors"
	PermQRCodes           = "qr_codes"
	PermOccurrences       = "occurrences"
	PermAnnouncements     = "announcements"
	PermActionPlans       = "action_plans"
	PermServiceProviders  = "service_providers"
	PermResidents         = "residents"
	PermDocuments         = "documents"
	PermSpaceReservations = "space_reservations"
)

// PermissionKeys — все допустимые ключи разрешений.
var PermissionKeys = []string{
	PermAll, PermPayments, PermExpenses, PermPayroll, PermFinancialReports,
	PermVisitors, PermQRCodes, PermOccurrences, PermAnnouncements,
	PermActionPlans, PermServiceProviders, PermResidents, PermDocuments,
	PermSpaceReservations,
}

// PermissionSet — набор разрешений: ключ → предоставлено.
// all == true логически покрывает все остальные ключи,
// без буквального заполнения карты.
type PermissionSet map[string]bool

// Clone возвращает копию набора разрешений.
func (p PermissionSet) Clone() PermissionSet {
	if p == nil {
		return nil
	}
	c := make(PermissionSet, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// CoordinationStaff — запись координационного персонала кондоминиума.
// Может быть не связана с логином (UserID == nil).
// На один UserID приходится не более одной активной записи.
type CoordinationStaff struct {
	// ID — идентификатор записи.
	ID string
	// CondominiumID — кондоминиум (tenant).
	CondominiumID string
	// UserID — связанный логин (nil если не связан).
	UserID *string
	// Name — имя сотрудника.
	Name string
	// Position — должность (свободный текст).
	Position string
	// Role — роль персонала.
	Role StaffRole
	// HasSystemAccess — имеет ли сотрудник доступ к системе.
	HasSystemAccess bool
	// Permissions — сохранённый набор разрешений.
	Permissions PermissionSet
	// AssignedDate — дата назначения.
	AssignedDate time.Time
}
