package model

import "time"

// Имена таблиц backend, на которые подписывается Sync Module.
const (
	TableProfiles          = "profiles"
	TableCoordinationStaff = "coordination_staff"
	TableResidents         = "residents"
	TablePayments          = "payments"
	TableVisitors          = "visitors"
	TableOccurrences       = "occurrences"
	TableActionPlans       = "action_plans"
	TableDocuments         = "documents"
	TableExpenses          = "expenses"
	TableAnnouncements     = "announcements"
	TableLicenses          = "licenses"
)

// Resident — житель кондоминиума.
type Resident struct {
	ID                  string    `json:"id"`
	CondominiumID       string    `json:"condominium_id"`
	ProfileID           *string   `json:"profile_id,omitempty"`
	CoordinationStaffID *string   `json:"coordination_staff_id,omitempty"`
	Name                string    `json:"name"`
	Apartment           string    `json:"apartment"`
	Block               string    `json:"block,omitempty"`
	Phone               string    `json:"phone,omitempty"`
	Email               string    `json:"email,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// Payment — платёж жителя.
type Payment struct {
	ID             string     `json:"id"`
	CondominiumID  string     `json:"condominium_id"`
	ResidentID     string     `json:"resident_id"`
	Amount         float64    `json:"amount"`
	ReferenceMonth string     `json:"reference_month,omitempty"`
	Status         string     `json:"status"` // pending, paid, overdue, cancelled
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Visitor — посетитель с QR-кодом.
type Visitor struct {
	ID            string     `json:"id"`
	CondominiumID string     `json:"condominium_id"`
	ResidentID    string     `json:"resident_id"`
	Name          string     `json:"name"`
	Document      string     `json:"document,omitempty"`
	Approved      bool       `json:"approved"`
	QRToken       string     `json:"qr_token,omitempty"`
	VisitDate     *time.Time `json:"visit_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Occurrence — обращение/происшествие.
type Occurrence struct {
	ID            string    `json:"id"`
	CondominiumID string    `json:"condominium_id"`
	ResidentID    *string   `json:"resident_id,omitempty"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Status        string    `json:"status"` // open, in_progress, resolved, closed
	CreatedAt     time.Time `json:"created_at"`
}

// ActionPlan — план действий координации.
type ActionPlan struct {
	ID            string     `json:"id"`
	CondominiumID string     `json:"condominium_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Status        string     `json:"status,omitempty"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Document — документ кондоминиума в object storage.
type Document struct {
	ID            string    `json:"id"`
	CondominiumID string    `json:"condominium_id"`
	Title         string    `json:"title"`
	StoragePath   string    `json:"storage_path"`
	ContentType   string    `json:"content_type,omitempty"`
	UploadedBy    string    `json:"uploaded_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Expense — расход кондоминиума.
type Expense struct {
	ID            string    `json:"id"`
	CondominiumID string    `json:"condominium_id"`
	Description   string    `json:"description"`
	Amount        float64   `json:"amount"`
	Status        string    `json:"status"` // pending, approved, rejected
	CreatedAt     time.Time `json:"created_at"`
}

// Announcement — объявление координации.
type Announcement struct {
	ID            string    `json:"id"`
	CondominiumID string    `json:"condominium_id"`
	Title         string    `json:"title"`
	Body          string    `json:"body,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// FinancialStats — агрегированная финансовая статистика кондоминиума.
// Возвращается backend RPC obter_saldo_disponivel.
// SaldoDisponivel может быть отрицательным (дефицит) — не обнулять.
type FinancialStats struct {
	AnoAtual          int     `json:"ano_atual"`
	ReceitaAtual      float64 `json:"receita_atual"`
	DespesasAprovadas float64 `json:"despesas_aprovadas"`
	RemanescenteTotal float64 `json:"remanescente_total"`
	SaldoDisponivel   float64 `json:"saldo_disponivel"`
}
