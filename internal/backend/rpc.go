// rpc.go — именованные серверные процедуры backend.
// Каждая процедура имеет явный типизированный результат: ветка
// успех/неуспех разбирается исчерпывающе, без нетипизированного JSON.
package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bigkaa/condoflow/sync-module/internal/domain/model"
)

// rpcEnvelope — типовой конверт ответа RPC:
// {success: true, data: T} | {success: false, error: E, code: C}.
type rpcEnvelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// callRPC вызывает именованную процедуру и разбирает конверт ответа.
func callRPC[T any](ctx context.Context, c *Client, name string, args any) (T, error) {
	var env rpcEnvelope[T]
	var zero T

	if err := c.doJSON(ctx, http.MethodPost, "/rest/v1/rpc/"+name, args, &env); err != nil {
		return zero, err
	}
	if !env.Success {
		return zero, &BackendError{
			Op:  "rpc/" + name,
			Err: fmt.Errorf("%s (код %s)", env.Error, env.Code),
		}
	}
	return env.Data, nil
}

// callRPCRaw вызывает процедуру, возвращающую значение без конверта
// (агрегации и lookup-функции, определённые прямо в БД).
func callRPCRaw[T any](ctx context.Context, c *Client, name string, args any) (T, error) {
	var out T
	if err := c.doJSON(ctx, http.MethodPost, "/rest/v1/rpc/"+name, args, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// GetCoordinationMemberPermissions запрашивает сохранённый набор
// разрешений члена координации по user id.
// RPC: get_coordination_member_permissions.
func (c *Client) GetCoordinationMemberPermissions(ctx context.Context, userID string) (model.PermissionSet, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Message: "обязательное поле"}
	}
	return callRPCRaw[model.PermissionSet](ctx, c, "get_coordination_member_permissions",
		map[string]string{"p_user_id": userID})
}

// ObterSaldoDisponivel запрашивает агрегированную финансовую статистику
// кондоминиума. RPC: obter_saldo_disponivel.
func (c *Client) ObterSaldoDisponivel(ctx context.Context, condominiumID string) (model.FinancialStats, error) {
	if condominiumID == "" {
		return model.FinancialStats{}, &ValidationError{Field: "condominium_id", Message: "обязательное поле"}
	}
	return callRPCRaw[model.FinancialStats](ctx, c, "obter_saldo_disponivel",
		map[string]string{"p_condominium_id": condominiumID})
}

// ProcessarRemanescenteAnual переносит остаток прошлого года в доступные
// средства текущего. RPC: processar_remanescente_anual.
func (c *Client) ProcessarRemanescenteAnual(ctx context.Context, condominiumID string, year int) (model.FinancialStats, error) {
	if condominiumID == "" {
		return model.FinancialStats{}, &ValidationError{Field: "condominium_id", Message: "обязательное поле"}
	}
	return callRPC[model.FinancialStats](ctx, c, "processar_remanescente_anual",
		map[string]any{"p_condominium_id": condominiumID, "p_ano": year})
}

// LinkingInfo — результат проверки кода привязки жителя.
type LinkingInfo struct {
	CondominiumID string `json:"condominium_id"`
	Apartment     string `json:"apartment"`
	Block         string `json:"block,omitempty"`
}

// ValidarCodigoVinculacao проверяет код привязки самостоятельно
// регистрирующегося жителя. RPC: validar_codigo_vinculacao.
func (c *Client) ValidarCodigoVinculacao(ctx context.Context, code string) (LinkingInfo, error) {
	if code == "" {
		return LinkingInfo{}, &ValidationError{Field: "code", Message: "обязательное поле"}
	}
	return callRPC[LinkingInfo](ctx, c, "validar_codigo_vinculacao",
		map[string]string{"p_codigo": code})
}

// QRToken — сгенерированный токен QR-кода посетителя.
type QRToken struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// GenerateVisitorQRToken генерирует токен QR-кода для посетителя.
// RPC: generate_visitor_qr_token.
func (c *Client) GenerateVisitorQRToken(ctx context.Context, visitorID string) (QRToken, error) {
	if visitorID == "" {
		return QRToken{}, &ValidationError{Field: "visitor_id", Message: "обязательное поле"}
	}
	return callRPC[QRToken](ctx, c, "generate_visitor_qr_token",
		map[string]string{"p_visitor_id": visitorID})
}

// QRValidation — результат проверки токена QR-кода.
type QRValidation struct {
	Valid       bool   `json:"valid"`
	VisitorID   string `json:"visitor_id,omitempty"`
	VisitorName string `json:"visitor_name,omitempty"`
}

// ValidateVisitorQRToken проверяет токен QR-кода на проходной.
// RPC: validate_visitor_qr_token.
func (c *Client) ValidateVisitorQRToken(ctx context.Context, token string) (QRValidation, error) {
	if token == "" {
		return QRValidation{}, &ValidationError{Field: "token", Message: "обязательное поле"}
	}
	return callRPC[QRValidation](ctx, c, "validate_visitor_qr_token",
		map[string]string{"p_token": token})
}

// PromotionResult — результат повышения жителя до координации.
type PromotionResult struct {
	StaffID string `json:"staff_id"`
}

// PromoteResident атомарно создаёт запись персонала, роль и набор
// разрешений для жителя. RPC: promote_resident_to_coordination.
// Либо всё вступает в силу вместе, либо вызов падает и локальное
// состояние не меняется.
func (c *Client) PromoteResident(ctx context.Context, residentID string, role model.StaffRole, position string, hasSystemAccess bool) (PromotionResult, error) {
	return callRPC[PromotionResult](ctx, c, "promote_resident_to_coordination", map[string]any{
		"p_resident_id":       residentID,
		"p_role":              string(role),
		"p_position":          position,
		"p_has_system_access": hasSystemAccess,
	})
}

// RemovalResult — результат удаления члена координации.
type RemovalResult struct {
	Removed bool `json:"removed"`
}

// RemoveCoordinationStaff атомарно удаляет запись персонала и сбрасывает
// связь в профиле. RPC: remove_coordination_staff.
func (c *Client) RemoveCoordinationStaff(ctx context.Context, staffID string) (RemovalResult, error) {
	return callRPC[RemovalResult](ctx, c, "remove_coordination_staff",
		map[string]string{"p_staff_id": staffID})
}
