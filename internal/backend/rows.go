// rows.go — построчный доступ к таблицам backend.
// Фильтрация — только по равенству (предикаты eq), плюс tenant scope.
// Поддерживается вложенная проекция связей (select=...,resident:residents(...)).
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Query — параметры выборки строк.
type Query struct {
	// Table — имя таблицы.
	Table string
	// Projection — список колонок и вложенных связей. Пустая строка — "*".
	Projection string
	// Filters — предикаты равенства: колонка → значение.
	Filters map[string]string
	// Tenant — tenant scope; добавляет предикат condominium_id=eq.<tenant>.
	Tenant string
	// Limit — максимальное число строк (0 — без лимита).
	Limit int
	// Order — колонка сортировки с направлением ("created_at.desc").
	Order string
}

// queryString собирает строку запроса в синтаксисе PostgREST.
func (q Query) queryString() string {
	v := url.Values{}

	projection := q.Projection
	if projection == "" {
		projection = "*"
	}
	v.Set("select", projection)

	for col, val := range q.Filters {
		v.Set(col, "eq."+val)
	}
	if q.Tenant != "" {
		v.Set("condominium_id", "eq."+q.Tenant)
	}
	if q.Limit > 0 {
		v.Set("limit", fmt.Sprintf("%d", q.Limit))
	}
	if q.Order != "" {
		v.Set("order", q.Order)
	}
	return v.Encode()
}

// SelectRows выполняет выборку строк и декодирует результат в out
// (обычно указатель на срез структур).
func (c *Client) SelectRows(ctx context.Context, q Query, out any) error {
	if q.Table == "" {
		return &ValidationError{Field: "table", Message: "обязательное поле"}
	}
	path := "/rest/v1/" + q.Table + "?" + q.queryString()
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// SelectOne выполняет выборку одной строки. Если строк нет — NotFoundError.
func (c *Client) SelectOne(ctx context.Context, q Query, out any) error {
	if q.Table == "" {
		return &ValidationError{Field: "table", Message: "обязательное поле"}
	}
	q.Limit = 1

	// Декодируем во временный срез raw-сообщений, чтобы отличить
	// пустой результат от ошибки декодирования.
	var rows []json.RawMessage
	path := "/rest/v1/" + q.Table + "?" + q.queryString()
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return &NotFoundError{Resource: q.Table, ID: describeFilters(q.Filters)}
	}
	return decodeRaw(rows[0], out)
}

// InsertRow вставляет строку. out != nil — декодирует созданную строку.
func (c *Client) InsertRow(ctx context.Context, table string, row any, out any) error {
	if table == "" {
		return &ValidationError{Field: "table", Message: "обязательное поле"}
	}
	path := "/rest/v1/" + table
	if out == nil {
		return c.doJSON(ctx, http.MethodPost, path, row, nil)
	}

	var rows []json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, path+"?select=*", row, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return &BackendError{Op: table, Err: fmt.Errorf("insert не вернул строку")}
	}
	return decodeRaw(rows[0], out)
}

// UpdateRows обновляет строки по предикатам равенства.
func (c *Client) UpdateRows(ctx context.Context, table string, filters map[string]string, patch any) error {
	if table == "" {
		return &ValidationError{Field: "table", Message: "обязательное поле"}
	}
	if len(filters) == 0 {
		return &ValidationError{Field: "filters", Message: "обновление без фильтров запрещено"}
	}
	path := "/rest/v1/" + table + "?" + Query{Table: table, Filters: filters}.queryString()
	return c.doJSON(ctx, http.MethodPatch, path, patch, nil)
}

// DeleteRows удаляет строки по предикатам равенства.
func (c *Client) DeleteRows(ctx context.Context, table string, filters map[string]string) error {
	if table == "" {
		return &ValidationError{Field: "table", Message: "обязательное поле"}
	}
	if len(filters) == 0 {
		return &ValidationError{Field: "filters", Message: "удаление без фильтров запрещено"}
	}
	path := "/rest/v1/" + table + "?" + Query{Table: table, Filters: filters}.queryString()
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// decodeRaw декодирует raw JSON-строку в out.
func decodeRaw(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return &BackendError{Op: "decode", Err: fmt.Errorf("декодирование строки: %w", err)}
	}
	return nil
}

// describeFilters форматирует фильтры для сообщений об ошибках.
func describeFilters(filters map[string]string) string {
	for col, val := range filters {
		return col + "=" + val
	}
	return ""
}
