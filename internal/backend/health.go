// health.go — проверка доступности backend для readiness probe.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const statusFail = "fail"

// CheckReady проверяет доступность auth-сервиса backend.
// Реализует ReadinessChecker API-слоя.
func (c *Client) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, c.baseURL+"/auth/v1/health", http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return statusFail, fmt.Sprintf("backend недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("backend вернул статус %d", resp.StatusCode)
	}

	var health struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return "degraded", fmt.Sprintf("backend: невалидный JSON: %v", err)
	}

	return "ok", "backend доступен"
}
