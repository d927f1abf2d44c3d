// storage.go — object storage backend: загрузка, удаление, публичные URL.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// Upload загружает объект в bucket по указанному пути.
// Возвращает путь объекта внутри bucket.
func (c *Client) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	if bucket == "" || path == "" {
		return "", &ValidationError{Message: "bucket и путь обязательны"}
	}

	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, bucket, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", &BackendError{Op: "storage/upload", Err: err}
	}
	c.setHeaders(req)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &BackendError{Op: "storage/upload", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return "", &BackendError{
			Op:     "storage/upload",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", string(body)),
		}
	}
	return path, nil
}

// Remove удаляет объекты из bucket.
func (c *Client) Remove(ctx context.Context, bucket string, paths []string) error {
	if bucket == "" {
		return &ValidationError{Field: "bucket", Message: "обязательное поле"}
	}
	if len(paths) == 0 {
		return &ValidationError{Field: "paths", Message: "пустой список путей"}
	}
	return c.doJSON(ctx, http.MethodDelete, "/storage/v1/object/"+bucket,
		map[string][]string{"prefixes": paths}, nil)
}

// PublicURL возвращает публичный URL объекта в bucket.
func (c *Client) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, bucket, path)
}
