package service

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Конструирование сервиса не должно обращаться к зависимостям.
func TestNewDephealthService(t *testing.T) {
	ds, err := NewDephealthServiceWithRegisterer(
		"sync-module",
		"condoflow",
		"http://backend.local:8000",
		"http://backend.local:8000/auth/v1/jwks",
		nil,
		"",
		15*time.Second,
		testLogger(),
		prometheus.NewRegistry(),
	)
	if err != nil {
		t.Fatalf("NewDephealthService() ошибка: %v", err)
	}
	if ds == nil {
		t.Fatal("сервис не создан")
	}
}

// Без JWKS URL сервис создаётся с одной зависимостью.
func TestNewDephealthService_NoJWKS(t *testing.T) {
	ds, err := NewDephealthServiceWithRegisterer(
		"sync-module",
		"condoflow",
		"http://backend.local:8000",
		"",
		nil,
		"",
		15*time.Second,
		testLogger(),
		prometheus.NewRegistry(),
	)
	if err != nil {
		t.Fatalf("NewDephealthService() ошибка: %v", err)
	}
	if ds == nil {
		t.Fatal("сервис не создан")
	}
}
