package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bigkaa/condoflow/sync-module/internal/backend"
	"github.com/bigkaa/condoflow/sync-module/internal/domain/model"
	"github.com/bigkaa/condoflow/sync-module/internal/notify"
	syncpkg "github.com/bigkaa/condoflow/sync-module/internal/sync"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

// fixture — httptest-backend с изменяемым списком жителей.
type fixture struct {
	workflow *Workflow
	engine   *syncpkg.Engine

	residents    []model.Resident
	rpcCalls     int
	removeResult bool
	rpcFail      bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{removeResult: true}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/v1/rpc/promote_resident_to_coordination":
			f.rpcCalls++
			if f.rpcFail {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"success": false, "error": "внутренняя ошибка", "code": "INTERNAL",
				})
				return
			}
			// Повышение связывает жителя с новой записью персонала
			for i := range f.residents {
				f.residents[i].CoordinationStaffID = strPtr("staff-new")
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true, "data": map[string]string{"staff_id": "staff-new"},
			})

		case "/rest/v1/rpc/remove_coordination_staff":
			f.rpcCalls++
			if f.removeResult {
				for i := range f.residents {
					f.residents[i].CoordinationStaffID = nil
				}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true, "data": map[string]bool{"removed": f.removeResult},
			})

		case "/rest/v1/residents":
			_ = json.NewEncoder(w).Encode(f.residents)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	client := backend.New(srv.URL, "anon-key", 5*time.Second, testLogger())
	f.engine = syncpkg.NewEngine(notify.NewCenter(16, testLogger()), testLogger())
	f.workflow = New(client, f.engine, "condo-1", testLogger())
	return f
}

func (f *fixture) seedResident(id string, staffID *string) {
	res := model.Resident{
		ID:                  id,
		CondominiumID:       "condo-1",
		CoordinationStaffID: staffID,
		Name:                "Житель " + id,
	}
	f.residents = append(f.residents, res)
	f.engine.Residents.Upsert(res)
}

func TestPromote(t *testing.T) {
	f := newFixture(t)
	f.seedResident("res-1", nil)

	staffID, err := f.workflow.Promote(context.Background(), "res-1", model.StaffFinancial, "Казначей", true)
	if err != nil {
		t.Fatalf("Promote() ошибка: %v", err)
	}
	if staffID != "staff-new" {
		t.Errorf("staffID = %q, хотели staff-new", staffID)
	}

	// Снимок жителей согласован с backend
	res, ok := f.engine.Residents.Get("res-1")
	if !ok || res.CoordinationStaffID == nil || *res.CoordinationStaffID != "staff-new" {
		t.Errorf("житель после согласования: %+v", res)
	}
}

func TestPromote_AlreadyLinked(t *testing.T) {
	f := newFixture(t)
	f.seedResident("res-1", strPtr("staff-old"))

	_, err := f.workflow.Promote(context.Background(), "res-1", model.StaffFinancial, "Казначей", true)
	var ve *backend.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("хотели ValidationError, получили %T: %v", err, err)
	}
	// Отклонение локальное: backend не вызывался
	if f.rpcCalls != 0 {
		t.Errorf("RPC вызван %d раз, хотели 0", f.rpcCalls)
	}
}

func TestPromote_UnknownResident(t *testing.T) {
	f := newFixture(t)

	_, err := f.workflow.Promote(context.Background(), "нет-такого", model.StaffFinancial, "", false)
	var nf *backend.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("хотели NotFoundError, получили %T: %v", err, err)
	}
}

func TestPromote_InvalidRole(t *testing.T) {
	f := newFixture(t)
	f.seedResident("res-1", nil)

	_, err := f.workflow.Promote(context.Background(), "res-1", model.StaffRole("директор"), "", false)
	var ve *backend.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("хотели ValidationError, получили %T: %v", err, err)
	}
}

func TestPromote_RPCFailure(t *testing.T) {
	f := newFixture(t)
	f.seedResident("res-1", nil)
	f.rpcFail = true

	_, err := f.workflow.Promote(context.Background(), "res-1", model.StaffFinancial, "", false)
	var be *backend.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("хотели BackendError, получили %T: %v", err, err)
	}
	// Неудачный RPC не меняет локальный снимок
	res, _ := f.engine.Residents.Get("res-1")
	if res.CoordinationStaffID != nil {
		t.Error("локальный снимок изменён при неудачном RPC")
	}
}

func TestRemove_Unknown(t *testing.T) {
	f := newFixture(t)
	f.removeResult = false

	err := f.workflow.Remove(context.Background(), "staff-призрак")
	var nf *backend.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("хотели NotFoundError, получили %T: %v", err, err)
	}
}

func TestPromoteRemoveRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.seedResident("res-1", nil)

	staffID, err := f.workflow.Promote(context.Background(), "res-1", model.StaffSecretary, "Секретарь", true)
	if err != nil {
		t.Fatalf("Promote() ошибка: %v", err)
	}

	if err := f.workflow.Remove(context.Background(), staffID); err != nil {
		t.Fatalf("Remove() ошибка: %v", err)
	}

	// После удаления житель снова не связан и может быть повышен заново
	res, _ := f.engine.Residents.Get("res-1")
	if res.CoordinationStaffID != nil {
		t.Errorf("житель после удаления: %+v, хотели без связи", res)
	}
	if _, err := f.workflow.Promote(context.Background(), "res-1", model.StaffFinancial, "", false); err != nil {
		t.Errorf("повторное повышение после удаления: %v", err)
	}
}
