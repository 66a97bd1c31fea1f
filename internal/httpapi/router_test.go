package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vilhelmsaro/car-seeder/internal/breaker"
	"github.com/vilhelmsaro/car-seeder/internal/durable"
	"github.com/vilhelmsaro/car-seeder/internal/model"
	"github.com/vilhelmsaro/car-seeder/internal/state"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cars.db")
	ds, err := durable.Open(path, model.NewIDGenerator(), zerolog.Nop())
	if err != nil {
		t.Fatalf("durable.Open: %v", err)
	}
	t.Cleanup(func() { ds.Close() })

	return Deps{
		State:       state.New(zerolog.Nop()),
		Breaker:     breaker.New(5, 2*time.Second, zerolog.Nop()),
		Durable:     ds,
		SessionOpen: func() bool { return false },
	}
}

func TestHealthzReportsOKWhenClosed(t *testing.T) {
	deps := newTestDeps(t)
	h := New(deps)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["state"] != "redis" {
		t.Errorf("state = %v, want redis", body["state"])
	}
	if body["breaker"] != "closed" {
		t.Errorf("breaker = %v, want closed", body["breaker"])
	}
}

func TestHealthzReportsUnavailableWhenBreakerOpen(t *testing.T) {
	deps := newTestDeps(t)
	for i := 0; i < 5; i++ {
		deps.Breaker.RecordFailure()
	}
	if deps.Breaker.Get() != breaker.Open {
		t.Fatalf("breaker should be open after threshold failures")
	}

	h := New(deps)
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != 503 {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHealthzReportsPendingCount(t *testing.T) {
	deps := newTestDeps(t)
	if err := deps.Durable.SaveCar(model.Car{NormalizedMake: "honda", NormalizedModel: "civic", Year: 2022, Price: 21000, Location: "reno"}); err != nil {
		t.Fatalf("SaveCar: %v", err)
	}
	if err := deps.Durable.FlushPendingWrites(); err != nil {
		t.Fatalf("FlushPendingWrites: %v", err)
	}

	h := New(deps)
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["pendingInStore"] != float64(1) {
		t.Errorf("pendingInStore = %v, want 1", body["pendingInStore"])
	}
}
