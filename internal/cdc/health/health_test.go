package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/janovincze/iris/internal/cdc/slots"
)

// stubChecker reports a fixed status.
type stubChecker struct {
	name   string
	status Status
	err    error
}

func (c stubChecker) Name() string { return c.name }

func (c stubChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.name, Status: c.status}
	if c.err != nil {
		result.Error = c.err.Error()
	}
	return result
}

func TestManagerCheckAll(t *testing.T) {
	mgr := NewManager(DefaultManagerConfig(), nil)
	mgr.Register(stubChecker{name: "healthy", status: StatusHealthy})
	mgr.Register(stubChecker{name: "unhealthy", status: StatusUnhealthy, err: errors.New("test error")})

	results := mgr.CheckAll(context.Background())

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results["healthy"].Status != StatusHealthy {
		t.Errorf("expected healthy status, got %v", results["healthy"].Status)
	}
	if results["unhealthy"].Status != StatusUnhealthy {
		t.Errorf("expected unhealthy status, got %v", results["unhealthy"].Status)
	}
	if results["unhealthy"].Error != "test error" {
		t.Errorf("expected error message, got %q", results["unhealthy"].Error)
	}
}

func TestManagerIsReady(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		ready  bool
	}{
		{"healthy", StatusHealthy, true},
		{"degraded", StatusDegraded, true},
		{"unhealthy", StatusUnhealthy, false},
		{"unknown", StatusUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewManager(DefaultManagerConfig(), nil)
			mgr.Register(stubChecker{name: "test", status: tt.status})

			if got := mgr.IsReady(context.Background()); got != tt.ready {
				t.Errorf("IsReady() = %v, want %v", got, tt.ready)
			}
		})
	}
}

func TestManagerGetOverallStatus(t *testing.T) {
	tests := []struct {
		name           string
		statuses       []Status
		expectedStatus Status
	}{
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"one unhealthy", []Status{StatusHealthy, StatusUnhealthy}, StatusUnhealthy},
		{"degraded and unhealthy", []Status{StatusDegraded, StatusUnhealthy}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewManager(DefaultManagerConfig(), nil)
			for i, status := range tt.statuses {
				mgr.Register(stubChecker{name: string(rune('a' + i)), status: status})
			}

			overall := mgr.GetOverallStatus(context.Background())
			if overall.Status != tt.expectedStatus {
				t.Errorf("expected status %v, got %v", tt.expectedStatus, overall.Status)
			}
		})
	}
}

func TestDatabaseChecker(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		checker := NewDatabaseChecker("test-db", func(ctx context.Context) error {
			return nil
		})

		if checker.Name() != "test-db" {
			t.Errorf("expected name test-db, got %s", checker.Name())
		}

		result := checker.Check(context.Background())
		if result.Status != StatusHealthy {
			t.Errorf("expected healthy status, got %v", result.Status)
		}
	})

	t.Run("unhealthy", func(t *testing.T) {
		checker := NewDatabaseChecker("test-db", func(ctx context.Context) error {
			return errors.New("connection failed")
		})

		result := checker.Check(context.Background())
		if result.Status != StatusUnhealthy {
			t.Errorf("expected unhealthy status, got %v", result.Status)
		}
		if result.Error != "connection failed" {
			t.Errorf("expected error message, got %q", result.Error)
		}
	})
}

func TestSlotPoolChecker(t *testing.T) {
	pool := slots.NewPool(2)
	checker := NewSlotPoolChecker(pool)

	result := checker.Check(context.Background())
	if result.Status != StatusHealthy {
		t.Errorf("expected healthy status with free slots, got %v", result.Status)
	}

	s1, _ := pool.TryAcquire()
	s2, _ := pool.TryAcquire()

	result = checker.Check(context.Background())
	if result.Status != StatusDegraded {
		t.Errorf("expected degraded status with a saturated pool, got %v", result.Status)
	}

	s1.Release()
	s2.Release()

	result = checker.Check(context.Background())
	if result.Status != StatusHealthy {
		t.Errorf("expected healthy status after release, got %v", result.Status)
	}
}

func TestServerLiveness(t *testing.T) {
	mgr := NewManager(DefaultManagerConfig(), nil)
	server := NewServer(mgr, DefaultServerConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()

	server.handleLiveness(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, "alive") {
		t.Errorf("expected body to contain 'alive', got %q", body)
	}
}

func TestServerReadiness(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		mgr := NewManager(DefaultManagerConfig(), nil)
		mgr.Register(stubChecker{name: "test", status: StatusHealthy})
		server := NewServer(mgr, DefaultServerConfig(), nil)

		req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
		w := httptest.NewRecorder()

		server.handleReadiness(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", w.Code)
		}
	})

	t.Run("not ready", func(t *testing.T) {
		mgr := NewManager(DefaultManagerConfig(), nil)
		mgr.Register(stubChecker{name: "test", status: StatusUnhealthy, err: errors.New("not ready")})
		server := NewServer(mgr, DefaultServerConfig(), nil)

		req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
		w := httptest.NewRecorder()

		server.handleReadiness(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", w.Code)
		}
	})
}

func TestServerHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		mgr := NewManager(DefaultManagerConfig(), nil)
		mgr.Register(stubChecker{name: "test", status: StatusHealthy})
		server := NewServer(mgr, DefaultServerConfig(), nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()

		server.handleHealth(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", w.Code)
		}
	})

	t.Run("unhealthy", func(t *testing.T) {
		mgr := NewManager(DefaultManagerConfig(), nil)
		mgr.Register(stubChecker{name: "test", status: StatusUnhealthy})
		server := NewServer(mgr, DefaultServerConfig(), nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()

		server.handleHealth(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", w.Code)
		}
	})
}
